package bot

import (
	"sync"
	"time"
)

// RateLimiter: in-memory ограничение частоты команд на пользователя.
type RateLimiter struct {
	mu       sync.Mutex
	adminID  int64
	lastCall map[int64]map[string]time.Time
	limits   map[string]time.Duration
	now      func() time.Time
}

func NewRateLimiter(adminID int64) *RateLimiter {
	return &RateLimiter{
		adminID:  adminID,
		lastCall: make(map[int64]map[string]time.Time),
		limits: map[string]time.Duration{
			"/start":         3 * time.Second,
			"/subscriptions": 5 * time.Second,
		},
		now: time.Now,
	}
}

// IsLimited возвращает true, если команда пришла раньше допустимого интервала.
func (r *RateLimiter) IsLimited(userID int64, cmd string) bool {
	// Админ не лимитируется
	if r.adminID != 0 && userID == r.adminID {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if r.lastCall[userID] == nil {
		r.lastCall[userID] = make(map[string]time.Time)
	}
	limit, ok := r.limits[cmd]
	if !ok {
		limit = 2 * time.Second
	}
	last := r.lastCall[userID][cmd]
	if now.Sub(last) < limit {
		return true
	}
	r.lastCall[userID][cmd] = now
	return false
}
