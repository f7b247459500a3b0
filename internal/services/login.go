package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"VPN-MiniApp/internal/auth"
	"VPN-MiniApp/internal/db"
	"VPN-MiniApp/internal/logger"
)

// LoginService обменивает initData мини-приложения на сессионный токен.
type LoginService struct {
	botToken string
	maxAge   time.Duration
	users    IdentityStore
	sessions *auth.SessionIssuer
	now      func() time.Time
}

func NewLoginService(botToken string, maxAge time.Duration, users IdentityStore, sessions *auth.SessionIssuer) *LoginService {
	return &LoginService{botToken: botToken, maxAge: maxAge, users: users, sessions: sessions, now: time.Now}
}

type LoginResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      *db.User  `json:"user"`
}

// Login проверяет initData, создаёт пользователя при первом входе и выпускает токен.
// Ошибки проверки возвращаются как есть (auth.ErrInvalidSignature, auth.ErrExpired,
// auth.ErrInvalidPayload), пользователь при этом не создаётся.
func (s *LoginService) Login(ctx context.Context, initData string) (*LoginResult, error) {
	data, err := auth.VerifyInitData(initData, s.botToken, s.maxAge, s.now())
	if err != nil {
		logger.Info("init data rejected", zap.Error(err))
		return nil, err
	}

	name := data.User.FirstName
	if data.User.LastName != "" {
		name += " " + data.User.LastName
	}
	user, err := s.users.GetOrCreateUser(ctx, data.User.ID, name, data.User.Username)
	if err != nil {
		return nil, err
	}

	token, exp, err := s.sessions.Issue(user.TelegramID, user.ID)
	if err != nil {
		return nil, err
	}
	logger.Info("session issued", zap.Uint("user_id", user.ID), zap.Int64("telegram_id", user.TelegramID))
	return &LoginResult{Token: token, ExpiresAt: exp, User: user}, nil
}
