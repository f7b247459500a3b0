package logger

import (
	"fmt"
	"sync"

	"github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

var (
	mu          sync.RWMutex
	botInstance sender
	adminID     int64
)

// InitNotifier инициализирует Telegram-уведомления об ошибках
func InitNotifier(bot sender, admin int64) {
	mu.Lock()
	defer mu.Unlock()
	botInstance = bot
	adminID = admin
}

// NotifyAdmin отправляет критическое уведомление админу
func NotifyAdmin(msg string) {
	mu.RLock()
	b, id := botInstance, adminID
	mu.RUnlock()
	if b == nil || id == 0 {
		return
	}
	if _, err := b.Send(tgbotapi.NewMessage(id, "[ALERT] "+msg)); err != nil {
		log.Warn("admin notify failed")
	}
}

// NotifyOnPanic ловит панику, логирует и уведомляет
func NotifyOnPanic(context string) {
	if r := recover(); r != nil {
		log.Error("panic recovered", zap.Any("context", context), zap.Any("panic", r))
		NotifyAdmin("Panic in " + context + ": " + toString(r))
	}
}

func toString(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case error:
		return x.Error()
	default:
		return fmt.Sprintf("%v", v)
	}
}
