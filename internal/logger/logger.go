package logger

import (
	"go.uber.org/zap"
)

var log, _ = zap.NewProduction()

// SetLogger подменяет глобальный логгер (в тестах: zap.NewNop()).
func SetLogger(l *zap.Logger) {
	if l != nil {
		log = l
	}
}

func L() *zap.Logger {
	return log
}

func Debug(msg string, fields ...zap.Field) {
	log.Debug(msg, fields...)
}

func Info(msg string, fields ...zap.Field) {
	log.Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	log.Warn(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	log.Error(msg, fields...)
}

// Degraded отмечает работу в упрощённом режиме (например, демо-платежи без ключей шлюза)
// и дублирует предупреждение админу.
func Degraded(component, reason string, fields ...zap.Field) {
	log.Warn("degraded_mode", append([]zap.Field{zap.String("component", component), zap.String("reason", reason)}, fields...)...)
	NotifyAdmin("Degraded mode in " + component + ": " + reason)
}

func Sync() {
	_ = log.Sync()
}
