package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"VPN-MiniApp/internal/logger"
)

// NotifyExpiringSubscriptions предупреждает пользователей о скором окончании подписки.
// Каждая подписка получает одно предупреждение.
func (s *Sweeper) NotifyExpiringSubscriptions(ctx context.Context, daysBefore int) (int, error) {
	now := s.now()
	soon := now.Add(time.Duration(daysBefore) * 24 * time.Hour)
	subs, err := s.store.ListExpiringSubscriptions(ctx, now, soon)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, sub := range subs {
		text := fmt.Sprintf("Ваша подписка «%s» истекает %s. Продлить: /subscriptions", sub.PackageName, sub.EndDate.Format("02.01.2006"))
		if err := s.notifier.NotifyUser(sub.TelegramID, text); err != nil {
			logger.NotifyAdmin(fmt.Sprintf("Ошибка отправки уведомления пользователю %d: %v", sub.TelegramID, err))
			continue
		}
		if err := s.store.MarkExpiringNotified(ctx, sub.ID); err != nil {
			logger.Error("mark expiring notified", zap.Uint("subscription_id", sub.ID), zap.Error(err))
			continue
		}
		sent++
	}
	return sent, nil
}
