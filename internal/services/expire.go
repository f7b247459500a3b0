package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"VPN-MiniApp/internal/logger"
	"VPN-MiniApp/internal/metrics"
)

const reconcileBatch = 50

// Sweeper: периодические задачи, запускаются из cron.
type Sweeper struct {
	store    Store
	issuer   *SubscriptionIssuer
	notifier Notifier
	now      func() time.Time
}

func NewSweeper(store Store, issuer *SubscriptionIssuer, notifier Notifier) *Sweeper {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Sweeper{store: store, issuer: issuer, notifier: notifier, now: time.Now}
}

// ExpirePendingOrders закрывает pending-заказы с истёкшим окном оплаты.
func (s *Sweeper) ExpirePendingOrders(ctx context.Context) (int64, error) {
	n, err := s.store.ExpireStale(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.TransitionsTotal.WithLabelValues("expired", "sweeper").Add(float64(n))
		logger.Info("pending orders expired", zap.Int64("count", n))
	}
	return n, nil
}

// DisableExpiredSubscriptions переводит закончившиеся подписки в expired и уведомляет владельцев.
func (s *Sweeper) DisableExpiredSubscriptions(ctx context.Context) (int, error) {
	expired, err := s.store.ExpireSubscriptions(ctx, s.now())
	if err != nil {
		return 0, err
	}
	for _, sub := range expired {
		text := fmt.Sprintf("Ваша подписка «%s» завершена. Продлить можно в мини-приложении.", sub.PackageName)
		if err := s.notifier.NotifyUser(sub.TelegramID, text); err != nil {
			logger.Warn("notify expired subscription failed", zap.Uint("subscription_id", sub.ID), zap.Error(err))
		}
	}
	if len(expired) > 0 {
		logger.Info("subscriptions expired", zap.Int("count", len(expired)))
	}
	return len(expired), nil
}

// ReconcileSubscriptions выдаёт подписки по оплаченным транзакциям, где выдача не прошла.
func (s *Sweeper) ReconcileSubscriptions(ctx context.Context) (int, error) {
	txs, err := s.store.ListCompletedWithoutSubscription(ctx, reconcileBatch)
	if err != nil {
		return 0, err
	}
	issued := 0
	for i := range txs {
		if _, err := s.issuer.Issue(ctx, &txs[i]); err != nil {
			logger.Error("reconcile issue failed", zap.Uint("transaction_id", txs[i].ID), zap.Error(err))
			logger.NotifyAdmin(fmt.Sprintf("Сверка: не удалось выдать подписку по транзакции %d: %v", txs[i].ID, err))
			continue
		}
		issued++
	}
	if issued > 0 {
		logger.Info("subscriptions reconciled", zap.Int("count", issued))
	}
	return issued, nil
}
