package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"VPN-MiniApp/internal/db"
	"VPN-MiniApp/internal/logger"
	"VPN-MiniApp/internal/metrics"
)

type issuerStore interface {
	IdentityStore
	Catalog
	SubscriptionStore
}

// SubscriptionIssuer выдаёт подписку по оплаченной транзакции.
type SubscriptionIssuer struct {
	store    issuerStore
	gen      CredentialGenerator
	notifier Notifier
	now      func() time.Time
}

func NewSubscriptionIssuer(store issuerStore, gen CredentialGenerator, notifier Notifier) *SubscriptionIssuer {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &SubscriptionIssuer{store: store, gen: gen, notifier: notifier, now: time.Now}
}

// Issue создаёт подписку: endDate = now + durationDays тарифа.
// Повторный вызов для той же транзакции возвращает уже выданную подписку:
// уникальный индекс по transaction_id не даёт создать вторую.
func (i *SubscriptionIssuer) Issue(ctx context.Context, tx *db.Transaction) (*db.Subscription, error) {
	if tx.Status != db.TxCompleted {
		return nil, fmt.Errorf("%w: transaction %d is %s", ErrNotCompleted, tx.ID, tx.Status)
	}
	if existing, err := i.store.GetSubscriptionByTransaction(ctx, tx.ID); err == nil {
		return existing, nil
	} else if !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}

	pkg, err := i.store.GetPackage(ctx, tx.PackageID)
	if err != nil {
		return nil, fmt.Errorf("package %d: %w", tx.PackageID, err)
	}
	cred, err := i.gen.Generate()
	if err != nil {
		return nil, err
	}
	cfg, err := cred.ConfigJSON()
	if err != nil {
		return nil, err
	}

	start := i.now()
	sub := &db.Subscription{
		UserID:        tx.UserID,
		PackageID:     pkg.ID,
		TransactionID: tx.ID,
		VPNKey:        cred.Key,
		VPNConfig:     datatypes.JSON(cfg),
		StartDate:     start,
		EndDate:       start.Add(time.Duration(pkg.DurationDays) * 24 * time.Hour),
		Status:        db.SubscriptionActive,
	}
	if err := i.store.CreateSubscription(ctx, sub); err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			return i.store.GetSubscriptionByTransaction(ctx, tx.ID)
		}
		return nil, err
	}
	metrics.RecordSubscription()
	logger.Info("subscription issued",
		zap.Uint("subscription_id", sub.ID),
		zap.Uint("transaction_id", tx.ID),
		zap.Uint("user_id", tx.UserID),
		zap.Time("end_date", sub.EndDate),
	)

	i.notifyIssued(ctx, sub, pkg)
	return sub, nil
}

func (i *SubscriptionIssuer) notifyIssued(ctx context.Context, sub *db.Subscription, pkg *db.Package) {
	user, err := i.store.GetUser(ctx, sub.UserID)
	if err != nil {
		logger.Warn("subscription issued for unknown user", zap.Uint("user_id", sub.UserID), zap.Error(err))
		return
	}
	text := fmt.Sprintf("Подписка «%s» активна до %s.\nВаш VPN-ключ: %s",
		pkg.Name, sub.EndDate.Format("02.01.2006"), sub.VPNKey)
	if err := i.notifier.NotifyUser(user.TelegramID, text); err != nil {
		logger.Warn("notify user failed", zap.Int64("telegram_id", user.TelegramID), zap.Error(err))
	}
}
