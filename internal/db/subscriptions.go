package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CreateSubscription сохраняет подписку. Уникальный индекс по transaction_id
// не даёт выдать вторую подписку на ту же оплату.
func (s *Store) CreateSubscription(ctx context.Context, sub *Subscription) error {
	err := s.db.WithContext(ctx).Create(sub).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: subscription for transaction %d", ErrDuplicate, sub.TransactionID)
	}
	return err
}

func (s *Store) GetSubscriptionByTransaction(ctx context.Context, txID uint) (*Subscription, error) {
	var sub Subscription
	if err := s.db.WithContext(ctx).Where("transaction_id = ?", txID).First(&sub).Error; err != nil {
		return nil, notFound(err)
	}
	return &sub, nil
}

func subscriptionViews(db *gorm.DB) *gorm.DB {
	return db.Table("subscriptions").
		Select("subscriptions.*, vpn_packages.name AS package_name, vpn_packages.duration_days AS duration_days, users.telegram_id AS telegram_id").
		Joins("JOIN vpn_packages ON vpn_packages.id = subscriptions.package_id").
		Joins("JOIN users ON users.id = subscriptions.user_id")
}

// ListActiveSubscriptions: активные подписки пользователя, самые долгие первыми.
func (s *Store) ListActiveSubscriptions(ctx context.Context, userID uint) ([]SubscriptionView, error) {
	var subs []SubscriptionView
	err := subscriptionViews(s.db.WithContext(ctx)).
		Where("subscriptions.user_id = ? AND subscriptions.status = ?", userID, SubscriptionActive).
		Order("subscriptions.end_date DESC").
		Scan(&subs).Error
	return subs, err
}

// ExpireSubscriptions переводит истёкшие подписки в expired и возвращает их для уведомлений.
func (s *Store) ExpireSubscriptions(ctx context.Context, now time.Time) ([]SubscriptionView, error) {
	var expired []SubscriptionView
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []uint
		if err := tx.Model(&Subscription{}).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND end_date < ?", SubscriptionActive, now).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Model(&Subscription{}).Where("id IN ?", ids).Update("status", SubscriptionExpired).Error; err != nil {
			return err
		}
		return subscriptionViews(tx).
			Where("subscriptions.id IN ?", ids).
			Scan(&expired).Error
	})
	return expired, err
}

// ListExpiringSubscriptions: активные подписки, заканчивающиеся до before, о которых ещё не предупреждали.
func (s *Store) ListExpiringSubscriptions(ctx context.Context, now, before time.Time) ([]SubscriptionView, error) {
	var subs []SubscriptionView
	err := subscriptionViews(s.db.WithContext(ctx)).
		Where("subscriptions.status = ? AND subscriptions.end_date > ? AND subscriptions.end_date <= ? AND subscriptions.notified_expiring = ?",
			SubscriptionActive, now, before, false).
		Scan(&subs).Error
	return subs, err
}

func (s *Store) MarkExpiringNotified(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Model(&Subscription{}).Where("id = ?", id).Update("notified_expiring", true).Error
}
