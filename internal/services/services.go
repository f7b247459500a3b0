// Package services: сценарии оплаты, выдачи подписок и фоновые задачи.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"VPN-MiniApp/internal/bybit"
	"VPN-MiniApp/internal/credential"
	"VPN-MiniApp/internal/db"
)

var (
	ErrInvalidSignature    = errors.New("invalid webhook signature")
	ErrInvalidNotification = errors.New("invalid webhook notification")
	ErrUnknownMethod       = errors.New("unknown payment method")
	ErrPackageUnavailable  = errors.New("package is not available")
	ErrCreditLimit         = errors.New("credit amount exceeds the limit")
	ErrNotCompleted        = errors.New("transaction is not completed")
)

type IdentityStore interface {
	GetOrCreateUser(ctx context.Context, telegramID int64, firstName, username string) (*db.User, error)
	GetUser(ctx context.Context, id uint) (*db.User, error)
}

type Catalog interface {
	ListActivePackages(ctx context.Context) ([]db.Package, error)
	GetPackage(ctx context.Context, id uint) (*db.Package, error)
}

type TransactionStore interface {
	CreateTransaction(ctx context.Context, tx *db.Transaction) error
	GetTransaction(ctx context.Context, id uint) (*db.Transaction, error)
	GetTransactionByOrderID(ctx context.Context, orderID string) (*db.Transaction, error)
	UpdatePaymentData(ctx context.Context, id uint, data db.PaymentData) error
	TransitionStatus(ctx context.Context, id uint, from, to db.TxStatus, data *db.PaymentData) (db.TransitionResult, error)
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
	ListCompletedWithoutSubscription(ctx context.Context, limit int) ([]db.Transaction, error)
}

type WalletLedger interface {
	GetWallet(ctx context.Context, userID uint) (*db.Wallet, error)
	Credit(ctx context.Context, userID uint, amount decimal.Decimal, description string) (*db.Wallet, *db.WalletEntry, error)
	Debit(ctx context.Context, userID uint, amount decimal.Decimal, description string) (*db.Wallet, *db.WalletEntry, error)
	ListEntries(ctx context.Context, userID uint, limit, offset int) ([]db.WalletEntry, error)
}

type SubscriptionStore interface {
	CreateSubscription(ctx context.Context, sub *db.Subscription) error
	GetSubscriptionByTransaction(ctx context.Context, txID uint) (*db.Subscription, error)
	ListActiveSubscriptions(ctx context.Context, userID uint) ([]db.SubscriptionView, error)
	ExpireSubscriptions(ctx context.Context, now time.Time) ([]db.SubscriptionView, error)
	ListExpiringSubscriptions(ctx context.Context, now, before time.Time) ([]db.SubscriptionView, error)
	MarkExpiringNotified(ctx context.Context, id uint) error
}

// Store: всё хранилище целиком. Реализуют db.Store и memstore.Store.
type Store interface {
	IdentityStore
	Catalog
	TransactionStore
	WalletLedger
	SubscriptionStore
}

// Gateway: внешний платёжный шлюз.
type Gateway interface {
	Configured() bool
	CreateOrder(ctx context.Context, orderID string, amount decimal.Decimal, currency, callbackURL string) (*bybit.Order, error)
	CheckStatus(ctx context.Context, remoteOrderID string) (bybit.Status, error)
}

type CredentialGenerator interface {
	Generate() (*credential.Credential, error)
}

// Notifier доставляет сообщения пользователю в Telegram.
type Notifier interface {
	NotifyUser(telegramID int64, text string) error
}

// NopNotifier ничего не отправляет.
type NopNotifier struct{}

func (NopNotifier) NotifyUser(int64, string) error { return nil }
