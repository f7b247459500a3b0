package db

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type User struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	TelegramID int64     `gorm:"uniqueIndex;not null" json:"telegramId"`
	FirstName  string    `json:"firstName"`
	Username   string    `json:"username"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Package описывает тариф из каталога.
type Package struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	Name         string          `gorm:"not null" json:"name"`
	Description  string          `json:"description"`
	DurationDays int             `gorm:"not null" json:"durationDays"`
	Price        decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"price"`
	Servers      int             `gorm:"default:1" json:"servers"`
	Active       bool            `gorm:"default:true;index" json:"active"`
	CreatedAt    time.Time       `json:"createdAt"`
}

func (Package) TableName() string { return "vpn_packages" }

// Transaction: платёжное намерение. ExternalOrderID вынесен из PaymentData
// в отдельную индексированную колонку для поиска по вебхуку.
type Transaction struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	UserID          uint            `gorm:"index;not null" json:"userId"`
	PackageID       uint            `gorm:"not null" json:"packageId"`
	Amount          decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"amount"`
	Currency        string          `gorm:"size:10" json:"currency"`
	Status          TxStatus        `gorm:"type:varchar(16);not null;index" json:"status"`
	PaymentMethod   PaymentMethod   `gorm:"type:varchar(16);not null" json:"paymentMethod"`
	ExternalOrderID string          `gorm:"size:64;uniqueIndex;not null" json:"orderId"`
	ExpiresAt       time.Time       `gorm:"index" json:"expiresAt"`
	PaymentData     datatypes.JSON  `gorm:"type:jsonb" json:"-"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// Data декодирует PaymentData. Пустая колонка даёт нулевое значение.
func (t *Transaction) Data() (PaymentData, error) {
	var pd PaymentData
	if len(t.PaymentData) == 0 {
		return pd, nil
	}
	err := pd.UnmarshalJSON(t.PaymentData)
	return pd, err
}

func (t *Transaction) SetData(pd PaymentData) error {
	raw, err := pd.MarshalJSON()
	if err != nil {
		return err
	}
	t.PaymentData = datatypes.JSON(raw)
	return nil
}

// Expired сообщает, истекло ли окно оплаты к моменту now.
func (t *Transaction) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && now.After(t.ExpiresAt)
}

// Wallet: кэш агрегата журнала: Balance = TotalEarned - TotalSpent >= 0.
// Меняется только вместе с записью в wallet_entries в одной транзакции БД.
type Wallet struct {
	UserID      uint            `gorm:"primaryKey;autoIncrement:false" json:"userId"`
	Balance     decimal.Decimal `gorm:"type:numeric(14,2);not null;check:balance >= 0" json:"balance"`
	TotalEarned decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"totalEarned"`
	TotalSpent  decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"totalSpent"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

type EntryType string

const (
	EntryTopup EntryType = "topup"
	EntrySpend EntryType = "spend"
)

// WalletEntry: запись журнала кошелька, только добавляется.
type WalletEntry struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	UserID      uint            `gorm:"index;not null" json:"userId"`
	Type        EntryType       `gorm:"type:varchar(8);not null" json:"type"`
	Amount      decimal.Decimal `gorm:"type:numeric(14,2);not null;check:amount > 0" json:"amount"`
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"createdAt"`
}

type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionExpired   SubscriptionStatus = "expired"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

type Subscription struct {
	ID               uint               `gorm:"primaryKey" json:"id"`
	UserID           uint               `gorm:"index;not null" json:"userId"`
	PackageID        uint               `gorm:"not null" json:"packageId"`
	TransactionID    uint               `gorm:"uniqueIndex;not null" json:"transactionId"`
	VPNKey           string             `gorm:"uniqueIndex;not null" json:"vpnKey"`
	VPNConfig        datatypes.JSON     `gorm:"type:jsonb" json:"vpnConfig"`
	StartDate        time.Time          `gorm:"not null" json:"startDate"`
	EndDate          time.Time          `gorm:"not null;index" json:"endDate"`
	Status           SubscriptionStatus `gorm:"type:varchar(16);not null;index" json:"status"`
	NotifiedExpiring bool               `gorm:"default:false" json:"-"`
}

// SubscriptionView: подписка с именем тарифа и Telegram ID владельца.
type SubscriptionView struct {
	Subscription
	PackageName  string `json:"packageName"`
	DurationDays int    `json:"durationDays"`
	TelegramID   int64  `json:"-"`
}
