package db

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const walletColumns = "user_id, balance, total_earned, total_spent, updated_at"

// ensureWallet лениво создаёт кошелёк пользователя.
func (s *Store) ensureWallet(tx *gorm.DB, userID uint) error {
	return tx.Exec(
		"INSERT INTO wallets (user_id, balance, total_earned, total_spent, updated_at) VALUES (?, 0, 0, 0, ?) ON CONFLICT (user_id) DO NOTHING",
		userID, s.now(),
	).Error
}

// GetWallet возвращает текущий снимок кошелька. Читатель не блокирует писателей.
func (s *Store) GetWallet(ctx context.Context, userID uint) (*Wallet, error) {
	db := s.db.WithContext(ctx)
	if err := s.ensureWallet(db, userID); err != nil {
		return nil, err
	}
	var w Wallet
	if err := db.Where("user_id = ?", userID).First(&w).Error; err != nil {
		return nil, notFound(err)
	}
	return &w, nil
}

// Credit начисляет монеты: запись topup и увеличение balance/total_earned в одной транзакции БД.
func (s *Store) Credit(ctx context.Context, userID uint, amount decimal.Decimal, description string) (*Wallet, *WalletEntry, error) {
	if !amount.IsPositive() {
		return nil, nil, ErrInvalidAmount
	}
	return s.applyEntry(ctx, userID, EntryTopup, amount, description,
		"UPDATE wallets SET balance = balance + ?, total_earned = total_earned + ?, updated_at = ? WHERE user_id = ? RETURNING "+walletColumns,
		amount, amount, s.now(), userID,
	)
}

// Debit списывает монеты. Проверка баланса и списание: один условный UPDATE,
// поэтому два параллельных списания не могут оба пройти при балансе на одно.
func (s *Store) Debit(ctx context.Context, userID uint, amount decimal.Decimal, description string) (*Wallet, *WalletEntry, error) {
	if !amount.IsPositive() {
		return nil, nil, ErrInvalidAmount
	}
	return s.applyEntry(ctx, userID, EntrySpend, amount, description,
		"UPDATE wallets SET balance = balance - ?, total_spent = total_spent + ?, updated_at = ? WHERE user_id = ? AND balance >= ? RETURNING "+walletColumns,
		amount, amount, s.now(), userID, amount,
	)
}

func (s *Store) applyEntry(ctx context.Context, userID uint, typ EntryType, amount decimal.Decimal, description, update string, args ...interface{}) (*Wallet, *WalletEntry, error) {
	var (
		w     Wallet
		entry WalletEntry
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.ensureWallet(tx, userID); err != nil {
			return err
		}
		res := tx.Raw(update, args...).Scan(&w)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrInsufficientBalance
		}
		entry = WalletEntry{UserID: userID, Type: typ, Amount: amount, Description: description, CreatedAt: s.now()}
		return tx.Create(&entry).Error
	})
	if err != nil {
		return nil, nil, err
	}
	return &w, &entry, nil
}

// ListEntries: журнал кошелька, новые первыми.
func (s *Store) ListEntries(ctx context.Context, userID uint, limit, offset int) ([]WalletEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	var entries []WalletEntry
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(limit).Offset(offset).
		Find(&entries).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return []WalletEntry{}, nil
	}
	return entries, err
}
