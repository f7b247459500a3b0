package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"VPN-MiniApp/internal/db"
	"VPN-MiniApp/internal/logger"
	"VPN-MiniApp/internal/metrics"
)

// WalletService: операции с кошельком, доступные клиенту.
type WalletService struct {
	ledger    WalletLedger
	maxCredit decimal.Decimal
}

// NewWalletService. maxCredit <= 0 снимает ограничение на разовое начисление.
func NewWalletService(ledger WalletLedger, maxCredit decimal.Decimal) *WalletService {
	return &WalletService{ledger: ledger, maxCredit: maxCredit}
}

func (s *WalletService) Balance(ctx context.Context, userID uint) (*db.Wallet, error) {
	return s.ledger.GetWallet(ctx, userID)
}

func (s *WalletService) Credit(ctx context.Context, userID uint, amount decimal.Decimal, description string) (*db.Wallet, error) {
	if s.maxCredit.IsPositive() && amount.GreaterThan(s.maxCredit) {
		metrics.RecordWalletOperation(string(db.EntryTopup), "limit")
		return nil, fmt.Errorf("%w: %s > %s", ErrCreditLimit, amount, s.maxCredit)
	}
	w, entry, err := s.ledger.Credit(ctx, userID, amount, description)
	if err != nil {
		metrics.RecordWalletOperation(string(db.EntryTopup), outcomeOf(err))
		return nil, err
	}
	metrics.RecordWalletOperation(string(db.EntryTopup), "ok")
	logger.Info("wallet credited", zap.Uint("user_id", userID), zap.Uint("entry_id", entry.ID), zap.String("amount", amount.String()))
	return w, nil
}

func (s *WalletService) Debit(ctx context.Context, userID uint, amount decimal.Decimal, description string) (*db.Wallet, error) {
	w, entry, err := s.ledger.Debit(ctx, userID, amount, description)
	if err != nil {
		metrics.RecordWalletOperation(string(db.EntrySpend), outcomeOf(err))
		return nil, err
	}
	metrics.RecordWalletOperation(string(db.EntrySpend), "ok")
	logger.Info("wallet debited", zap.Uint("user_id", userID), zap.Uint("entry_id", entry.ID), zap.String("amount", amount.String()))
	return w, nil
}

func (s *WalletService) History(ctx context.Context, userID uint, limit, offset int) ([]db.WalletEntry, error) {
	return s.ledger.ListEntries(ctx, userID, limit, offset)
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, db.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, db.ErrInvalidAmount):
		return "invalid_amount"
	}
	return "error"
}
