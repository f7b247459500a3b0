package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// CreateTransaction сохраняет новую транзакцию в статусе pending.
func (s *Store) CreateTransaction(ctx context.Context, tx *Transaction) error {
	if tx.ExternalOrderID == "" {
		return errors.New("transaction: external order id is required")
	}
	tx.Status = TxPending
	err := s.db.WithContext(ctx).Create(tx).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: order %s", ErrDuplicate, tx.ExternalOrderID)
	}
	return err
}

func (s *Store) GetTransaction(ctx context.Context, id uint) (*Transaction, error) {
	var tx Transaction
	if err := s.db.WithContext(ctx).First(&tx, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &tx, nil
}

// GetTransactionByOrderID ищет транзакцию по внешнему номеру заказа (уникальный индекс).
func (s *Store) GetTransactionByOrderID(ctx context.Context, orderID string) (*Transaction, error) {
	var tx Transaction
	if err := s.db.WithContext(ctx).Where("external_order_id = ?", orderID).First(&tx).Error; err != nil {
		return nil, notFound(err)
	}
	return &tx, nil
}

// UpdatePaymentData перезаписывает данные оплаты, пока транзакция в pending.
func (s *Store) UpdatePaymentData(ctx context.Context, id uint, data PaymentData) error {
	raw, err := data.MarshalJSON()
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(&Transaction{}).
		Where("id = ? AND status = ?", id, TxPending).
		Updates(map[string]interface{}{"payment_data": datatypes.JSON(raw), "updated_at": s.now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}
	current, err := s.GetTransaction(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: transaction %d is %s", ErrInvalidTransition, id, current.Status)
}

// TransitionStatus делает compare-and-set одним условным UPDATE ... WHERE status = from.
// При гонке ровно один вызов получает Applied=true.
func (s *Store) TransitionStatus(ctx context.Context, id uint, from, to TxStatus, data *PaymentData) (TransitionResult, error) {
	if !CanTransition(from, to) {
		return TransitionResult{Status: from}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	updates := map[string]interface{}{"status": to, "updated_at": s.now()}
	if data != nil {
		raw, err := data.MarshalJSON()
		if err != nil {
			return TransitionResult{}, err
		}
		updates["payment_data"] = datatypes.JSON(raw)
	}
	res := s.db.WithContext(ctx).Model(&Transaction{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return TransitionResult{}, res.Error
	}
	if res.RowsAffected == 1 {
		return TransitionResult{Applied: true, Status: to}, nil
	}
	current, err := s.GetTransaction(ctx, id)
	if err != nil {
		return TransitionResult{}, err
	}
	return resolveConflict(id, current.Status, to)
}

// ExpireStale переводит просроченные pending-транзакции в expired.
func (s *Store) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&Transaction{}).
		Where("status = ? AND expires_at < ?", TxPending, now).
		Updates(map[string]interface{}{"status": TxExpired, "updated_at": now})
	return res.RowsAffected, res.Error
}

// ListCompletedWithoutSubscription находит оплаченные транзакции, по которым не выдана подписка.
func (s *Store) ListCompletedWithoutSubscription(ctx context.Context, limit int) ([]Transaction, error) {
	var txs []Transaction
	err := s.db.WithContext(ctx).
		Joins("LEFT JOIN subscriptions ON subscriptions.transaction_id = transactions.id").
		Where("transactions.status = ? AND subscriptions.id IS NULL", TxCompleted).
		Order("transactions.id").
		Limit(limit).
		Find(&txs).Error
	return txs, err
}
