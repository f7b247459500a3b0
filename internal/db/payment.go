package db

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// TxStatus: состояние платёжной транзакции.
//
//	pending -> completed
//	pending -> failed | cancelled | expired
//
// Из терминальных состояний переходов нет.
type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxCompleted TxStatus = "completed"
	TxFailed    TxStatus = "failed"
	TxCancelled TxStatus = "cancelled"
	TxExpired   TxStatus = "expired"
)

func (s TxStatus) Terminal() bool {
	return s != TxPending
}

func (s TxStatus) Valid() bool {
	switch s {
	case TxPending, TxCompleted, TxFailed, TxCancelled, TxExpired:
		return true
	}
	return false
}

// CanTransition проверяет ребро конечного автомата.
func CanTransition(from, to TxStatus) bool {
	return from == TxPending && to.Valid() && to != TxPending
}

// TransitionResult: итог compare-and-set перехода.
type TransitionResult struct {
	// Applied: именно этот вызов изменил статус.
	Applied bool
	// Status: статус записи после вызова.
	Status TxStatus
}

// resolveConflict решает, что значит несработавший CAS: запись уже в целевом
// статусе: успешный no-op, в любом другом терминальном, ErrInvalidTransition.
func resolveConflict(id uint, current, to TxStatus) (TransitionResult, error) {
	if current == to {
		return TransitionResult{Status: current}, nil
	}
	return TransitionResult{Status: current}, fmt.Errorf("%w: transaction %d is %s, wanted %s", ErrInvalidTransition, id, current, to)
}

type PaymentMethod string

const (
	MethodCrypto PaymentMethod = "crypto"
	MethodWallet PaymentMethod = "wallet"
)

// StatusSnapshot: статус заказа, сообщённый провайдером (вебхук или опрос).
type StatusSnapshot struct {
	Status     string    `json:"status"`
	Source     string    `json:"source"`
	ReceivedAt time.Time `json:"receivedAt"`
}

type CryptoPayment struct {
	PaymentURL string           `json:"paymentUrl"`
	Currency   string           `json:"currency"`
	Demo       bool             `json:"demo,omitempty"`
	Snapshots  []StatusSnapshot `json:"snapshots,omitempty"`
}

type WalletPayment struct {
	EntryID uint `json:"entryId"`
}

// PaymentData: данные оплаты с вариантом под способ оплаты.
// Неизвестные поля сохраняются в Extra и пишутся обратно без изменений.
type PaymentData struct {
	Method        PaymentMethod  `json:"method"`
	OrderID       string         `json:"orderId"`
	RemoteOrderID string         `json:"remoteOrderId,omitempty"`
	ExpiresAt     time.Time      `json:"expiresAt"`
	PaidAt        *time.Time     `json:"paidAt,omitempty"`
	Crypto        *CryptoPayment `json:"crypto,omitempty"`
	Wallet        *WalletPayment `json:"wallet,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

var knownPaymentFields = map[string]struct{}{
	"method": {}, "orderId": {}, "remoteOrderId": {}, "expiresAt": {},
	"paidAt": {}, "crypto": {}, "wallet": {},
}

type paymentDataAlias PaymentData

func (p PaymentData) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(paymentDataAlias(p))
	if err != nil || len(p.Extra) == 0 {
		return known, err
	}
	merged := make(map[string]json.RawMessage, len(p.Extra)+len(knownPaymentFields))
	for k, v := range p.Extra {
		merged[k] = v
	}
	var own map[string]json.RawMessage
	if err := json.Unmarshal(known, &own); err != nil {
		return nil, err
	}
	for k, v := range own {
		merged[k] = v
	}
	return json.Marshal(merged)
}

func (p *PaymentData) UnmarshalJSON(data []byte) error {
	var a paymentDataAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for k := range knownPaymentFields {
		delete(all, k)
	}
	if len(all) > 0 {
		a.Extra = all
	}
	*p = PaymentData(a)
	return nil
}

// Validate проверяет обязательные поля варианта.
func (p PaymentData) Validate() error {
	if p.OrderID == "" {
		return errors.New("payment data: orderId is required")
	}
	if p.ExpiresAt.IsZero() {
		return errors.New("payment data: expiresAt is required")
	}
	switch p.Method {
	case MethodCrypto:
		if p.Crypto == nil {
			return errors.New("payment data: crypto details are required")
		}
		if p.Wallet != nil {
			return errors.New("payment data: wallet details on crypto payment")
		}
	case MethodWallet:
		if p.Crypto != nil {
			return errors.New("payment data: crypto details on wallet payment")
		}
	default:
		return fmt.Errorf("payment data: unknown method %q", p.Method)
	}
	return nil
}

// AddSnapshot добавляет статус провайдера в историю.
func (p *PaymentData) AddSnapshot(status, source string, at time.Time) {
	if p.Crypto == nil {
		p.Crypto = &CryptoPayment{}
	}
	p.Crypto.Snapshots = append(p.Crypto.Snapshots, StatusSnapshot{Status: status, Source: source, ReceivedAt: at})
}
