package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"VPN-MiniApp/internal/bybit"
	"VPN-MiniApp/internal/db"
	"VPN-MiniApp/internal/logger"
	"VPN-MiniApp/internal/metrics"
)

type PaymentConfig struct {
	Currency    string
	OrderTTL    time.Duration
	CallbackURL string
	// DemoPayments разрешает демо-заказы, когда у шлюза нет ключей.
	DemoPayments bool
	DemoDelay    time.Duration
}

// PaymentService ведёт жизненный цикл заказа: создание, опрос статуса и
// применение статуса шлюза. Вебхук и опрос сходятся в ApplyRemoteStatus.
type PaymentService struct {
	store   Store
	gateway Gateway
	issuer  *SubscriptionIssuer
	cfg     PaymentConfig
	now     func() time.Time
	orderID func() string
}

func NewPaymentService(store Store, gateway Gateway, issuer *SubscriptionIssuer, cfg PaymentConfig) *PaymentService {
	if cfg.OrderTTL <= 0 {
		cfg.OrderTTL = 30 * time.Minute
	}
	if cfg.Currency == "" {
		cfg.Currency = "USDT"
	}
	return &PaymentService{
		store:   store,
		gateway: gateway,
		issuer:  issuer,
		cfg:     cfg,
		now:     time.Now,
		orderID: func() string { return "vpn-" + uuid.NewString() },
	}
}

// OrderResult: ответ на создание заказа.
type OrderResult struct {
	TransactionID uint             `json:"transactionId"`
	OrderID       string           `json:"orderId"`
	PaymentURL    string           `json:"paymentUrl,omitempty"`
	Status        db.TxStatus      `json:"status"`
	Method        db.PaymentMethod `json:"method"`
	Amount        decimal.Decimal  `json:"amount"`
	Currency      string           `json:"currency"`
	ExpiresAt     time.Time        `json:"expiresAt"`
	Demo          bool             `json:"demo,omitempty"`
	Subscription  *db.Subscription `json:"subscription,omitempty"`
}

// OrderStatus: ответ на опрос заказа.
type OrderStatus struct {
	OrderID   string      `json:"orderId"`
	Status    db.TxStatus `json:"status"`
	Paid      bool        `json:"paid"`
	Demo      bool        `json:"demo,omitempty"`
	ExpiresAt time.Time   `json:"expiresAt"`
}

// Settlement: итог применения статуса шлюза к транзакции.
type Settlement struct {
	// Status: статус транзакции после применения.
	Status db.TxStatus
	// Applied: этот вызов изменил статус.
	Applied bool
	// Accepted: статус шлюза принят как есть. false, если заказ уже был
	// закрыт иначе или оплата пришла после окна оплаты.
	Accepted     bool
	Late         bool
	Subscription *db.Subscription
}

// CreateOrder создаёт pending-транзакцию и проводит оплату выбранным способом.
func (s *PaymentService) CreateOrder(ctx context.Context, userID, packageID uint, method db.PaymentMethod) (*OrderResult, error) {
	if method != db.MethodCrypto && method != db.MethodWallet {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
	pkg, err := s.store.GetPackage(ctx, packageID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrPackageUnavailable, packageID)
		}
		return nil, err
	}
	if !pkg.Active {
		return nil, fmt.Errorf("%w: %d", ErrPackageUnavailable, packageID)
	}

	now := s.now()
	orderID := s.orderID()
	pd := db.PaymentData{Method: method, OrderID: orderID, ExpiresAt: now.Add(s.cfg.OrderTTL)}
	if method == db.MethodCrypto {
		pd.Crypto = &db.CryptoPayment{Currency: s.cfg.Currency}
	} else {
		pd.Wallet = &db.WalletPayment{}
	}

	tx := &db.Transaction{
		UserID:          userID,
		PackageID:       pkg.ID,
		Amount:          pkg.Price,
		Currency:        s.cfg.Currency,
		PaymentMethod:   method,
		ExternalOrderID: orderID,
		ExpiresAt:       pd.ExpiresAt,
	}
	if err := pd.Validate(); err != nil {
		return nil, err
	}
	if err := tx.SetData(pd); err != nil {
		return nil, err
	}
	if err := s.store.CreateTransaction(ctx, tx); err != nil {
		return nil, err
	}
	metrics.RecordOrder(string(method))
	logger.Info("order created",
		zap.String("order_id", orderID),
		zap.Uint("transaction_id", tx.ID),
		zap.Uint("user_id", userID),
		zap.String("method", string(method)),
		zap.String("amount", pkg.Price.String()),
	)

	if method == db.MethodWallet {
		return s.payFromWallet(ctx, tx, pkg, pd)
	}
	return s.openRemoteOrder(ctx, tx, pd)
}

func (s *PaymentService) openRemoteOrder(ctx context.Context, tx *db.Transaction, pd db.PaymentData) (*OrderResult, error) {
	res := &OrderResult{
		TransactionID: tx.ID,
		OrderID:       tx.ExternalOrderID,
		Status:        db.TxPending,
		Amount:        tx.Amount,
		Currency:      tx.Currency,
		ExpiresAt:     tx.ExpiresAt,
		Method:        db.MethodCrypto,
	}

	order, err := s.gateway.CreateOrder(ctx, tx.ExternalOrderID, tx.Amount, tx.Currency, s.cfg.CallbackURL)
	switch {
	case errors.Is(err, bybit.ErrNotConfigured) && s.cfg.DemoPayments:
		logger.Degraded("payments", "gateway is not configured, demo order created",
			zap.String("order_id", tx.ExternalOrderID))
		pd.Crypto.Demo = true
		if err := s.store.UpdatePaymentData(ctx, tx.ID, pd); err != nil {
			return nil, err
		}
		res.Demo = true
		return res, nil
	case err != nil:
		metrics.RecordGatewayError("create_order")
		logger.Error("gateway create order failed", zap.String("order_id", tx.ExternalOrderID), zap.Error(err))
		if _, terr := s.store.TransitionStatus(ctx, tx.ID, db.TxPending, db.TxFailed, nil); terr != nil {
			logger.Error("mark order failed", zap.String("order_id", tx.ExternalOrderID), zap.Error(terr))
		} else {
			metrics.RecordTransition(string(db.TxFailed), "gateway")
		}
		return nil, err
	}

	pd.RemoteOrderID = order.RemoteOrderID
	pd.Crypto.PaymentURL = order.PaymentURL
	if err := s.store.UpdatePaymentData(ctx, tx.ID, pd); err != nil {
		return nil, err
	}
	res.PaymentURL = order.PaymentURL
	return res, nil
}

// payFromWallet списывает цену тарифа с кошелька и завершает транзакцию.
// Списание и перевод в completed: две разные операции хранилища: если процесс
// упадёт между ними, деньги списаны, а транзакция останется pending и истечёт.
// Такие случаи видны по записи журнала с номером заказа в описании.
func (s *PaymentService) payFromWallet(ctx context.Context, tx *db.Transaction, pkg *db.Package, pd db.PaymentData) (*OrderResult, error) {
	_, entry, err := s.store.Debit(ctx, tx.UserID, tx.Amount, fmt.Sprintf("Покупка «%s», заказ %s", pkg.Name, tx.ExternalOrderID))
	if err != nil {
		metrics.RecordWalletOperation(string(db.EntrySpend), outcomeOf(err))
		if _, terr := s.store.TransitionStatus(ctx, tx.ID, db.TxPending, db.TxFailed, nil); terr != nil {
			logger.Error("mark order failed", zap.String("order_id", tx.ExternalOrderID), zap.Error(terr))
		} else {
			metrics.RecordTransition(string(db.TxFailed), "wallet")
		}
		return nil, err
	}
	metrics.RecordWalletOperation(string(db.EntrySpend), "ok")

	paidAt := s.now()
	pd.Wallet.EntryID = entry.ID
	pd.PaidAt = &paidAt
	tr, err := s.store.TransitionStatus(ctx, tx.ID, db.TxPending, db.TxCompleted, &pd)
	if err != nil {
		logger.Error("wallet debited but order not completed",
			zap.String("order_id", tx.ExternalOrderID), zap.Uint("entry_id", entry.ID), zap.Error(err))
		logger.NotifyAdmin(fmt.Sprintf("Списание с кошелька без завершения заказа %s (запись %d): %v", tx.ExternalOrderID, entry.ID, err))
		return nil, err
	}
	if tr.Applied {
		metrics.RecordTransition(string(db.TxCompleted), "wallet")
	}
	tx.Status = db.TxCompleted

	res := &OrderResult{
		TransactionID: tx.ID,
		OrderID:       tx.ExternalOrderID,
		Status:        db.TxCompleted,
		Amount:        tx.Amount,
		Currency:      tx.Currency,
		ExpiresAt:     tx.ExpiresAt,
		Method:        db.MethodWallet,
	}
	sub, err := s.issuer.Issue(ctx, tx)
	if err != nil {
		s.issueFailed(tx, err)
		return res, nil
	}
	res.Subscription = sub
	return res, nil
}

// CheckOrder: опрос статуса заказа клиентом. Чужой заказ не отличается от несуществующего.
func (s *PaymentService) CheckOrder(ctx context.Context, userID uint, orderID string) (*OrderStatus, error) {
	tx, err := s.store.GetTransactionByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if tx.UserID != userID {
		return nil, fmt.Errorf("%w: order %s", db.ErrNotFound, orderID)
	}
	pd, err := tx.Data()
	if err != nil {
		logger.Warn("payment data is unreadable", zap.String("order_id", orderID), zap.Error(err))
	}
	demo := pd.Crypto != nil && pd.Crypto.Demo

	status, err := s.refresh(ctx, tx, pd, demo)
	if err != nil {
		return nil, err
	}
	return &OrderStatus{
		OrderID:   tx.ExternalOrderID,
		Status:    status,
		Paid:      status == db.TxCompleted,
		Demo:      demo,
		ExpiresAt: tx.ExpiresAt,
	}, nil
}

func (s *PaymentService) refresh(ctx context.Context, tx *db.Transaction, pd db.PaymentData, demo bool) (db.TxStatus, error) {
	if tx.Status.Terminal() || tx.PaymentMethod != db.MethodCrypto {
		return tx.Status, nil
	}
	now := s.now()
	if tx.Expired(now) {
		return s.expire(ctx, tx, "poll")
	}

	if demo {
		if !s.cfg.DemoPayments || now.Before(tx.CreatedAt.Add(s.cfg.DemoDelay)) {
			return tx.Status, nil
		}
		st, err := s.ApplyRemoteStatus(ctx, tx, bybit.StatusPaid, "demo")
		if err != nil {
			return "", err
		}
		return st.Status, nil
	}

	if pd.RemoteOrderID == "" {
		return tx.Status, nil
	}
	remote, err := s.gateway.CheckStatus(ctx, pd.RemoteOrderID)
	if err != nil {
		metrics.RecordGatewayError("check_status")
		return "", err
	}
	st, err := s.ApplyRemoteStatus(ctx, tx, remote, "poll")
	if err != nil {
		return "", err
	}
	return st.Status, nil
}

// expire закрывает pending-транзакцию с истёкшим окном оплаты.
func (s *PaymentService) expire(ctx context.Context, tx *db.Transaction, source string) (db.TxStatus, error) {
	res, err := s.store.TransitionStatus(ctx, tx.ID, db.TxPending, db.TxExpired, nil)
	if err != nil {
		if errors.Is(err, db.ErrInvalidTransition) {
			return res.Status, nil
		}
		return "", err
	}
	if res.Applied {
		metrics.RecordTransition(string(db.TxExpired), source)
	}
	tx.Status = res.Status
	return res.Status, nil
}

func targetStatus(remote bybit.Status) (db.TxStatus, bool) {
	switch remote {
	case bybit.StatusPaid:
		return db.TxCompleted, true
	case bybit.StatusCancelled:
		return db.TxCancelled, true
	case bybit.StatusExpired:
		return db.TxExpired, true
	}
	return "", false
}

// ApplyRemoteStatus применяет статус шлюза к транзакции через compare-and-set.
// Оплата после истечения окна переводит транзакцию в expired, а не в completed.
// Подписка выдаётся только тем вызовом, который сам перевёл транзакцию в completed.
func (s *PaymentService) ApplyRemoteStatus(ctx context.Context, tx *db.Transaction, remote bybit.Status, source string) (*Settlement, error) {
	now := s.now()
	pd, err := tx.Data()
	if err != nil {
		logger.Warn("payment data is unreadable, rebuilding", zap.String("order_id", tx.ExternalOrderID), zap.Error(err))
		pd = db.PaymentData{Method: tx.PaymentMethod, OrderID: tx.ExternalOrderID, ExpiresAt: tx.ExpiresAt}
	}
	if tx.PaymentMethod == db.MethodCrypto {
		pd.AddSnapshot(string(remote), source, now)
	}

	target, final := targetStatus(remote)
	if !final {
		if tx.Status == db.TxPending {
			if err := s.store.UpdatePaymentData(ctx, tx.ID, pd); err != nil && !errors.Is(err, db.ErrInvalidTransition) {
				return nil, err
			}
		}
		return &Settlement{Status: tx.Status, Accepted: tx.Status == db.TxPending}, nil
	}

	if tx.Status.Terminal() {
		return s.closedOrder(tx, remote, target, tx.Status, source), nil
	}

	mapped, late := target, false
	if target == db.TxCompleted {
		if tx.Expired(now) {
			target, late = db.TxExpired, true
		} else {
			pd.PaidAt = &now
		}
	}

	res, err := s.store.TransitionStatus(ctx, tx.ID, db.TxPending, target, &pd)
	if err != nil {
		if !errors.Is(err, db.ErrInvalidTransition) {
			return nil, err
		}
		tx.Status = res.Status
		return s.closedOrder(tx, remote, mapped, res.Status, source), nil
	}
	tx.Status = res.Status

	st := &Settlement{Status: res.Status, Applied: res.Applied, Accepted: !late, Late: late}
	if late {
		logger.Warn("payment arrived after order expiry",
			zap.String("order_id", tx.ExternalOrderID), zap.String("source", source))
		if res.Applied {
			logger.NotifyAdmin(fmt.Sprintf("Оплата по заказу %s пришла после истечения окна оплаты. Заказ закрыт как expired.", tx.ExternalOrderID))
		}
	}
	if !res.Applied {
		return st, nil
	}

	metrics.RecordTransition(string(target), source)
	logger.Info("order status changed",
		zap.String("order_id", tx.ExternalOrderID),
		zap.String("status", string(target)),
		zap.String("source", source),
	)
	if target == db.TxCompleted {
		sub, err := s.issuer.Issue(ctx, tx)
		if err != nil {
			s.issueFailed(tx, err)
		}
		st.Subscription = sub
	}
	return st, nil
}

// closedOrder разбирает статус шлюза для уже закрытой транзакции.
// Повтор того же итога: успешный no-op, расхождение только логируется.
func (s *PaymentService) closedOrder(tx *db.Transaction, remote bybit.Status, target, current db.TxStatus, source string) *Settlement {
	if current == target {
		return &Settlement{Status: current, Accepted: true}
	}
	logger.Warn("remote status conflicts with closed order",
		zap.String("order_id", tx.ExternalOrderID),
		zap.String("remote", string(remote)),
		zap.String("status", string(current)),
		zap.String("source", source),
	)
	if remote == bybit.StatusPaid {
		logger.NotifyAdmin(fmt.Sprintf("Оплата по заказу %s пришла, но заказ уже %s. Нужен возврат или ручная выдача.", tx.ExternalOrderID, current))
	}
	return &Settlement{Status: current}
}

func (s *PaymentService) issueFailed(tx *db.Transaction, err error) {
	logger.Error("subscription issue failed", zap.Uint("transaction_id", tx.ID), zap.Error(err))
	logger.NotifyAdmin(fmt.Sprintf("Не удалось выдать подписку по заказу %s: %v. Повтор при сверке.", tx.ExternalOrderID, err))
}
