package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"VPN-MiniApp/internal/bybit"
	"VPN-MiniApp/internal/db"
	"VPN-MiniApp/internal/logger"
	"VPN-MiniApp/internal/metrics"
)

// WebhookResult: ответ провайдеру.
type WebhookResult struct {
	Accepted bool        `json:"accepted"`
	OrderID  string      `json:"orderId"`
	Status   db.TxStatus `json:"status"`
}

// WebhookProcessor обрабатывает уведомления Bybit Pay.
// Порядок строгий: подпись, поиск транзакции, переход статуса. До успешной
// проверки подписи хранилище не трогается.
type WebhookProcessor struct {
	secret   string
	store    TransactionStore
	payments *PaymentService
}

func NewWebhookProcessor(secret string, store TransactionStore, payments *PaymentService) *WebhookProcessor {
	return &WebhookProcessor{secret: secret, store: store, payments: payments}
}

func (p *WebhookProcessor) Process(ctx context.Context, body []byte, signature string) (*WebhookResult, error) {
	if !bybit.VerifyWebhookSignature(body, signature, p.secret) {
		metrics.RecordWebhook("invalid_signature")
		logger.Warn("webhook signature mismatch", zap.Int("body_len", len(body)))
		return nil, ErrInvalidSignature
	}

	n, err := bybit.ParseNotification(body)
	if err != nil {
		metrics.RecordWebhook("invalid_payload")
		return nil, fmt.Errorf("%w: %v", ErrInvalidNotification, err)
	}
	remote, ok := bybit.NormalizeStatus(n.Status)
	if !ok {
		metrics.RecordWebhook("invalid_payload")
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidNotification, n.Status)
	}

	tx, err := p.store.GetTransactionByOrderID(ctx, n.MerchantTradeNo)
	if err != nil {
		metrics.RecordWebhook("unknown_order")
		logger.Warn("webhook for unknown order", zap.String("order_id", n.MerchantTradeNo), zap.Error(err))
		return nil, err
	}
	if n.PayID != "" {
		if pd, err := tx.Data(); err == nil && pd.RemoteOrderID != "" && pd.RemoteOrderID != n.PayID {
			metrics.RecordWebhook("invalid_payload")
			return nil, fmt.Errorf("%w: payId %s does not match order %s", ErrInvalidNotification, n.PayID, n.MerchantTradeNo)
		}
	}

	st, err := p.payments.ApplyRemoteStatus(ctx, tx, remote, "webhook")
	if err != nil {
		metrics.RecordWebhook("error")
		return nil, err
	}

	outcome := "duplicate"
	switch {
	case st.Applied:
		outcome = "applied"
	case !st.Accepted:
		outcome = "rejected"
	}
	metrics.RecordWebhook(outcome)
	logger.Info("webhook processed",
		zap.String("order_id", n.MerchantTradeNo),
		zap.String("remote", string(remote)),
		zap.String("status", string(st.Status)),
		zap.String("outcome", outcome),
	)
	return &WebhookResult{Accepted: st.Accepted, OrderID: n.MerchantTradeNo, Status: st.Status}, nil
}
