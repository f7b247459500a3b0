package bybit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := NewClient(Config{BaseURL: srv.URL, APIKey: "key", APISecret: "secret", RecvWindow: 5000, Timeout: time.Second, OrderTTL: 30 * time.Minute})
	c.now = func() time.Time { return fixedNow }
	return c
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestSign_KnownVector(t *testing.T) {
	canonical := CanonicalParams(map[string]string{"b": "2", "a": "1", "c": "x y"})
	assert.Equal(t, "a=1&b=2&c=x y", canonical)

	sig := Sign("secret", "1700000000000", "key", "5000", canonical)
	assert.Len(t, sig, 64)
	assert.Equal(t, sig, Sign("secret", "1700000000000", "key", "5000", canonical))
	assert.NotEqual(t, sig, Sign("secret", "1700000000001", "key", "5000", canonical))
	assert.NotEqual(t, sig, Sign("other", "1700000000000", "key", "5000", canonical))
}

func TestCreateOrder_Success(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, createOrderPath, r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ord-1", body["merchantTradeNo"])
		assert.Equal(t, "4.99", body["amount"])
		assert.Equal(t, "USDT", body["currency"])
		assert.Equal(t, "https://app.example.com/payments/webhook", body["notifyUrl"])

		ts := r.Header.Get(headerTimestamp)
		assert.Equal(t, "1740830400000", ts)
		assert.Equal(t, "key", r.Header.Get(headerAPIKey))
		assert.Equal(t, "5000", r.Header.Get(headerRecvWindow))
		assert.Equal(t, Sign("secret", ts, "key", "5000", CanonicalParams(body)), r.Header.Get(headerSign))

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"retCode": 0,
			"retMsg":  "OK",
			"result": map[string]interface{}{
				"payId":       "pay-77",
				"checkoutUrl": "https://pay.bybit.com/checkout/pay-77",
				"expireTime":  fixedNow.Add(15 * time.Minute).UnixMilli(),
			},
		})
	})

	order, err := c.CreateOrder(context.Background(), "ord-1", decimal.RequireFromString("4.99"), "USDT", "https://app.example.com/payments/webhook")
	require.NoError(t, err)
	assert.Equal(t, "pay-77", order.RemoteOrderID)
	assert.Equal(t, "https://pay.bybit.com/checkout/pay-77", order.PaymentURL)
	assert.True(t, order.ExpiresAt.Equal(fixedNow.Add(15*time.Minute)))
}

func TestCreateOrder_GatewayErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    interface{}
		wantMsg string
	}{
		{"Provider retCode", http.StatusOK, map[string]interface{}{"retCode": 10003, "retMsg": "invalid api key"}, "invalid api key"},
		{"HTTP error with envelope", http.StatusBadRequest, map[string]interface{}{"retCode": 10001, "retMsg": "params error"}, "params error"},
		{"HTTP 500", http.StatusInternalServerError, map[string]interface{}{}, "Internal Server Error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, tt.body)
			})
			_, err := c.CreateOrder(context.Background(), "ord-1", decimal.NewFromInt(1), "USDT", "cb")
			require.ErrorIs(t, err, ErrGateway)
			var gwErr *GatewayError
			require.ErrorAs(t, err, &gwErr)
			assert.Contains(t, gwErr.Message, tt.wantMsg)
		})
	}
}

func TestCreateOrder_Timeout(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		writeJSON(w, http.StatusOK, map[string]interface{}{"retCode": 0})
	})
	c.http.SetTimeout(50 * time.Millisecond)

	_, err := c.CreateOrder(context.Background(), "ord-1", decimal.NewFromInt(1), "USDT", "cb")
	assert.ErrorIs(t, err, ErrGateway)
}

func TestNotConfigured(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://127.0.0.1:1"})
	assert.False(t, c.Configured())

	_, err := c.CreateOrder(context.Background(), "ord-1", decimal.NewFromInt(1), "USDT", "cb")
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = c.CheckStatus(context.Background(), "pay-1")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestCheckStatus(t *testing.T) {
	tests := []struct {
		remote string
		want   Status
	}{
		{"INIT", StatusInitial},
		{"PENDING", StatusPending},
		{"PAID", StatusPaid},
		{"CANCELLED", StatusCancelled},
		{"EXPIRED", StatusExpired},
	}

	for _, tt := range tests {
		t.Run(tt.remote, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, queryOrderPath, r.URL.Path)
				assert.Equal(t, "pay-77", r.URL.Query().Get("payId"))
				assert.Equal(t, Sign("secret", r.Header.Get(headerTimestamp), "key", "5000", "payId=pay-77"), r.Header.Get(headerSign))
				writeJSON(w, http.StatusOK, map[string]interface{}{
					"retCode": 0,
					"result":  map[string]string{"payId": "pay-77", "status": tt.remote},
				})
			})
			st, err := c.CheckStatus(context.Background(), "pay-77")
			require.NoError(t, err)
			assert.Equal(t, tt.want, st)
		})
	}
}

func TestCheckStatus_UnknownStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"retCode": 0, "result": map[string]string{"status": "WEIRD"}})
	})
	_, err := c.CheckStatus(context.Background(), "pay-77")
	assert.ErrorIs(t, err, ErrGateway)
}

func TestWebhookSignature(t *testing.T) {
	body := []byte(`{"merchantTradeNo":"ord-1","payId":"pay-77","status":"PAID"}`)
	sig := WebhookSignature(body, "whsec")

	tests := []struct {
		name   string
		body   []byte
		header string
		secret string
		want   bool
	}{
		{"Valid", body, sig, "whsec", true},
		{"Valid with prefix", body, "HMAC-SHA256 " + sig, "whsec", true},
		{"Wrong secret", body, sig, "other", false},
		{"Tampered body", []byte(`{"merchantTradeNo":"ord-2","payId":"pay-77","status":"PAID"}`), sig, "whsec", false},
		{"Empty header", body, "", "whsec", false},
		{"Empty secret", body, WebhookSignature(body, ""), "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, VerifyWebhookSignature(tt.body, tt.header, tt.secret))
		})
	}
}

func TestParseNotification(t *testing.T) {
	n, err := ParseNotification([]byte(`{"merchantTradeNo":"ord-1","payId":"pay-77","status":"PAID","extra":1}`))
	require.NoError(t, err)
	assert.Equal(t, "ord-1", n.MerchantTradeNo)
	assert.Equal(t, "PAID", n.Status)

	_, err = ParseNotification([]byte(`{"status":"PAID"}`))
	assert.Error(t, err)
	_, err = ParseNotification([]byte(`not json`))
	assert.Error(t, err)
}
