package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"VPN-MiniApp/internal/auth"
	"VPN-MiniApp/internal/bybit"
	"VPN-MiniApp/internal/credential"
	"VPN-MiniApp/internal/db"
	"VPN-MiniApp/internal/logger"
	"VPN-MiniApp/internal/memstore"
	"VPN-MiniApp/internal/services"
)

const (
	testBotToken      = "7342037359:AAHI25ES9xCOMPWYWjSHOMXfyi7ajTq9Wfg"
	testWebhookSecret = "whsec_api"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	logger.SetLogger(zap.NewNop())
	os.Exit(m.Run())
}

type stubGateway struct {
	configured bool
	status     bybit.Status
}

func (g *stubGateway) Configured() bool { return g.configured }

func (g *stubGateway) CreateOrder(_ context.Context, orderID string, _ decimal.Decimal, _, _ string) (*bybit.Order, error) {
	if !g.configured {
		return nil, bybit.ErrNotConfigured
	}
	return &bybit.Order{RemoteOrderID: "pay-" + orderID, PaymentURL: "https://pay.example.com/" + orderID}, nil
}

func (g *stubGateway) CheckStatus(context.Context, string) (bybit.Status, error) {
	if !g.configured {
		return "", bybit.ErrNotConfigured
	}
	return g.status, nil
}

type apiEnv struct {
	router  *gin.Engine
	store   *memstore.Store
	gateway *stubGateway
	pkg     db.Package
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	store := memstore.New()
	gateway := &stubGateway{configured: true, status: bybit.StatusPending}
	sessions, err := auth.NewSessionIssuer("api-secret", time.Hour)
	require.NoError(t, err)

	issuer := services.NewSubscriptionIssuer(store, credential.NewGenerator("vpn.example.com", []string{"1.1.1.1"}), nil)
	payments := services.NewPaymentService(store, gateway, issuer, services.PaymentConfig{OrderTTL: 30 * time.Minute})
	env := &apiEnv{store: store, gateway: gateway}
	env.pkg = store.AddPackage(db.Package{Name: "Месяц", DurationDays: 30, Price: decimal.RequireFromString("4.99"), Active: true})
	env.router = NewRouter(Deps{
		Login:    services.NewLoginService(testBotToken, 24*time.Hour, store, sessions),
		Sessions: sessions,
		Store:    store,
		Payments: payments,
		Webhook:  services.NewWebhookProcessor(testWebhookSecret, store, payments),
		Wallet:   services.NewWalletService(store, decimal.NewFromInt(100)),
		Limiter:  NewRateLimiter(1000, 1000, time.Minute),
	})
	return env
}

func (e *apiEnv) do(t *testing.T, method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case []byte:
		buf.Write(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func initData(telegramID int64) string {
	v := url.Values{}
	v.Set("auth_date", strconv.FormatInt(time.Now().Unix(), 10))
	v.Set("user", fmt.Sprintf(`{"id":%d,"first_name":"Vladislav","username":"vdkfrost"}`, telegramID))
	v.Set("hash", auth.SignInitData(v, testBotToken))
	return v.Encode()
}

func (e *apiEnv) login(t *testing.T) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/auth/verify", "", gin.H{"payload": initData(279058397)})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.NotEmpty(t, res.Token)
	return res.Token
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealthAndPackages(t *testing.T) {
	env := newAPIEnv(t)

	w := env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = env.do(t, http.MethodGet, "/packages", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	pkgs := decode[[]db.Package](t, w)
	require.Len(t, pkgs, 1)
	assert.Equal(t, "Месяц", pkgs[0].Name)
}

func TestVerify(t *testing.T) {
	env := newAPIEnv(t)
	token := env.login(t)

	w := env.do(t, http.MethodGet, "/me", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	user := decode[db.User](t, w)
	assert.Equal(t, int64(279058397), user.TelegramID)

	tampered := initData(279058397) + "0"
	tests := []struct {
		name string
		body any
	}{
		{"Tampered", gin.H{"payload": tampered}},
		{"Empty", gin.H{}},
		{"Not JSON", []byte("payload=")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/auth/verify", "", tt.body)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.JSONEq(t, `{"error":"unauthorized"}`, w.Body.String())
		})
	}
}

func TestPrivateRoutesRequireToken(t *testing.T) {
	env := newAPIEnv(t)
	for _, path := range []string{"/me", "/subscriptions", "/wallet", "/wallet/history", "/payments/orders/x"} {
		t.Run(path, func(t *testing.T) {
			w := env.do(t, http.MethodGet, path, "", nil)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			w = env.do(t, http.MethodGet, path, "garbage", nil)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestCryptoOrderFlow(t *testing.T) {
	env := newAPIEnv(t)
	token := env.login(t)

	w := env.do(t, http.MethodPost, "/payments/orders", token, gin.H{"packageId": env.pkg.ID, "method": "crypto"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	order := decode[services.OrderResult](t, w)
	assert.Equal(t, "https://pay.example.com/"+order.OrderID, order.PaymentURL)
	assert.NotZero(t, order.TransactionID)

	w = env.do(t, http.MethodGet, "/payments/orders/"+order.OrderID, token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[services.OrderStatus](t, w).Paid)

	body := []byte(fmt.Sprintf(`{"merchantTradeNo":%q,"payId":"pay-%s","status":"PAID"}`, order.OrderID, order.OrderID))

	w = env.do(t, http.MethodPost, "/payments/webhook", "", body, bybit.SignatureHeader, "bad")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodPost, "/payments/webhook", "", body, bybit.SignatureHeader, bybit.WebhookSignature(body, testWebhookSecret))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, decode[services.WebhookResult](t, w).Accepted)

	w = env.do(t, http.MethodGet, "/payments/orders/"+order.OrderID, token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	st := decode[services.OrderStatus](t, w)
	assert.True(t, st.Paid)
	assert.Equal(t, db.TxCompleted, st.Status)

	w = env.do(t, http.MethodGet, "/subscriptions", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]db.SubscriptionView](t, w), 1)
}

func TestCreateOrderErrors(t *testing.T) {
	env := newAPIEnv(t)
	token := env.login(t)

	w := env.do(t, http.MethodPost, "/payments/orders", token, gin.H{"method": "crypto"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/payments/orders", token, gin.H{"packageId": env.pkg.ID, "method": "card"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/payments/orders", token, gin.H{"packageId": 999, "method": "crypto"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPost, "/payments/orders", token, gin.H{"packageId": env.pkg.ID, "method": "wallet"})
	assert.Equal(t, http.StatusPaymentRequired, w.Code)

	env.gateway.configured = false
	w = env.do(t, http.MethodPost, "/payments/orders", token, gin.H{"packageId": env.pkg.ID, "method": "crypto"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestWalletEndpoints(t *testing.T) {
	env := newAPIEnv(t)
	token := env.login(t)

	w := env.do(t, http.MethodPost, "/wallet/credit", token, gin.H{"amount": "10", "description": "topup"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, decode[db.Wallet](t, w).Balance.Equal(decimal.NewFromInt(10)))

	w = env.do(t, http.MethodPost, "/wallet/debit", token, gin.H{"amount": "4"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[db.Wallet](t, w).Balance.Equal(decimal.NewFromInt(6)))

	w = env.do(t, http.MethodPost, "/wallet/debit", token, gin.H{"amount": "7"})
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.JSONEq(t, `{"error":"insufficient balance"}`, w.Body.String())

	w = env.do(t, http.MethodPost, "/wallet/credit", token, gin.H{"amount": "1000"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/wallet/credit", token, gin.H{"amount": "-1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/wallet", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	wallet := decode[db.Wallet](t, w)
	assert.True(t, wallet.Balance.Equal(decimal.NewFromInt(6)))
	assert.True(t, wallet.TotalSpent.Equal(decimal.NewFromInt(4)))

	w = env.do(t, http.MethodGet, "/wallet/history?limit=1", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]db.WalletEntry](t, w), 1)
}

func TestRateLimit(t *testing.T) {
	env := newAPIEnv(t)
	env.router = NewRouter(Deps{
		Login:    services.NewLoginService(testBotToken, time.Hour, env.store, mustSessions(t)),
		Sessions: mustSessions(t),
		Store:    env.store,
		Limiter:  NewRateLimiter(0.001, 2, time.Minute),
	})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, env.do(t, http.MethodPost, "/auth/verify", "", gin.H{}).Code)
	}
	assert.Equal(t, []int{http.StatusUnauthorized, http.StatusUnauthorized, http.StatusTooManyRequests}, codes)
}

func mustSessions(t *testing.T) *auth.SessionIssuer {
	t.Helper()
	s, err := auth.NewSessionIssuer("api-secret", time.Hour)
	require.NoError(t, err)
	return s
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{auth.ErrExpired, http.StatusUnauthorized},
		{fmt.Errorf("wrap: %w", db.ErrNotFound), http.StatusNotFound},
		{db.ErrInvalidTransition, http.StatusConflict},
		{services.ErrInvalidNotification, http.StatusBadRequest},
		{&bybit.GatewayError{HTTPStatus: 500, Message: "boom"}, http.StatusBadGateway},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			got, _ := statusOf(tt.err)
			assert.Equal(t, tt.want, got)
		})
	}
}
