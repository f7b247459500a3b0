// Package bybit реализует клиент Bybit Pay: создание заказов и опрос их статуса.
package bybit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

const (
	createOrderPath = "/v5/bybitpay/order/create"
	queryOrderPath  = "/v5/bybitpay/order/query"

	headerSign       = "X-BAPI-SIGN"
	headerAPIKey     = "X-BAPI-API-KEY"
	headerTimestamp  = "X-BAPI-TIMESTAMP"
	headerRecvWindow = "X-BAPI-RECV-WINDOW"
)

// Status: статус заказа, приведённый к общему набору.
type Status string

const (
	StatusInitial   Status = "initial"
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

type Config struct {
	BaseURL    string
	APIKey     string
	APISecret  string
	RecvWindow int
	Timeout    time.Duration
	OrderTTL   time.Duration
}

type Client struct {
	http       *resty.Client
	apiKey     string
	apiSecret  string
	recvWindow int
	orderTTL   time.Duration
	now        func() time.Time
}

// Order: открытый на стороне шлюза заказ.
type Order struct {
	RemoteOrderID string
	PaymentURL    string
	ExpiresAt     time.Time
}

type envelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

type createResult struct {
	PayID       string `json:"payId"`
	CheckoutURL string `json:"checkoutUrl"`
	ExpireTime  int64  `json:"expireTime"`
}

type queryResult struct {
	PayID           string `json:"payId"`
	MerchantTradeNo string `json:"merchantTradeNo"`
	Status          string `json:"status"`
}

func NewClient(cfg Config) *Client {
	if cfg.RecvWindow <= 0 {
		cfg.RecvWindow = 5000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.OrderTTL <= 0 {
		cfg.OrderTTL = 30 * time.Minute
	}
	return &Client{
		http: resty.New().
			SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
			SetTimeout(cfg.Timeout).
			SetHeader("Content-Type", "application/json"),
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		recvWindow: cfg.RecvWindow,
		orderTTL:   cfg.OrderTTL,
		now:        time.Now,
	}
}

func (c *Client) Configured() bool {
	return c.apiKey != "" && c.apiSecret != ""
}

// CanonicalParams: пары key=value, отсортированные по ключу, через &.
func CanonicalParams(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+params[k])
	}
	return strings.Join(parts, "&")
}

// Sign считает подпись запроса: HMAC_SHA256(secret, timestamp + apiKey + recvWindow + params) в hex.
func Sign(secret, timestamp, apiKey, recvWindow, canonical string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + apiKey + recvWindow + canonical))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) signedRequest(ctx context.Context, params map[string]string) *resty.Request {
	ts := strconv.FormatInt(c.now().UnixMilli(), 10)
	recv := strconv.Itoa(c.recvWindow)
	return c.http.R().
		SetContext(ctx).
		SetHeader(headerAPIKey, c.apiKey).
		SetHeader(headerTimestamp, ts).
		SetHeader(headerRecvWindow, recv).
		SetHeader(headerSign, Sign(c.apiSecret, ts, c.apiKey, recv, CanonicalParams(params))).
		SetResult(&envelope{}).
		SetError(&envelope{})
}

// CreateOrder открывает заказ на оплату orderID.
func (c *Client) CreateOrder(ctx context.Context, orderID string, amount decimal.Decimal, currency, callbackURL string) (*Order, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	params := map[string]string{
		"merchantTradeNo": orderID,
		"amount":          amount.String(),
		"currency":        currency,
		"notifyUrl":       callbackURL,
		"expireTime":      strconv.FormatInt(c.now().Add(c.orderTTL).UnixMilli(), 10),
	}
	resp, err := c.signedRequest(ctx, params).SetBody(params).Post(createOrderPath)
	if err != nil {
		return nil, &GatewayError{Message: err.Error()}
	}

	var res createResult
	if err := decode(resp, &res); err != nil {
		return nil, err
	}
	if res.PayID == "" || res.CheckoutURL == "" {
		return nil, &GatewayError{HTTPStatus: resp.StatusCode(), Message: "empty order in response"}
	}
	expires := c.now().Add(c.orderTTL)
	if res.ExpireTime > 0 {
		expires = time.UnixMilli(res.ExpireTime)
	}
	return &Order{RemoteOrderID: res.PayID, PaymentURL: res.CheckoutURL, ExpiresAt: expires}, nil
}

// CheckStatus запрашивает статус заказа на стороне шлюза.
func (c *Client) CheckStatus(ctx context.Context, remoteOrderID string) (Status, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}
	params := map[string]string{"payId": remoteOrderID}
	resp, err := c.signedRequest(ctx, params).SetQueryParams(params).Get(queryOrderPath)
	if err != nil {
		return "", &GatewayError{Message: err.Error()}
	}

	var res queryResult
	if err := decode(resp, &res); err != nil {
		return "", err
	}
	st, ok := NormalizeStatus(res.Status)
	if !ok {
		return "", &GatewayError{HTTPStatus: resp.StatusCode(), Message: fmt.Sprintf("unknown order status %q", res.Status)}
	}
	return st, nil
}

func decode(resp *resty.Response, out interface{}) error {
	if resp.IsError() {
		msg := http.StatusText(resp.StatusCode())
		if body := strings.TrimSpace(string(resp.Body())); body != "" {
			msg += ": " + body
		}
		code := 0
		if env, ok := resp.Error().(*envelope); ok && env.RetMsg != "" {
			msg, code = env.RetMsg, env.RetCode
		}
		return &GatewayError{HTTPStatus: resp.StatusCode(), Code: code, Message: msg}
	}
	env, ok := resp.Result().(*envelope)
	if !ok {
		return &GatewayError{HTTPStatus: resp.StatusCode(), Message: "unexpected response"}
	}
	if env.RetCode != 0 {
		return &GatewayError{HTTPStatus: resp.StatusCode(), Code: env.RetCode, Message: env.RetMsg}
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return &GatewayError{HTTPStatus: resp.StatusCode(), Message: "malformed result: " + err.Error()}
	}
	return nil
}

// NormalizeStatus приводит статус шлюза к Status.
func NormalizeStatus(remote string) (Status, bool) {
	switch strings.ToUpper(strings.TrimSpace(remote)) {
	case "INIT", "INITIAL", "CREATED":
		return StatusInitial, true
	case "PENDING", "PROCESSING", "PAYING":
		return StatusPending, true
	case "PAID", "SUCCESS", "COMPLETED":
		return StatusPaid, true
	case "CANCELLED", "CANCELED", "CLOSED", "FAILED":
		return StatusCancelled, true
	case "EXPIRED", "TIMEOUT":
		return StatusExpired, true
	}
	return "", false
}
