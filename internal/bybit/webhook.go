package bybit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
)

// SignatureHeader: заголовок с подписью уведомления.
const SignatureHeader = "X-Signature"

// Notification: тело уведомления о смене статуса заказа.
type Notification struct {
	MerchantTradeNo string `json:"merchantTradeNo"`
	PayID           string `json:"payId"`
	Status          string `json:"status"`
	Amount          string `json:"amount,omitempty"`
	Currency        string `json:"currency,omitempty"`
}

// WebhookSignature: hex HMAC_SHA256 тела уведомления.
func WebhookSignature(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhookSignature сравнивает подпись из заголовка за постоянное время.
// Допускается префикс "HMAC-SHA256 " и hex в любом регистре.
func VerifyWebhookSignature(body []byte, header, secret string) bool {
	if secret == "" || header == "" {
		return false
	}
	sig := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(header), "HMAC-SHA256 "))
	expected := WebhookSignature(body, secret)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(sig)))
}

func ParseNotification(body []byte) (*Notification, error) {
	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, err
	}
	if n.MerchantTradeNo == "" {
		return nil, errors.New("merchantTradeNo is missing")
	}
	if n.Status == "" {
		return nil, errors.New("status is missing")
	}
	return &n, nil
}
