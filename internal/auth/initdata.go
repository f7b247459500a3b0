// Package auth проверяет подписанный запуск мини-приложения Telegram и выдаёт сессии.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrExpired          = errors.New("expired")
	ErrInvalidToken     = errors.New("invalid token")
	ErrInvalidPayload   = errors.New("invalid payload")
	ErrEmptySecret      = errors.New("secret cannot be empty")
)

// DefaultInitDataMaxAge: сколько живёт initData после auth_date.
const DefaultInitDataMaxAge = 24 * time.Hour

// TelegramUser: поле user из initData.
type TelegramUser struct {
	ID           int64  `json:"id"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name,omitempty"`
	Username     string `json:"username,omitempty"`
	LanguageCode string `json:"language_code,omitempty"`
}

// InitData: проверенные поля запуска.
type InitData struct {
	User       TelegramUser
	AuthDate   time.Time
	QueryID    string
	StartParam string
}

// secretKey = HMAC_SHA256(key="WebAppData", msg=botToken).
func secretKey(botToken string) []byte {
	mac := hmac.New(sha256.New, []byte("WebAppData"))
	mac.Write([]byte(botToken))
	return mac.Sum(nil)
}

// dataCheckString: пары key=value без hash, отсортированные по ключу, через \n.
func dataCheckString(values url.Values) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		if k == "hash" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+"="+values.Get(k))
	}
	return strings.Join(lines, "\n")
}

// SignInitData считает hash для набора полей. Нужен тестам и локальной отладке клиента.
func SignInitData(values url.Values, botToken string) string {
	mac := hmac.New(sha256.New, secretKey(botToken))
	mac.Write([]byte(dataCheckString(values)))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyInitData проверяет подпись и свежесть initData.
// Подпись проверяется первой: пока она не сошлась, содержимое полей не разбирается.
// Отсутствующий или нечитаемый auth_date считается просроченным.
func VerifyInitData(raw, botToken string, maxAge time.Duration, now time.Time) (*InitData, error) {
	if botToken == "" {
		return nil, ErrEmptySecret
	}
	if maxAge <= 0 {
		maxAge = DefaultInitDataMaxAge
	}

	values, err := url.ParseQuery(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed query", ErrInvalidSignature)
	}
	supplied := values.Get("hash")
	if supplied == "" {
		return nil, fmt.Errorf("%w: hash is missing", ErrInvalidSignature)
	}
	expected := SignInitData(values, botToken)
	if !hmac.Equal([]byte(expected), []byte(supplied)) {
		return nil, ErrInvalidSignature
	}

	ts, err := strconv.ParseInt(values.Get("auth_date"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: auth_date is missing", ErrExpired)
	}
	authDate := time.Unix(ts, 0)
	if now.Sub(authDate) > maxAge {
		return nil, ErrExpired
	}

	var user TelegramUser
	if err := json.Unmarshal([]byte(values.Get("user")), &user); err != nil {
		return nil, fmt.Errorf("%w: user: %v", ErrInvalidPayload, err)
	}
	if user.ID == 0 {
		return nil, fmt.Errorf("%w: user id is missing", ErrInvalidPayload)
	}

	return &InitData{
		User:       user,
		AuthDate:   authDate,
		QueryID:    values.Get("query_id"),
		StartParam: values.Get("start_param"),
	}, nil
}
