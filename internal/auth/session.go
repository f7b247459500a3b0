package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const sessionIssuer = "vpn-miniapp"

// Claims: содержимое сессионного токена.
type Claims struct {
	TelegramID int64 `json:"tg_id"`
	UserID     uint  `json:"uid"`
	jwt.RegisteredClaims
}

// SessionIssuer выпускает и проверяет HS256-токены сессии.
//
// Сервер не хранит сессий и не ведёт список отзыва: валидный неистёкший токен
// сам по себе является авторизацией. Утёкший токен действует до exp, поэтому
// единственный рычаг: SESSION_TTL и смена JWT_SECRET (она гасит все сессии сразу).
type SessionIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewSessionIssuer(secret string, ttl time.Duration) (*SessionIssuer, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	if ttl <= 0 {
		return nil, errors.New("session ttl must be positive")
	}
	return &SessionIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

func (s *SessionIssuer) TTL() time.Duration {
	return s.ttl
}

// Issue выпускает токен для пользователя.
func (s *SessionIssuer) Issue(telegramID int64, userID uint) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(s.ttl)
	claims := &Claims{
		TelegramID: telegramID,
		UserID:     userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, exp, nil
}

// Validate проверяет подпись и срок. ErrExpired: срок вышел, ErrInvalidToken, всё остальное.
func (s *SessionIssuer) Validate(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{},
		func(*jwt.Token) (interface{}, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(sessionIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.UserID == 0 {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
