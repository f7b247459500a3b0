package bybit

import (
	"errors"
	"fmt"
)

var (
	ErrNotConfigured = errors.New("bybit: api credentials are not configured")
	ErrGateway       = errors.New("bybit: gateway error")
)

// GatewayError: неуспешный ответ шлюза или сбой транспорта.
type GatewayError struct {
	HTTPStatus int
	Code       int
	Message    string
}

func (e *GatewayError) Error() string {
	if e.HTTPStatus == 0 {
		return fmt.Sprintf("bybit: %s", e.Message)
	}
	return fmt.Sprintf("bybit: http %d, code %d: %s", e.HTTPStatus, e.Code, e.Message)
}

func (e *GatewayError) Unwrap() error {
	return ErrGateway
}
