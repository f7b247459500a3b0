package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"VPN-MiniApp/internal/auth"
	"VPN-MiniApp/internal/bybit"
	"VPN-MiniApp/internal/db"
	"VPN-MiniApp/internal/logger"
	"VPN-MiniApp/internal/services"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

// statusOf переводит доменную ошибку в HTTP-статус и текст для клиента.
func statusOf(err error) (int, string) {
	var gwErr *bybit.GatewayError
	switch {
	case errors.Is(err, auth.ErrInvalidSignature),
		errors.Is(err, auth.ErrExpired),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrInvalidPayload):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, services.ErrInvalidSignature):
		return http.StatusUnauthorized, "invalid signature"
	case errors.Is(err, services.ErrInvalidNotification):
		return http.StatusBadRequest, "invalid notification"
	case errors.Is(err, db.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, services.ErrPackageUnavailable):
		return http.StatusNotFound, "package not available"
	case errors.Is(err, db.ErrInsufficientBalance):
		return http.StatusPaymentRequired, "insufficient balance"
	case errors.Is(err, db.ErrInvalidAmount),
		errors.Is(err, services.ErrCreditLimit),
		errors.Is(err, services.ErrUnknownMethod):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, db.ErrInvalidTransition):
		return http.StatusConflict, "invalid transition"
	case errors.Is(err, bybit.ErrNotConfigured):
		return http.StatusServiceUnavailable, "payment gateway is not configured"
	case errors.As(err, &gwErr):
		return http.StatusBadGateway, gwErr.Message
	case errors.Is(err, bybit.ErrGateway):
		return http.StatusBadGateway, "payment gateway error"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func respondError(c *gin.Context, err error) {
	status, msg := statusOf(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	c.AbortWithStatusJSON(status, ErrorResponse{Error: msg})
}
