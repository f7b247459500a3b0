// Package api: HTTP-граница мини-приложения.
package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"VPN-MiniApp/internal/auth"
	"VPN-MiniApp/internal/services"
)

// Deps: всё, что нужно роутеру.
type Deps struct {
	Login    *services.LoginService
	Sessions *auth.SessionIssuer
	Store    services.Store
	Payments *services.PaymentService
	Webhook  *services.WebhookProcessor
	Wallet   *services.WalletService
	Limiter  *RateLimiter
	// Ping проверяет хранилище для /health. nil: проверки нет.
	Ping func(ctx context.Context) error
}

type Handler struct {
	deps Deps
}

// NewRouter собирает gin.Engine со всеми маршрутами.
func NewRouter(deps Deps) *gin.Engine {
	if deps.Limiter == nil {
		deps.Limiter = NewRateLimiter(5, 20, 3*time.Minute)
	}
	h := &Handler{deps: deps}

	r := gin.New()
	r.Use(recovery(), accessLog())

	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/packages", h.Packages)

	limited := deps.Limiter.Middleware()

	authGroup := r.Group("/auth", limited)
	authGroup.POST("/verify", h.Verify)
	authGroup.POST("/telegram", h.Verify)

	// провайдер ходит без токена, запрос проверяется подписью
	r.POST("/payments/webhook", h.PaymentWebhook)

	private := r.Group("/", auth.Middleware(deps.Sessions))
	private.GET("/me", h.Me)
	private.GET("/subscriptions", h.Subscriptions)

	payments := private.Group("/payments", limited)
	payments.POST("/orders", h.CreateOrder)
	payments.GET("/orders/:orderId", h.CheckOrder)

	wallet := private.Group("/wallet", limited)
	wallet.GET("", h.WalletBalance)
	wallet.GET("/history", h.WalletHistory)
	wallet.POST("/credit", h.WalletCredit)
	wallet.POST("/debit", h.WalletDebit)

	return r
}
