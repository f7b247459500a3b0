package api

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"VPN-MiniApp/internal/auth"
	"VPN-MiniApp/internal/bybit"
	"VPN-MiniApp/internal/db"
	"VPN-MiniApp/internal/logger"
)

const maxWebhookBody = 64 << 10

type VerifyRequest struct {
	Payload  string `json:"payload"`
	InitData string `json:"initData"`
}

type CreateOrderRequest struct {
	PackageID uint             `json:"packageId" binding:"required"`
	Method    db.PaymentMethod `json:"method"`
}

type WalletRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

func (h *Handler) Health(c *gin.Context) {
	if h.deps.Ping != nil {
		if err := h.deps.Ping(c.Request.Context()); err != nil {
			logger.Warn("health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Verify обменивает initData на сессионный токен.
func (h *Handler) Verify(c *gin.Context) {
	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		auth.Unauthorized(c)
		return
	}
	raw := req.Payload
	if raw == "" {
		raw = req.InitData
	}
	res, err := h.deps.Login.Login(c.Request.Context(), raw)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) Me(c *gin.Context) {
	userID, _ := auth.UserID(c)
	user, err := h.deps.Store.GetUser(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *Handler) Packages(c *gin.Context) {
	pkgs, err := h.deps.Store.ListActivePackages(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, pkgs)
}

func (h *Handler) Subscriptions(c *gin.Context) {
	userID, _ := auth.UserID(c)
	subs, err := h.deps.Store.ListActiveSubscriptions(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, subs)
}

func (h *Handler) CreateOrder(c *gin.Context) {
	userID, _ := auth.UserID(c)
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "packageId is required"})
		return
	}
	if req.Method == "" {
		req.Method = db.MethodCrypto
	}
	res, err := h.deps.Payments.CreateOrder(c.Request.Context(), userID, req.PackageID, req.Method)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) CheckOrder(c *gin.Context) {
	userID, _ := auth.UserID(c)
	st, err := h.deps.Payments.CheckOrder(c.Request.Context(), userID, c.Param("orderId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// PaymentWebhook читает тело как есть: подпись считается по сырым байтам.
func (h *Handler) PaymentWebhook(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "cannot read body"})
		return
	}
	res, err := h.deps.Webhook.Process(c.Request.Context(), body, c.GetHeader(bybit.SignatureHeader))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) WalletBalance(c *gin.Context) {
	userID, _ := auth.UserID(c)
	w, err := h.deps.Wallet.Balance(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

func (h *Handler) WalletHistory(c *gin.Context) {
	userID, _ := auth.UserID(c)
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 || limit > 200 {
		limit = 50
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}
	entries, err := h.deps.Wallet.History(c.Request.Context(), userID, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (h *Handler) WalletCredit(c *gin.Context) {
	h.walletOp(c, true)
}

func (h *Handler) WalletDebit(c *gin.Context) {
	h.walletOp(c, false)
}

func (h *Handler) walletOp(c *gin.Context, credit bool) {
	userID, _ := auth.UserID(c)
	var req WalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "amount must be a number"})
		return
	}
	var (
		w   *db.Wallet
		err error
	)
	if credit {
		w, err = h.deps.Wallet.Credit(c.Request.Context(), userID, req.Amount, req.Description)
	} else {
		w, err = h.deps.Wallet.Debit(c.Request.Context(), userID, req.Amount, req.Description)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}
