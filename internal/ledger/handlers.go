package ledger

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/consignio/consign/internal/coin"
	"github.com/consignio/consign/internal/idgen"
	"github.com/consignio/consign/internal/validation"
)

// Handler provides HTTP endpoints for ledger operations
type Handler struct {
	ledger *Ledger
	logger *slog.Logger
}

// NewHandler creates a new ledger handler
func NewHandler(ledger *Ledger, logger *slog.Logger) *Handler {
	return &Handler{ledger: ledger, logger: logger}
}

// RegisterRoutes sets up ledger routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/participants/:address/balance", h.GetBalance)
	r.GET("/participants/:address/ledger", h.GetHistory)
}

// RegisterAdminRoutes sets up admin-only ledger routes
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/admin/deposits", h.RecordDeposit)
}

// GetBalance handles GET /participants/:address/balance
func (h *Handler) GetBalance(c *gin.Context) {
	address := c.Param("address")

	balance, err := h.ledger.GetBalance(c.Request.Context(), address)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "balance_error",
			"message": "Failed to retrieve balance",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"balance": balance,
	})
}

// GetHistory handles GET /participants/:address/ledger
func (h *Handler) GetHistory(c *gin.Context) {
	address := c.Param("address")

	limit := 50
	if l := c.Query("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 || parsed > 500 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_limit",
				"message": "limit must be between 1 and 500",
			})
			return
		}
		limit = parsed
	}

	entries, err := h.ledger.GetHistory(c.Request.Context(), address, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "ledger_error",
			"message": "Failed to retrieve ledger history",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
	})
}

// DepositRequest for manual deposit recording (admin use)
type DepositRequest struct {
	Address string `json:"address" binding:"required"`
	Amount  string `json:"amount" binding:"required"`
}

// RecordDeposit handles POST /admin/deposits
func (h *Handler) RecordDeposit(c *gin.Context) {
	var req DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	if !validation.IsValidAddress(req.Address) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_address",
			"message": "address must be a valid 0x address",
		})
		return
	}

	amount, ok := coin.Parse(req.Amount)
	if !ok || amount.Sign() <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_amount",
			"message": "amount must be a positive decimal",
		})
		return
	}

	reference := idgen.WithPrefix("dep_")
	if err := h.ledger.Deposit(c.Request.Context(), req.Address, amount, reference); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "deposit_error",
			"message": "Failed to record deposit",
		})
		return
	}

	h.logger.Info("deposit recorded",
		"address", req.Address,
		"amount", req.Amount,
		"reference", reference)

	c.JSON(http.StatusCreated, gin.H{
		"address":   req.Address,
		"amount":    coin.Format(amount),
		"reference": reference,
	})
}
