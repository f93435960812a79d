package escrow

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/consignio/consign/internal/coin"
	"github.com/consignio/consign/internal/custody"
	"github.com/consignio/consign/internal/ledger"
	"github.com/consignio/consign/internal/validation"
)

// Handler provides HTTP endpoints for escrow operations.
type Handler struct {
	engine *Engine
}

// NewHandler creates a new escrow handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// RegisterRoutes sets up escrow routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/escrows", h.CreateEscrow)
	r.GET("/escrows/:id", h.GetEscrow)
	r.POST("/escrows/:id/complete", h.CompleteEscrow)
	r.POST("/escrows/:id/cancel", h.CancelEscrow)
	r.GET("/participants/:address/escrows", h.ListEscrows)
}

// CreateEscrowRequest consigns an asset for sale.
type CreateEscrowRequest struct {
	AssetContract string `json:"assetContract" binding:"required"`
	AssetTokenID  string `json:"assetTokenId" binding:"required"`
	Seller        string `json:"seller" binding:"required"`
	Buyer         string `json:"buyer" binding:"required"`
	Price         string `json:"price" binding:"required"`
}

// CreateEscrow handles POST /v1/escrows
func (h *Handler) CreateEscrow(c *gin.Context) {
	var req CreateEscrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.ValidAddress("assetContract", req.AssetContract),
		validation.ValidTokenID("assetTokenId", req.AssetTokenID),
		validation.ValidAddress("seller", req.Seller),
		validation.ValidAddress("buyer", req.Buyer),
		validation.ValidAmount("price", req.Price),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	price, _ := coin.Parse(req.Price)
	e, err := h.engine.Create(c.Request.Context(), CreateRequest{
		Asset: custody.AssetRef{
			Contract: validation.SanitizeAddress(req.AssetContract),
			TokenID:  req.AssetTokenID,
		},
		Seller: req.Seller,
		Buyer:  req.Buyer,
		Price:  price,
	})
	if err != nil {
		respondError(c, err, "Failed to create escrow")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"escrow": e})
}

// GetEscrow handles GET /v1/escrows/:id
func (h *Handler) GetEscrow(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	e, err := h.engine.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "Failed to load escrow")
		return
	}

	c.JSON(http.StatusOK, gin.H{"escrow": e})
}

// CompleteEscrowRequest releases payment for a consigned asset.
type CompleteEscrowRequest struct {
	Buyer  string `json:"buyer" binding:"required"`
	Amount string `json:"amount" binding:"required"`
}

// CompleteEscrow handles POST /v1/escrows/:id/complete
func (h *Handler) CompleteEscrow(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req CompleteEscrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.ValidAddress("buyer", req.Buyer),
		validation.ValidAmount("amount", req.Amount),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	amount, _ := coin.Parse(req.Amount)
	e, err := h.engine.Complete(c.Request.Context(), id, req.Buyer, amount)
	if err != nil {
		respondError(c, err, "Failed to complete escrow")
		return
	}

	c.JSON(http.StatusOK, gin.H{"escrow": e})
}

// CancelEscrowRequest withdraws a consignment.
type CancelEscrowRequest struct {
	Seller string `json:"seller" binding:"required"`
}

// CancelEscrow handles POST /v1/escrows/:id/cancel
func (h *Handler) CancelEscrow(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req CancelEscrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if !validation.IsValidAddress(req.Seller) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_address",
			"message": "seller must be a valid 0x address",
		})
		return
	}

	e, err := h.engine.Cancel(c.Request.Context(), id, req.Seller)
	if err != nil {
		respondError(c, err, "Failed to cancel escrow")
		return
	}

	c.JSON(http.StatusOK, gin.H{"escrow": e})
}

// ListEscrows handles GET /v1/participants/:address/escrows
func (h *Handler) ListEscrows(c *gin.Context) {
	address := c.Param("address")

	switch role := c.DefaultQuery("role", "all"); role {
	case "seller":
		escrows, err := h.engine.ListBySeller(c.Request.Context(), address)
		if err != nil {
			respondError(c, err, "Failed to list escrows")
			return
		}
		c.JSON(http.StatusOK, gin.H{"escrows": escrows})
	case "buyer":
		escrows, err := h.engine.ListByBuyer(c.Request.Context(), address)
		if err != nil {
			respondError(c, err, "Failed to list escrows")
			return
		}
		c.JSON(http.StatusOK, gin.H{"escrows": escrows})
	case "all":
		asSeller, err := h.engine.ListBySeller(c.Request.Context(), address)
		if err != nil {
			respondError(c, err, "Failed to list escrows")
			return
		}
		asBuyer, err := h.engine.ListByBuyer(c.Request.Context(), address)
		if err != nil {
			respondError(c, err, "Failed to list escrows")
			return
		}
		c.JSON(http.StatusOK, gin.H{"asSeller": asSeller, "asBuyer": asBuyer})
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_role",
			"message": "role must be seller, buyer, or all",
		})
	}
}

func parseID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_id",
			"message": "Escrow id must be a positive integer",
		})
		return 0, false
	}
	return id, true
}

// respondError maps engine errors onto HTTP status codes.
func respondError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, ErrEscrowNotFound), errors.Is(err, custody.ErrAssetNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": err.Error(),
		})
	case errors.Is(err, ErrNotOwner), errors.Is(err, ErrNotBuyer), errors.Is(err, ErrNotSeller):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": err.Error(),
		})
	case errors.Is(err, ErrAlreadyFinalized):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "already_finalized",
			"message": err.Error(),
		})
	case errors.Is(err, ErrAmountMismatch), errors.Is(err, ErrCustodyMismatch),
		errors.Is(err, ErrSameParty), errors.Is(err, ErrInvalidPrice),
		errors.Is(err, custody.ErrNotHolder):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "precondition_failed",
			"message": err.Error(),
		})
	case errors.Is(err, ledger.ErrInsufficientBalance), errors.Is(err, ledger.ErrAccountNotFound):
		c.JSON(http.StatusPaymentRequired, gin.H{
			"error":   "insufficient_funds",
			"message": err.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": fallback,
		})
	}
}
