package fees

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/consignio/consign/internal/validation"
)

// Handler provides HTTP endpoints for the fee policy
type Handler struct {
	policy *Policy
	logger *slog.Logger
}

// NewHandler creates a new fees handler
func NewHandler(policy *Policy, logger *slog.Logger) *Handler {
	return &Handler{policy: policy, logger: logger}
}

// RegisterRoutes sets up public fee routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/fees", h.GetPolicy)
}

// RegisterAdminRoutes sets up admin-only fee routes
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.PUT("/admin/fees", h.UpdatePolicy)
}

// GetPolicy handles GET /fees
func (h *Handler) GetPolicy(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"percentage": h.policy.Percentage(),
		"recipient":  h.policy.Recipient(),
	})
}

// UpdatePolicyRequest updates the fee configuration. Omitted fields keep
// their current value.
type UpdatePolicyRequest struct {
	Percentage *uint64 `json:"percentage"`
	Recipient  *string `json:"recipient"`
}

// UpdatePolicy handles PUT /admin/fees
func (h *Handler) UpdatePolicy(c *gin.Context) {
	var req UpdatePolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	if req.Percentage == nil && req.Recipient == nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "provide percentage or recipient",
		})
		return
	}

	if req.Recipient != nil && !validation.IsValidAddress(*req.Recipient) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_address",
			"message": "recipient must be a valid 0x address",
		})
		return
	}

	if req.Percentage != nil {
		if err := h.policy.SetPercentage(*req.Percentage); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_fee_percentage",
				"message": err.Error(),
			})
			return
		}
	}
	if req.Recipient != nil {
		h.policy.SetRecipient(validation.SanitizeAddress(*req.Recipient))
	}

	h.logger.Info("fee policy updated",
		"percentage", h.policy.Percentage(),
		"recipient", h.policy.Recipient())

	c.JSON(http.StatusOK, gin.H{
		"percentage": h.policy.Percentage(),
		"recipient":  h.policy.Recipient(),
	})
}
