package reputation

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for reputation
type Handler struct {
	ledger        *Ledger
	snapshotStore SnapshotStore
}

// NewHandler creates a new reputation handler
func NewHandler(ledger *Ledger, store SnapshotStore) *Handler {
	return &Handler{ledger: ledger, snapshotStore: store}
}

// RegisterRoutes sets up reputation endpoints
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/participants/:address/points", h.GetPoints)
	r.GET("/participants/:address/points/history", h.GetHistory)
	r.GET("/leaderboard", h.GetLeaderboard)
	r.GET("/traders", h.GetTraders)
}

// GetPoints returns a participant's point total
func (h *Handler) GetPoints(c *gin.Context) {
	address := strings.ToLower(c.Param("address"))

	c.JSON(http.StatusOK, gin.H{
		"address":   address,
		"points":    h.ledger.Points(address),
		"hasTraded": h.ledger.HasTraded(address),
	})
}

// GetHistory returns historical leaderboard snapshots for a participant
func (h *Handler) GetHistory(c *gin.Context) {
	if h.snapshotStore == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "history_unavailable",
			"message": "Snapshot history is not enabled",
		})
		return
	}

	address := strings.ToLower(c.Param("address"))
	q := HistoryQuery{Address: address}

	if from := c.Query("from"); from != "" {
		ts, err := time.Parse(time.RFC3339, from)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_timestamp", "message": "Use RFC3339 format"})
			return
		}
		q.From = ts
	}
	if to := c.Query("to"); to != "" {
		ts, err := time.Parse(time.RFC3339, to)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_timestamp", "message": "Use RFC3339 format"})
			return
		}
		q.To = ts
	}
	if limit := c.Query("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 1 || n > 1000 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit", "message": "limit must be between 1 and 1000"})
			return
		}
		q.Limit = n
	}

	snaps, err := h.snapshotStore.Query(c.Request.Context(), q)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "history_error",
			"message": "Failed to query snapshot history",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"address":   address,
		"snapshots": snaps,
	})
}

// GetLeaderboard returns the leaderboard, top entries first
func (h *Handler) GetLeaderboard(c *gin.Context) {
	limit := 0
	if l := c.Query("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit", "message": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	board := h.ledger.Leaderboard(limit)
	c.JSON(http.StatusOK, gin.H{
		"leaderboard": board,
		"total":       h.ledger.Size(),
	})
}

// GetTraders returns all participants in first-trade order
func (h *Handler) GetTraders(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"traders": h.ledger.Traders(),
	})
}
