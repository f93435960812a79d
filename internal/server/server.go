// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/consignio/consign/internal/config"
	"github.com/consignio/consign/internal/custody"
	"github.com/consignio/consign/internal/escrow"
	"github.com/consignio/consign/internal/fees"
	"github.com/consignio/consign/internal/ledger"
	"github.com/consignio/consign/internal/logging"
	"github.com/consignio/consign/internal/metrics"
	"github.com/consignio/consign/internal/ratelimit"
	"github.com/consignio/consign/internal/realtime"
	"github.com/consignio/consign/internal/reputation"
	"github.com/consignio/consign/internal/security"
	"github.com/consignio/consign/internal/validation"
	"github.com/consignio/consign/internal/webhooks"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg           *config.Config
	custodyStore  custody.Store // nil in chain custody mode
	chainAdapter  *custody.ChainAdapter
	adapter       custody.Adapter
	policy        *fees.Policy
	funds         *ledger.Ledger
	scores        *reputation.Ledger
	engine        *escrow.Engine
	repWorker     *reputation.Worker
	dispatcher    *webhooks.Dispatcher
	emitter       *webhooks.Emitter
	webhookStore  webhooks.Store
	snapshotStore reputation.SnapshotStore
	realtimeHub   *realtime.Hub
	rateLimiter   *ratelimit.Limiter
	db            *sql.DB // nil if using in-memory
	router        *gin.Engine
	httpSrv       *http.Server
	logger        *slog.Logger
	cancelRunCtx  context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithCustodyAdapter sets a custom custody adapter (for testing)
func WithCustodyAdapter(a custody.Adapter) Option {
	return func(s *Server) {
		s.adapter = a
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	// Apply options first (may set adapter/logger)
	for _, opt := range opts {
		opt(s)
	}

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var escrowStore escrow.Store
	var ledgerStore ledger.Store
	var snapshotStore reputation.SnapshotStore
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Test connection
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		escrowStore = escrow.NewPostgresStore(db)
		ledgerStore = ledger.NewPostgresStore(db)
		snapshotStore = reputation.NewPostgresSnapshotStore(db)
		s.webhookStore = webhooks.NewPostgresStore(db)
		if s.adapter == nil && cfg.CustodyMode == config.CustodyRegistry {
			s.custodyStore = custody.NewPostgresStore(db)
		}
	} else {
		s.logger.Info("using in-memory storage (data will not persist)")

		escrowStore = escrow.NewMemoryStore()
		ledgerStore = ledger.NewMemoryStore()
		snapshotStore = reputation.NewMemorySnapshotStore()
		s.webhookStore = webhooks.NewMemoryStore()
		if s.adapter == nil && cfg.CustodyMode == config.CustodyRegistry {
			s.custodyStore = custody.NewMemoryStore()
		}
	}

	// Custody backend
	if s.adapter == nil {
		switch cfg.CustodyMode {
		case config.CustodyRegistry:
			s.adapter = custody.NewRegistry(s.custodyStore)
			s.logger.Info("custody backend: service registry")
		case config.CustodyChain:
			chain, err := custody.NewChainAdapter(custody.ChainConfig{
				RPCURL:     cfg.RPCURL,
				PrivateKey: cfg.PrivateKey,
				ChainID:    cfg.ChainID,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to create chain custody adapter: %w", err)
			}
			s.chainAdapter = chain
			s.adapter = chain
			s.logger.Info("custody backend: chain", "rpc", cfg.RPCURL, "chainId", cfg.ChainID)
		default:
			return nil, fmt.Errorf("unknown custody mode %q", cfg.CustodyMode)
		}
	}

	// Fee policy
	policy, err := fees.NewPolicy(cfg.FeePercentage, cfg.FeeRecipient)
	if err != nil {
		return nil, fmt.Errorf("invalid fee configuration: %w", err)
	}
	s.policy = policy

	// Funds ledger and reputation
	s.funds = ledger.New(ledgerStore)
	s.scores = reputation.NewLedger()

	// Rebuild the live leaderboard from the last persisted snapshot batch
	if s.db != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		batch, err := snapshotStore.LatestBatch(ctx)
		cancel()
		if err != nil {
			s.logger.Warn("failed to load leaderboard snapshot", "error", err)
		} else if len(batch) > 0 {
			entries := make([]reputation.Entry, 0, len(batch))
			for _, snap := range batch {
				entries = append(entries, reputation.Entry{Address: snap.Address, Points: snap.Points})
			}
			s.scores.Restore(entries)
			s.logger.Info("leaderboard restored from snapshot", "entries", len(entries))
		}
	}

	// Periodic leaderboard snapshots for point history queries
	s.repWorker = reputation.NewWorker(s.scores, snapshotStore, 5*time.Minute, s.logger)

	// Webhooks
	s.dispatcher = webhooks.NewDispatcher(s.webhookStore)
	s.emitter = webhooks.NewEmitter(s.dispatcher, s.logger)
	s.logger.Info("webhooks enabled")

	// Realtime hub for WebSocket streaming
	s.realtimeHub = realtime.NewHub(s.logger)
	s.logger.Info("realtime streaming enabled")

	// Escrow engine wires everything together
	s.engine = escrow.NewEngine(
		escrowStore, s.adapter, s.policy, s.scores, s.funds, cfg.VaultID, s.logger,
	).WithEvents(&eventBridge{emitter: s.emitter, hub: s.realtimeHub})

	s.snapshotStore = snapshotStore

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	limiterCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPS > 0 {
		limiterCfg.RequestsPerMinute = s.cfg.RateLimitRPS * 60
	}
	s.rateLimiter = ratelimit.New(limiterCfg)
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// adminMiddleware gates admin routes on the X-Admin-Secret header.
// Without a configured secret, admin routes are only open in development.
func (s *Server) adminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.AdminSecret == "" {
			if s.cfg.IsDevelopment() {
				c.Next()
				return
			}
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "admin_disabled",
				"message": "Admin endpoints require ADMIN_SECRET to be configured",
			})
			return
		}

		provided := c.GetHeader("X-Admin-Secret")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(s.cfg.AdminSecret)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Invalid admin secret",
			})
			return
		}

		c.Next()
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket for real-time streaming
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	// API info
	s.router.GET("/api", s.infoHandler)

	// V1 API group
	v1 := s.router.Group("/v1")
	// Validate :address URL params on all v1 routes (no-op when param absent)
	v1.Use(validation.AddressParamMiddleware())

	v1.GET("/platform", s.platformHandler)

	// Escrow routes (the core of the service)
	escrowHandler := escrow.NewHandler(s.engine)
	escrowHandler.RegisterRoutes(v1)

	// Ledger routes (participant balances)
	ledgerHandler := ledger.NewHandler(s.funds, s.logger)
	ledgerHandler.RegisterRoutes(v1)

	// Fee policy routes
	feeHandler := fees.NewHandler(s.policy, s.logger)
	feeHandler.RegisterRoutes(v1)

	// Reputation routes
	reputationHandler := reputation.NewHandler(s.scores, s.snapshotStore)
	reputationHandler.RegisterRoutes(v1)

	// Webhook subscription management
	webhookHandler := webhooks.NewHandler(s.webhookStore)
	webhookHandler.RegisterRoutes(v1)

	// Asset lookups (registry custody only; chain custody owns no local state)
	if s.custodyStore != nil {
		v1.GET("/participants/:address/assets", s.listAssetsHandler)
	}

	// Admin routes gated on X-Admin-Secret
	admin := v1.Group("")
	admin.Use(s.adminMiddleware())
	{
		ledgerHandler.RegisterAdminRoutes(admin)
		feeHandler.RegisterAdminRoutes(admin)
		if s.custodyStore != nil {
			admin.POST("/admin/assets", s.registerAssetHandler)
		}
	}
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp string            `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	checks := make(map[string]string)

	if s.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		if err := s.db.PingContext(ctx); err != nil {
			checks["database"] = "unhealthy"
		} else {
			checks["database"] = "healthy"
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	for _, v := range checks {
		if v != "healthy" {
			status = "degraded"
			httpStatus = http.StatusServiceUnavailable
			break
		}
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "Consign",
		"description": "Custodial escrow for unique digital assets",
		"version":     "0.1.0",
	})
}

// platformHandler returns platform info including the vault address
func (s *Server) platformHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"platform": gin.H{
			"name":        "Consign",
			"version":     "0.1.0",
			"vault":       s.cfg.VaultID,
			"custodyMode": s.cfg.CustodyMode,
		},
		"instructions": gin.H{
			"consign":  "POST /v1/escrows with asset, seller, buyer, and price",
			"complete": "POST /v1/escrows/{id}/complete as the designated buyer",
			"cancel":   "POST /v1/escrows/{id}/cancel as the seller",
		},
	})
}

// RegisterAssetRequest records an asset and its holder in the registry.
type RegisterAssetRequest struct {
	Contract string `json:"contract" binding:"required"`
	TokenID  string `json:"tokenId" binding:"required"`
	Owner    string `json:"owner" binding:"required"`
}

// registerAssetHandler handles POST /v1/admin/assets
func (s *Server) registerAssetHandler(c *gin.Context) {
	var req RegisterAssetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.ValidAddress("contract", req.Contract),
		validation.ValidTokenID("tokenId", req.TokenID),
		validation.ValidAddress("owner", req.Owner),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": errs.Error(),
		})
		return
	}

	ref := custody.AssetRef{
		Contract: validation.SanitizeAddress(req.Contract),
		TokenID:  req.TokenID,
	}
	owner := validation.SanitizeAddress(req.Owner)

	if err := s.custodyStore.Register(c.Request.Context(), ref, owner); err != nil {
		if errors.Is(err, custody.ErrAssetExists) {
			c.JSON(http.StatusConflict, gin.H{
				"error":   "asset_exists",
				"message": "This asset is already registered",
			})
			return
		}
		s.logger.Error("failed to register asset", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to register asset",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"asset": gin.H{
			"contract": ref.Contract,
			"tokenId":  ref.TokenID,
			"owner":    owner,
		},
	})
}

// listAssetsHandler handles GET /v1/participants/:address/assets
func (s *Server) listAssetsHandler(c *gin.Context) {
	address := validation.SanitizeAddress(c.Param("address"))

	assets, err := s.custodyStore.ListByOwner(c.Request.Context(), address)
	if err != nil {
		s.logger.Error("failed to list assets", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list assets",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"assets": assets,
		"count":  len(assets),
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"vault", s.cfg.VaultID,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	if s.realtimeHub != nil {
		go s.realtimeHub.Run(runCtx)
	}

	// Start reputation snapshot worker
	if s.repWorker != nil {
		go s.repWorker.Start(runCtx)
	}

	// Sample database pool stats
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, snapshot worker)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Stop snapshot worker
	if s.repWorker != nil {
		s.repWorker.Stop()
		s.logger.Info("reputation snapshot worker stopped")
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Close chain custody RPC connection
	if s.chainAdapter != nil {
		if err := s.chainAdapter.Close(); err != nil {
			s.logger.Error("chain adapter close error", "error", err)
		}
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}

// -----------------------------------------------------------------------------
// Event bridge
// -----------------------------------------------------------------------------

// eventBridge fans engine events out to webhooks and WebSocket clients.
type eventBridge struct {
	emitter *webhooks.Emitter
	hub     *realtime.Hub
}

var _ escrow.Events = (*eventBridge)(nil)

func (b *eventBridge) EscrowCreated(e *escrow.Escrow) {
	id := strconv.FormatUint(e.ID, 10)
	b.emitter.EmitEscrowCreated(id, e.Seller, e.Buyer, e.Price)
	b.hub.BroadcastEscrowCreated(map[string]interface{}{
		"escrowId": id,
		"seller":   e.Seller,
		"buyer":    e.Buyer,
		"price":    e.Price,
		"asset":    e.Asset,
	})
}

func (b *eventBridge) EscrowCompleted(e *escrow.Escrow) {
	id := strconv.FormatUint(e.ID, 10)
	b.emitter.EmitEscrowCompleted(id, e.Seller, e.Buyer, e.Price, e.Fee)
	b.hub.BroadcastEscrowCompleted(map[string]interface{}{
		"escrowId": id,
		"seller":   e.Seller,
		"buyer":    e.Buyer,
		"price":    e.Price,
		"fee":      e.Fee,
		"asset":    e.Asset,
	})
}

func (b *eventBridge) EscrowCancelled(e *escrow.Escrow) {
	id := strconv.FormatUint(e.ID, 10)
	b.emitter.EmitEscrowCancelled(id, e.Seller, e.Buyer)
	b.hub.BroadcastEscrowCancelled(map[string]interface{}{
		"escrowId": id,
		"seller":   e.Seller,
		"buyer":    e.Buyer,
		"asset":    e.Asset,
	})
}

func (b *eventBridge) PointsUpdated(award reputation.Award) {
	b.emitter.EmitPointsUpdated(award.Address, award.Gained, award.Total, award.Rank)
	b.hub.BroadcastPointsUpdated(map[string]interface{}{
		"address": award.Address,
		"gained":  award.Gained,
		"total":   award.Total,
		"rank":    award.Rank,
	})
}
