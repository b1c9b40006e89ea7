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

	"github.com/taskvine/taskvine/internal/audit"
	"github.com/taskvine/taskvine/internal/booking"
	"github.com/taskvine/taskvine/internal/catalog"
	"github.com/taskvine/taskvine/internal/config"
	"github.com/taskvine/taskvine/internal/dispute"
	"github.com/taskvine/taskvine/internal/health"
	"github.com/taskvine/taskvine/internal/logging"
	"github.com/taskvine/taskvine/internal/metrics"
	"github.com/taskvine/taskvine/internal/notify"
	"github.com/taskvine/taskvine/internal/payment"
	"github.com/taskvine/taskvine/internal/payout"
	"github.com/taskvine/taskvine/internal/ratelimit"
	"github.com/taskvine/taskvine/internal/reconcile"
	"github.com/taskvine/taskvine/internal/settings"
	"github.com/taskvine/taskvine/internal/traces"
	"github.com/taskvine/taskvine/internal/validation"
	"github.com/taskvine/taskvine/internal/webhook"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg      *config.Config
	db       *sql.DB // nil if using in-memory
	router   *gin.Engine
	httpSrv  *http.Server
	logger   *slog.Logger
	provider payment.Provider

	settingsProvider *settings.Provider
	settingsStore    settings.Store
	catalogStore     catalog.Store
	auditLogger      audit.Logger
	paymentEngine    *payment.Engine
	bookingService   *booking.Service
	payoutEngine     *payout.Engine
	disputeService   *dispute.Service
	webhookProcessor *webhook.Processor
	reconcileSweeper *reconcile.Sweeper

	bookingTimer   *booking.Timer
	payoutTimer    *payout.Timer
	reconcileTimer *reconcile.Timer

	rateLimiter    *ratelimit.Limiter
	healthRegistry *health.Registry
	shutdownTraces func(context.Context) error
	cancelRunCtx   context.CancelFunc // cancels background goroutines started in Run

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

// WithPaymentProvider sets a custom payment provider (for testing)
func WithPaymentProvider(p payment.Provider) Option {
	return func(s *Server) {
		s.provider = p
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	// Apply options first (may set provider/logger)
	for _, opt := range opts {
		opt(s)
	}

	// Payment provider defaults to Stripe
	if s.provider == nil {
		s.provider = payment.NewStripeProvider(cfg.StripeSecretKey)
	}

	s.healthRegistry = health.NewRegistry()

	// Storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var (
		bookingStore booking.Store
		paymentStore payment.Store
		payoutStore  payout.Store
		accountStore payout.AccountStore
		disputeStore dispute.Store
		webhookStore webhook.Store
		auditLogger  audit.Logger
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		bookingStore = booking.NewPostgresStore(db)
		paymentStore = payment.NewPostgresStore(db)
		payoutStore = payout.NewPostgresStore(db)
		accountStore = payout.NewPostgresAccountStore(db)
		disputeStore = dispute.NewPostgresStore(db)
		webhookStore = webhook.NewPostgresStore(db)
		auditLogger = audit.NewPostgresLogger(db)
		s.settingsStore = settings.NewPostgresStore(db)
		s.catalogStore = catalog.NewPostgresStore(db)

		s.healthRegistry.Register("database", func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			return db.PingContext(ctx)
		})
	} else {
		s.logger.Info("using in-memory storage (data will not persist)")
		bookingStore = booking.NewMemoryStore()
		paymentStore = payment.NewMemoryStore()
		payoutStore = payout.NewMemoryStore()
		accountStore = payout.NewMemoryAccountStore()
		disputeStore = dispute.NewMemoryStore()
		webhookStore = webhook.NewMemoryStore()
		auditLogger = audit.NewMemoryLogger()
		s.settingsStore = settings.NewMemoryStore()
		s.catalogStore = catalog.NewMemoryStore()
	}

	s.auditLogger = auditLogger
	s.settingsProvider = settings.NewProvider(s.settingsStore)
	notifier := &notify.LogNotifier{Logger: s.logger}

	// Engines, wired inside-out: payment feeds payouts and disputes,
	// disputes gate the booking auto-confirm path.
	s.paymentEngine = payment.NewEngine(paymentStore, s.provider, auditLogger, s.logger, cfg.Currency)
	s.payoutEngine = payout.NewEngine(payoutStore, accountStore, s.provider,
		s.settingsProvider, auditLogger, notifier, s.logger, cfg.Currency)
	s.disputeService = dispute.NewService(disputeStore, bookingStore, s.paymentEngine,
		s.payoutEngine, auditLogger, notifier, s.logger)
	s.bookingService = booking.NewService(bookingStore, &catalogAdapter{s.catalogStore},
		s.paymentEngine, s.payoutEngine, s.disputeService, s.settingsProvider, notifier, s.logger)
	s.webhookProcessor = webhook.NewProcessor(webhookStore, s.paymentEngine, s.bookingService, notifier, s.logger)
	s.reconcileSweeper = reconcile.NewSweeper(paymentStore, s.paymentEngine, s.bookingService,
		s.provider, 30*time.Minute, s.logger)

	// Background timers
	s.bookingTimer = booking.NewTimer(s.bookingService,
		cfg.ExpirySweepInterval, cfg.AutoConfirmSweepInterval, s.logger)
	s.payoutTimer = payout.NewTimer(s.payoutEngine, cfg.PayoutSweepInterval, s.logger)
	s.reconcileTimer = reconcile.NewTimer(s.reconcileSweeper, cfg.ReconcileSweepInterval, s.logger)

	// Tracing (no-op when no OTLP endpoint configured)
	shutdownTraces, err := traces.Init(context.Background(), cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
	} else {
		s.shutdownTraces = shutdownTraces
	}

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

// catalogAdapter exposes catalog listings as the narrow view bookings need.
type catalogAdapter struct {
	store catalog.Store
}

func (a *catalogAdapter) ServiceInfo(ctx context.Context, serviceID string) (*booking.ServiceInfo, error) {
	svc, err := a.store.Get(ctx, serviceID)
	if errors.Is(err, catalog.ErrServiceNotFound) {
		return nil, booking.ErrServiceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &booking.ServiceInfo{
		ID:                  svc.ID,
		FreelancerID:        svc.FreelancerID,
		Active:              svc.Active,
		BasePricePence:      svc.BasePricePence,
		MaterialsPricePence: svc.MaterialsPricePence,
		TravelPricePence:    svc.TravelPricePence,
		MaterialsPolicy:     svc.MaterialsPolicy,
	}, nil
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
	s.router.Use(func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "no-referrer")
		c.Next()
	})

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	rlCfg := ratelimit.DefaultConfig()
	rlCfg.RequestsPerMinute = s.cfg.RateLimitRPM
	s.rateLimiter = ratelimit.New(rlCfg)
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
		ctx = audit.WithRequestID(ctx, requestID)
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

// actorMiddleware resolves the calling user. Identity arrives from the
// API gateway as trusted headers; a missing identity is rejected here so
// handlers can assume an actor is present.
func (s *Server) actorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader("X-User-ID")
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Missing user identity",
			})
			return
		}
		role := c.GetHeader("X-User-Role")
		if role == "" {
			role = "client"
		}
		// Admin role only via the admin secret, never via headers alone.
		if role == "admin" && !s.isAdmin(c) {
			role = "client"
		}
		c.Set("actorID", userID)
		c.Set("actorRole", role)
		c.Request = c.Request.WithContext(audit.WithActor(c.Request.Context(), role, userID))
		c.Next()
	}
}

// adminMiddleware gates admin routes on the shared admin secret.
func (s *Server) adminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.isAdmin(c) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Admin access required",
			})
			return
		}
		c.Set("actorRole", "admin")
		if c.GetString("actorID") == "" {
			c.Set("actorID", "admin")
		}
		c.Request = c.Request.WithContext(
			audit.WithActor(c.Request.Context(), "admin", c.GetString("actorID")))
		c.Next()
	}
}

func (s *Server) isAdmin(c *gin.Context) bool {
	secret := s.cfg.AdminSecret
	if secret == "" {
		// Development convenience only; Validate() requires the secret
		// in production.
		return !s.cfg.IsProduction()
	}
	given := c.GetHeader("X-Admin-Secret")
	return subtle.ConstantTimeCompare([]byte(given), []byte(secret)) == 1
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

	v1 := s.router.Group("/v1")

	// Webhooks authenticate by signature, not actor headers.
	webhookHandler := webhook.NewHandler(s.webhookProcessor, s.cfg.StripeWebhookSecret)
	webhookHandler.RegisterRoutes(v1)

	// Authenticated user surface
	authed := v1.Group("")
	authed.Use(s.actorMiddleware())
	booking.NewHandler(s.bookingService).RegisterRoutes(authed)
	catalog.NewHandler(s.catalogStore).RegisterRoutes(authed)
	payout.NewHandler(s.payoutEngine).RegisterRoutes(authed)
	dispute.NewHandler(s.disputeService).RegisterRoutes(authed)

	// Admin surface
	admin := v1.Group("/admin")
	admin.Use(s.adminMiddleware())
	payout.NewHandler(s.payoutEngine).RegisterAdminRoutes(admin)
	dispute.NewHandler(s.disputeService).RegisterAdminRoutes(admin)
	payment.NewHandler(s.paymentEngine).RegisterAdminRoutes(admin)
	settings.NewHandler(s.settingsStore, s.settingsProvider).RegisterAdminRoutes(admin)
	admin.GET("/audit", s.auditHandler)

	// Manual job triggers, same sweeps the timers run. Useful for ops
	// and for deployments that schedule sweeps externally.
	jobs := admin.Group("/jobs")
	jobs.POST("/expire-pending", s.runJob("expire_pending", s.bookingService.ExpireDue))
	jobs.POST("/auto-confirm", s.runJob("auto_confirm", s.bookingService.AutoConfirmDue))
	jobs.POST("/process-payouts", s.runJob("process_payouts", s.payoutEngine.ProcessDue))
	jobs.POST("/reconcile", s.runJob("reconcile", s.reconcileSweeper.Run))
}

// auditHandler returns the audit trail for a booking, newest first.
func (s *Server) auditHandler(c *gin.Context) {
	bookingID := c.Query("bookingId")
	if !validation.IsValidID(bookingID) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": "bookingId query parameter is required",
		})
		return
	}
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_failed",
				"message": "limit must be a positive integer",
			})
			return
		}
		limit = min(n, 200)
	}
	entries, err := s.auditLogger.Query(c.Request.Context(), bookingID, limit)
	if err != nil {
		s.logger.Error("audit query failed", "bookingId", bookingID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to query audit log",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

func (s *Server) runJob(name string, job func(ctx context.Context) (int, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		n, err := job(c.Request.Context())
		if err != nil {
			s.logger.Error("manual job failed", "job", name, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "job_failed",
				"message": err.Error(),
				"job":     name,
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"job": name, "processed": n})
	}
}

// -----------------------------------------------------------------------------
// Health handlers
// -----------------------------------------------------------------------------

// HealthResponse is the aggregate health report.
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.healthRegistry.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    statuses,
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
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start background sweeps
	go s.bookingTimer.Start(runCtx)
	go s.payoutTimer.Start(runCtx)
	go s.reconcileTimer.Start(runCtx)

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

	// Cancel the context for all background goroutines (timers)
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

	s.bookingTimer.Stop()
	s.payoutTimer.Stop()
	s.reconcileTimer.Stop()
	s.logger.Info("sweep timers stopped")

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	if s.shutdownTraces != nil {
		if err := s.shutdownTraces(ctx); err != nil {
			s.logger.Error("trace shutdown error", "error", err)
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
