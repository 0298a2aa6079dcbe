// Package server exposes the protection engine over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"

	"github.com/shieldlabs/txshield/internal/baseunit"
	"github.com/shieldlabs/txshield/internal/config"
	"github.com/shieldlabs/txshield/internal/history"
	"github.com/shieldlabs/txshield/internal/idgen"
	"github.com/shieldlabs/txshield/internal/intent"
	"github.com/shieldlabs/txshield/internal/ledgerclient"
	"github.com/shieldlabs/txshield/internal/logging"
	"github.com/shieldlabs/txshield/internal/metrics"
	"github.com/shieldlabs/txshield/internal/ratelimit"
	"github.com/shieldlabs/txshield/internal/security"
	"github.com/shieldlabs/txshield/internal/validation"
)

// Executor is the engine surface the server drives.
type Executor interface {
	Execute(ctx context.Context, in *intent.TransactionIntent) (*intent.ExecutionResult, error)
}

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg      *config.Config
	executor Executor
	store    history.Store
	ledger   ledgerclient.Client
	limiter  *ratelimit.Limiter
	router   *gin.Engine
	httpSrv  *http.Server
	logger   *slog.Logger

	ready   atomic.Bool
	healthy atomic.Bool
}

// New creates a server over an executor, its audit store, and the
// ledger client used for health checks.
func New(cfg *config.Config, executor Executor, store history.Store, ledger ledgerclient.Client, logger *slog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		executor: executor,
		store:    store,
		ledger:   ledger,
		logger:   logger,
	}
	s.healthy.Store(true)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
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

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware([]string{"*"}))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	s.limiter = ratelimit.New(ratelimit.Config{
		RequestsPerSecond: s.cfg.RateLimitRPS,
		Burst:             s.cfg.RateLimitRPS * 2,
	})
	s.router.Use(s.limiter.Middleware())

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.WithPrefix("req_")
		}

		ctx := logging.WithIntentID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

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

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.livenessHandler)
	s.router.GET("/readyz", s.readinessHandler)
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/metrics", metrics.Handler())

	v1 := s.router.Group("/v1")
	{
		v1.POST("/executions", s.executeHandler)
		v1.GET("/executions", s.listExecutionsHandler)
		v1.GET("/executions/:id", s.getExecutionHandler)
	}
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// ExecuteRequest is the caller's protected-execution request.
// Instructions are 0x-prefixed hex payloads; the amount is a decimal
// string in base economic units.
type ExecuteRequest struct {
	Instructions   []string `json:"instructions" binding:"required"`
	Amount         string   `json:"amount" binding:"required"`
	DeadlineSecs   int64    `json:"deadlineSeconds" binding:"required"`
	MaxSlippageBps uint16   `json:"maxSlippageBps"`
}

// ExecuteResponse reports the terminal outcome. Partial must be checked:
// a partial execution is never silently a success.
type ExecuteResponse struct {
	Signatures       []string `json:"signatures"`
	StrategyUsed     string   `json:"strategyUsed"`
	EstimatedSavings string   `json:"estimatedSavings"`
	ProtectionCost   string   `json:"protectionCost"`
	Partial          bool     `json:"partial"`
	FailureReason    string   `json:"failureReason,omitempty"`
}

func (s *Server) executeHandler(c *gin.Context) {
	var req ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	if verrs := validation.Validate(
		validation.Required("amount", req.Amount),
		validation.ValidAmount("amount", req.Amount),
		validation.MaxLength("amount", req.Amount, 40),
	); len(verrs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "details": verrs})
		return
	}
	for i, ins := range req.Instructions {
		if !validation.IsValidHex(ins) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": fmt.Sprintf("instruction %d must be a 0x-prefixed hex payload", i),
			})
			return
		}
	}

	in, err := req.toIntent(time.Now())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_intent", "message": err.Error()})
		return
	}

	result, err := s.executor.Execute(c.Request.Context(), in)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, toResponse(result, nil))
	case errors.Is(err, intent.ErrInvalidIntent):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_intent", "message": err.Error()})
	case result != nil && result.Partial:
		// Partial completion is a terminal state the caller must
		// inspect, not an internal failure.
		c.JSON(http.StatusOK, toResponse(result, err))
	case errors.Is(err, intent.ErrRevealVerification):
		c.JSON(http.StatusConflict, gin.H{"error": "reveal_verification_failed", "message": err.Error()})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": "execution_failed", "message": err.Error()})
	}
}

func (req *ExecuteRequest) toIntent(now time.Time) (*intent.TransactionIntent, error) {
	amount, ok := baseunit.Parse(req.Amount)
	if !ok {
		return nil, fmt.Errorf("amount %q is not a valid decimal", req.Amount)
	}

	instructions := make([][]byte, 0, len(req.Instructions))
	for i, ins := range req.Instructions {
		raw, err := hexutil.Decode(ins)
		if err != nil {
			return nil, fmt.Errorf("instruction %d: %w", i, err)
		}
		instructions = append(instructions, raw)
	}

	return &intent.TransactionIntent{
		Instructions:   instructions,
		EconomicAmount: amount,
		Deadline:       now.Add(time.Duration(req.DeadlineSecs) * time.Second),
		MaxSlippageBps: req.MaxSlippageBps,
	}, nil
}

func toResponse(r *intent.ExecutionResult, execErr error) ExecuteResponse {
	resp := ExecuteResponse{
		Signatures:       r.Signatures,
		StrategyUsed:     r.StrategyUsed.String(),
		Partial:          r.Partial,
		EstimatedSavings: "0",
		ProtectionCost:   "0",
	}
	if r.Signatures == nil {
		resp.Signatures = []string{}
	}
	if r.EstimatedSavings != nil {
		resp.EstimatedSavings = r.EstimatedSavings.String()
	}
	if r.ProtectionCost != nil {
		resp.ProtectionCost = r.ProtectionCost.String()
	}
	if execErr != nil {
		resp.FailureReason = execErr.Error()
	}
	return resp
}

func (s *Server) listExecutionsHandler(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
			return
		}
		limit = n
	}

	records, err := s.store.List(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage_error"})
		return
	}
	if records == nil {
		records = []*history.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"executions": records, "count": len(records)})
}

func (s *Server) getExecutionHandler(c *gin.Context) {
	rec, err := s.store.Get(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, history.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage_error"})
	default:
		c.JSON(http.StatusOK, rec)
	}
}

// -----------------------------------------------------------------------------
// Health
// -----------------------------------------------------------------------------

func (s *Server) healthHandler(c *gin.Context) {
	checks := make(map[string]string)

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if _, err := s.ledger.CurrentSlot(ctx); err != nil {
		checks["rpc"] = "unhealthy"
	} else {
		checks["rpc"] = "healthy"
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

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"version":   "0.1.0",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
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

// Run starts the server and blocks until a shutdown signal, a server
// error, or context cancellation.
func (s *Server) Run(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      5 * time.Minute, // executions wait out reveal windows
		IdleTimeout:       60 * time.Second,
	}

	// Readiness flips only after the listener is bound.
	ln, err := net.Listen("tcp", s.httpSrv.Addr)
	if err != nil {
		return fmt.Errorf("server listen: %w", err)
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port)
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	s.ready.Store(true)
	s.logger.Info("server ready")

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

	if s.limiter != nil {
		s.limiter.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	s.logger.Info("shutdown complete")
	return nil
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}
