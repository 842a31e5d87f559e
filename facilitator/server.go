// Package facilitator is the HTTP surface of a t402 facilitator: the
// /verify, /settle and /supported endpoints of the protocol plus the
// operational endpoints a deployment needs. Protocol semantics stay in the
// engine; this package only translates HTTP to engine calls.
package facilitator

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	t402 "github.com/t402-io/t402-go"
	"github.com/t402-io/t402-go/logger"
	"github.com/t402-io/t402-go/ratelimit"
	"github.com/t402-io/t402-go/types"
	"github.com/t402-io/t402-go/utils"
)

// ReadinessCheck probes one backing dependency for /ready.
type ReadinessCheck struct {
	Name  string
	Probe func(ctx context.Context) error
}

// Server serves the facilitator HTTP API.
type Server struct {
	engine  *t402.T402
	log     logger.Logger
	limiter ratelimit.Limiter
	apiKeys map[string]string
	checks  []ReadinessCheck
	router  *gin.Engine
	http    *http.Server
}

// Option customizes the server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(log logger.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// WithRateLimiter guards verify/settle with the limiter.
func WithRateLimiter(l ratelimit.Limiter) Option {
	return func(s *Server) { s.limiter = l }
}

// WithAPIKeys enables API key auth with the given key -> client name map.
func WithAPIKeys(keys map[string]string) Option {
	return func(s *Server) {
		if len(keys) > 0 {
			s.apiKeys = keys
		}
	}
}

// WithReadinessCheck adds a dependency probe to /ready.
func WithReadinessCheck(name string, probe func(ctx context.Context) error) Option {
	return func(s *Server) {
		s.checks = append(s.checks, ReadinessCheck{Name: name, Probe: probe})
	}
}

// New builds the server around an engine.
func New(engine *t402.T402, opts ...Option) *Server {
	s := &Server{
		engine: engine,
		log:    logger.NoopLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(CORS())
	r.Use(RequestLogger(s.log))
	r.Use(RateLimit(s.limiter, s.log))
	if s.apiKeys != nil {
		r.Use(APIKeyAuth(s.apiKeys, s.log))
	}

	r.POST("/verify", s.handleVerify)
	r.POST("/settle", s.handleSettle)
	r.GET("/supported", s.handleSupported)
	r.GET("/health", s.handleHealth)
	r.GET("/ready", s.handleReady)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router = r
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until the context is canceled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context, addr string) error {
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	s.log.Info("facilitator listening", map[string]any{"addr": addr})

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

// parseRequest reads and validates a verify/settle body. A nil return means
// the 400 has already been written.
func (s *Server) parseRequest(c *gin.Context) *types.VerifyRequest {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable request body", "code": "invalid_request"})
		return nil
	}

	req, err := utils.ParseVerifyRequest(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": types.ReasonInvalidPayloadStructure})
		return nil
	}
	return req
}

func (s *Server) handleVerify(c *gin.Context) {
	req := s.parseRequest(c)
	if req == nil {
		return
	}

	res, err := s.engine.Verify(c.Request.Context(), &req.PaymentPayload, &req.PaymentRequirements)
	if err != nil {
		s.writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleSettle(c *gin.Context) {
	req := s.parseRequest(c)
	if req == nil {
		return
	}

	res, err := s.engine.Settle(c.Request.Context(), &req.PaymentPayload, &req.PaymentRequirements)
	if err != nil {
		s.writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// writeEngineError maps typed engine errors to HTTP statuses. Internal
// details stay in the logs.
func (s *Server) writeEngineError(c *gin.Context, err error) {
	var perr *types.PaymentError
	if errors.As(err, &perr) {
		switch perr.Kind {
		case types.KindInvalidInput:
			c.JSON(http.StatusBadRequest, gin.H{"error": perr.Message, "code": perr.Code})
			return
		case types.KindAbortedByHook:
			c.JSON(http.StatusForbidden, gin.H{"error": perr.Message, "code": perr.Code})
			return
		}
	}

	s.log.Error("request failed", map[string]any{
		"request_id": c.GetString(requestIDKey),
		"client":     clientLabel(c),
		"error":      err.Error(),
	})
	c.JSON(http.StatusInternalServerError, gin.H{
		"error": "internal error",
		"code":  types.ReasonInternalError,
	})
}

func (s *Server) handleSupported(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Supported())
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": t402.Version})
}

// handleReady probes the backing dependencies; any failure returns 503 so
// the balancer stops routing here.
func (s *Server) handleReady(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	for _, check := range s.checks {
		if err := check.Probe(ctx); err != nil {
			s.log.Warn("readiness probe failed", map[string]any{
				"check": check.Name,
				"error": err.Error(),
			})
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unavailable",
				"failed": check.Name,
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
