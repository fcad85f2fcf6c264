// Package server exposes the math agent over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/scottdavis/mathagent/pkg/core"
	"github.com/scottdavis/mathagent/pkg/errors"
	"github.com/scottdavis/mathagent/pkg/logging"
	"github.com/scottdavis/mathagent/pkg/modules"
)

// ServiceName is reported by the health endpoint.
const ServiceName = "Qwen2.5-Math Tool-Augmented Agent"

// Config holds the listener settings.
type Config struct {
	Addr         string
	MaxSessions  int
	CORSOrigins  []string
	Debug        bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns the settings used when fields are left zero.
func DefaultConfig() Config {
	return Config{
		Addr:         ":8000",
		MaxSessions:  DefaultMaxSessions,
		CORSOrigins:  []string{"*"},
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute,
	}
}

// Server routes HTTP requests to per-session agents.
type Server struct {
	config     Config
	engine     *gin.Engine
	httpServer *http.Server
	sessions   *SessionCache
	registry   *core.Registry
	gatherer   prometheus.Gatherer
	logger     *logging.Logger
}

type Option func(*Server)

// WithGatherer serves metrics from g instead of the global registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

func WithLogger(l *logging.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// SolveRequest is the body of POST /solve.
type SolveRequest struct {
	Problem     string   `json:"problem"`
	SessionID   string   `json:"session_id,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
}

// SolveResponse is the body returned by POST /solve.
type SolveResponse struct {
	Response  string                   `json:"response"`
	Type      string                   `json:"type"`
	SessionID string                   `json:"session_id"`
	ToolCalls []modules.ToolInvocation `json:"tool_calls"`
	ToolsUsed bool                     `json:"tools_used"`
	Warning   string                   `json:"warning,omitempty"`
}

// ResetRequest is the body of POST /reset.
type ResetRequest struct {
	SessionID string `json:"session_id"`
}

type toolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// New builds the router. registry backs GET /tools.
func New(cfg Config, registry *core.Registry, factory SessionFactory, opts ...Option) (*Server, error) {
	defaults := DefaultConfig()
	if cfg.Addr == "" {
		cfg.Addr = defaults.Addr
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaults.ReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if registry == nil {
		return nil, errors.New(errors.ConfigurationError, "tool registry is required")
	}

	sessions, err := NewSessionCache(cfg.MaxSessions, factory)
	if err != nil {
		return nil, err
	}

	s := &Server{
		config:   cfg,
		sessions: sessions,
		registry: registry,
		gatherer: prometheus.DefaultGatherer,
		logger:   logging.GetLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	if cfg.Debug {
		engine.Use(gin.Logger())
	}

	corsConfig := cors.DefaultConfig()
	if len(cfg.CORSOrigins) == 0 || containsWildcard(cfg.CORSOrigins) {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.CORSOrigins
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	engine.Use(cors.New(corsConfig))

	s.engine = engine
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      engine,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s, nil
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}

func (s *Server) setupRoutes() {
	s.engine.GET("/", s.handleHealth)
	s.engine.GET("/tools", s.handleTools)
	s.engine.POST("/solve", s.handleSolve)
	s.engine.POST("/reset", s.handleReset)
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.engine }

// Sessions exposes the session cache.
func (s *Server) Sessions() *SessionCache { return s.sessions }

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "listening on %s", s.config.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return errors.Wrap(err, errors.ConfigurationError, "server stopped")
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info(ctx, "shutting down")
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": ServiceName,
		"tools":   s.registry.Count(),
	})
}

func (s *Server) handleTools(c *gin.Context) {
	descriptions := s.registry.List()
	tools := make([]toolInfo, 0, len(descriptions))
	for _, name := range s.registry.Names() {
		tools = append(tools, toolInfo{Name: name, Description: descriptions[name]})
	}
	c.JSON(http.StatusOK, gin.H{"tools": tools})
}

func (s *Server) handleSolve(c *gin.Context) {
	var req SolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, errors.Wrap(err, errors.InvalidInput, "invalid request body"))
		return
	}
	if req.Problem == "" {
		s.fail(c, errors.New(errors.InvalidInput, "problem is required"))
		return
	}

	ctx := c.Request.Context()
	agent, err := s.sessions.Get(ctx, req.SessionID)
	if err != nil {
		s.fail(c, err)
		return
	}

	var opts []modules.SolveOption
	if req.MaxTokens > 0 {
		opts = append(opts, modules.WithSolveMaxTokens(req.MaxTokens))
	}
	if req.Temperature != nil {
		opts = append(opts, modules.WithSolveTemperature(*req.Temperature))
	}

	resp, err := agent.Run(ctx, req.Problem, opts...)
	if err != nil {
		s.fail(c, err)
		return
	}

	out := SolveResponse{
		Response:  resp.Text,
		Type:      string(resp.Decision.Type),
		SessionID: agent.SessionID(),
		ToolCalls: []modules.ToolInvocation{},
	}
	if resp.Solution != nil {
		if resp.Solution.Trail != nil {
			out.ToolCalls = resp.Solution.Trail
		}
		out.ToolsUsed = resp.Solution.ToolsUsed
		out.Warning = resp.Solution.Warning
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleReset(c *gin.Context) {
	var req ResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, errors.Wrap(err, errors.InvalidInput, "invalid request body"))
		return
	}
	if req.SessionID == "" {
		s.fail(c, errors.New(errors.InvalidInput, "session_id is required"))
		return
	}

	ctx := c.Request.Context()
	agent, err := s.sessions.Get(ctx, req.SessionID)
	if err != nil {
		s.fail(c, err)
		return
	}
	if err := agent.Reset(ctx); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Memory cleared", "session_id": req.SessionID})
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(c.Request.Context(), "request %s failed: %v", c.FullPath(), err)
	}
	c.AbortWithStatusJSON(status, errorResponse{Error: err.Error(), Code: errors.Code(err).String()})
}

func statusFor(err error) int {
	switch errors.Code(err) {
	case errors.InvalidInput, errors.ValidationFailed:
		return http.StatusBadRequest
	case errors.ResourceNotFound:
		return http.StatusNotFound
	case errors.RateLimitExceeded:
		return http.StatusTooManyRequests
	case errors.LLMGenerationFailed, errors.InvalidResponse:
		return http.StatusBadGateway
	case errors.Canceled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
