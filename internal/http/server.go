// Package http provides the HTTP API for specgate.
//
// The API is read-mostly: workflow listing and status, plus a check
// endpoint that runs the phase gate without the CLI's exit-code
// convention. Gate metrics are exposed on /metrics in Prometheus
// exposition format.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/specgate/internal/gate"
	"github.com/fyrsmithlabs/specgate/internal/state"
	"github.com/fyrsmithlabs/specgate/internal/workflow"
)

// Server provides HTTP endpoints for specgate.
type Server struct {
	echo      *echo.Echo
	workflows workflow.Service
	gate      *gate.Gate
	logger    *zap.Logger
	config    *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates the HTTP server and registers its routes.
func NewServer(workflows workflow.Service, g *gate.Gate, logger *zap.Logger, cfg *Config) (*Server, error) {
	if workflows == nil {
		return nil, fmt.Errorf("workflow service is required")
	}
	if g == nil {
		return nil, fmt.Errorf("gate is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg == nil {
		cfg = &Config{Host: "127.0.0.1", Port: 8632}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:      e,
		workflows: workflows,
		gate:      g,
		logger:    logger,
		config:    cfg,
	}
	s.registerRoutes()

	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", s.handleMetrics())

	v1 := s.echo.Group("/api/v1")
	v1.GET("/workflows", s.handleListWorkflows)
	v1.GET("/workflows/:id", s.handleGetWorkflow)
	v1.GET("/status", s.handleStatus)
	v1.POST("/check", s.handleCheck)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// WorkflowResponse is the wire shape of one workflow.
type WorkflowResponse struct {
	ID            string    `json:"id"`
	Phase         string    `json:"phase"`
	SpecPath      string    `json:"specPath,omitempty"`
	SpecType      string    `json:"specType,omitempty"`
	Approved      bool      `json:"approved"`
	RedTestDone   bool      `json:"redTestDone"`
	GreenTestDone bool      `json:"greenTestDone"`
	BacklogStatus string    `json:"backlogStatus"`
	IssueNumber   int       `json:"issueNumber,omitempty"`
	Artifacts     int       `json:"artifacts"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// CheckRequest is the request body for POST /api/v1/check.
type CheckRequest struct {
	Path string `json:"path"`
}

// CheckResponse is the response body for POST /api/v1/check.
type CheckResponse struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
	Message string `json:"message,omitempty"`
}

func toWorkflowResponse(w *state.Workflow) WorkflowResponse {
	return WorkflowResponse{
		ID:            w.ID,
		Phase:         string(w.Phase),
		SpecPath:      w.SpecPath,
		SpecType:      w.SpecType,
		Approved:      w.Approved,
		RedTestDone:   w.RedTestDone,
		GreenTestDone: w.GreenTestDone,
		BacklogStatus: string(w.BacklogStatus),
		IssueNumber:   w.IssueNumber,
		Artifacts:     len(w.Artifacts),
		UpdatedAt:     w.UpdatedAt,
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleMetrics serves the gate counters from a private registry, so
// repeated server construction in tests never double-registers.
func (s *Server) handleMetrics() echo.HandlerFunc {
	registry := prometheus.NewRegistry()
	registry.MustRegister(s.gate.Collector())
	registry.MustRegister(collectors.NewGoCollector())

	h := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return echo.WrapHandler(h)
}

func (s *Server) handleListWorkflows(c echo.Context) error {
	list, err := s.workflows.List(c.Request().Context())
	if err != nil {
		return s.mapError(err)
	}

	out := make([]WorkflowResponse, 0, len(list))
	for _, w := range list {
		out = append(out, toWorkflowResponse(w))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetWorkflow(c echo.Context) error {
	w, err := s.workflows.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, toWorkflowResponse(w))
}

func (s *Server) handleStatus(c echo.Context) error {
	w, err := s.workflows.Active(c.Request().Context())
	if err != nil {
		return s.mapError(err)
	}
	if w == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no active workflow")
	}
	return c.JSON(http.StatusOK, toWorkflowResponse(w))
}

func (s *Server) handleCheck(c echo.Context) error {
	var req CheckRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Path == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "path field is required")
	}

	d := s.gate.Check(c.Request().Context(), req.Path)
	return c.JSON(http.StatusOK, CheckResponse{
		Allowed: d.Allowed,
		Reason:  string(d.Reason),
		Message: d.Message,
	})
}

// mapError converts domain errors to HTTP status codes.
func (s *Server) mapError(err error) error {
	var unknown *workflow.UnknownWorkflowError
	if errors.As(err, &unknown) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	var cfgErr *state.ConfigError
	if errors.As(err, &cfgErr) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

// Start starts the HTTP server and blocks.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
