package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/fentz26/switchboard/internal/configstore"
	"github.com/fentz26/switchboard/internal/lifecycle"
	"github.com/fentz26/switchboard/internal/mcp"
	"github.com/fentz26/switchboard/internal/models"
)

// Version is set at build time via -ldflags.
var Version = "0.1.0-dev"

const maxBodyBytes = 1 << 20

// Server provides the HTTP API for switchboard.
type Server struct {
	echo     *echo.Echo
	service  *Service
	registry *mcp.Registry
	addr     string
	logger   *zap.Logger
}

// NewServer creates a new HTTP server.
func NewServer(service *Service, registry *mcp.Registry, addr string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit("1M"))
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return nil
		}
	})

	s := &Server{
		echo:     e,
		service:  service,
		registry: registry,
		addr:     addr,
		logger:   logger,
	}
	s.registerRoutes()
	return s
}

// Echo exposes the router, mainly for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(s.service.Metrics().Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/tools", s.listTools)
	v1.POST("/tools/:name", s.callTool)

	v1.POST("/setup", s.setup)
	v1.POST("/analyze", s.analyze)
	v1.GET("/setups", s.listSetups)

	v1.GET("/snapshots", s.listSnapshots)
	v1.POST("/rollback", s.rollback)

	v1.GET("/workers", s.listWorkers)
	v1.POST("/workers/:name/stop", s.stopWorker)
	v1.POST("/workers/:name/restart", s.restartWorker)

	v1.GET("/registry", s.listRegistry)
}

// Start starts the HTTP server. It returns http.ErrServerClosed after Shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting switchboard daemon", zap.String("addr", s.addr))
	return s.echo.Start(s.addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	OK      bool   `json:"ok"`
	DB      string `json:"db"`
	Workers int    `json:"workers"`
	Version string `json:"version"`
	Time    string `json:"time"`
}

func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{
		OK:      true,
		DB:      "disabled",
		Workers: len(s.service.Workers()),
		Version: Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK
	if h := s.service.History(); h != nil {
		resp.DB = "ok"
		if err := h.Ping(c.Request().Context()); err != nil {
			resp.OK = false
			resp.DB = err.Error()
			status = http.StatusServiceUnavailable
		}
	}
	return c.JSON(status, resp)
}

// --- Tool Handlers ---

func (s *Server) listTools(c echo.Context) error {
	return c.JSON(http.StatusOK, Tools())
}

func (s *Server) callTool(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodyBytes))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	out, err := s.service.Call(c.Request().Context(), c.Param("name"), json.RawMessage(body))
	if err != nil {
		return s.httpError(err)
	}
	return c.JSON(http.StatusOK, out)
}

// --- Pipeline Handlers ---

func (s *Server) setup(c echo.Context) error {
	var req SetupRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	res, err := s.service.Setup(c.Request().Context(), req)
	if err != nil {
		return s.httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

type analyzeRequest struct {
	TaskDescription string `json:"task_description"`
}

func (s *Server) analyze(c echo.Context) error {
	var req analyzeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	res, err := s.service.Analyze(c.Request().Context(), req.TaskDescription)
	if err != nil {
		return s.httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) listSetups(c echo.Context) error {
	h := s.service.History()
	if h == nil {
		return c.JSON(http.StatusOK, []models.Setup{})
	}
	limit, err := queryInt(c, "limit", 20)
	if err != nil {
		return s.httpError(err)
	}
	setups, err := h.ListSetups(c.Request().Context(), limit)
	if err != nil {
		return s.httpError(err)
	}
	if setups == nil {
		setups = []models.Setup{}
	}
	return c.JSON(http.StatusOK, setups)
}

// --- Snapshot Handlers ---

func (s *Server) listSnapshots(c echo.Context) error {
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		return s.httpError(err)
	}
	snaps, err := s.service.ListSnapshots(c.Request().Context(), ListSnapshotsRequest{
		AgentType:   c.QueryParam("agent_type"),
		Scope:       c.QueryParam("scope"),
		ProjectPath: c.QueryParam("project_path"),
		Limit:       limit,
	})
	if err != nil {
		return s.httpError(err)
	}
	return c.JSON(http.StatusOK, snaps)
}

func (s *Server) rollback(c echo.Context) error {
	var req RollbackRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	res, err := s.service.Rollback(c.Request().Context(), req)
	if err != nil {
		return s.httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

// --- Worker Handlers ---

func (s *Server) listWorkers(c echo.Context) error {
	return c.JSON(http.StatusOK, s.service.Workers())
}

func (s *Server) stopWorker(c echo.Context) error {
	name := c.Param("name")
	if err := s.service.StopWorker(c.Request().Context(), name); err != nil {
		return s.httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "stopped", "name": name})
}

func (s *Server) restartWorker(c echo.Context) error {
	st, err := s.service.RestartWorker(c.Request().Context(), c.Param("name"))
	if err != nil {
		return s.httpError(err)
	}
	return c.JSON(http.StatusOK, st)
}

func (s *Server) listRegistry(c echo.Context) error {
	if s.registry == nil {
		return c.JSON(http.StatusOK, []models.WorkerDescriptor{})
	}
	return c.JSON(http.StatusOK, s.registry.List())
}

// httpError maps service errors to HTTP status codes.
func (s *Server) httpError(err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, configstore.ErrInvalidSnapshotID):
		status = http.StatusBadRequest
	case errors.Is(err, ErrUnknownTool), errors.Is(err, ErrNotFound),
		errors.Is(err, configstore.ErrSnapshotNotFound), errors.Is(err, configstore.ErrNoSnapshots),
		errors.Is(err, lifecycle.ErrUnknownWorker):
		status = http.StatusNotFound
	case errors.Is(err, ErrNoProcesses):
		status = http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	return echo.NewHTTPError(status, err.Error())
}

func queryInt(c echo.Context, name string, def int) (int, error) {
	v := c.QueryParam(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", ErrInvalidRequest, name)
	}
	return n, nil
}
