// Package http provides the HTTP API for loremaster: session play
// (mode switches, input, identity selection) and lore catalog CRUD.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/loremaster/internal/logging"
	"github.com/fyrsmithlabs/loremaster/internal/lore"
	"github.com/fyrsmithlabs/loremaster/internal/modes"
	"github.com/fyrsmithlabs/loremaster/internal/orchestrator"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server provides HTTP endpoints for loremaster.
type Server struct {
	echo    *echo.Echo
	orch    *orchestrator.Orchestrator
	catalog *lore.Catalog
	logger  *zap.Logger
	config  *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates a new HTTP server.
func NewServer(orch *orchestrator.Orchestrator, catalog *lore.Catalog, logger *zap.Logger, cfg *Config) (*Server, error) {
	if orch == nil {
		return nil, fmt.Errorf("orchestrator cannot be nil")
	}
	if catalog == nil {
		return nil, fmt.Errorf("catalog cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "127.0.0.1",
			Port: 8787,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(NewHTTPMetrics(nil, logger).Middleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			reqID := c.Response().Header().Get(echo.HeaderXRequestID)
			c.SetRequest(c.Request().WithContext(logging.WithRequestID(c.Request().Context(), reqID)))
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", reqID),
			)

			return err
		}
	})

	s := &Server{
		echo:    e,
		orch:    orch,
		catalog: catalog,
		logger:  logger,
		config:  cfg,
	}

	s.registerRoutes()

	return s, nil
}

// Echo returns the underlying echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")

	sessions := v1.Group("/sessions/:id")
	sessions.GET("", s.handleGetSession)
	sessions.POST("/mode", s.handleSwitchMode)
	sessions.POST("/input", s.handleInput)
	sessions.POST("/active", s.handleSetActive)
	sessions.POST("/reset", s.handleReset)

	v1.POST("/lore/import", s.handleImport)
	v1.GET("/lore/export", s.handleExport)
	v1.POST("/lore/restore", s.handleRestore)
	v1.GET("/lore/:kind", s.handleListLore)
	v1.POST("/lore/:kind", s.handleCreateLore)
	v1.GET("/lore/:kind/:id", s.handleGetLore)
	v1.PUT("/lore/:kind/:id", s.handleUpdateLore)
	v1.DELETE("/lore/:kind/:id", s.handleDeleteLore)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// SwitchModeRequest is the request body for POST /api/v1/sessions/:id/mode.
type SwitchModeRequest struct {
	Mode string `json:"mode"`
}

// ImportRequest is the request body for POST /api/v1/lore/import.
type ImportRequest struct {
	UniverseID string     `json:"universe_id"`
	World      lore.World `json:"world"`
}

// ImportResponse is the response body for POST /api/v1/lore/import.
type ImportResponse struct {
	Imported lore.ImportResult `json:"imported"`
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleGetSession(c echo.Context) error {
	st, err := s.orch.State(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.sessionError(err)
	}
	return c.JSON(http.StatusOK, st)
}

func (s *Server) handleSwitchMode(c echo.Context) error {
	var req SwitchModeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Mode == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "mode field is required")
	}

	res, err := s.orch.SwitchMode(c.Request().Context(), c.Param("id"), req.Mode)
	if err != nil {
		return s.sessionError(err)
	}
	if _, invalid := res["error"]; invalid {
		return c.JSON(http.StatusBadRequest, res)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleInput(c echo.Context) error {
	in := modes.Input{}
	if err := decodeBody(c, &in); err != nil {
		return err
	}
	res, err := s.orch.ProcessInput(c.Request().Context(), c.Param("id"), in)
	if err != nil {
		return s.sessionError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleSetActive(c echo.Context) error {
	var sel orchestrator.Selection
	if err := c.Bind(&sel); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if sel.UniverseID != "" {
		if _, err := s.catalog.Get(lore.KindUniverse, sel.UniverseID); err != nil {
			return s.loreError(err)
		}
	}
	if sel.CampaignID != "" {
		if _, err := s.catalog.Get(lore.KindCampaign, sel.CampaignID); err != nil {
			return s.loreError(err)
		}
	}
	st, err := s.orch.SetActive(c.Request().Context(), c.Param("id"), sel)
	if err != nil {
		return s.sessionError(err)
	}
	return c.JSON(http.StatusOK, st)
}

func (s *Server) handleReset(c echo.Context) error {
	ctx := c.Request().Context()
	if err := s.orch.Reset(ctx, c.Param("id")); err != nil {
		return s.sessionError(err)
	}
	st, err := s.orch.State(ctx, c.Param("id"))
	if err != nil {
		return s.sessionError(err)
	}
	return c.JSON(http.StatusOK, st)
}

func (s *Server) handleListLore(c echo.Context) error {
	kind, err := lore.ParseKind(c.Param("kind"))
	if err != nil {
		return s.loreError(err)
	}
	entities := s.catalog.List(kind, lore.ListFilter{
		UniverseID: c.QueryParam("universe_id"),
		CampaignID: c.QueryParam("campaign_id"),
	})
	return c.JSON(http.StatusOK, entities)
}

func (s *Server) handleGetLore(c echo.Context) error {
	kind, err := lore.ParseKind(c.Param("kind"))
	if err != nil {
		return s.loreError(err)
	}
	e, err := s.catalog.Get(kind, c.Param("id"))
	if err != nil {
		return s.loreError(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (s *Server) handleCreateLore(c echo.Context) error {
	e, err := s.decodeEntity(c)
	if err != nil {
		return err
	}
	created, err := s.catalog.Create(c.Request().Context(), e)
	if err != nil {
		return s.loreError(err)
	}
	return c.JSON(http.StatusCreated, created)
}

func (s *Server) handleUpdateLore(c echo.Context) error {
	e, err := s.decodeEntity(c)
	if err != nil {
		return err
	}
	e.Base().ID = c.Param("id")
	updated, err := s.catalog.Update(c.Request().Context(), e)
	if err != nil {
		return s.loreError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

func (s *Server) handleDeleteLore(c echo.Context) error {
	kind, err := lore.ParseKind(c.Param("kind"))
	if err != nil {
		return s.loreError(err)
	}
	if err := s.catalog.Delete(c.Request().Context(), kind, c.Param("id")); err != nil {
		return s.loreError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleImport(c echo.Context) error {
	var req ImportRequest
	if err := decodeBody(c, &req); err != nil {
		return err
	}
	imported, err := s.catalog.ImportWorld(c.Request().Context(), req.World, req.UniverseID)
	if err != nil {
		return s.loreError(err)
	}
	return c.JSON(http.StatusCreated, ImportResponse{Imported: imported})
}

func (s *Server) handleExport(c echo.Context) error {
	snap, err := s.catalog.Snapshot()
	if err != nil {
		return s.loreError(err)
	}
	return c.JSON(http.StatusOK, snap)
}

// RestoreResponse is the response body for POST /api/v1/lore/restore.
type RestoreResponse struct {
	Restored int `json:"restored"`
}

func (s *Server) handleRestore(c echo.Context) error {
	snap := lore.Snapshot{}
	if err := decodeBody(c, &snap); err != nil {
		return err
	}
	n, err := s.catalog.Restore(c.Request().Context(), snap)
	if err != nil {
		return s.loreError(err)
	}
	return c.JSON(http.StatusOK, RestoreResponse{Restored: n})
}

// decodeEntity reads the request body as an entity of the :kind parameter.
func (s *Server) decodeEntity(c echo.Context) (lore.Entity, error) {
	kind, err := lore.ParseKind(c.Param("kind"))
	if err != nil {
		return nil, s.loreError(err)
	}
	data, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	e, err := lore.DecodeEntity(kind, data)
	if err != nil {
		return nil, s.loreError(err)
	}
	return e, nil
}

// decodeBody decodes a JSON body into v. An empty body leaves v unchanged.
func decodeBody(c echo.Context, v any) error {
	data, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	return nil
}

// loreError maps catalog errors to HTTP errors.
func (s *Server) loreError(err error) error {
	switch {
	case errors.Is(err, lore.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, lore.ErrUnknownKind), errors.Is(err, lore.ErrInvalidEntity):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	s.logger.Error("lore request failed", zap.Error(err))
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
}

// sessionError maps orchestrator errors to HTTP errors.
func (s *Server) sessionError(err error) error {
	switch {
	case errors.Is(err, modes.ErrOracle):
		s.logger.Warn("generation failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "generation oracle unavailable")
	case errors.Is(err, orchestrator.ErrPersist):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "session store unavailable")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return echo.NewHTTPError(http.StatusGatewayTimeout, err.Error())
	}
	s.logger.Error("session request failed", zap.Error(err))
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
}

// Start starts the HTTP server. It returns http.ErrServerClosed after
// Shutdown.
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
