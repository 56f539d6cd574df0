package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"validator-engine/apiconfig"
	"validator-engine/internal/engine"
)

// Server exposes the operator surface: health, engine status, and
// prometheus metrics.
type Server struct {
	echo   *echo.Echo
	engine *engine.Engine
	port   int
}

func New(eng *engine.Engine, config apiconfig.ApiConfig) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	s := &Server{echo: e, engine: eng, port: config.Port}

	e.GET("/health", s.health)
	e.GET("/status", s.status)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return s
}

func (s *Server) Start() error {
	return s.echo.Start(fmt.Sprintf(":%d", s.port))
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) health(c echo.Context) error {
	if s.engine.Status().Stalled {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "stalled"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(c echo.Context) error {
	return c.JSON(http.StatusOK, s.engine.Status())
}
