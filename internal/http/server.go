package http

import (
	"context"
	"net/http"

	"github.com/codechallenge/login-processing-service/internal/repository"
	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct{ e *echo.Echo }

// NewServer wires the ops surface: health, metrics, and the ClickHouse-backed
// login report. chDB may be nil when ClickHouse is disabled; the report route
// is simply not registered then. Metric registration is the caller's
// business, like in the worker commands; /metrics serves whatever the
// default registry holds.
func NewServer(chDB *sqlx.DB) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(echoMid.Recover(), echoMid.Logger())

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	if chDB != nil {
		chLoginsRepo := repository.NewCHLoginsRepository(chDB)
		v1 := e.Group("/v1")
		v1.GET("/reports/logins", listLoginsHandler(chLoginsRepo))
	}

	return &Server{e: e}
}

func (s *Server) Start(addr string) error {
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }
