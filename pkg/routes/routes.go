// Package routes assembles the HTTP API.
package routes

import (
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/Ramsey-B/clover/pkg/middleware"
	"github.com/Ramsey-B/clover/pkg/routes/health"
	"github.com/Ramsey-B/clover/pkg/routes/link"
	"github.com/Ramsey-B/clover/pkg/routes/match"
	"github.com/Ramsey-B/clover/pkg/routes/record"
)

// Options are the settings of the API server. ContainerID names the dependency
// container built by NewContainer; empty uses the default container.
type Options struct {
	ServiceName  string
	AllowOrigins []string
	ContainerID  string
	Health       *health.Checker
}

// New builds an echo server with the middleware stack and every route under /api/v1.
func New(logger ectologger.Logger, opts Options) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(logger)
	e.Validator = middleware.NewValidator()

	e.Use(echomiddleware.Recover())
	if len(opts.AllowOrigins) > 0 {
		e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{AllowOrigins: opts.AllowOrigins}))
	}
	if opts.ServiceName != "" {
		e.Use(otelecho.Middleware(opts.ServiceName))
	}
	e.Use(middleware.Context())
	e.Use(middleware.Logger(logger))
	if opts.ContainerID != "" {
		e.Use(middleware.Container(opts.ContainerID))
	}

	api := e.Group("/api/v1")
	record.Register(api.Group("/records"))
	link.Register(api.Group("/links"))
	match.Register(api.Group("/match"))
	if opts.Health != nil {
		opts.Health.Register(api)
	}
	api.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	return e
}
