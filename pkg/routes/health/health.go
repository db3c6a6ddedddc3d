package health

import (
	"context"
	"net/http"
	"sort"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

// Check pings one dependency.
type Check func(ctx context.Context) error

// Checker serves liveness, readiness and dependency health.
type Checker struct {
	checks    map[string]Check
	version   string
	startTime time.Time
	ready     atomic.Bool
}

func NewChecker(version string) *Checker {
	return &Checker{
		checks:    make(map[string]Check),
		version:   version,
		startTime: time.Now(),
	}
}

// AddCheck registers a dependency ping under name.
func (c *Checker) AddCheck(name string, check Check) {
	c.checks[name] = check
}

// SetReady flips readiness once startup completes and back during shutdown.
func (c *Checker) SetReady(ready bool) {
	c.ready.Store(ready)
}

func (c *Checker) Register(g *echo.Group) {
	g.GET("/health", c.Health)
	g.GET("/health/live", c.Live)
	g.GET("/health/ready", c.Ready)
}

type HealthStatus struct {
	Status     string                  `json:"status"`
	Version    string                  `json:"version"`
	Uptime     string                  `json:"uptime"`
	Checks     map[string]*CheckResult `json:"checks"`
	ReportedAt time.Time               `json:"reported_at"`
}

type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// Health runs every check and answers 503 when one fails.
func (c *Checker) Health(ctx echo.Context) error {
	status := &HealthStatus{
		Status:     "healthy",
		Version:    c.version,
		Uptime:     time.Since(c.startTime).Round(time.Second).String(),
		Checks:     make(map[string]*CheckResult, len(c.checks)),
		ReportedAt: time.Now(),
	}

	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	reqCtx, cancel := context.WithTimeout(ctx.Request().Context(), 5*time.Second)
	defer cancel()
	for _, name := range names {
		start := time.Now()
		err := c.checks[name](reqCtx)
		latency := time.Since(start)
		if err != nil {
			status.Status = "unhealthy"
			status.Checks[name] = &CheckResult{Status: "unhealthy", Message: err.Error()}
			continue
		}
		status.Checks[name] = &CheckResult{Status: "healthy", Latency: latency.String()}
	}

	httpStatus := http.StatusOK
	if status.Status == "unhealthy" {
		httpStatus = http.StatusServiceUnavailable
	}
	return ctx.JSON(httpStatus, status)
}

func (c *Checker) Live(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]string{"status": "alive", "version": c.version})
}

func (c *Checker) Ready(ctx echo.Context) error {
	if c.ready.Load() {
		return ctx.JSON(http.StatusOK, map[string]string{"status": "ready"})
	}
	return ctx.JSON(http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
}
