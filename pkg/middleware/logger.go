package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/pkg/context"
)

// Logger writes one access log entry per request. Health and metrics checks are logged at debug.
func Logger(logger ectologger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			if err := next(c); err != nil {
				c.Error(err)
			}
			elapsed := time.Since(start)

			req := c.Request()
			res := c.Response()
			ctx := req.Context()
			entry := logger.WithContext(ctx).WithFields(map[string]any{
				"request_id":    context.GetRequestID(ctx),
				"user_id":       context.GetUserID(ctx),
				"method":        req.Method,
				"route":         c.Path(),
				"uri":           req.RequestURI,
				"status":        res.Status,
				"remote_ip":     c.RealIP(),
				"duration_ms":   elapsed.Milliseconds(),
				"response_size": res.Size,
			})

			switch {
			case isHealthCheck(c.Path()):
				entry.Debug("Request")
			case res.Status >= http.StatusInternalServerError:
				entry.Error("Request failed")
			case res.Status >= http.StatusBadRequest:
				entry.Warn("Request rejected")
			default:
				entry.Info("Request")
			}
			return nil
		}
	}
}

func isHealthCheck(route string) bool {
	return strings.HasSuffix(route, "/metrics") || strings.Contains(route, "/health")
}
