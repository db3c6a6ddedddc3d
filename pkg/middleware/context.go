package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/pkg/context"
)

// HeaderUserID identifies the reviewer on manual link resolutions.
const HeaderUserID = "X-User-ID"

func Context() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()

			requestID := req.Header.Get(echo.HeaderXRequestID)
			if requestID == "" {
				requestID = uuid.New().String()
			}
			c.Response().Header().Set(echo.HeaderXRequestID, requestID)

			ctx := req.Context()
			ctx = context.SetRequestID(ctx, requestID)
			ctx = context.SetRoute(ctx, req.URL.Path)
			ctx = context.SetUserID(ctx, req.Header.Get(HeaderUserID))
			ctx = context.SetOrigin(ctx, context.OriginHTTP)

			c.SetRequest(req.WithContext(ctx))
			return next(c)
		}
	}
}
