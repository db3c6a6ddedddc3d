package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectoinject/ectocontainer"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/context"
)

func newEcho() *echo.Echo {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	e := echo.New()
	e.HTTPErrorHandler = Error(logger)
	e.Validator = NewValidator()
	e.Use(Context())
	return e
}

func TestContextSetsRequestScope(t *testing.T) {
	e := newEcho()
	var requestID, userID, origin string
	e.GET("/ping", func(c echo.Context) error {
		ctx := c.Request().Context()
		requestID = context.GetRequestID(ctx)
		userID = context.GetUserID(ctx)
		origin = context.GetOrigin(ctx)
		return c.NoContent(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(HeaderUserID, "reviewer-1")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.NotEmpty(t, requestID)
	assert.Equal(t, requestID, rec.Header().Get(echo.HeaderXRequestID))
	assert.Equal(t, "reviewer-1", userID)
	assert.Equal(t, context.OriginHTTP, origin)
}

func TestErrorRendersHTTPErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		code    int
		message string
	}{
		{"httperror", httperror.NewHTTPError(http.StatusConflict, "source already linked"), http.StatusConflict, "source already linked"},
		{"echo error", echo.NewHTTPError(http.StatusNotFound, "no route"), http.StatusNotFound, "no route"},
		{"plain error", assert.AnError, http.StatusInternalServerError, "Internal Server Error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEcho()
			e.GET("/fail", func(echo.Context) error { return tt.err })

			req := httptest.NewRequest(http.MethodGet, "/fail", nil)
			req.Header.Set(echo.HeaderXRequestID, "req-1")
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			assert.Equal(t, tt.code, rec.Code)
			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Contains(t, body.Message, tt.message)
			assert.Equal(t, "req-1", body.RequestID)
		})
	}
}

func TestValidatorReturnsBadRequest(t *testing.T) {
	v := NewValidator()
	type payload struct {
		Name string `validate:"required"`
	}
	err := v.Validate(payload{})
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))
	assert.NoError(t, v.Validate(payload{Name: "x"}))
}

func TestContainerActivatesDependencies(t *testing.T) {
	id := "middleware-test-" + uuid.NewString()
	container, err := ectoinject.NewDIContainer(ectocontainer.DIContainerConfig{
		ID:           id,
		LoggerConfig: &ectocontainer.DIContainerLoggerConfig{Enabled: false},
	})
	require.NoError(t, err)
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	require.NoError(t, ectoinject.RegisterInstance[ectologger.Logger](container, logger))

	e := newEcho()
	e.Use(Container(id))
	var resolved ectologger.Logger
	e.GET("/ping", func(c echo.Context) error {
		_, l, err := ectoinject.GetContext[ectologger.Logger](c.Request().Context())
		if err != nil {
			return err
		}
		resolved = l
		return c.NoContent(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.NotNil(t, resolved)

	missing := newEcho()
	missing.Use(Container("middleware-test-missing-" + uuid.NewString()))
	missing.GET("/ping", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })
	rec = httptest.NewRecorder()
	missing.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
