// Package params parses record references out of echo requests.
package params

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/pkg/models"
)

// PathRef reads the :type and :id path parameters.
func PathRef(c echo.Context) (models.RecordReference, error) {
	recordType := c.Param("type")
	if recordType == "" {
		return models.RecordReference{}, httperror.NewHTTPError(http.StatusBadRequest, "record type is required")
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return models.RecordReference{}, httperror.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid record id %q", c.Param("id")))
	}
	return models.NewRef(recordType, id), nil
}

// QueryRef reads a "Type/ID" query parameter.
func QueryRef(c echo.Context, name string) (models.RecordReference, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return models.RecordReference{}, httperror.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("%s query parameter is required", name))
	}
	ref, err := models.ParseRef(raw)
	if err != nil {
		return models.RecordReference{}, httperror.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid %s: %v", name, err))
	}
	return ref, nil
}

// Bind decodes and validates the request body.
func Bind(c echo.Context, dst any) error {
	if err := c.Bind(dst); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	return c.Validate(dst)
}
