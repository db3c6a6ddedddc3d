package record

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/routes/params"
)

type Store interface {
	ReadRecord(ctx context.Context, ref models.RecordReference) (*models.Record, error)
	UpsertSourceRecord(ctx context.Context, ref models.RecordReference, data map[string]any) (*models.Record, error)
	DeleteRecord(ctx context.Context, ref models.RecordReference) error
}

type Linker interface {
	UpdateLinks(ctx context.Context, source models.RecordReference) (*models.LinkResult, error)
	UpdateLinksBatch(ctx context.Context, sources []models.RecordReference) ([]*models.LinkResult, error)
	HandleRecordDeleted(ctx context.Context, ref models.RecordReference) (int, error)
}

// UpsertResponse is the stored record and the outcome of linking it.
type UpsertResponse struct {
	Record *models.Record     `json:"record"`
	Links  *models.LinkResult `json:"links"`
}

// Register registers source record routes. Writes run the link workflow before responding.
func Register(g *echo.Group) {
	g.POST("/batch/link", LinkBatch)
	g.POST("/:type", CreateRecord)
	g.PUT("/:type/:id", UpdateRecord)
	g.GET("/:type/:id", GetRecord)
	g.DELETE("/:type/:id", DeleteRecord)
	g.POST("/:type/:id/link", LinkRecord)
}

// CreateRecord stores a new source record under a generated id and links it
func CreateRecord(c echo.Context) error {
	recordType := c.Param("type")
	if recordType == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "record type is required")
	}
	var req models.UpsertRecordRequest
	if err := params.Bind(c, &req); err != nil {
		return err
	}
	return upsert(c, http.StatusCreated, models.RecordReference{Type: recordType}, req.Data)
}

// UpdateRecord replaces a source record's data and relinks it
func UpdateRecord(c echo.Context) error {
	ref, err := params.PathRef(c)
	if err != nil {
		return err
	}
	var req models.UpsertRecordRequest
	if err := params.Bind(c, &req); err != nil {
		return err
	}
	return upsert(c, http.StatusOK, ref, req.Data)
}

func upsert(c echo.Context, status int, ref models.RecordReference, data map[string]any) error {
	ctx := c.Request().Context()

	ctx, store, err := ectoinject.GetContext[Store](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}
	ctx, linker, err := ectoinject.GetContext[Linker](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	rec, err := store.UpsertSourceRecord(ctx, ref, data)
	if err != nil {
		return err
	}
	result, err := linker.UpdateLinks(ctx, rec.Ref)
	if err != nil {
		return err
	}
	return c.JSON(status, UpsertResponse{Record: rec, Links: result})
}

// GetRecord reads one source or golden record
func GetRecord(c echo.Context) error {
	ref, err := params.PathRef(c)
	if err != nil {
		return err
	}

	ctx, store, err := ectoinject.GetContext[Store](c.Request().Context())
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	rec, err := store.ReadRecord(ctx, ref)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec)
}

// DeleteRecord removes a record and every link that points at it
func DeleteRecord(c echo.Context) error {
	ref, err := params.PathRef(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	ctx, store, err := ectoinject.GetContext[Store](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}
	ctx, linker, err := ectoinject.GetContext[Linker](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	if err := store.DeleteRecord(ctx, ref); err != nil {
		return err
	}
	removed, err := linker.HandleRecordDeleted(ctx, ref)
	if err != nil {
		return err
	}

	ctx, logger, _ := ectoinject.GetContext[ectologger.Logger](ctx)
	if logger != nil {
		logger.WithContext(ctx).WithFields(map[string]any{
			"record":        ref.String(),
			"removed_links": removed,
		}).Info("Deleted record")
	}

	return c.JSON(http.StatusOK, map[string]any{"deleted": ref, "removed_links": removed})
}

// LinkRecord reruns the link workflow for a stored source record
func LinkRecord(c echo.Context) error {
	ref, err := params.PathRef(c)
	if err != nil {
		return err
	}

	ctx, linker, err := ectoinject.GetContext[Linker](c.Request().Context())
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	result, err := linker.UpdateLinks(ctx, ref)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// LinkBatch links many stored source records in one request
func LinkBatch(c echo.Context) error {
	var req models.BatchLinkRequest
	if err := params.Bind(c, &req); err != nil {
		return err
	}

	ctx, linker, err := ectoinject.GetContext[Linker](c.Request().Context())
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	results, err := linker.UpdateLinksBatch(ctx, req.Sources)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, results)
}
