package link

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

type Service interface {
	Links(ctx context.Context, source models.RecordReference) (*models.SourceLinks, error)
	PossibleMatches(ctx context.Context, source models.RecordReference) ([]models.Link, error)
	LinksTo(ctx context.Context, golden models.RecordReference) ([]models.Link, error)
	CountLinks(ctx context.Context, classification models.Classification) (int, error)
	SameGoldenRecord(ctx context.Context, a, b models.RecordReference) (bool, error)
	Resolve(ctx context.Context, req models.ResolveRequest) (*models.SourceLinks, error)
	Unlink(ctx context.Context, key models.LinkKey) error
}

// Register registers the link graph and manual review routes
func Register(g *echo.Group) {
	g.GET("/count", CountLinks)
	g.GET("/same", SameGoldenRecord)
	g.POST("/resolve", ResolveLink)
	g.DELETE("", Unlink)
	g.GET("/to/:type/:id", LinksTo)
	g.GET("/:type/:id", GetLinks)
	g.GET("/:type/:id/possible", PossibleMatches)
}

func GetLinks(c echo.Context) error {
	ref, err := params.PathRef(c)
	if err != nil {
		return err
	}

	ctx, svc, err := ectoinject.GetContext[Service](c.Request().Context())
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	links, err := svc.Links(ctx, ref)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, links)
}

func PossibleMatches(c echo.Context) error {
	ref, err := params.PathRef(c)
	if err != nil {
		return err
	}

	ctx, svc, err := ectoinject.GetContext[Service](c.Request().Context())
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	links, err := svc.PossibleMatches(ctx, ref)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, links)
}

func LinksTo(c echo.Context) error {
	ref, err := params.PathRef(c)
	if err != nil {
		return err
	}

	ctx, svc, err := ectoinject.GetContext[Service](c.Request().Context())
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	links, err := svc.LinksTo(ctx, ref)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, links)
}

// CountLinks takes an optional classification query parameter.
func CountLinks(c echo.Context) error {
	classification := models.Classification(c.QueryParam("classification"))

	ctx, svc, err := ectoinject.GetContext[Service](c.Request().Context())
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	n, err := svc.CountLinks(ctx, classification)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"classification": classification, "count": n})
}

func SameGoldenRecord(c echo.Context) error {
	left, err := params.QueryRef(c, "left")
	if err != nil {
		return err
	}
	right, err := params.QueryRef(c, "right")
	if err != nil {
		return err
	}

	ctx, svc, err := ectoinject.GetContext[Service](c.Request().Context())
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	same, err := svc.SameGoldenRecord(ctx, left, right)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"left": left, "right": right, "same": same})
}

// ResolveLink applies a reviewer's decision to one source/golden pair
func ResolveLink(c echo.Context) error {
	var req models.ResolveRequest
	if err := params.Bind(c, &req); err != nil {
		return err
	}

	ctx, svc, err := ectoinject.GetContext[Service](c.Request().Context())
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	links, err := svc.Resolve(ctx, req)
	if err != nil {
		return err
	}

	ctx, logger, _ := ectoinject.GetContext[ectologger.Logger](ctx)
	if logger != nil {
		logger.WithContext(ctx).WithFields(map[string]any{
			"source":  req.Source.String(),
			"golden":  req.Golden.String(),
			"outcome": req.Outcome,
		}).Info("Resolved link")
	}

	return c.JSON(http.StatusOK, links)
}

func Unlink(c echo.Context) error {
	source, err := params.QueryRef(c, "source")
	if err != nil {
		return err
	}
	golden, err := params.QueryRef(c, "golden")
	if err != nil {
		return err
	}

	ctx, svc, err := ectoinject.GetContext[Service](c.Request().Context())
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	if err := svc.Unlink(ctx, models.LinkKey{Source: source, Golden: golden}); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
