package match

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/pkg/matching"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/routes/params"
)

type Evaluator interface {
	Evaluate(ctx context.Context, left, right models.Record) (models.EvaluateResponse, error)
}

// Register registers the scoring route. Nothing it scores is stored.
func Register(g *echo.Group) {
	g.POST("/evaluate", Evaluate)
}

// Evaluate scores two inline documents against the loaded rule set
func Evaluate(c echo.Context) error {
	var req models.EvaluateRequest
	if err := params.Bind(c, &req); err != nil {
		return err
	}

	ctx, evaluator, err := ectoinject.GetContext[Evaluator](c.Request().Context())
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	resp, err := evaluator.Evaluate(ctx, models.Record{Data: req.Left}, models.Record{Data: req.Right})
	if err != nil {
		if matching.IsTypeError(err) {
			return httperror.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		}
		return err
	}
	return c.JSON(http.StatusOK, resp)
}
