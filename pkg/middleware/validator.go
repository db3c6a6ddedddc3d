package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/go-playground/validator/v10"
)

// Validator adapts go-playground/validator to echo.Validator. Failures are 400 httperrors naming
// the first offending field.
type Validator struct {
	validate *validator.Validate
}

func NewValidator() *Validator {
	return &Validator{validate: validator.New()}
}

func (v *Validator) Validate(i any) error {
	err := v.validate.Struct(i)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return httperror.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("%s failed %q validation", fe.Namespace(), fe.Tag()))
	}
	return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
}
