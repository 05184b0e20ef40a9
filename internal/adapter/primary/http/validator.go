package http

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/cashflow/payment-orchestrator/internal/core"
)

// RequestValidator adapts validator/v10 to echo.Validator. Failures come back
// as a ValidationError keyed by JSON field name.
type RequestValidator struct {
	v *validator.Validate
}

var _ echo.Validator = (*RequestValidator)(nil)

func NewRequestValidator() *RequestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &RequestValidator{v: v}
}

func (rv *RequestValidator) Validate(i any) error {
	err := rv.v.Struct(i)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return core.NewValidationError("invalid request", nil)
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = describe(fe)
	}
	return core.NewValidationError("invalid request", fields)
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "len":
		return "must be " + fe.Param() + " characters"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "uuid":
		return "must be a uuid"
	case "alpha":
		return "must contain letters only"
	default:
		return "failed " + fe.Tag()
	}
}

// bindAndValidate binds the body into dst and validates it
func bindAndValidate(c echo.Context, dst any) error {
	if err := bind(c, dst); err != nil {
		return err
	}
	return c.Validate(dst)
}

func bind(c echo.Context, dst any) error {
	if err := c.Bind(dst); err != nil {
		return core.NewValidationError("invalid request body", nil)
	}
	return nil
}
