package api

import (
	"github.com/go-playground/validator/v10"

	"github.com/dukerupert/sindri/internal/domain"
)

// Validator adapts go-playground/validator to echo's Validator interface.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates the request validator.
func NewValidator() *Validator {
	return &Validator{validate: validator.New()}
}

// Validate implements echo.Validator. Field-level failures surface as one
// generic validation error; business rules produce their own messages at
// the service layer.
func (v *Validator) Validate(i any) error {
	if err := v.validate.Struct(i); err != nil {
		return domain.WrapError(err, domain.EINVALID, "", "Invalid request body")
	}
	return nil
}
