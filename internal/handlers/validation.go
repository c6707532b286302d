package handlers

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ValidationErrorResponse represents a validation error with field-level details
type ValidationErrorResponse struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

var validate = validator.New()

// ValidateRequest validates a request struct using go-playground/validator and
// reports the first failing field.
func ValidateRequest(req interface{}) error {
	if err := validate.Struct(req); err != nil {
		if ve, ok := err.(validator.ValidationErrors); ok && len(ve) > 0 {
			first := ValidationErrorResponse{
				Field:   ve[0].Field(),
				Message: formatValidationError(ve[0]),
			}
			return fmt.Errorf("validation failed: %s: %s", first.Field, first.Message)
		}
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// ValidateIP reports whether s is a literal IPv4 or IPv6 address.
func ValidateIP(s string) bool {
	return validate.Var(s, "required,ip") == nil
}

func formatValidationError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "email":
		return "must be a valid email address"
	case "ip":
		return "must be a valid IP address"
	case "numeric":
		return "must contain only digits"
	case "len":
		return fmt.Sprintf("must be exactly %s characters", fe.Param())
	case "min":
		return fmt.Sprintf("must have a minimum of %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must have a maximum of %s characters", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", fe.Param())
	default:
		return fmt.Sprintf("failed validation: %s", fe.Tag())
	}
}
