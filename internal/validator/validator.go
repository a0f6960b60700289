// Package validator wraps go-playground/validator/v10 for the relay's
// inbound shapes: socket frames and the admin surface's JSON bodies.
package validator

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/streamspace/streamspace/api/internal/errors"
)

var validate = validator.New()

// ValidateStruct validates a struct and returns the raw validator error.
func ValidateStruct(s interface{}) error {
	return validate.Struct(s)
}

// ValidateRequest validates a request struct and returns formatted errors.
// Returns nil if validation passes, or a map of field errors.
func ValidateRequest(s interface{}) map[string]string {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	fieldErrors := make(map[string]string)
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		for _, e := range validationErrs {
			field := strings.ToLower(e.Field())
			fieldErrors[field] = formatValidationError(e)
		}
	}
	return fieldErrors
}

// BindAndValidate binds JSON and validates in one step, writing a
// RelayError response and returning false on either failure.
func BindAndValidate(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		relayErr := errors.InvalidMessageFormat("malformed request body")
		c.JSON(relayErr.StatusCode, relayErr)
		return false
	}

	if fieldErrors := ValidateRequest(req); fieldErrors != nil {
		details := make([]string, 0, len(fieldErrors))
		for field, msg := range fieldErrors {
			details = append(details, fmt.Sprintf("%s: %s", field, msg))
		}
		relayErr := errors.NewWithDetails(errors.CodeInvalidMessageFormat, "validation failed", strings.Join(details, "; "))
		c.JSON(relayErr.StatusCode, relayErr)
		return false
	}

	return true
}

// formatValidationError converts validator errors to human-readable messages.
func formatValidationError(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", e.Field())
	case "min":
		return fmt.Sprintf("must be at least %s characters", e.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", e.Param())
	case "uuid":
		return "must be a valid UUID"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", e.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", e.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", e.Param())
	default:
		return fmt.Sprintf("validation failed: %s", e.Tag())
	}
}
