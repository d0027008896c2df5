package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidationError represents a single validation error with context.
type ValidationError struct {
	FieldPath string // Dot-notation field path (e.g. "general.interface")
	Message   string // Human-readable error message
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("validation failed with %d error(s):\n", len(ve)))
	for i, err := range ve {
		sb.WriteString(fmt.Sprintf("  %d. %s: %s\n", i+1, err.FieldPath, err.Message))
	}
	return sb.String()
}

var validate = validator.New()

// ValidateConfig validates the entire configuration and returns all
// validation errors collected into a single ValidationErrors value.
func (c *Config) ValidateConfig() error {
	var validationErrors ValidationErrors

	if c.General == nil {
		validationErrors = append(validationErrors, ValidationError{
			FieldPath: "general",
			Message:   "configuration must contain a 'general' section",
		})
	} else if err := validate.Struct(c.General); err != nil {
		validationErrors = append(validationErrors, convertValidatorErrors(err, "general")...)
	}

	if c.Policy == nil {
		validationErrors = append(validationErrors, ValidationError{
			FieldPath: "policy",
			Message:   "configuration must contain a 'policy' section",
		})
	} else if err := validate.Struct(c.Policy); err != nil {
		validationErrors = append(validationErrors, convertValidatorErrors(err, "policy")...)
	}

	for i, ex := range c.Exemptions {
		if err := validate.Struct(ex); err != nil {
			validationErrors = append(validationErrors, convertValidatorErrors(err, fmt.Sprintf("exemption.%d", i))...)
		}
		if ex.Port > 0 && ex.Proto == "" {
			validationErrors = append(validationErrors, ValidationError{
				FieldPath: fmt.Sprintf("exemption.%d.port", i),
				Message:   "port requires a protocol",
			})
		}
	}

	if c.API != nil {
		if err := validate.Struct(c.API); err != nil {
			validationErrors = append(validationErrors, convertValidatorErrors(err, "api")...)
		}
	}

	if len(validationErrors) > 0 {
		return validationErrors
	}
	return nil
}

// getValidationMessage returns a human-readable message for a validation error.
func getValidationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "field is required"
	case "min":
		return fmt.Sprintf("must have at least %s element(s)", e.Param())
	case "gte":
		return fmt.Sprintf("must be >= %s", e.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", e.Param())
	case "hostname_port":
		return "must be in 'host:port' format"
	default:
		return fmt.Sprintf("validation failed: %s", e.Tag())
	}
}

// convertValidatorErrors converts validator.ValidationErrors into our
// ValidationErrors, prefixing field paths with the section name.
func convertValidatorErrors(err error, fieldPrefix string) ValidationErrors {
	var result ValidationErrors

	fieldErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return ValidationErrors{{FieldPath: fieldPrefix, Message: err.Error()}}
	}

	for _, fe := range fieldErrors {
		result = append(result, ValidationError{
			FieldPath: fieldPrefix + "." + strings.ToLower(fe.Field()),
			Message:   getValidationMessage(fe),
		})
	}
	return result
}
