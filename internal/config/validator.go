package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
)

// RegisterCustomValidators registers tame-specific validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("audit_secret_source", validateAuditSecretSource); err != nil {
		return fmt.Errorf("failed to register audit_secret_source validator: %w", err)
	}
	return nil
}

// validateAuditSecretSource validates the audit.secret_source field.
// Valid values: "env:VAR_NAME" or "file:///absolute/path".
func validateAuditSecretSource(fl validator.FieldLevel) bool {
	source := fl.Field().String()

	if strings.HasPrefix(source, "env:") {
		return strings.TrimPrefix(source, "env:") != ""
	}
	if strings.HasPrefix(source, "file://") {
		path := strings.TrimPrefix(source, "file://")
		return path != "" && filepath.IsAbs(path)
	}
	return false
}

// Validate validates Config using struct tags and cross-field rules.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	return nil
}

func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "audit_secret_source":
		return fmt.Sprintf("%s must be 'env:VAR_NAME' or 'file:///absolute/path'", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
