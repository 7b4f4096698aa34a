package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validate validates the ShieldConfig using struct tags and cross-field rules.
func (c *ShieldConfig) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	return c.validatePolicyIDsUnique()
}

// validatePolicyIDsUnique enforces the §3 invariant that a policy id
// uniquely identifies a policy within the effective set, at the level of
// the fallback-seeded config slice.
func (c *ShieldConfig) validatePolicyIDsUnique() error {
	seen := make(map[string]struct{}, len(c.Policies))
	for _, p := range c.Policies {
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("policies: duplicate id %q", p.ID)
		}
		seen[p.ID] = struct{}{}
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
		return fmt.Sprintf("%s must have at least %s items", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "required_if":
		return fmt.Sprintf("%s is required given %s", field, e.Param())
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
