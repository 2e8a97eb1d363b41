package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// This function uses go-playground/validator for declarative validation
// via struct tags, with additional custom validation for complex rules
// that cannot be expressed in tags.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
//
// Returns an error describing validation failures.
func Validate(cfg *Config) error {
	// Run struct tag validation
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	// Custom validation rules that can't be expressed in tags
	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	names := make(map[string]bool)
	objectPaths := make(map[string]bool)
	specs := make(map[string]bool)

	for i := range cfg.Backends {
		b := &cfg.Backends[i]

		// Backend names are unique
		if names[b.Name] {
			return fmt.Errorf("backends[%d]: duplicate backend name %q", i, b.Name)
		}
		names[b.Name] = true

		// Explicit object paths are unique
		if b.ObjectPath != "" {
			if objectPaths[b.ObjectPath] {
				return fmt.Errorf("backends[%d]: duplicate object path %q", i, b.ObjectPath)
			}
			objectPaths[b.ObjectPath] = true
		}

		// The spec must be registrable. Two backends with the same spec
		// would make lookups ambiguous.
		spec := b.MountSpec()
		if err := spec.Validate(); err != nil {
			return fmt.Errorf("backends[%d]: %w", i, err)
		}
		key := spec.String()
		if specs[key] {
			return fmt.Errorf("backends[%d]: duplicate mount spec %q", i, key)
		}
		specs[key] = true
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		// Return the first validation error with context
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
