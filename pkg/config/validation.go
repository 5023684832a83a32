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
// Declarative validation runs through go-playground/validator struct tags;
// rules that cannot be expressed in tags are checked afterwards.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	return validateCustomRules(cfg)
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	// The framing layer reads a 4-byte record mark whose length field is 31
	// bits; a larger ceiling could never be honored on the wire.
	const maxFrameLength = 1<<31 - 1
	if cfg.Server.MaxMessageSize > maxFrameLength {
		return fmt.Errorf("server.max_message_size: %d exceeds the 31-bit record-mark limit", cfg.Server.MaxMessageSize)
	}

	if cfg.Auth.Flavor == "unix" {
		if _, err := BuildClientAuth(&cfg.Auth); err != nil {
			return fmt.Errorf("auth.unix: %w", err)
		}
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
