package config

import (
	"fmt"

	"github.com/polisai/polis-recruit/pkg/domain"
)

// ConfigError represents a configuration validation error.
//
//nolint:revive // mirrors domain.DomainError naming
type ConfigError struct {
	Field       string
	Value       interface{}
	Reason      string
	Suggestions []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error in field '%s': %s", e.Field, e.Reason)
}

// Unwrap lets callers match every validation failure with domain.ErrConfigInvalid.
func (e *ConfigError) Unwrap() error {
	return domain.ErrConfigInvalid
}

func (e *ConfigError) WithSuggestion(suggestion string) *ConfigError {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

func NewConfigMissingError(field string) *ConfigError {
	return &ConfigError{
		Field:  field,
		Reason: fmt.Sprintf("required field '%s' is missing", field),
	}
}

func NewConfigValidationError(field string, value interface{}, reason string) *ConfigError {
	return &ConfigError{
		Field:  field,
		Value:  value,
		Reason: reason,
	}
}
