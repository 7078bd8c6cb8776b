// Package validation checks client-supplied records before they reach the
// local store.
package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ValidationError is one rejected field, serialized into 422 responses.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func fieldError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Collector gathers every failure so a client sees all of them at once.
type Collector struct {
	errors []ValidationError
}

// Add records err; nil is ignored.
func (c *Collector) Add(err *ValidationError) {
	if err != nil {
		c.errors = append(c.errors, *err)
	}
}

func (c *Collector) HasErrors() bool { return len(c.errors) > 0 }

func (c *Collector) Errors() []ValidationError { return c.errors }

func ValidateUTF8(field, value string) *ValidationError {
	if utf8.ValidString(value) {
		return nil
	}
	return fieldError(field, "must be valid UTF-8")
}

func ValidateNoNullBytes(field, value string) *ValidationError {
	if !strings.ContainsRune(value, 0) {
		return nil
	}
	return fieldError(field, "must not contain null bytes")
}

// ValidateMaxLength counts runes, not bytes.
func ValidateMaxLength(field, value string, max int) *ValidationError {
	if utf8.RuneCountInString(value) <= max {
		return nil
	}
	return fieldError(field, "exceeds maximum length of %d characters", max)
}

// ValidateUUID accepts only the 36-character hyphenated form.
func ValidateUUID(field, value string) *ValidationError {
	if len(value) != 36 {
		return fieldError(field, "must be a valid UUID (36 characters)")
	}
	if _, err := uuid.Parse(value); err != nil {
		return fieldError(field, "must be a valid UUID")
	}
	return nil
}

func ValidateRequired(field, value string) *ValidationError {
	if strings.TrimSpace(value) != "" {
		return nil
	}
	return fieldError(field, "is required")
}

// ValidateEnum is case-sensitive.
func ValidateEnum(field, value string, allowed []string) *ValidationError {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fieldError(field, "must be one of: %s", strings.Join(allowed, ", "))
}

func ValidateNonNegative(field string, value float64) *ValidationError {
	if value >= 0 {
		return nil
	}
	return fieldError(field, "must not be negative")
}

// ValidateText applies the encoding and length checks shared by free-text
// fields.
func ValidateText(c *Collector, field, value string, max int) {
	c.Add(ValidateUTF8(field, value))
	c.Add(ValidateNoNullBytes(field, value))
	c.Add(ValidateMaxLength(field, value, max))
}

// ValidateOptionalText is ValidateText for nullable fields.
func ValidateOptionalText(c *Collector, field string, value *string, max int) {
	if value != nil {
		ValidateText(c, field, *value, max)
	}
}
