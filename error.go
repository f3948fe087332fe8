// Package courier is an HTTP session engine: persistent cookies, pluggable
// per-host authorization and typed response envelopes on top of net/http.
package courier

import (
	"errors"
	"fmt"
)

// ConfigurationError reports an invalid value handed to a constructor or
// builder, naming the offending field.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("configuration error: missing %s", e.Field)
	}
	return fmt.Sprintf("configuration error: %s %s", e.Field, e.Reason)
}

// Missing returns a ConfigurationError for a required field that was not set.
func Missing(field string) error {
	return &ConfigurationError{Field: field}
}

// Invalid returns a ConfigurationError for a field holding an unusable value.
func Invalid(field, reason string) error {
	return &ConfigurationError{Field: field, Reason: reason}
}

// StatusError is returned when a response status is treated as a failure
// instead of being surfaced as a response.
type StatusError struct {
	StatusCode int
	Status     string
	URL        string
}

func (e *StatusError) Error() string {
	status := e.Status
	if status == "" {
		status = fmt.Sprintf("%d", e.StatusCode)
	}
	if e.URL == "" {
		return fmt.Sprintf("server returned %s", status)
	}
	return fmt.Sprintf("server returned %s for %s", status, e.URL)
}

// IsStatus reports whether err is a StatusError carrying code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == code
	}
	return false
}
