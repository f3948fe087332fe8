// Package auth the per-host authorization strategies used by sessions
package auth

import (
	"context"
	"net/http"
	"net/url"
)

// Client sends a bare HTTP request. *http.Client satisfies it.
type Client interface {
	// Do sends an HTTP request and returns an HTTP response.
	Do(*http.Request) (*http.Response, error)
}

// Request is the view of an outgoing request an Authorization prepares.
type Request interface {
	Context() context.Context
	Method() string
	URL() *url.URL
	// SetHeader sets a request specific header, replacing any previous value.
	SetHeader(key, value string)
	// Authorization returns the request scoped strategy, or nil.
	Authorization() Authorization
}

// Authorization prepares requests for authentication against a host.
// Implementations of Authorization must be safe for concurrent use by multiple
// goroutines.
type Authorization interface {
	// Setup attaches credentials to req. c sends any round trip the
	// strategy needs before the request itself, such as a challenge probe.
	Setup(c Client, req Request) error
	// Reset clears any cached challenge state.
	Reset()
}
