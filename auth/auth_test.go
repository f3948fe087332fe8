package auth

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type testRequest struct {
	method   string
	u        *url.URL
	header   http.Header
	override Authorization
}

func newTestRequest(t *testing.T, method, rawURL string) *testRequest {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	return &testRequest{method: method, u: u, header: make(http.Header)}
}

func (r *testRequest) Context() context.Context { return context.Background() }
func (r *testRequest) Method() string { return r.method }
func (r *testRequest) URL() *url.URL { return r.u }
func (r *testRequest) SetHeader(key, value string) { r.header.Set(key, value) }
func (r *testRequest) Authorization() Authorization { return r.override }
func (r *testRequest) authorizationParams() map[string]string {
	return parseParams(strings.TrimPrefix(r.header.Get("Authorization"), "Digest "))
}

type clientFunc func(*http.Request) (*http.Response, error)

func (f clientFunc) Do(req *http.Request) (*http.Response, error) { return f(req) }

// countingAuth records Setup calls.
type countingAuth struct {
	name   string
	setups int
	resets int
}

func (a *countingAuth) Setup(_ Client, req Request) error {
	a.setups++
	req.SetHeader("Authorization", a.name)
	return nil
}

func (a *countingAuth) Reset() { a.resets++ }
