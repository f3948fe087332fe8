// Package cookie implements the cookie jar used by sessions: domain keyed
// storage, Set-Cookie parsing and Cookie header serialization.
package cookie

import (
	"strings"

	"github.com/shiroyk/courier"
)

// Cookie represents a single HTTP cookie.
//
// Identity is (Domain, Name, Path). Value, Expires and the flags are not part
// of identity, storing a cookie with the same identity replaces the old one.
type Cookie struct {
	Name  string
	Value string
	// Domain is matched as a substring of the request host.
	Domain string
	Path   string
	// Expires is kept verbatim as received, it is never parsed into a date.
	Expires  string
	Secure   bool
	HttpOnly bool
}

// Option configures a Cookie built with New.
type Option func(*Cookie)

// WithPath sets the cookie path.
func WithPath(path string) Option {
	return func(c *Cookie) { c.Path = path }
}

// WithExpires sets the raw expiry string.
func WithExpires(expires string) Option {
	return func(c *Cookie) { c.Expires = expires }
}

// Secure marks the cookie secure.
func Secure() Option {
	return func(c *Cookie) { c.Secure = true }
}

// HTTPOnly marks the cookie http only.
func HTTPOnly() Option {
	return func(c *Cookie) { c.HttpOnly = true }
}

// New returns a validated Cookie. Path defaults to "/".
func New(name, value, domain string, opts ...Option) (Cookie, error) {
	c := Cookie{Name: name, Value: value, Domain: domain, Path: "/"}
	for _, opt := range opts {
		opt(&c)
	}
	if err := c.Validate(); err != nil {
		return Cookie{}, err
	}
	return c, nil
}

// Validate reports a *courier.ConfigurationError naming the first missing field.
func (c Cookie) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return courier.Missing("name")
	}
	if strings.TrimSpace(c.Domain) == "" {
		return courier.Missing("domain")
	}
	return nil
}

// Same reports whether c and o share the same identity.
func (c Cookie) Same(o Cookie) bool {
	return c.Domain == o.Domain && c.Name == o.Name && c.Path == o.Path
}

// Pair returns the "name=value" form sent in a Cookie header.
func (c Cookie) Pair() string {
	return c.Name + "=" + c.Value
}

// String returns the Set-Cookie serialization of the cookie.
func (c Cookie) String() string {
	var b strings.Builder
	b.WriteString(c.Pair())
	if c.Domain != "" {
		b.WriteString("; Domain=")
		b.WriteString(c.Domain)
	}
	if c.Path != "" {
		b.WriteString("; Path=")
		b.WriteString(c.Path)
	}
	if c.Expires != "" {
		b.WriteString("; Expires=")
		b.WriteString(c.Expires)
	}
	if c.Secure {
		b.WriteString("; Secure")
	}
	if c.HttpOnly {
		b.WriteString("; HttpOnly")
	}
	return b.String()
}

// Header joins the cookies as "name1=value1; name2=value2".
func Header(cookies []Cookie) string {
	switch len(cookies) {
	case 0:
		return ""
	case 1:
		return cookies[0].Pair()
	}

	var b strings.Builder
	b.WriteString(cookies[0].Pair())
	for _, c := range cookies[1:] {
		b.WriteString("; ")
		b.WriteString(c.Pair())
	}
	return b.String()
}
