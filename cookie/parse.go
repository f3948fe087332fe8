package cookie

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ParseError reports a Set-Cookie value that could not be parsed.
type ParseError struct {
	// Header is the raw header value. It may carry a cookie value, do not log it.
	Header string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cookie: malformed Set-Cookie header: %s", e.Reason)
}

// setCookieKeys the response header keys carrying cookies
var setCookieKeys = []string{"Set-Cookie", "Set-Cookie2"}

// Parse parses one Set-Cookie header value received from host.
// A missing Domain defaults to host and a missing Path defaults to "/".
func Parse(raw, host string) (Cookie, error) {
	parts := strings.Split(raw, ";")
	name, value, ok := strings.Cut(parts[0], "=")
	name = strings.TrimSpace(name)
	if !ok {
		return Cookie{}, &ParseError{Header: raw, Reason: "missing name=value pair"}
	}
	if name == "" {
		return Cookie{}, &ParseError{Header: raw, Reason: "empty cookie name"}
	}

	c := Cookie{Name: name, Value: strings.TrimSpace(value)}
	for _, part := range parts[1:] {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, val, _ := strings.Cut(part, "=")
		val = strings.TrimSpace(val)
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "domain":
			c.Domain = val
		case "path":
			c.Path = val
		case "expires":
			c.Expires = val
		case "secure":
			c.Secure = true
		case "httponly":
			c.HttpOnly = true
		}
	}

	if c.Domain == "" {
		c.Domain = host
	}
	if c.Path == "" {
		c.Path = "/"
	}
	return c, nil
}

// Extract parses every Set-Cookie header in h. Malformed values do not stop
// the others from being collected, their errors are joined into the returned error.
func Extract(h http.Header, host string) ([]Cookie, error) {
	var (
		cookies []Cookie
		errs    []error
	)
	for _, key := range setCookieKeys {
		for _, line := range h.Values(key) {
			c, err := Parse(line, host)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			cookies = append(cookies, c)
		}
	}
	return cookies, errors.Join(errs...)
}

// AddToHeader merges the cookies into the Cookie header of h, appending to a
// value that is already present instead of overwriting it.
func AddToHeader(h http.Header, cookies []Cookie) {
	value := Header(cookies)
	if value == "" {
		return
	}
	if prev := h.Get("Cookie"); prev != "" {
		value = prev + "; " + value
	}
	h.Set("Cookie", value)
}
