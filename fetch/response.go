package fetch

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/transform"
)

// DefaultCharset is the charset assumed when Content-Type names none.
const DefaultCharset = "UTF-8"

// ErrNoBody is returned when reading a response that carries no body, such as HEAD.
var ErrNoBody = errors.New("fetch: response has no body")

// Kind discriminates the Response variants.
type Kind int

const (
	// KindBase any status that is neither a redirect nor 401.
	KindBase Kind = iota
	// KindRedirect a 301, 302, 303, 307 or 308 response, Location is set.
	KindRedirect
	// KindAuthenticate a 401 response, WWWAuthenticate is set.
	KindAuthenticate
)

func (k Kind) String() string {
	switch k {
	case KindRedirect:
		return "redirect"
	case KindAuthenticate:
		return "authenticate"
	default:
		return "base"
	}
}

// Response is the result of Session.Do. It owns the connection and must be
// released with Teardown once the body is consumed.
type Response struct {
	Kind       Kind
	StatusCode int
	Status     string
	// Charset from the Content-Type charset parameter, DefaultCharset if absent.
	Charset string
	Header  http.Header
	// URL of the final request, after any followed redirects.
	URL *url.URL

	// Location is the raw Location header of a KindRedirect response.
	Location string
	// WWWAuthenticate is the raw WWW-Authenticate header of a KindAuthenticate response.
	WWWAuthenticate string

	body       *Body
	disconnect func()
	teardown   sync.Once
	err        error
}

func newResponse(res *http.Response, body *Body, disconnect func()) *Response {
	r := &Response{
		StatusCode: res.StatusCode,
		Status:     res.Status,
		Charset:    charsetOf(res.Header.Get("Content-Type")),
		Header:     res.Header,
		body:       body,
		disconnect: disconnect,
	}
	if res.Request != nil {
		r.URL = res.Request.URL
	}
	switch {
	case isRedirect(res.StatusCode):
		r.Kind = KindRedirect
		r.Location = res.Header.Get("Location")
	case res.StatusCode == http.StatusUnauthorized:
		r.Kind = KindAuthenticate
		r.WWWAuthenticate = res.Header.Get("WWW-Authenticate")
	}
	return r
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

func charsetOf(contentType string) string {
	if contentType == "" {
		return DefaultCharset
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err == nil {
		if cs := strings.Trim(params["charset"], `"' `); cs != "" {
			return cs
		}
		return DefaultCharset
	}
	// lenient fallback for media types mime rejects
	for _, part := range strings.Split(contentType, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if ok && strings.EqualFold(key, "charset") {
			if cs := strings.Trim(value, `"' `); cs != "" {
				return cs
			}
		}
	}
	return DefaultCharset
}

// Body returns the raw body stream, nil for HEAD requests. Closing it does
// nothing, the stream is released by Teardown.
func (r *Response) Body() io.ReadCloser {
	if r.body == nil {
		return nil
	}
	return r.body
}

// Reader returns the body decoded from Charset to UTF-8.
func (r *Response) Reader() (io.Reader, error) {
	if r.body == nil {
		return nil, ErrNoBody
	}
	enc, _ := charset.Lookup(r.Charset)
	if enc == nil {
		return nil, fmt.Errorf("fetch: unsupported charset %q", r.Charset)
	}
	return transform.NewReader(r.body, enc.NewDecoder()), nil
}

// Bytes reads the whole raw body.
func (r *Response) Bytes() ([]byte, error) {
	if r.body == nil {
		return nil, ErrNoBody
	}
	return io.ReadAll(r.body)
}

// Text reads the whole body decoded to UTF-8.
func (r *Response) Text() (string, error) {
	reader, err := r.Reader()
	if err != nil {
		return "", err
	}
	b, err := io.ReadAll(reader)
	return string(b), err
}

// Teardown drops the connection, then closes the body stream. Calls after
// the first do nothing and return the first result.
func (r *Response) Teardown() error {
	r.teardown.Do(func() {
		if r.disconnect != nil {
			r.disconnect()
		}
		if r.body != nil {
			r.err = r.body.ForceClose()
		}
	})
	return r.err
}
