package fetch

import (
	"context"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/shiroyk/courier"
	"github.com/shiroyk/courier/auth"
	"github.com/shiroyk/courier/cookie"
	"golang.org/x/exp/slices"
	"golang.org/x/net/html/charset"
)

// DefaultContentType is sent with POST and PUT payloads that set no Content-Type.
const DefaultContentType = "application/x-www-form-urlencoded; charset=UTF-8"

var methods = []string{http.MethodGet, http.MethodPost, http.MethodHead, http.MethodPut}

// Request describes one HTTP call with its per call overrides. It is built
// with the chained setters and executed once by Session.Do.
type Request struct {
	ctx    context.Context
	method string
	url    *url.URL
	err    error

	proxy          ProxyFunc
	connectTimeout *time.Duration
	readTimeout    *time.Duration

	followRedirects   bool
	ignoreErrorChecks bool
	useCookies        bool
	useAuthorization  bool

	authorization auth.Authorization
	cookies       []cookie.Cookie
	payload       []byte
	header        http.Header
}

// NewRequest returns a Request for method and the absolute rawURL.
// Cookies and registered authorization are used by default, redirects are not followed.
func NewRequest(method, rawURL string) (*Request, error) {
	method = strings.ToUpper(method)
	if method == "" {
		return nil, courier.Missing("method")
	}
	if !slices.Contains(methods, method) {
		return nil, courier.Invalid("method", method+" is not one of "+strings.Join(methods, ", "))
	}

	if rawURL == "" {
		return nil, courier.Missing("url")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, courier.Invalid("url", err.Error())
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, courier.Invalid("url", rawURL+" is not absolute")
	}

	return &Request{
		method:           method,
		url:              u,
		useCookies:       true,
		useAuthorization: true,
		header:           make(http.Header),
	}, nil
}

// WithContext sets the context the request is sent with.
func (r *Request) WithContext(ctx context.Context) *Request {
	r.ctx = ctx
	return r
}

// Context returns the request context, context.Background when unset.
func (r *Request) Context() context.Context {
	if r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

// Method returns the request method.
func (r *Request) Method() string { return r.method }

// URL returns the target URL.
func (r *Request) URL() *url.URL { return r.url }

// IgnoreErrorChecks controls error statuses. When false, the default, a status
// of 400 or above is returned as a Response carrying the error body. When true
// Session.Do returns a *courier.StatusError instead.
func (r *Request) IgnoreErrorChecks(ignore bool) *Request {
	r.ignoreErrorChecks = ignore
	return r
}

// FollowRedirects makes the session follow redirects instead of returning them.
func (r *Request) FollowRedirects(follow bool) *Request {
	r.followRedirects = follow
	return r
}

// ConnectTimeout overrides the session connect timeout.
func (r *Request) ConnectTimeout(d time.Duration) *Request {
	r.connectTimeout = &d
	return r
}

// ReadTimeout overrides the session read timeout.
func (r *Request) ReadTimeout(d time.Duration) *Request {
	r.readTimeout = &d
	return r
}

// Proxy overrides the session proxy.
func (r *Request) Proxy(proxy ProxyFunc) *Request {
	r.proxy = proxy
	return r
}

// UseCookies controls whether jar cookies are sent and response cookies stored.
func (r *Request) UseCookies(use bool) *Request {
	r.useCookies = use
	return r
}

// AddCookie sends c ahead of the jar cookies.
func (r *Request) AddCookie(c ...cookie.Cookie) *Request {
	r.cookies = append(r.cookies, c...)
	return r
}

// UseAuthorization controls whether the registry strategy for the host runs.
func (r *Request) UseAuthorization(use bool) *Request {
	r.useAuthorization = use
	return r
}

// SetAuthorization sets a strategy that always runs for this request, in
// place of the registry lookup.
func (r *Request) SetAuthorization(a auth.Authorization) *Request {
	r.authorization = a
	return r
}

// Authorization returns the strategy set by SetAuthorization.
func (r *Request) Authorization() auth.Authorization { return r.authorization }

// Header sets a header, overriding the session default of the same name.
func (r *Request) Header(key, value string) *Request {
	r.header.Set(key, value)
	return r
}

// SetHeader sets a header, used by authorization strategies.
func (r *Request) SetHeader(key, value string) {
	r.header.Set(key, value)
}

// Headers returns the header overrides.
func (r *Request) Headers() http.Header { return r.header }

// Payload sets the raw body sent with POST and PUT.
func (r *Request) Payload(p []byte) *Request {
	r.payload = p
	return r
}

// Form sets the payload to the url encoded values, encoded in the named charset.
func (r *Request) Form(values url.Values, charsetName string) *Request {
	if charsetName == "" {
		charsetName = "UTF-8"
	}
	enc, _ := charset.Lookup(charsetName)
	if enc == nil {
		r.err = courier.Invalid("charset", "unknown "+charsetName)
		return r
	}
	encoder := enc.NewEncoder()
	escape := func(s string) (string, error) {
		b, err := encoder.String(s)
		if err != nil {
			return "", err
		}
		return url.QueryEscape(b), nil
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		key, err := escape(k)
		if err != nil {
			r.err = courier.Invalid("form", err.Error())
			return r
		}
		for _, v := range values[k] {
			value, err := escape(v)
			if err != nil {
				r.err = courier.Invalid("form", err.Error())
				return r
			}
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(key)
			b.WriteByte('=')
			b.WriteString(value)
		}
	}
	r.header.Set("Content-Type", "application/x-www-form-urlencoded; charset="+charsetName)
	r.payload = []byte(b.String())
	return r
}

// Query appends the encoded values to the URL query.
func (r *Request) Query(values url.Values) *Request {
	encoded := values.Encode()
	if encoded == "" {
		return r
	}
	if r.url.RawQuery != "" {
		r.url.RawQuery += "&" + encoded
	} else {
		r.url.RawQuery = encoded
	}
	return r
}

// Pair is one name/value pair of a query string.
type Pair struct {
	Name  string
	Value string
}

// QueryValues returns the query pairs of u in the order they appear.
func QueryValues(u *url.URL) ([]Pair, error) {
	var pairs []Pair
	for _, part := range strings.Split(u.RawQuery, "&") {
		if part == "" {
			continue
		}
		name, value, _ := strings.Cut(part, "=")
		name, err := url.QueryUnescape(name)
		if err != nil {
			return nil, err
		}
		if value, err = url.QueryUnescape(value); err != nil {
			return nil, err
		}
		pairs = append(pairs, Pair{name, value})
	}
	return pairs, nil
}

func (r *Request) hasPayload() bool {
	return r.payload != nil && (r.method == http.MethodPost || r.method == http.MethodPut)
}
