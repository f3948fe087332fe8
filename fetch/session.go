// Package fetch executes HTTP requests for a Session: default headers and
// timeouts, cookie jar, per host authorization and typed responses.
package fetch

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/shiroyk/courier"
	"github.com/shiroyk/courier/auth"
	"github.com/shiroyk/courier/cookie"
	"github.com/shiroyk/courier/lib/logger"
	"github.com/shiroyk/courier/lib/utils"
)

const (
	// DefaultTLSHandshakeTimeout bounds the TLS handshake when no connect timeout is set.
	DefaultTLSHandshakeTimeout = 10 * time.Second
	// maxRedirects followed before giving up.
	maxRedirects = 10
)

// DefaultHeaders are the session headers after NewSession and Reset.
var DefaultHeaders = map[string]string{
	"Accept-Encoding": "gzip, deflate",
	"Accept-Charset":  "UTF-8",
	"Connection":      "close",
}

// Options configures a new Session. Zero values take the defaults.
type Options struct {
	// Headers are set on top of DefaultHeaders.
	Headers        map[string]string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	// Proxy for every request, nil connects directly.
	Proxy    ProxyFunc
	Jar      *cookie.Jar
	Registry *auth.Registry
	// Logger receives request logs, slog.Default when nil.
	Logger *slog.Logger
}

// Session holds the defaults shared by requests, the cookie jar and the
// authorization registry. A Session is safe for concurrent use by multiple
// goroutines.
type Session struct {
	mu             sync.RWMutex
	headers        http.Header
	connectTimeout time.Duration
	readTimeout    time.Duration
	proxy          ProxyFunc

	jar      *cookie.Jar
	registry *auth.Registry
	log      *slog.Logger
}

// NewSession returns a new Session.
func NewSession(opt Options) *Session {
	s := &Session{
		headers:        defaultHeaders(),
		connectTimeout: opt.ConnectTimeout,
		readTimeout:    opt.ReadTimeout,
		proxy:          opt.Proxy,
		jar:            opt.Jar,
		registry:       opt.Registry,
		log:            logger.OrDefault(opt.Logger),
	}
	for k, v := range opt.Headers {
		s.headers.Set(k, v)
	}
	if s.jar == nil {
		s.jar = cookie.NewJar()
	}
	if s.registry == nil {
		s.registry = auth.NewRegistry()
	}
	return s
}

func defaultHeaders() http.Header {
	h := make(http.Header, len(DefaultHeaders))
	for k, v := range DefaultHeaders {
		h.Set(k, v)
	}
	return h
}

// Jar returns the session cookie jar.
func (s *Session) Jar() *cookie.Jar { return s.jar }

// Registry returns the session authorization registry.
func (s *Session) Registry() *auth.Registry { return s.registry }

// SetDefaultHeader sets a header sent with every request.
func (s *Session) SetDefaultHeader(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.headers.Set(key, value)
}

// RemoveDefaultHeader stops sending the header by default.
func (s *Session) RemoveDefaultHeader(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.headers.Del(key)
}

// DefaultHeader returns a copy of the default headers.
func (s *Session) DefaultHeader() http.Header {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.headers.Clone()
}

// SetDefaultConnectTimeout sets the connect timeout, zero for no limit.
func (s *Session) SetDefaultConnectTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectTimeout = d
}

// SetDefaultReadTimeout sets the read timeout, zero for no limit.
func (s *Session) SetDefaultReadTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readTimeout = d
}

// SetProxy sets the default proxy, nil connects directly.
func (s *Session) SetProxy(proxy ProxyFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proxy = proxy
}

// Reset clears the cookie jar and authorization registrations, restores the
// default headers and drops the timeouts and proxy.
func (s *Session) Reset() {
	s.jar.Clear()
	s.registry.Clear()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.headers = defaultHeaders()
	s.connectTimeout = 0
	s.readTimeout = 0
	s.proxy = nil
}

// Get issues a GET to rawURL.
func (s *Session) Get(rawURL string) (*Response, error) {
	return s.request(http.MethodGet, rawURL, nil)
}

// Head issues a HEAD to rawURL.
func (s *Session) Head(rawURL string) (*Response, error) {
	return s.request(http.MethodHead, rawURL, nil)
}

// Post issues a POST of payload to rawURL.
func (s *Session) Post(rawURL string, payload []byte) (*Response, error) {
	return s.request(http.MethodPost, rawURL, payload)
}

// Put issues a PUT of payload to rawURL.
func (s *Session) Put(rawURL string, payload []byte) (*Response, error) {
	return s.request(http.MethodPut, rawURL, payload)
}

func (s *Session) request(method, rawURL string, payload []byte) (*Response, error) {
	req, err := NewRequest(method, rawURL)
	if err != nil {
		return nil, err
	}
	return s.Do(req.Payload(payload))
}

type settings struct {
	header         http.Header
	connectTimeout time.Duration
	readTimeout    time.Duration
	proxy          ProxyFunc
}

func (s *Session) settings(req *Request) settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := settings{
		header:         s.headers.Clone(),
		connectTimeout: s.connectTimeout,
		readTimeout:    s.readTimeout,
		proxy:          s.proxy,
	}
	if req.connectTimeout != nil {
		st.connectTimeout = *req.connectTimeout
	}
	if req.readTimeout != nil {
		st.readTimeout = *req.readTimeout
	}
	if req.proxy != nil {
		st.proxy = req.proxy
	}
	return st
}

func (s *Session) client(req *Request, st settings) (*http.Client, *http.Transport) {
	transport := &http.Transport{
		DialContext:           dialer(st.connectTimeout, st.readTimeout),
		DisableCompression:    true,
		TLSHandshakeTimeout:   utils.ZeroOr(st.connectTimeout, DefaultTLSHandshakeTimeout),
		ResponseHeaderTimeout: st.readTimeout,
		IdleConnTimeout:       90 * time.Second,
	}
	if st.proxy != nil {
		transport.Proxy = st.proxy
	}

	client := &http.Client{
		Transport: transport,
		CheckRedirect: func(next *http.Request, via []*http.Request) error {
			if next.Response != nil && req.useCookies {
				s.storeCookies(next.Response)
			}
			if !req.followRedirects {
				return http.ErrUseLastResponse
			}
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			if req.useCookies {
				// the Cookie header of the first hop was copied, replace it with the new host's cookies
				next.Header.Del("Cookie")
				// explicit cookies stay on the original host
				if next.URL.Hostname() == req.url.Hostname() {
					cookie.AddToHeader(next.Header, req.cookies)
				}
				s.jar.AttachTo(next.Header, next.URL.Hostname())
			}
			return nil
		},
	}
	return client, transport
}

// Do sends req and classifies the response. The returned Response must be
// released with Teardown.
//
// A status of 400 or above is returned as a Response carrying the error body,
// unless req ignores error checks, then a *courier.StatusError is returned.
// Set-Cookie headers are stored in the jar on both paths when req uses cookies.
func (s *Session) Do(req *Request) (*Response, error) {
	if req.err != nil {
		return nil, req.err
	}
	st := s.settings(req)
	client, transport := s.client(req, st)
	log := s.log.With("method", req.method, "url", redact(req))

	if req.authorization != nil || req.useAuthorization {
		if err := s.registry.Apply(client, req); err != nil {
			transport.CloseIdleConnections()
			return nil, err
		}
	}

	var payload io.Reader
	if req.hasPayload() {
		payload = bytes.NewReader(req.payload)
	}
	hr, err := http.NewRequestWithContext(req.Context(), req.method, req.url.String(), payload)
	if err != nil {
		transport.CloseIdleConnections()
		return nil, err
	}

	header := st.header
	for k, v := range req.header {
		header[k] = append([]string(nil), v...)
	}
	if host := header.Get("Host"); host != "" {
		hr.Host = host
	}
	cookie.AddToHeader(header, req.cookies)
	if req.useCookies {
		s.jar.AttachTo(header, req.url.Hostname())
	}
	if req.hasPayload() && header.Get("Content-Type") == "" {
		header.Set("Content-Type", DefaultContentType)
	}
	hr.Header = header

	log.Info("Request")
	res, err := client.Do(hr)
	if err != nil {
		transport.CloseIdleConnections()
		return nil, err
	}
	log.Info("Response", "status", res.StatusCode)

	if req.useCookies {
		s.storeCookies(res)
	}

	if res.StatusCode >= http.StatusBadRequest && req.ignoreErrorChecks {
		_ = res.Body.Close()
		transport.CloseIdleConnections()
		return nil, &courier.StatusError{StatusCode: res.StatusCode, Status: res.Status, URL: res.Request.URL.String()}
	}

	var body *Body
	if req.method == http.MethodHead {
		_ = res.Body.Close()
	} else if body, err = decodeBody(res.Header.Get("Content-Encoding"), res.Body); err != nil {
		_ = res.Body.Close()
		transport.CloseIdleConnections()
		return nil, fmt.Errorf("decode %s body: %w", res.Header.Get("Content-Encoding"), err)
	}

	return newResponse(res, body, func() {
		transport.CloseIdleConnections()
	}), nil
}

func (s *Session) storeCookies(res *http.Response) {
	host := res.Request.URL.Hostname()
	cookies, err := cookie.Extract(res.Header, host)
	if err != nil {
		s.log.Warn("Malformed Set-Cookie", "host", host, "error", err)
	}
	if err = s.jar.PutAll(cookies); err != nil {
		s.log.Warn("Rejected cookie", "host", host, "error", err)
	}
}

func redact(req *Request) string {
	u := req.url
	return u.Scheme + "://" + u.Host + u.Path
}

// IsTimeout reports whether err is a connect or read timeout.
func IsTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
