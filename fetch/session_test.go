package fetch

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/shiroyk/courier"
	"github.com/shiroyk/courier/auth"
	"github.com/shiroyk/courier/cookie"
	"github.com/shiroyk/courier/internal/testserver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSession() *Session {
	return NewSession(Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
}

func do(t *testing.T, s *Session, req *Request) *Response {
	t.Helper()
	res, err := s.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = res.Teardown() })
	return res
}

func get(t *testing.T, s *Session, rawURL string) *Response {
	t.Helper()
	req, err := NewRequest(http.MethodGet, rawURL)
	require.NoError(t, err)
	return do(t, s, req)
}

func text(t *testing.T, res *Response) string {
	t.Helper()
	s, err := res.Text()
	require.NoError(t, err)
	return s
}

// echoed parses the request headers written back by the /echo route.
func echoed(t *testing.T, res *Response) (http.Header, string) {
	t.Helper()
	r := textproto.NewReader(bufio.NewReader(strings.NewReader(text(t, res))))
	h, err := r.ReadMIMEHeader()
	require.NoError(t, err)
	body, err := io.ReadAll(r.R)
	require.NoError(t, err)
	return http.Header(h), string(body)
}

func TestClassification(t *testing.T) {
	t.Parallel()
	ts := testserver.New()
	defer ts.Close()
	s := newSession()

	res := get(t, s, ts.URL+"/redirect")
	assert.Equal(t, KindRedirect, res.Kind)
	assert.Equal(t, http.StatusFound, res.StatusCode)
	assert.Equal(t, "/open", res.Location)

	res = get(t, s, ts.URL+"/status/401")
	assert.Equal(t, KindAuthenticate, res.Kind)
	assert.Equal(t, `Basic realm="fixture"`, res.WWWAuthenticate)
	assert.Empty(t, res.Location)

	for _, path := range []string{"/open", "/status/500", "/status/304"} {
		res = get(t, s, ts.URL+path)
		assert.Equal(t, KindBase, res.Kind, path)
		assert.Empty(t, res.Location)
		assert.Empty(t, res.WWWAuthenticate)
	}
}

func TestErrorChecks(t *testing.T) {
	t.Parallel()
	ts := testserver.New()
	defer ts.Close()
	s := newSession()

	res := get(t, s, ts.URL+"/status/404")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, "status 404", text(t, res))

	req, err := NewRequest(http.MethodGet, ts.URL+"/status/404")
	require.NoError(t, err)
	res, err = s.Do(req.IgnoreErrorChecks(true))
	assert.Nil(t, res)
	assert.True(t, courier.IsStatus(err, http.StatusNotFound))

	// below 400 nothing changes
	req, err = NewRequest(http.MethodGet, ts.URL+"/open")
	require.NoError(t, err)
	res = do(t, s, req.IgnoreErrorChecks(true))
	assert.Equal(t, "open", text(t, res))
}

func TestErrorChecksStoreCookies(t *testing.T) {
	t.Parallel()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "err", Value: r.URL.Path})
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()
	s := newSession()

	req, err := NewRequest(http.MethodGet, ts.URL+"/a")
	require.NoError(t, err)
	_, err = s.Do(req.IgnoreErrorChecks(true))
	require.Error(t, err)

	c, ok := s.Jar().Get("ERR")
	require.True(t, ok)
	assert.Equal(t, "/a", c.Value)
	assert.Equal(t, "127.0.0.1", c.Domain)
}

func TestTeardown(t *testing.T) {
	t.Parallel()
	ts := testserver.New()
	defer ts.Close()
	s := newSession()

	req, err := NewRequest(http.MethodGet, ts.URL+"/open")
	require.NoError(t, err)
	res, err := s.Do(req)
	require.NoError(t, err)

	body := res.Body()
	require.NoError(t, body.Close())
	b, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "open", string(b))

	require.NoError(t, res.Teardown())
	require.NoError(t, res.Teardown())
	require.NoError(t, body.Close())

	_, err = body.Read(make([]byte, 1))
	assert.ErrorIs(t, err, ErrBodyClosed)
}

func TestDigest(t *testing.T) {
	t.Parallel()
	ts := testserver.New()
	defer ts.Close()
	s := newSession()
	u, _ := url.Parse(ts.URL)
	s.Registry().Register(u.Hostname(), auth.NewDigest(testserver.Username, testserver.Password))

	for i := 0; i < 2; i++ {
		res := get(t, s, ts.URL+"/secure")
		assert.Equal(t, http.StatusOK, res.StatusCode)
		assert.Equal(t, "secret", text(t, res))
	}

	// one probe then two authorized requests
	assert.Equal(t, 3, ts.Count(http.MethodGet, "/secure"))
	assert.Equal(t, []string{"00000001", "00000002"}, ts.NonceCounts())
}

func TestDigestOverride(t *testing.T) {
	t.Parallel()
	ts := testserver.New()
	defer ts.Close()
	s := newSession()
	d := auth.NewDigest(testserver.Username, testserver.Password)

	req, err := NewRequest(http.MethodPost, ts.URL+"/secure/upload")
	require.NoError(t, err)
	res := do(t, s, req.UseAuthorization(false).SetAuthorization(d).Payload([]byte("x")))
	assert.Equal(t, http.StatusOK, res.StatusCode)

	// without the override nothing authorizes the request
	req, err = NewRequest(http.MethodGet, ts.URL+"/secure")
	require.NoError(t, err)
	res = do(t, s, req)
	assert.Equal(t, KindAuthenticate, res.Kind)
	assert.Equal(t, ts.Challenge, res.WWWAuthenticate)
}

func TestDigestConcurrent(t *testing.T) {
	t.Parallel()
	ts := testserver.New()
	defer ts.Close()
	s := newSession()
	u, _ := url.Parse(ts.URL)
	s.Registry().Register(u.Hostname(), auth.NewDigest(testserver.Username, testserver.Password))

	const n = 16
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.Get(ts.URL + "/secure")
			if !assert.NoError(t, err) {
				return
			}
			defer res.Teardown()
			assert.Equal(t, http.StatusOK, res.StatusCode)
		}()
	}
	wg.Wait()

	assert.Equal(t, n+1, ts.Count(http.MethodGet, "/secure"))
	assert.Len(t, ts.NonceCounts(), n)
}

func TestCookies(t *testing.T) {
	t.Parallel()
	ts := testserver.New()
	defer ts.Close()
	s := newSession()

	get(t, s, ts.URL+"/cookie/set?c="+url.QueryEscape("sid=1; Path=/; HttpOnly")+"&c="+url.QueryEscape("lang=en"))
	assert.Equal(t, 2, s.Jar().Len())

	h, _ := echoed(t, get(t, s, ts.URL+"/echo"))
	assert.Equal(t, "sid=1; lang=en", h.Get("Cookie"))

	manual, err := cookie.New("manual", "0", "127.0.0.1")
	require.NoError(t, err)
	req, err := NewRequest(http.MethodGet, ts.URL+"/echo")
	require.NoError(t, err)
	h, _ = echoed(t, do(t, s, req.AddCookie(manual).Header("Cookie", "raw=1")))
	assert.Equal(t, "raw=1; manual=0; sid=1; lang=en", h.Get("Cookie"))

	req, err = NewRequest(http.MethodGet, ts.URL+"/cookie/set?c=skip%3D1")
	require.NoError(t, err)
	do(t, s, req.UseCookies(false))
	_, ok := s.Jar().Get("skip")
	assert.False(t, ok)

	req, err = NewRequest(http.MethodGet, ts.URL+"/echo")
	require.NoError(t, err)
	h, _ = echoed(t, do(t, s, req.UseCookies(false)))
	assert.Empty(t, h.Get("Cookie"))
}

func TestMalformedCookie(t *testing.T) {
	t.Parallel()
	ts := testserver.New()
	defer ts.Close()
	s := newSession()

	get(t, s, ts.URL+"/cookie/set?c=broken&c="+url.QueryEscape("ok=1"))
	c, ok := s.Jar().Get("ok")
	require.True(t, ok)
	assert.Equal(t, "1", c.Value)
	assert.Equal(t, 1, s.Jar().Len())
}

func TestHeaders(t *testing.T) {
	t.Parallel()
	ts := testserver.New()
	defer ts.Close()
	s := newSession()

	h, _ := echoed(t, get(t, s, ts.URL+"/echo"))
	assert.Equal(t, "gzip, deflate", h.Get("Accept-Encoding"))
	assert.Equal(t, "UTF-8", h.Get("Accept-Charset"))

	s.SetDefaultHeader("X-Default", "1")
	s.RemoveDefaultHeader("Accept-Charset")
	req, err := NewRequest(http.MethodGet, ts.URL+"/echo")
	require.NoError(t, err)
	h, _ = echoed(t, do(t, s, req.Header("X-Default", "2").Header("X-Request", "3")))
	assert.Equal(t, "2", h.Get("X-Default"))
	assert.Equal(t, "3", h.Get("X-Request"))
	assert.Empty(t, h.Get("Accept-Charset"))

	// request overrides do not leak into the session
	assert.Equal(t, "1", s.DefaultHeader().Get("X-Default"))
	assert.Empty(t, s.DefaultHeader().Get("X-Request"))
}

func TestPayload(t *testing.T) {
	t.Parallel()
	ts := testserver.New()
	defer ts.Close()
	s := newSession()

	res, err := s.Post(ts.URL+"/echo", []byte("a=1&b=2"))
	require.NoError(t, err)
	defer res.Teardown()
	h, body := echoed(t, res)
	assert.Equal(t, "POST", h.Get("X-Method"))
	assert.Equal(t, DefaultContentType, h.Get("Content-Type"))
	assert.Equal(t, "7", h.Get("X-Content-Length"))
	assert.Empty(t, h.Get("Transfer-Encoding"))
	assert.Equal(t, "a=1&b=2", body)

	req, err := NewRequest(http.MethodPut, ts.URL+"/echo")
	require.NoError(t, err)
	h, body = echoed(t, do(t, s, req.Header("Content-Type", "text/plain").Payload([]byte("put"))))
	assert.Equal(t, "PUT", h.Get("X-Method"))
	assert.Equal(t, "text/plain", h.Get("Content-Type"))
	assert.Equal(t, "put", body)

	// GET never sends a payload
	req, err = NewRequest(http.MethodGet, ts.URL+"/echo")
	require.NoError(t, err)
	h, body = echoed(t, do(t, s, req.Payload([]byte("ignored"))))
	assert.Empty(t, h.Get("Content-Type"))
	assert.Empty(t, body)
}

func TestForm(t *testing.T) {
	t.Parallel()
	ts := testserver.New()
	defer ts.Close()
	s := newSession()

	req, err := NewRequest(http.MethodPost, ts.URL+"/echo")
	require.NoError(t, err)
	h, body := echoed(t, do(t, s, req.Form(url.Values{"name": {"Gültekin"}, "a": {"1", "2"}}, "ISO-8859-9")))
	assert.Equal(t, "application/x-www-form-urlencoded; charset=ISO-8859-9", h.Get("Content-Type"))
	assert.Equal(t, "a=1&a=2&name=G%FCltekin", body)

	req, err = NewRequest(http.MethodPost, ts.URL+"/echo")
	require.NoError(t, err)
	_, err = s.Do(req.Form(url.Values{"a": {"1"}}, "no-such-charset"))
	var ce *courier.ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "charset", ce.Field)
}

func TestHead(t *testing.T) {
	t.Parallel()
	ts := testserver.New()
	defer ts.Close()
	s := newSession()

	res, err := s.Head(ts.URL + "/open")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Nil(t, res.Body())
	_, err = res.Reader()
	assert.ErrorIs(t, err, ErrNoBody)
	assert.NoError(t, res.Teardown())
}

func TestCompressed(t *testing.T) {
	t.Parallel()
	ts := testserver.New()
	defer ts.Close()
	s := newSession()
	want := strings.Repeat("compressed payload ", 64)

	for _, encoding := range []string{"gzip", "deflate"} {
		req, err := NewRequest(http.MethodGet, ts.URL+"/compressed")
		require.NoError(t, err)
		res := do(t, s, req.Header("Accept-Encoding", encoding))
		assert.Equal(t, encoding, res.Header.Get("Content-Encoding"))
		assert.Equal(t, want, text(t, res))
	}

	br := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "br")
		bw := brotli.NewWriter(w)
		_, _ = io.WriteString(bw, want)
		_ = bw.Close()
	}))
	defer br.Close()
	assert.Equal(t, want, text(t, get(t, s, br.URL)))
}

func TestCharset(t *testing.T) {
	t.Parallel()
	ts := testserver.New()
	defer ts.Close()
	s := newSession()

	res := get(t, s, ts.URL+"/charset")
	assert.Equal(t, "iso-8859-9", res.Charset)
	assert.Equal(t, "Gültekin", text(t, res))

	res = get(t, s, ts.URL+"/open")
	assert.Equal(t, "text/plain", res.Header.Get("Content-Type"))
	assert.Equal(t, DefaultCharset, res.Charset)
	assert.Equal(t, "open", text(t, res))

	res = &Response{Charset: "no-such-charset", body: newBody(strings.NewReader("x"))}
	_, err := res.Reader()
	assert.ErrorContains(t, err, "no-such-charset")
}

func TestCharsetOf(t *testing.T) {
	t.Parallel()
	testCases := map[string]string{
		"":                                "UTF-8",
		"text/html":                       "UTF-8",
		"text/html; charset=GBK":          "GBK",
		`text/html; charset="Shift_JIS"`:  "Shift_JIS",
		"text/html;; charset='EUC-JP'":    "EUC-JP",
		"text/html; charset=":             "UTF-8",
		"application/json;charset=utf-16": "utf-16",
	}
	for contentType, want := range testCases {
		assert.Equal(t, want, charsetOf(contentType), contentType)
	}
}

func TestRedirect(t *testing.T) {
	t.Parallel()
	ts := testserver.New()
	defer ts.Close()
	s := newSession()

	req, err := NewRequest(http.MethodGet, ts.URL+"/redirect")
	require.NoError(t, err)
	res := do(t, s, req.FollowRedirects(true))
	assert.Equal(t, KindBase, res.Kind)
	assert.Equal(t, "/open", res.URL.Path)
	assert.Equal(t, "open", text(t, res))

	assert.Equal(t, 1, ts.Count(http.MethodGet, "/redirect"))
	assert.Equal(t, 1, ts.Count(http.MethodGet, "/open"))
}

func TestRedirectCookies(t *testing.T) {
	t.Parallel()
	ts := testserver.New()
	defer ts.Close()
	s := newSession()
	manual, err := cookie.New("manual", "0", "127.0.0.1")
	require.NoError(t, err)

	send := func(target string) http.Header {
		req, err := NewRequest(http.MethodGet, ts.URL+"/redirect/to?url="+url.QueryEscape(target))
		require.NoError(t, err)
		h, _ := echoed(t, do(t, s, req.FollowRedirects(true).AddCookie(manual)))
		return h
	}

	assert.Equal(t, "manual=0", send("/echo").Get("Cookie"))

	other := strings.Replace(ts.URL, "127.0.0.1", "localhost", 1)
	assert.Empty(t, send(other+"/echo").Get("Cookie"))
}

func TestReadTimeout(t *testing.T) {
	t.Parallel()
	ts := testserver.New()
	defer ts.Close()
	s := newSession()

	req, err := NewRequest(http.MethodGet, ts.URL+"/slow")
	require.NoError(t, err)
	res, err := s.Do(req.ReadTimeout(100 * time.Millisecond))
	require.NoError(t, err)
	_, err = res.Bytes()
	require.Error(t, err)
	assert.True(t, IsTimeout(err), err)
	assert.NoError(t, res.Teardown())
}

func TestSettings(t *testing.T) {
	t.Parallel()
	s := newSession()
	s.SetDefaultConnectTimeout(time.Second)
	s.SetDefaultReadTimeout(2 * time.Second)
	proxy, err := FixedProxy("127.0.0.1:3128")
	require.NoError(t, err)
	s.SetProxy(proxy)

	req, err := NewRequest(http.MethodGet, "http://example.com")
	require.NoError(t, err)
	st := s.settings(req)
	assert.Equal(t, time.Second, st.connectTimeout)
	assert.Equal(t, 2*time.Second, st.readTimeout)
	assert.NotNil(t, st.proxy)

	st = s.settings(req.ConnectTimeout(0).ReadTimeout(3 * time.Second))
	assert.Equal(t, time.Duration(0), st.connectTimeout)
	assert.Equal(t, 3*time.Second, st.readTimeout)
}

func TestReset(t *testing.T) {
	t.Parallel()
	s := newSession()
	s.SetDefaultHeader("X-User", "alice")
	s.RemoveDefaultHeader("Connection")
	s.SetDefaultConnectTimeout(time.Second)
	s.SetDefaultReadTimeout(time.Second)
	s.SetProxy(http.ProxyFromEnvironment)
	c, err := cookie.New("sid", "1", "example.com")
	require.NoError(t, err)
	require.NoError(t, s.Jar().Put(c))
	d := auth.NewDigest("u", "p")
	s.Registry().Register("example.com", d)

	s.Reset()

	assert.Equal(t, defaultHeaders(), s.DefaultHeader())
	assert.Zero(t, s.Jar().Len())
	assert.Empty(t, s.Registry().Hosts())
	req, err := NewRequest(http.MethodGet, "http://example.com")
	require.NoError(t, err)
	st := s.settings(req)
	assert.Zero(t, st.connectTimeout)
	assert.Zero(t, st.readTimeout)
	assert.Nil(t, st.proxy)
}

func TestTransportError(t *testing.T) {
	t.Parallel()
	ts := httptest.NewServer(http.NotFoundHandler())
	addr := ts.URL
	ts.Close()

	res, err := newSession().Get(addr)
	assert.Nil(t, res)
	assert.Error(t, err)
	assert.False(t, courier.IsStatus(err, http.StatusNotFound))
}

func ExampleSession_Do() {
	ts := testserver.New()
	defer ts.Close()

	s := NewSession(Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	req, _ := NewRequest(http.MethodGet, ts.URL+"/redirect")
	res, err := s.Do(req)
	if err != nil {
		panic(err)
	}
	defer res.Teardown()

	fmt.Println(res.Kind, res.Location)
	// Output: redirect /open
}
