package auth

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"testing"

	"github.com/shiroyk/courier"
	"github.com/shiroyk/courier/internal/testserver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var rfcChallenge = Challenge{
	Realm:     "testrealm@host.com",
	Nonce:     "dcd98b7102dd2f0e8b11d0f600bfb0c093",
	Algorithm: "MD5",
	Qop:       "auth",
	Charset:   DefaultElementCharset,
}

func TestBuildHeader(t *testing.T) {
	t.Parallel()
	opaque := rfcChallenge
	opaque.Opaque = "5ccc069c403ebaf9f0171e9517f40e41"
	sess := rfcChallenge
	sess.Algorithm = "MD5-sess"
	legacy := rfcChallenge
	legacy.Qop = ""

	testCases := []struct {
		name      string
		challenge Challenge
		want      string
	}{
		{
			"rfc2617", rfcChallenge,
			`Digest username="Mufasa", realm="testrealm@host.com", nonce="dcd98b7102dd2f0e8b11d0f600bfb0c093", ` +
				`uri="/dir/index.html", algorithm="MD5", response="6629fae49393a05397450978507c4ef1", ` +
				`qop=auth, nc=00000001, cnonce="0a4f113b"`,
		},
		{
			"opaque", opaque,
			`Digest username="Mufasa", realm="testrealm@host.com", nonce="dcd98b7102dd2f0e8b11d0f600bfb0c093", ` +
				`uri="/dir/index.html", algorithm="MD5", response="6629fae49393a05397450978507c4ef1", ` +
				`qop=auth, nc=00000001, cnonce="0a4f113b", opaque="5ccc069c403ebaf9f0171e9517f40e41"`,
		},
		{
			"md5-sess", sess,
			`Digest username="Mufasa", realm="testrealm@host.com", nonce="dcd98b7102dd2f0e8b11d0f600bfb0c093", ` +
				`uri="/dir/index.html", algorithm="MD5-sess", response="8e3825c57e897f5a0dec6c2d4e5059d0", ` +
				`qop=auth, nc=00000001, cnonce="0a4f113b"`,
		},
		{
			"rfc2069", legacy,
			`Digest username="Mufasa", realm="testrealm@host.com", nonce="dcd98b7102dd2f0e8b11d0f600bfb0c093", ` +
				`uri="/dir/index.html", algorithm="MD5", response="670fd8c2df070c60b045671b8b24ff02"`,
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			header, err := buildHeader("Mufasa", "Circle Of Life", testCase.challenge, http.MethodGet, "/dir/index.html", 1, "0a4f113b")
			require.NoError(t, err)
			assert.Equal(t, testCase.want, header)
		})
	}
}

func TestBuildHeaderCharset(t *testing.T) {
	t.Parallel()
	ch := Challenge{Realm: "r", Nonce: "n1", Algorithm: "MD5", Qop: "auth", Charset: "ISO-8859-1"}

	header, err := buildHeader("Müller", "p", ch, http.MethodGet, "/x", 1, "c")
	require.NoError(t, err)
	assert.Equal(t, "48fbbe13fea4e9194bb374cbf1a7ecc0", parseParams(header[len("Digest "):])["response"])

	ch.Charset = "UTF-8"
	header, err = buildHeader("Müller", "p", ch, http.MethodGet, "/x", 1, "c")
	require.NoError(t, err)
	assert.Equal(t, "fd516d174e430834ee266dd8d304a597", parseParams(header[len("Digest "):])["response"])
}

func TestBuildHeaderNonceCount(t *testing.T) {
	t.Parallel()
	header, err := buildHeader("u", "p", rfcChallenge, http.MethodGet, "/", 0x1a2b, "c")
	require.NoError(t, err)
	assert.Equal(t, "00001a2b", parseParams(header[len("Digest "):])["nc"])
}

func TestDigestSetup(t *testing.T) {
	t.Parallel()
	ts := testserver.New()
	defer ts.Close()

	d := NewDigest(testserver.Username, testserver.Password)
	client := ts.Client()

	for i := 1; i <= 3; i++ {
		req := newTestRequest(t, http.MethodGet, ts.URL+"/secure")
		require.NoError(t, d.Setup(client, req))
		assert.True(t, d.Challenged())
		assert.Equal(t, uint32(i), d.NonceCount())
		assert.Equal(t, fmt.Sprintf("%08x", i), req.authorizationParams()["nc"])

		res := send(t, client, req)
		assert.Equal(t, http.StatusOK, res.StatusCode)
	}
	// one probe only
	assert.Equal(t, 4, ts.Count(http.MethodGet, "/secure"))
	assert.Equal(t, []string{"00000001", "00000002", "00000003"}, ts.NonceCounts())

	d.Reset()
	assert.False(t, d.Challenged())
	assert.Equal(t, uint32(0), d.NonceCount())

	req := newTestRequest(t, http.MethodGet, ts.URL+"/secure")
	require.NoError(t, d.Setup(client, req))
	assert.Equal(t, 5, ts.Count(http.MethodGet, "/secure"))
	assert.Equal(t, "00000001", req.authorizationParams()["nc"])
}

func TestDigestSetupPath(t *testing.T) {
	t.Parallel()
	d := NewDigest("u", "p")
	d.challenge = &rfcChallenge

	req := newTestRequest(t, http.MethodPost, "http://example.com")
	require.NoError(t, d.Setup(nil, req))
	assert.Equal(t, "/", req.authorizationParams()["uri"])

	req = newTestRequest(t, http.MethodPost, "http://example.com/a%20b/c?q=1")
	require.NoError(t, d.Setup(nil, req))
	assert.Equal(t, "/a%20b/c", req.authorizationParams()["uri"])
}

func TestDigestProbe(t *testing.T) {
	t.Parallel()
	ts := testserver.New()
	defer ts.Close()

	t.Run("no challenge", func(t *testing.T) {
		d := NewDigest("u", "p")
		req := newTestRequest(t, http.MethodGet, ts.URL+"/open")
		require.NoError(t, d.Setup(ts.Client(), req))
		assert.False(t, d.Challenged())
		assert.Empty(t, req.header.Get("Authorization"))
	})

	t.Run("error status", func(t *testing.T) {
		d := NewDigest("u", "p")
		req := newTestRequest(t, http.MethodGet, ts.URL+"/status/500")
		err := d.Setup(ts.Client(), req)
		assert.True(t, courier.IsStatus(err, http.StatusInternalServerError))
		assert.False(t, d.Challenged())
	})

	t.Run("basic challenge", func(t *testing.T) {
		d := NewDigest("u", "p")
		req := newTestRequest(t, http.MethodGet, ts.URL+"/status/401")
		assert.ErrorIs(t, d.Setup(ts.Client(), req), ErrNoChallenge)
		assert.False(t, d.Challenged())
	})

	t.Run("transport error", func(t *testing.T) {
		boom := errors.New("connection refused")
		d := NewDigest("u", "p")
		req := newTestRequest(t, http.MethodGet, ts.URL+"/secure")
		err := d.Setup(clientFunc(func(*http.Request) (*http.Response, error) { return nil, boom }), req)
		assert.Equal(t, boom, err)
	})
}

func TestDigestConcurrentNonceCount(t *testing.T) {
	t.Parallel()
	d := NewDigest("u", "p")
	d.challenge = &rfcChallenge

	const n = 50
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ncs []string
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := newTestRequest(t, http.MethodGet, "http://example.com/")
			if err := d.Setup(nil, req); err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			ncs = append(ncs, req.authorizationParams()["nc"])
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Strings(ncs)
	want := make([]string, n)
	for i := range want {
		want[i] = fmt.Sprintf("%08x", i+1)
	}
	assert.Equal(t, want, ncs)
}

func send(t *testing.T, client *http.Client, req *testRequest) *http.Response {
	t.Helper()
	r, err := http.NewRequest(req.method, req.u.String(), nil)
	require.NoError(t, err)
	r.Header = req.header.Clone()
	res, err := client.Do(r)
	require.NoError(t, err)
	_ = res.Body.Close()
	return res
}
