package auth

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/shiroyk/courier"
	"github.com/shiroyk/courier/lib/logger"
	"golang.org/x/net/html/charset"
)

const (
	// DefaultElementCharset the charset used to encode digest elements
	// when the challenge does not name one.
	DefaultElementCharset = "US-ASCII"
	// DefaultAlgorithm the algorithm assumed when the challenge does not name one.
	DefaultAlgorithm = "MD5"
)

var (
	// ErrNoChallenge the server answered 401 without a usable Digest challenge.
	ErrNoChallenge = errors.New("digest: no digest challenge in WWW-Authenticate")
	// ErrUnsupportedQop the challenge offers no qop this client implements.
	ErrUnsupportedQop = errors.New("digest: unsupported qop")
	// ErrUnsupportedAlgorithm the challenge names an algorithm this client does not implement.
	ErrUnsupportedAlgorithm = errors.New("digest: unsupported algorithm")
)

// Challenge the parameters of a Digest WWW-Authenticate challenge.
type Challenge struct {
	Realm     string
	Nonce     string
	Algorithm string
	Qop       string
	Charset   string
	Opaque    string
}

// Digest is an Authorization implementing RFC 2617 Digest authentication.
//
// The first Setup probes the request URL for a challenge, later ones reuse the
// cached nonce with an incremented nonce count until Reset is called.
type Digest struct {
	username string
	password string

	mu         sync.Mutex
	challenge  *Challenge
	nonceCount uint32
	cnonce     func() (string, error)
}

// NewDigest returns a Digest bound to the credentials.
func NewDigest(username, password string) *Digest {
	return &Digest{username: username, password: password, cnonce: newCnonce}
}

// Setup attaches an Authorization header to req, probing for a challenge first
// if none is cached. A probe answered without 401 leaves req unauthenticated.
func (d *Digest) Setup(c Client, req Request) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.challenge != nil {
		d.nonceCount++
		return d.authorize(req)
	}

	ch, err := d.probe(c, req)
	if err != nil || ch == nil {
		return err
	}
	d.challenge = ch
	d.nonceCount = 1
	return d.authorize(req)
}

// Reset clears the cached challenge.
func (d *Digest) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.challenge = nil
	d.nonceCount = 0
}

// NonceCount returns the nonce count of the last header built, 0 when unchallenged.
func (d *Digest) NonceCount() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.nonceCount
}

// Challenged reports whether a challenge is cached.
func (d *Digest) Challenged() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.challenge != nil
}

func (d *Digest) probe(c Client, req Request) (*Challenge, error) {
	probe, err := http.NewRequestWithContext(req.Context(), http.MethodGet, req.URL().String(), nil)
	if err != nil {
		return nil, err
	}
	res, err := c.Do(probe)
	if err != nil {
		return nil, err
	}
	_ = res.Body.Close()

	switch {
	case res.StatusCode == http.StatusUnauthorized:
		return ParseChallenge(res.Header.Values("WWW-Authenticate"))
	case res.StatusCode >= http.StatusBadRequest:
		return nil, &courier.StatusError{StatusCode: res.StatusCode, Status: res.Status, URL: probe.URL.String()}
	default:
		logger.Debugf("Digest probe %s answered %d without challenge", redact(req), res.StatusCode)
		return nil, nil
	}
}

func (d *Digest) authorize(req Request) error {
	cnonce, err := d.cnonce()
	if err != nil {
		return err
	}
	header, err := buildHeader(d.username, d.password, *d.challenge, req.Method(), requestPath(req), d.nonceCount, cnonce)
	if err != nil {
		return err
	}
	logger.Debugf("Authorizing Digest[%d] %s", d.nonceCount, redact(req))
	req.SetHeader("Authorization", header)
	return nil
}

func requestPath(req Request) string {
	if p := req.URL().EscapedPath(); p != "" {
		return p
	}
	return "/"
}

func redact(req Request) string {
	u := req.URL()
	return u.Scheme + "://" + u.Host + u.Path
}

func buildHeader(username, password string, ch Challenge, method, uri string, nonceCount uint32, cnonce string) (string, error) {
	encode := encoder(ch.Charset)
	hash := func(s string) (string, error) {
		b, err := encode(s)
		if err != nil {
			return "", err
		}
		sum := md5.Sum(b)
		return hex.EncodeToString(sum[:]), nil
	}

	nc := fmt.Sprintf("%08x", nonceCount)
	ha1, err := hash(username + ":" + ch.Realm + ":" + password)
	if err != nil {
		return "", err
	}
	if strings.EqualFold(ch.Algorithm, "MD5-sess") {
		if ha1, err = hash(ha1 + ":" + ch.Nonce + ":" + cnonce); err != nil {
			return "", err
		}
	}
	ha2, err := hash(method + ":" + uri)
	if err != nil {
		return "", err
	}

	var response string
	if ch.Qop == "" {
		response, err = hash(ha1 + ":" + ch.Nonce + ":" + ha2)
	} else {
		response, err = hash(ha1 + ":" + ch.Nonce + ":" + nc + ":" + cnonce + ":" + ch.Qop + ":" + ha2)
	}
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("Digest ")
	writeQuoted(&b, "username", username)
	writeQuoted(&b, "realm", ch.Realm)
	writeQuoted(&b, "nonce", ch.Nonce)
	writeQuoted(&b, "uri", uri)
	writeQuoted(&b, "algorithm", ch.Algorithm)
	writeQuoted(&b, "response", response)
	if ch.Qop != "" {
		// qop and nc are tokens, never quoted
		writePair(&b, "qop", ch.Qop)
		writePair(&b, "nc", nc)
		writeQuoted(&b, "cnonce", cnonce)
	}
	if ch.Opaque != "" {
		writeQuoted(&b, "opaque", ch.Opaque)
	}
	return b.String(), nil
}

var quoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func writeQuoted(b *strings.Builder, key, value string) {
	writePair(b, key, `"`+quoteEscaper.Replace(value)+`"`)
}

func writePair(b *strings.Builder, key, value string) {
	if b.Len() > len("Digest ") {
		b.WriteString(", ")
	}
	b.WriteString(key)
	b.WriteByte('=')
	b.WriteString(value)
}

// encoder returns a function encoding digest elements in the named charset.
// Unknown charsets fall back to the raw string bytes.
func encoder(name string) func(string) ([]byte, error) {
	enc, _ := charset.Lookup(name)
	if enc == nil {
		return func(s string) ([]byte, error) { return []byte(s), nil }
	}
	e := enc.NewEncoder()
	return func(s string) ([]byte, error) {
		out, err := e.String(s)
		if err != nil {
			return nil, fmt.Errorf("digest: encode element as %s: %w", name, err)
		}
		return []byte(out), nil
	}
}

func newCnonce() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
