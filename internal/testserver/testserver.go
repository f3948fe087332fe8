// Package testserver a fixture HTTP server for session tests: digest
// protected routes, cookies, redirects, error statuses and compressed bodies.
package testserver

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Default digest fixture values.
const (
	Username = "u"
	Password = "p"
	Realm    = "r"
	Nonce    = "n1"
)

// Server an httptest.Server with the fixture routes.
type Server struct {
	*httptest.Server

	// Challenge is the WWW-Authenticate value sent by /secure.
	Challenge string

	mu       sync.Mutex
	requests []string
	ncSeen   []string
	ncUsed   map[uint64]bool
}

// New starts a Server. Call Close when done.
func New() *Server {
	s := &Server{
		Challenge: fmt.Sprintf(`Digest realm=%q, nonce=%q, qop="auth"`, Realm, Nonce),
		ncUsed:    make(map[uint64]bool),
	}
	s.Server = httptest.NewServer(s.routes())
	return s
}

// Requests returns "METHOD /path" for every request received.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// Count returns how many requests were received for method and path.
func (s *Server) Count(method, path string) int {
	n := 0
	for _, r := range s.Requests() {
		if r == method+" "+path {
			n++
		}
	}
	return n
}

// NonceCounts returns the nc values accepted by /secure.
func (s *Server) NonceCounts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ncSeen...)
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, r.Method+" "+r.URL.Path)
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) routes() http.Handler {
	root := chi.NewRouter()
	root.Use(s.record)

	root.HandleFunc("/open", func(w http.ResponseWriter, _ *http.Request) {
		// no charset parameter
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "open")
	})
	root.HandleFunc("/secure", s.secure)
	root.HandleFunc("/secure/*", s.secure)
	root.HandleFunc("/echo", echo)
	root.HandleFunc("/redirect", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/open", http.StatusFound)
	})
	root.HandleFunc("/redirect/to", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, r.URL.Query().Get("url"), http.StatusFound)
	})
	root.HandleFunc("/status/{code}", func(w http.ResponseWriter, r *http.Request) {
		code, err := strconv.Atoi(chi.URLParam(r, "code"))
		if err != nil {
			code = http.StatusBadRequest
		}
		if code == http.StatusUnauthorized {
			w.Header().Set("WWW-Authenticate", `Basic realm="fixture"`)
		}
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(code)
		_, _ = fmt.Fprintf(w, "status %d", code)
	})
	root.HandleFunc("/cookie/set", func(w http.ResponseWriter, r *http.Request) {
		for _, c := range r.URL.Query()["c"] {
			w.Header().Add("Set-Cookie", c)
		}
		_, _ = io.WriteString(w, "ok")
	})
	root.HandleFunc("/charset", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=iso-8859-9")
		_, _ = io.WriteString(w, "G\xfcltekin")
	})
	root.HandleFunc("/links", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, `<html><body><a href="/open">open</a><a href="secure">secure</a>`+
			`<a href="#top">top</a><a href="https://example.com/">out</a></body></html>`)
	})
	root.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	})
	root.Group(func(r chi.Router) {
		r.Use(middleware.Compress(5, "text/plain"))
		r.HandleFunc("/compressed", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			_, _ = io.WriteString(w, strings.Repeat("compressed payload ", 64))
		})
	})
	return root
}

// echo writes the request headers then a blank line and the request body.
func echo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	r.Header.Set("X-Method", r.Method)
	r.Header.Set("X-Content-Length", strconv.FormatInt(r.ContentLength, 10))
	_ = r.Header.Write(w)
	_, _ = io.WriteString(w, "\r\n")
	_, _ = io.Copy(w, r.Body)
}

func (s *Server) secure(w http.ResponseWriter, r *http.Request) {
	header := r.Header.Get("Authorization")
	scheme, rest, _ := strings.Cut(header, " ")
	if scheme != "Digest" || !s.verify(r, parseParams(rest)) {
		w.Header().Set("WWW-Authenticate", s.Challenge)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, "unauthorized")
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = io.WriteString(w, "secret")
}

func (s *Server) verify(r *http.Request, p map[string]string) bool {
	if p["username"] != Username || p["realm"] != Realm || p["nonce"] != Nonce || p["uri"] != r.URL.EscapedPath() {
		return false
	}
	nc, err := strconv.ParseUint(p["nc"], 16, 32)
	if err != nil {
		return false
	}
	ha1 := md5Hex(Username + ":" + Realm + ":" + Password)
	ha2 := md5Hex(r.Method + ":" + p["uri"])
	want := md5Hex(ha1 + ":" + p["nonce"] + ":" + p["nc"] + ":" + p["cnonce"] + ":" + p["qop"] + ":" + ha2)
	if p["response"] != want {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// a replayed nonce count is rejected
	if s.ncUsed[nc] {
		return false
	}
	s.ncUsed[nc] = true
	s.ncSeen = append(s.ncSeen, p["nc"])
	return true
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func parseParams(s string) map[string]string {
	params := make(map[string]string)
	for _, part := range strings.Split(s, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		params[key] = strings.Trim(value, `"`)
	}
	return params
}
