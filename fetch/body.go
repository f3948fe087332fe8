package fetch

import (
	"compress/flate"
	"compress/gzip"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/andybalholm/brotli"
	"github.com/shiroyk/courier/lib/logger"
)

// ErrBodyClosed is returned when reading a body after its response was torn down.
var ErrBodyClosed = errors.New("fetch: read on torn down response body")

// Body is a response stream whose Close is a no-op. The stream is released
// by ForceClose, which Response.Teardown calls after the connection is dropped.
type Body struct {
	r       io.Reader
	closers []io.Closer

	closed atomic.Bool
	once   sync.Once
	err    error
}

func newBody(r io.Reader, closers ...io.Closer) *Body {
	return &Body{r: r, closers: closers}
}

// Read reads the decoded stream.
func (b *Body) Read(p []byte) (int, error) {
	if b.closed.Load() {
		return 0, ErrBodyClosed
	}
	return b.r.Read(p)
}

// Close does nothing, the stream stays open until ForceClose.
func (b *Body) Close() error {
	return nil
}

// ForceClose closes the decoders then the underlying stream. Only the first
// call does anything.
func (b *Body) ForceClose() error {
	b.once.Do(func() {
		b.closed.Store(true)
		var errs []error
		for i := len(b.closers) - 1; i >= 0; i-- {
			if err := b.closers[i].Close(); err != nil {
				errs = append(errs, err)
			}
		}
		b.err = errors.Join(errs...)
	})
	return b.err
}

// Closed reports whether ForceClose was called.
func (b *Body) Closed() bool {
	return b.closed.Load()
}

// decodeBody wraps raw with decoders for the Content-Encoding value, the
// codings are undone in reverse order of application. Unknown codings pass
// the stream through from that point.
func decodeBody(encoding string, raw io.ReadCloser) (*Body, error) {
	var (
		r       io.Reader = raw
		closers           = []io.Closer{raw}
	)
	codings := strings.Split(encoding, ",")
	for i := len(codings) - 1; i >= 0; i-- {
		switch coding := strings.ToLower(strings.TrimSpace(codings[i])); coding {
		case "", "identity":
		case "gzip", "x-gzip":
			zr, err := gzip.NewReader(r)
			if err != nil {
				if errors.Is(err, io.EOF) {
					// an empty body carries no gzip header
					return newBody(eofReader{}, closers...), nil
				}
				return nil, err
			}
			r = zr
			closers = append(closers, zr)
		case "deflate":
			fr := flate.NewReader(r)
			r = fr
			closers = append(closers, fr)
		case "br":
			r = brotli.NewReader(r)
		default:
			logger.Debugf("Unsupported content encoding %s, passing through", coding)
			return newBody(r, closers...), nil
		}
	}
	return newBody(r, closers...), nil
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }
