package fetch

import (
	"context"
	"net"
	"time"
)

// readTimeoutConn arms a fresh read deadline before every Read, so the
// timeout bounds each wait for data rather than the whole exchange.
type readTimeoutConn struct {
	net.Conn
	timeout time.Duration
}

func (c *readTimeoutConn) Read(b []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Read(b)
}

// dialer returns a DialContext with the connect timeout, wrapping the
// connection with the read timeout when one is set. Zero means no limit.
func dialer(connectTimeout, readTimeout time.Duration) func(ctx context.Context, network, addr string) (net.Conn, error) {
	d := &net.Dialer{
		Timeout:   connectTimeout,
		KeepAlive: 30 * time.Second,
	}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := d.DialContext(ctx, network, addr)
		if err != nil || readTimeout <= 0 {
			return conn, err
		}
		return &readTimeoutConn{Conn: conn, timeout: readTimeout}, nil
	}
}
