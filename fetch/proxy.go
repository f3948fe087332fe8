package fetch

import (
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/shiroyk/courier"
)

// ProxyFunc returns the proxy for a request, nil for a direct connection.
type ProxyFunc func(*http.Request) (*url.URL, error)

type roundRobinProxy struct {
	proxyURLs []*url.URL
	index     uint32
}

// getProxy returns a proxy URL for the given http.Request
func (r *roundRobinProxy) getProxy(*http.Request) (*url.URL, error) {
	index := atomic.AddUint32(&r.index, 1) - 1
	return r.proxyURLs[index%uint32(len(r.proxyURLs))], nil
}

// RoundRobinProxy creates a proxy switcher function which rotates
// ProxyURLs on every request.
// The proxy type is determined by the URL scheme. "http", "https"
// and "socks5" are supported. If the scheme is empty,
// "http" is assumed.
// Without proxy URLs it returns nil and requests connect directly.
func RoundRobinProxy(proxyURLs ...string) (ProxyFunc, error) {
	if len(proxyURLs) == 0 {
		return nil, nil
	}

	parsedProxyURLs := make([]*url.URL, len(proxyURLs))
	for i, pu := range proxyURLs {
		parsedURL, err := parseProxyURL(pu)
		if err != nil {
			return nil, err
		}
		parsedProxyURLs[i] = parsedURL
	}

	return (&roundRobinProxy{parsedProxyURLs, 0}).getProxy, nil
}

// FixedProxy returns a ProxyFunc always answering proxyURL.
func FixedProxy(proxyURL string) (ProxyFunc, error) {
	u, err := parseProxyURL(proxyURL)
	if err != nil {
		return nil, err
	}
	return http.ProxyURL(u), nil
}

func parseProxyURL(raw string) (*url.URL, error) {
	if !strings.Contains(raw, "://") {
		// bare "host:port"
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, courier.Invalid("proxy", err.Error())
	}
	if u.Hostname() == "" {
		return nil, courier.Invalid("proxy", "missing host in "+raw)
	}
	return u, nil
}
