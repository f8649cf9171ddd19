package clients

import (
	"net"
	"net/http"
	"time"
)

const DefaultTimeout = 10 * time.Second

// NewHTTPClient returns a pooled client whose requests give up after timeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     30 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		ForceAttemptHTTP2:   true,
		DialContext: (&net.Dialer{
			Timeout: timeout,
		}).DialContext,
	}
	return &http.Client{Transport: transport, Timeout: timeout}
}
