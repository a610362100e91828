package transport

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

const defaultTimeout = 10 * time.Second

// NewHTTPClient returns an HTTP client tuned for short request/response calls
// to a single appliance. TLS verification is the caller's choice.
func NewHTTPClient(timeout time.Duration, insecureSkipVerify bool) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        4,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: insecureSkipVerify, // appliances commonly ship self-signed certs
		},
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
