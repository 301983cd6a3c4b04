package provider

import (
	"net"
	"net/http"
	"sync"
	"time"
)

const defaultHTTPTimeout = 30 * time.Second

var (
	transportOnce sync.Once
	transport     *http.Transport
)

// pooledTransport is one keep-alive pool for every outbound call: generation
// APIs and the Twilio REST endpoint.
func pooledTransport() *http.Transport {
	transportOnce.Do(func() {
		dialer := &net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}
		transport = &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          20,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   5 * time.Second,
			ExpectContinueTimeout: time.Second,
		}
	})
	return transport
}

// SharedHTTPClient returns a client over the shared pool with its own overall
// timeout. A non-positive timeout means 30s.
func SharedHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &http.Client{Timeout: timeout, Transport: pooledTransport()}
}
