package provider

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// DefaultTimeout bounds one chat completions round trip.
const DefaultTimeout = 30 * time.Second

// modelTransport pools connections to the model backend for every Client
// in the process. Response headers of a completion can take as long as
// the whole call, so only the client timeout bounds them.
var modelTransport = sync.OnceValue(func() *http.Transport {
	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        32,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 5 * time.Second,
		ForceAttemptHTTP2:   true,
	}
})

// SharedHTTPClient returns a client on the shared transport whose overall
// deadline is timeout.
func SharedHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Timeout: timeout, Transport: modelTransport()}
}
