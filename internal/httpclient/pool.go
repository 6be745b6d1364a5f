// Package httpclient provides HTTP clients that share one connection pool.
package httpclient

import (
	"net/http"
	"time"
)

// sharedTransport is reused by every pooled client so that the reranker,
// embedding and generation backends keep warm connections across requests.
var sharedTransport = &http.Transport{
	Proxy:               http.ProxyFromEnvironment,
	MaxIdleConns:        64,
	MaxIdleConnsPerHost: 16,
	IdleConnTimeout:     120 * time.Second,
	TLSHandshakeTimeout: 10 * time.Second,
}

// NewPooledClient creates an http.Client with the given overall timeout that
// shares the process-wide connection pool.
func NewPooledClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: sharedTransport,
	}
}

// CloseIdle drops idle pooled connections. Called once during shutdown.
func CloseIdle() {
	sharedTransport.CloseIdleConnections()
}
