// Package httpclient builds the HTTP client used to reach the content origin.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

// ClientConfig holds configuration options for creating HTTP clients
type ClientConfig struct {
	// MaxIdleConnsPerHost controls the maximum idle (keep-alive) connections to keep per-host
	MaxIdleConnsPerHost int

	// IdleConnTimeout is the maximum amount of time an idle connection will remain idle before closing itself
	IdleConnTimeout time.Duration

	// Timeout bounds a whole request, body included. An origin that stops
	// answering resolves to an error instead of hanging the caller.
	Timeout time.Duration

	// DialTimeout is the maximum amount of time a dial will wait for a connect to complete
	DialTimeout time.Duration

	// ResponseHeaderTimeout specifies the amount of time to wait for a server's response headers
	ResponseHeaderTimeout time.Duration
}

// DefaultConfig returns a ClientConfig tuned for a nearby static origin.
func DefaultConfig() ClientConfig {
	return ClientConfig{
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		Timeout:               15 * time.Second,
		DialTimeout:           5 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
	}
}

// New creates an HTTP client with the provided configuration.
// Zero fields fall back to DefaultConfig.
func New(config ClientConfig) *http.Client {
	def := DefaultConfig()
	if config.MaxIdleConnsPerHost <= 0 {
		config.MaxIdleConnsPerHost = def.MaxIdleConnsPerHost
	}
	if config.IdleConnTimeout <= 0 {
		config.IdleConnTimeout = def.IdleConnTimeout
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = def.DialTimeout
	}
	if config.ResponseHeaderTimeout <= 0 {
		config.ResponseHeaderTimeout = def.ResponseHeaderTimeout
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   config.DialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
		IdleConnTimeout:       config.IdleConnTimeout,
		TLSHandshakeTimeout:   config.DialTimeout,
		ResponseHeaderTimeout: config.ResponseHeaderTimeout,
		ForceAttemptHTTP2:     true,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   config.Timeout,
	}
}
