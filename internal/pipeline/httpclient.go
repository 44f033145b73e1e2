package pipeline

import (
	"net/http"
	"time"
)

// NewPooledHTTPClient creates an http.Client for a sidecar that is called
// once per sampled frame. timeout bounds the whole request so a stuck
// sidecar surfaces as an error instead of stalling the sampling loop.
func NewPooledHTTPClient(poolSize int, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:          poolSize,
			MaxIdleConnsPerHost:   poolSize,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: timeout,
		},
	}
}
