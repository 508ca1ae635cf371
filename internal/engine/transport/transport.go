// Package transport builds the HTTP clients used by both downloaders, per
// spec.md §4.1. Grounded on
// internal/engine/concurrent/downloader.go's newConcurrentClient, with the
// teacher's defaults overridden by spec.md's own explicit numbers.
package transport

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"
)

const userAgent = "Mozilla/5.0 (compatible; OpenStoreDownloadEngine/1.0)"

const (
	totalRequestTimeout   = 180 * time.Second
	connectTimeout        = 45 * time.Second
	idlePoolTimeout       = 120 * time.Second
	maxIdleConnsPerHost   = 6
	keepAlive             = 30 * time.Second
	tlsHandshakeTimeout   = 10 * time.Second
	responseHeaderTimeout = 30 * time.Second
	expectContinueTimeout = 1 * time.Second
	redirectLimit         = 10
)

// userAgentRoundTripper injects a fixed user-agent on every request,
// mirroring newConcurrentClient's header-injection style without pulling
// in a new dependency for it.
type userAgentRoundTripper struct {
	next http.RoundTripper
}

func (rt userAgentRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", userAgent)
	}
	return rt.next.RoundTrip(req)
}

func checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= redirectLimit {
		return fmt.Errorf("stopped after %d redirects", redirectLimit)
	}
	return nil
}

func baseTransport(maxConnsPerHost int) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   connectTimeout,
		KeepAlive: keepAlive,
	}

	return &http.Transport{
		Proxy:                 nil, // never http.ProxyFromEnvironment: ignore environment proxy per spec.md §4.1
		DialContext:           dialer.DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   maxIdleConnsPerHost,
		MaxConnsPerHost:       maxConnsPerHost,
		IdleConnTimeout:       idlePoolTimeout,
		TLSHandshakeTimeout:   tlsHandshakeTimeout,
		ResponseHeaderTimeout: responseHeaderTimeout,
		ExpectContinueTimeout: expectContinueTimeout,
		DisableCompression:    true,
		ForceAttemptHTTP2:     false,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: true, // accept invalid certs: mirrors often carry broken/self-signed TLS
		},
	}
}

// NewClient returns the shared client used for HEAD probes and
// single-stream downloads: one logical connection per host is typical, so
// pooling is left at its modest default.
func NewClient() *http.Client {
	return &http.Client{
		Timeout:       totalRequestTimeout,
		Transport:     userAgentRoundTripper{next: baseTransport(maxIdleConnsPerHost)},
		CheckRedirect: checkRedirect,
	}
}

// NewConcurrentClient returns a client tuned for a range-parallel download
// opening up to numConns simultaneous connections to the same host,
// grounded on newConcurrentClient(numConns) in the teacher's concurrent
// downloader.
func NewConcurrentClient(numConns int) *http.Client {
	if numConns < 1 {
		numConns = 1
	}
	return &http.Client{
		Timeout:       totalRequestTimeout,
		Transport:     userAgentRoundTripper{next: baseTransport(numConns)},
		CheckRedirect: checkRedirect,
	}
}

// UserAgent exposes the fixed user-agent string for callers (e.g. manual
// request construction) that need to set it explicitly.
func UserAgent() string { return userAgent }
