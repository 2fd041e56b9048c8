package proxy

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/adi3g/guardian/internal/loadbalancer"
)

// DefaultUpstreamTimeout bounds a single upstream dispatch, including
// reading the response headers. Expiry counts as a transport failure.
const DefaultUpstreamTimeout = 30 * time.Second

// Forwarder dispatches admitted requests to an upstream and relays the
// response. It performs exactly one attempt per request; failure
// handling belongs to the caller.
type Forwarder struct {
	transport http.RoundTripper
	timeout   time.Duration
}

// Config holds forwarder configuration.
type Config struct {
	Transport http.RoundTripper
	Timeout   time.Duration
}

// NewForwarder creates a forwarder.
func NewForwarder(cfg Config) *Forwarder {
	transport := cfg.Transport
	if transport == nil {
		transport = DefaultTransport()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultUpstreamTimeout
	}
	return &Forwarder{
		transport: transport,
		timeout:   timeout,
	}
}

// Forward sends the inbound request to the upstream and relays status,
// headers, and body back to the client. The method, body bytes, and
// query are relayed unchanged; hop-by-hop headers are stripped in both
// directions. A transport error leaves the response unwritten so the
// caller can emit its own.
func (f *Forwarder) Forward(w http.ResponseWriter, r *http.Request, upstream loadbalancer.Upstream) error {
	ctx := r.Context()
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	targetURL := &url.URL{
		Scheme:   "http",
		Host:     upstream.HostPort(),
		Path:     r.URL.Path,
		RawQuery: r.URL.RawQuery,
	}

	proxyReq := (&http.Request{
		Method:        r.Method,
		URL:           targetURL,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Body:          r.Body,
		ContentLength: r.ContentLength,
		Host:          targetURL.Host,
	}).WithContext(ctx)

	proxyReq.Header = make(http.Header, len(r.Header)+3)
	for k, vv := range r.Header {
		proxyReq.Header[k] = vv
	}

	if clientIP := ClientIP(r); clientIP != "" {
		if prior := proxyReq.Header.Get("X-Forwarded-For"); prior != "" {
			proxyReq.Header.Set("X-Forwarded-For", prior+", "+clientIP)
		} else {
			proxyReq.Header.Set("X-Forwarded-For", clientIP)
		}
	}
	if r.TLS != nil {
		proxyReq.Header.Set("X-Forwarded-Proto", "https")
	} else {
		proxyReq.Header.Set("X-Forwarded-Proto", "http")
	}
	proxyReq.Header.Set("X-Forwarded-Host", r.Host)

	removeHopHeaders(proxyReq.Header)

	resp, err := f.transport.RoundTrip(proxyReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)

	return nil
}

// ClientIP extracts the client IP from a request, honoring
// X-Forwarded-For and X-Real-IP before falling back to the socket peer.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.SplitN(xff, ",", 2)
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		host = host[:idx]
	}
	return strings.Trim(host, "[]")
}

// copyHeaders copies headers from source to destination, dropping
// hop-by-hop headers.
func copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		dst[k] = append(dst[k][:0:0], vv...)
	}
	removeHopHeaders(dst)
}

// Hop-by-hop headers that must not be forwarded.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func removeHopHeaders(header http.Header) {
	for _, h := range hopHeaders {
		header.Del(h)
	}
}
