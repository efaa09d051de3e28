// Package httputil provides shared HTTP plumbing for trapline's outbound
// calls: LLM chat completions, embedding requests, and control-plane probes.
package httputil

import (
	"io"
	"net"
	"net/http"
	"sync"
	"time"
)

// MaxResponseSize bounds response body reads from external providers.
// LLM and embedding responses fit comfortably under 2MB; anything larger
// is a misbehaving provider and gets truncated.
const MaxResponseSize = 2 * 1024 * 1024 // 2MB

// Shared transport with connection pooling. Safe for concurrent use;
// reusing TCP connections matters when every engaged turn may issue
// up to three provider calls.
var sharedTransport = &http.Transport{
	Proxy: http.ProxyFromEnvironment,
	DialContext: (&net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
	ForceAttemptHTTP2:     true,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   10,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
}

// TimeoutTier defines the timeout ceilings for trapline's outbound calls.
type TimeoutTier int

const (
	// TierTurn for calls made inside a turn (LLM classify/extract/reply).
	// The real deadline is the per-call context; 5s is a hard ceiling.
	TierTurn TimeoutTier = iota
	// TierControl for control-plane work: provider probes, archive init (30s).
	TierControl
	// TierWarmup for startup seeding of the semantic corpus (90s).
	TierWarmup
)

var timeoutDurations = map[TimeoutTier]time.Duration{
	TierTurn:    5 * time.Second,
	TierControl: 30 * time.Second,
	TierWarmup:  90 * time.Second,
}

// Singleton clients per tier, sharing one connection pool.
var (
	clientTurn    *http.Client
	clientControl *http.Client
	clientWarmup  *http.Client
	clientOnce    sync.Once
)

func initClients() {
	clientTurn = &http.Client{
		Timeout:   timeoutDurations[TierTurn],
		Transport: sharedTransport,
	}
	clientControl = &http.Client{
		Timeout:   timeoutDurations[TierControl],
		Transport: sharedTransport,
	}
	clientWarmup = &http.Client{
		Timeout:   timeoutDurations[TierWarmup],
		Transport: sharedTransport,
	}
}

// Client returns the shared HTTP client for the given timeout tier.
// Use these instead of constructing http.Client per request so the
// connection pool is actually shared.
func Client(tier TimeoutTier) *http.Client {
	clientOnce.Do(initClients)
	switch tier {
	case TierTurn:
		return clientTurn
	case TierControl:
		return clientControl
	case TierWarmup:
		return clientWarmup
	default:
		return clientControl
	}
}

// TurnClient returns the client for in-turn provider calls (5s ceiling).
func TurnClient() *http.Client {
	return Client(TierTurn)
}

// ControlClient returns the client for control-plane calls (30s).
func ControlClient() *http.Client {
	return Client(TierControl)
}

// WarmupClient returns the client for startup seeding work (90s).
func WarmupClient() *http.Client {
	return Client(TierWarmup)
}

// ReadResponseBody reads an HTTP response body with a size limit.
// Guards against a misbehaving provider streaming unbounded data.
func ReadResponseBody(r io.Reader, maxSize int64) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = MaxResponseSize
	}
	return io.ReadAll(io.LimitReader(r, maxSize))
}

// ReadErrorBody reads a response body for error reporting. Error payloads
// are small; 256KB is plenty.
func ReadErrorBody(r io.Reader) ([]byte, error) {
	const maxErrorSize = 256 * 1024
	return io.ReadAll(io.LimitReader(r, maxErrorSize))
}

// DrainAndClose drains and closes a response body so the underlying
// connection returns to the pool.
func DrainAndClose(body io.ReadCloser) {
	if body != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(body, MaxResponseSize))
		_ = body.Close()
	}
}
