// Package forwarding implements the Forwarding Engine (C8): HTTP middleware
// that transparently redirects mutating requests from a replica to the
// primary, with retry, a circuit breaker, and path-based exclusions.
package forwarding

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/litefs-adapter/core/internal/config"
	"github.com/litefs-adapter/core/pkg/ports"
)

// PrimaryLocator is the role/marker collaborator the engine consults to
// decide whether to forward and where. internal/role.Resolver satisfies
// this directly.
type PrimaryLocator interface {
	IsPrimary(ctx context.Context) bool
	PrimaryURL() (url string, ok bool)
}

// Metrics is the optional observability collaborator the engine reports
// forward outcomes and breaker transitions to. internal/metrics.Collector
// satisfies this directly.
type Metrics interface {
	RecordForwardAttempt(outcome string, duration time.Duration)
	SetBreakerState(state string)
}

var passthroughMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodOptions: true,
}

// Engine is constructed once at startup and reused across requests; it
// owns one Breaker per process, per §9's "singleton, not per-request"
// design note.
type Engine struct {
	settings config.ForwardingSettings
	locator  PrimaryLocator
	client   ports.HTTPClient
	breaker  *Breaker
	matcher  *exclusionMatcher
	metrics  Metrics
}

// NewEngine constructs a forwarding engine. client is typically a *Client
// from this package, injected so tests can substitute a stub.
func NewEngine(settings config.ForwardingSettings, locator PrimaryLocator, client ports.HTTPClient) (*Engine, error) {
	matcher, err := newExclusionMatcher(settings.ExcludedExact, settings.ExcludedGlob, settings.ExcludedRegex)
	if err != nil {
		return nil, fmt.Errorf("forwarding: invalid exclusion regex: %w", err)
	}
	return &Engine{
		settings: settings,
		locator:  locator,
		client:   client,
		breaker:  NewBreaker(settings.CircuitBreakerThreshold, settings.CircuitResetTimeout),
		matcher:  matcher,
	}, nil
}

// SetMetrics wires an optional Metrics collaborator; an Engine with no
// metrics set simply skips recording.
func (e *Engine) SetMetrics(m Metrics) {
	e.metrics = m
}

func (e *Engine) recordBreakerState() {
	if e.metrics != nil {
		e.metrics.SetBreakerState(e.breaker.State().String())
	}
}

// Middleware wraps next, forwarding requests that meet the §4.8 triggering
// rule and passing everything else straight through.
func (e *Engine) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !e.settings.Enabled ||
			e.locator.IsPrimary(r.Context()) ||
			passthroughMethods[r.Method] ||
			e.matcher.excluded(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		e.forward(w, r)
	})
}

func (e *Engine) forward(w http.ResponseWriter, r *http.Request) {
	primaryHost, ok := e.locator.PrimaryURL()
	if !ok {
		if e.settings.PrimaryHint == "" {
			writeJSONError(w, http.StatusServiceUnavailable, "primary node unknown")
			return
		}
		primaryHost = e.settings.PrimaryHint
	}

	body, err := io.ReadAll(r.Body)
	r.Body.Close()
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "unable to read request body")
		return
	}

	header := buildForwardHeader(r)

	scheme := e.settings.Scheme
	if scheme == "" {
		scheme = "http"
	}
	targetURL := scheme + "://" + primaryHost + r.URL.Path
	if r.URL.RawQuery != "" {
		targetURL += "?" + r.URL.RawQuery
	}

	timeout := e.settings.ConnectTimeout + e.settings.ReadTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	start := time.Now()

	allowed, retryAfter := e.breaker.Allow()
	if !allowed {
		if e.metrics != nil {
			e.metrics.RecordForwardAttempt("breaker_open", time.Since(start))
		}
		e.recordBreakerState()
		w.Header().Set("Retry-After", retryAfterSeconds(retryAfter.Seconds()))
		writeJSONError(w, http.StatusServiceUnavailable, "forwarding circuit open")
		return
	}

	var lastResp *ports.ForwardResponse
	result := retryLoop(r.Context(), e.settings.RetryCount, e.settings.RetryBackoffBase, func(ctx context.Context) attempt {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		resp, err := e.client.Forward(attemptCtx, ports.ForwardRequest{
			Method:  r.Method,
			URL:     targetURL,
			Header:  header,
			Body:    body,
			Timeout: timeout,
		})
		if err != nil {
			return attempt{err: err}
		}
		lastResp = resp
		return attempt{status: resp.StatusCode}
	})

	if result.err != nil {
		e.breaker.RecordFailure()
		e.recordBreakerState()
		if errors.Is(result.err, context.DeadlineExceeded) {
			if e.metrics != nil {
				e.metrics.RecordForwardAttempt("timeout", time.Since(start))
			}
			w.Header().Set("X-LiteFS-Forwarding-Error", "timeout")
			writeJSONError(w, http.StatusGatewayTimeout, "upstream request timed out")
			return
		}
		if e.metrics != nil {
			e.metrics.RecordForwardAttempt("retry_exhausted", time.Since(start))
		}
		w.Header().Set("X-LiteFS-Forwarding-Error", "upstream")
		writeJSONError(w, http.StatusBadGateway, "upstream request failed")
		return
	}

	if retryableStatus(result.status) {
		// Retries exhausted without ever escaping the retryable status set.
		e.breaker.RecordFailure()
		e.recordBreakerState()
		if e.metrics != nil {
			e.metrics.RecordForwardAttempt("retry_exhausted", time.Since(start))
		}
		w.Header().Set("X-LiteFS-Forwarding-Error", "upstream")
		writeJSONError(w, http.StatusBadGateway, "upstream request failed")
		return
	}

	e.breaker.RecordSuccess()
	e.recordBreakerState()
	if e.metrics != nil {
		e.metrics.RecordForwardAttempt("success", time.Since(start))
	}

	for k, vs := range lastResp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set("X-LiteFS-Forwarded", "true")
	// primaryHost is the mount marker's host:port content, not a distinct
	// node-id: the marker-file protocol (internal/mount.Observer) never
	// carries a node identifier separate from its dial address, so there is
	// nothing else to source here. Deliberate deviation from a literal
	// <node-id>, recorded in DESIGN.md.
	w.Header().Set("X-LiteFS-Primary-Node", primaryHost)
	w.WriteHeader(lastResp.StatusCode)
	_, _ = w.Write(lastResp.Body)
}

// buildForwardHeader copies the inbound request's headers, rewrites the
// forwarding metadata the §4.8 request-preservation rule requires, and
// preserves (or generates) a stable idempotency key. The key is generated
// once here, before any retry attempt, so every attempt of one inbound
// request carries the same key.
func buildForwardHeader(r *http.Request) http.Header {
	header := r.Header.Clone()
	header.Del("Host")

	clientIP := clientIPOf(r)
	if existing := header.Get("X-Forwarded-For"); existing != "" {
		header.Set("X-Forwarded-For", existing+", "+clientIP)
	} else {
		header.Set("X-Forwarded-For", clientIP)
	}
	header.Set("X-Forwarded-Host", r.Host)
	proto := "http"
	if r.TLS != nil {
		proto = "https"
	}
	header.Set("X-Forwarded-Proto", proto)

	if header.Get("X-Idempotency-Key") == "" {
		header.Set("X-Idempotency-Key", uuid.NewString())
	}

	return header
}

func clientIPOf(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(fmt.Sprintf(`{"error":%q}`, message)))
}
