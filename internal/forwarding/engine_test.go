package forwarding

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/litefs-adapter/core/internal/config"
	"github.com/litefs-adapter/core/pkg/ports"
)

type stubLocator struct {
	primary bool
	url     string
	ok      bool
}

func (s *stubLocator) IsPrimary(ctx context.Context) bool       { return s.primary }
func (s *stubLocator) PrimaryURL() (url string, ok bool)        { return s.url, s.ok }

// scriptedClient plays back a fixed sequence of responses/errors, one per
// Forward call, and records every request it was handed.
type scriptedClient struct {
	responses []scriptedResult
	calls     []ports.ForwardRequest
	n         int
}

type scriptedResult struct {
	status int
	header http.Header
	body   []byte
	err    error
	delay  time.Duration
}

func (c *scriptedClient) Forward(ctx context.Context, req ports.ForwardRequest) (*ports.ForwardResponse, error) {
	c.calls = append(c.calls, req)
	r := c.responses[c.n]
	c.n++

	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	return &ports.ForwardResponse{StatusCode: r.status, Header: r.header, Body: r.body}, nil
}

func baseForwardingSettings() config.ForwardingSettings {
	return config.ForwardingSettings{
		Enabled:                 true,
		ConnectTimeout:          time.Second,
		ReadTimeout:             time.Second,
		RetryCount:              3,
		RetryBackoffBase:        time.Millisecond,
		CircuitBreakerThreshold: 5,
		CircuitResetTimeout:     50 * time.Millisecond,
		Scheme:                  "http",
	}
}

func newServer(t *testing.T, engine *Engine) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("request should have been forwarded, not handled locally")
	})
	return httptest.NewServer(engine.Middleware(mux))
}

// S1-equivalent: a primary node never forwards.
func TestEngine_PassesThroughOnPrimary(t *testing.T) {
	settings := baseForwardingSettings()
	client := &scriptedClient{}
	engine, err := NewEngine(settings, &stubLocator{primary: true}, client)
	require.NoError(t, err)

	handled := false
	mux := http.NewServeMux()
	mux.HandleFunc("/api/x", func(w http.ResponseWriter, r *http.Request) { handled = true; w.WriteHeader(200) })
	srv := httptest.NewServer(engine.Middleware(mux))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/x", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.True(t, handled)
	assert.Empty(t, client.calls)
}

func TestEngine_PassesThroughForReadMethods(t *testing.T) {
	settings := baseForwardingSettings()
	client := &scriptedClient{}
	engine, err := NewEngine(settings, &stubLocator{primary: false, ok: true, url: "primary.local:8000"}, client)
	require.NoError(t, err)

	handled := false
	mux := http.NewServeMux()
	mux.HandleFunc("/api/x", func(w http.ResponseWriter, r *http.Request) { handled = true; w.WriteHeader(200) })
	srv := httptest.NewServer(engine.Middleware(mux))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/x")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.True(t, handled)
	assert.Empty(t, client.calls)
}

func TestEngine_PassesThroughExcludedPath(t *testing.T) {
	settings := baseForwardingSettings()
	settings.ExcludedExact = []string{"/healthz"}
	client := &scriptedClient{}
	engine, err := NewEngine(settings, &stubLocator{primary: false, ok: true, url: "primary.local:8000"}, client)
	require.NoError(t, err)

	handled := false
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { handled = true; w.WriteHeader(200) })
	srv := httptest.NewServer(engine.Middleware(mux))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/healthz", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.True(t, handled)
	assert.Empty(t, client.calls)
}

// S3-equivalent: a write forwarded from a replica preserves method, body,
// headers, and surfaces the primary's response plus the forwarding headers.
func TestEngine_ForwardsPOSTAndPreservesRequestAndResponse(t *testing.T) {
	settings := baseForwardingSettings()
	client := &scriptedClient{responses: []scriptedResult{
		{status: 201, header: http.Header{"X-Custom": []string{"k"}}, body: []byte(`{"ok":true}`)},
	}}
	engine, err := NewEngine(settings, &stubLocator{primary: false, ok: true, url: "primary.local:8000"}, client)
	require.NoError(t, err)

	srv := newServer(t, engine)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/x", strings.NewReader(`{"v":1}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer z")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, `{"ok":true}`, string(body))
	assert.Equal(t, "k", resp.Header.Get("X-Custom"))
	assert.Equal(t, "true", resp.Header.Get("X-LiteFS-Forwarded"))
	assert.Equal(t, "primary.local:8000", resp.Header.Get("X-LiteFS-Primary-Node"))

	require.Len(t, client.calls, 1)
	forwarded := client.calls[0]
	assert.Equal(t, "http://primary.local:8000/api/x", forwarded.URL)
	assert.Equal(t, "Bearer z", forwarded.Header.Get("Authorization"))
	assert.NotEmpty(t, forwarded.Header.Get("X-Forwarded-For"))
	assert.Equal(t, []byte(`{"v":1}`), forwarded.Body)
}

// S4-equivalent: two retryable failures then success; exactly three attempts.
func TestEngine_RetriesOnRetryableStatusThenSucceeds(t *testing.T) {
	settings := baseForwardingSettings()
	client := &scriptedClient{responses: []scriptedResult{
		{status: 503},
		{status: 503},
		{status: 201, body: []byte("ok")},
	}}
	engine, err := NewEngine(settings, &stubLocator{primary: false, ok: true, url: "primary.local:8000"}, client)
	require.NoError(t, err)

	srv := newServer(t, engine)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/x", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Len(t, client.calls, 3)
}

func TestEngine_DoesNotRetryOn4xx(t *testing.T) {
	settings := baseForwardingSettings()
	client := &scriptedClient{responses: []scriptedResult{{status: 404}}}
	engine, err := NewEngine(settings, &stubLocator{primary: false, ok: true, url: "primary.local:8000"}, client)
	require.NoError(t, err)

	srv := newServer(t, engine)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/x", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Len(t, client.calls, 1)
}

// S5-equivalent: the breaker opens after threshold consecutive failures and
// the next request is rejected without any outbound attempt.
func TestEngine_CircuitOpensAfterThreshold(t *testing.T) {
	settings := baseForwardingSettings()
	settings.RetryCount = 0 // one attempt per request, to land on a deterministic failure count
	client := &scriptedClient{}
	for i := 0; i < 5; i++ {
		client.responses = append(client.responses, scriptedResult{err: errors.New("connection refused")})
	}
	engine, err := NewEngine(settings, &stubLocator{primary: false, ok: true, url: "primary.local:8000"}, client)
	require.NoError(t, err)

	srv := newServer(t, engine)
	defer srv.Close()

	for i := 0; i < 5; i++ {
		resp, err := http.Post(srv.URL+"/api/x", "application/json", nil)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	}
	assert.Len(t, client.calls, 5)

	resp, err := http.Post(srv.URL+"/api/x", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	assert.Len(t, client.calls, 5, "the sixth request must not attempt an outbound call")
}

func TestEngine_TimeoutYields504(t *testing.T) {
	settings := baseForwardingSettings()
	settings.ConnectTimeout = 5 * time.Millisecond
	settings.ReadTimeout = 5 * time.Millisecond
	settings.RetryCount = 0
	client := &scriptedClient{responses: []scriptedResult{{status: 200, delay: 50 * time.Millisecond}}}
	engine, err := NewEngine(settings, &stubLocator{primary: false, ok: true, url: "primary.local:8000"}, client)
	require.NoError(t, err)

	srv := newServer(t, engine)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/x", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)
	assert.Equal(t, "timeout", resp.Header.Get("X-LiteFS-Forwarding-Error"))
}

func TestEngine_PrimaryUnknownWithoutHintIs503(t *testing.T) {
	settings := baseForwardingSettings()
	client := &scriptedClient{}
	engine, err := NewEngine(settings, &stubLocator{primary: false, ok: false}, client)
	require.NoError(t, err)

	srv := newServer(t, engine)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/x", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Empty(t, client.calls)
}

type stubEngineMetrics struct {
	outcomes      []string
	breakerStates []string
}

func (s *stubEngineMetrics) RecordForwardAttempt(outcome string, duration time.Duration) {
	s.outcomes = append(s.outcomes, outcome)
}

func (s *stubEngineMetrics) SetBreakerState(state string) {
	s.breakerStates = append(s.breakerStates, state)
}

func TestEngine_RecordsForwardOutcomeAndBreakerState(t *testing.T) {
	settings := baseForwardingSettings()
	client := &scriptedClient{responses: []scriptedResult{
		{status: 201, body: []byte("ok")},
	}}
	engine, err := NewEngine(settings, &stubLocator{primary: false, ok: true, url: "primary.local:8000"}, client)
	require.NoError(t, err)
	m := &stubEngineMetrics{}
	engine.SetMetrics(m)

	srv := newServer(t, engine)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/x", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, []string{"success"}, m.outcomes)
	assert.Equal(t, []string{"closed"}, m.breakerStates)
}

func TestEngine_RecordsBreakerOpenOutcome(t *testing.T) {
	settings := baseForwardingSettings()
	settings.RetryCount = 0
	client := &scriptedClient{}
	for i := 0; i < 5; i++ {
		client.responses = append(client.responses, scriptedResult{err: errors.New("connection refused")})
	}
	engine, err := NewEngine(settings, &stubLocator{primary: false, ok: true, url: "primary.local:8000"}, client)
	require.NoError(t, err)
	m := &stubEngineMetrics{}
	engine.SetMetrics(m)

	srv := newServer(t, engine)
	defer srv.Close()

	for i := 0; i < 5; i++ {
		resp, err := http.Post(srv.URL+"/api/x", "application/json", nil)
		require.NoError(t, err)
		resp.Body.Close()
	}

	resp, err := http.Post(srv.URL+"/api/x", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.NotEmpty(t, m.outcomes)
	assert.Equal(t, "breaker_open", m.outcomes[len(m.outcomes)-1])
	assert.Equal(t, "open", m.breakerStates[len(m.breakerStates)-1])
}
