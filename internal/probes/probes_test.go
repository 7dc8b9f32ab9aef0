package probes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/litefs-adapter/core/internal/config"
	"github.com/litefs-adapter/core/internal/failover"
	"github.com/litefs-adapter/core/pkg/clusterstate"
)

type stubMount struct{ exists bool }

func (s *stubMount) MountExists() bool { return s.exists }

type stubRole struct{ primary bool }

func (s *stubRole) IsPrimary(ctx context.Context) bool { return s.primary }

// fixedHealth is a HealthInput that always reports the state it was built
// with, so every row of the readiness table (degraded included) can be
// exercised.
type fixedHealth struct{ state clusterstate.HealthState }

func (f *fixedHealth) MarkHealthy()                      {}
func (f *fixedHealth) MarkUnhealthy()                    {}
func (f *fixedHealth) Current() clusterstate.HealthState { return f.state }

func newHealth(t *testing.T, state clusterstate.HealthState) failover.HealthInput {
	t.Helper()
	return &fixedHealth{state: state}
}

func doGet(t *testing.T, handler http.Handler, path string) (*http.Response, map[string]interface{}) {
	t.Helper()
	srv := httptest.NewServer(handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()

	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return resp, body
}

func TestLiveness_FailsOnlyWhenMountAbsent(t *testing.T) {
	t.Parallel()

	p := New(&stubMount{exists: false}, &stubRole{}, newHealth(t, clusterstate.HealthUnhealthy), nil, config.ElectionStatic)
	resp, body := doGet(t, p.Handler(), "/liveness")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
	if body["is_live"] != false {
		t.Errorf("is_live = %v, want false", body["is_live"])
	}
	if _, ok := body["error"]; !ok {
		t.Error("expected error field when not live")
	}
}

func TestLiveness_UnhealthyStillLive(t *testing.T) {
	t.Parallel()

	p := New(&stubMount{exists: true}, &stubRole{}, newHealth(t, clusterstate.HealthUnhealthy), nil, config.ElectionStatic)
	resp, body := doGet(t, p.Handler(), "/liveness")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200 (liveness ignores health)", resp.StatusCode)
	}
	if body["is_live"] != true {
		t.Errorf("is_live = %v, want true", body["is_live"])
	}
}

func TestReadiness_Table(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name            string
		primary         bool
		health          clusterstate.HealthState
		wantStatus      int
		wantReady       bool
		wantCanWrite    bool
	}{
		{"primary healthy", true, clusterstate.HealthHealthy, http.StatusOK, true, true},
		{"primary degraded", true, clusterstate.HealthDegraded, http.StatusServiceUnavailable, false, false},
		{"primary unhealthy", true, clusterstate.HealthUnhealthy, http.StatusServiceUnavailable, false, false},
		{"replica healthy", false, clusterstate.HealthHealthy, http.StatusOK, true, false},
		{"replica degraded", false, clusterstate.HealthDegraded, http.StatusOK, true, false},
		{"replica unhealthy", false, clusterstate.HealthUnhealthy, http.StatusServiceUnavailable, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(&stubMount{exists: true}, &stubRole{primary: tt.primary}, newHealth(t, tt.health), nil, config.ElectionStatic)
			resp, body := doGet(t, p.Handler(), "/readiness")
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if body["is_ready"] != tt.wantReady {
				t.Errorf("is_ready = %v, want %v", body["is_ready"], tt.wantReady)
			}
			if body["can_accept_writes"] != tt.wantCanWrite {
				t.Errorf("can_accept_writes = %v, want %v", body["can_accept_writes"], tt.wantCanWrite)
			}
		})
	}
}

func TestReadiness_MountDown(t *testing.T) {
	t.Parallel()

	p := New(&stubMount{exists: false}, &stubRole{primary: true}, newHealth(t, clusterstate.HealthHealthy), nil, config.ElectionStatic)
	resp, body := doGet(t, p.Handler(), "/readiness")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
	if body["is_ready"] != false || body["can_accept_writes"] != false {
		t.Errorf("body = %v, want not-ready/no-writes", body)
	}
}

type stubSplitBrain struct{ event *clusterstate.SplitBrainEvent }

func (s *stubSplitBrain) Check(ctx context.Context) (*clusterstate.SplitBrainEvent, error) {
	return s.event, nil
}
func (s *stubSplitBrain) HasResolved(ctx context.Context) (bool, error) { return false, nil }

func TestReadiness_SplitBrainOverridesRole(t *testing.T) {
	t.Parallel()

	members := map[string]clusterstate.NodeState{}
	for _, id := range []string{"a", "b"} {
		ns, err := clusterstate.NewNodeState(id, true, 1, nil)
		if err != nil {
			t.Fatalf("NewNodeState: %v", err)
		}
		members[id] = ns
	}
	cs, err := clusterstate.NewClusterState(members, 1)
	if err != nil {
		t.Fatalf("NewClusterState: %v", err)
	}
	event, err := clusterstate.NewSplitBrainEvent(time.Now(), cs, "a", []string{"a", "b"})
	if err != nil {
		t.Fatalf("NewSplitBrainEvent: %v", err)
	}

	p := New(&stubMount{exists: true}, &stubRole{primary: true}, newHealth(t, clusterstate.HealthHealthy), &stubSplitBrain{event: &event}, config.ElectionRaft)
	resp, body := doGet(t, p.Handler(), "/readiness")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
	if body["split_brain_detected"] != true {
		t.Errorf("split_brain_detected = %v, want true", body["split_brain_detected"])
	}
}

func TestDetailedStatus_MountDown(t *testing.T) {
	t.Parallel()

	p := New(&stubMount{exists: false}, &stubRole{primary: true}, newHealth(t, clusterstate.HealthHealthy), nil, config.ElectionStatic)
	resp, body := doGet(t, p.Handler(), "/health")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
	if body["health_status"] != string(clusterstate.HealthUnhealthy) {
		t.Errorf("health_status = %v, want %q", body["health_status"], clusterstate.HealthUnhealthy)
	}
	if _, ok := body["error"]; !ok {
		t.Error("expected error field when mount is down")
	}
}

func TestDetailedStatus_ReportsSnapshot(t *testing.T) {
	t.Parallel()

	p := New(&stubMount{exists: true}, &stubRole{primary: true}, newHealth(t, clusterstate.HealthHealthy), nil, config.ElectionStatic)
	resp, body := doGet(t, p.Handler(), "/health")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if body["is_primary"] != true {
		t.Errorf("is_primary = %v, want true", body["is_primary"])
	}
	if body["node_state"] != "primary" {
		t.Errorf("node_state = %v, want primary", body["node_state"])
	}
}
