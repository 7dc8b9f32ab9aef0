// Package probes implements the Health Probes (C9): liveness, readiness,
// and detailed-status HTTP endpoints, in the handler-plus-mux style of the
// teacher's pkg/api.Server (respondJSON helper, one ServeMux, one method
// per endpoint).
package probes

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/litefs-adapter/core/internal/config"
	"github.com/litefs-adapter/core/internal/failover"
	"github.com/litefs-adapter/core/pkg/clusterstate"
	"github.com/litefs-adapter/core/pkg/ports"
)

// MountChecker reports whether the replicated mount is currently
// accessible. internal/mount.Observer satisfies this via MountExists.
type MountChecker interface {
	MountExists() bool
}

// RoleChecker is the role-query collaborator probes consult.
// internal/role.Resolver satisfies this directly.
type RoleChecker interface {
	IsPrimary(ctx context.Context) bool
}

// Probes serves the three §4.9 endpoints. splitBrain is optional: nil (or
// static mode) means the split-brain row of the readiness table never
// applies.
type Probes struct {
	mount      MountChecker
	role       RoleChecker
	health     failover.HealthInput
	splitBrain ports.SplitBrainDetector
	mode       config.ElectionMode
}

// New constructs a Probes collaborator.
func New(mount MountChecker, role RoleChecker, health failover.HealthInput, splitBrain ports.SplitBrainDetector, mode config.ElectionMode) *Probes {
	return &Probes{mount: mount, role: role, health: health, splitBrain: splitBrain, mode: mode}
}

// Handler returns an http.Handler serving /liveness, /readiness, and
// /health.
func (p *Probes) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/liveness", p.handleLiveness)
	mux.HandleFunc("/readiness", p.handleReadiness)
	mux.HandleFunc("/health", p.handleDetailedStatus)
	return mux
}

// handleLiveness fails only when the mount is absent; a degraded or
// unhealthy node still reports live.
func (p *Probes) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if !p.mount.MountExists() {
		respondJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"is_live": false,
			"error":   "mount path is not accessible",
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"is_live": true})
}

// handleReadiness implements the role-aware table in §4.9.
func (p *Probes) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if !p.mount.MountExists() {
		respondJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"is_ready":           false,
			"can_accept_writes":  false,
			"error":              "mount path is not accessible",
		})
		return
	}

	if event := p.checkSplitBrain(r.Context()); event != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"is_ready":              false,
			"can_accept_writes":     false,
			"split_brain_detected":  true,
			"leader_node_ids":       event.ConflictingLeaders,
		})
		return
	}

	ready, canWrite := p.readinessDecision(r.Context())
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, map[string]interface{}{
		"is_ready":          ready,
		"can_accept_writes": canWrite,
	})
}

// handleDetailedStatus returns the full status snapshot.
func (p *Probes) handleDetailedStatus(w http.ResponseWriter, r *http.Request) {
	if !p.mount.MountExists() {
		respondJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"health_status": clusterstate.HealthUnhealthy,
			"error":         "mount path is not accessible",
		})
		return
	}

	isPrimary := p.role.IsPrimary(r.Context())
	ready, _ := p.readinessDecision(r.Context())
	nodeState := "replica"
	if isPrimary {
		nodeState = "primary"
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"is_primary":    isPrimary,
		"health_status": p.health.Current(),
		"node_state":    nodeState,
		"is_ready":      ready,
	})
}

// readinessDecision applies the role/health rows of the §4.9 table, absent
// the mount and split-brain checks (handled by callers first).
func (p *Probes) readinessDecision(ctx context.Context) (ready, canAcceptWrites bool) {
	isPrimary := p.role.IsPrimary(ctx)
	state := p.health.Current()

	if isPrimary {
		if state == clusterstate.HealthHealthy {
			return true, true
		}
		return false, false
	}

	if state == clusterstate.HealthUnhealthy {
		return false, false
	}
	return true, false
}

// checkSplitBrain reports a live split-brain event, fail-open on detector
// error (the readiness endpoint behaves like middleware, not the guard).
func (p *Probes) checkSplitBrain(ctx context.Context) *clusterstate.SplitBrainEvent {
	if p.mode != config.ElectionRaft || p.splitBrain == nil {
		return nil
	}
	event, err := p.splitBrain.Check(ctx)
	if err != nil {
		return nil
	}
	return event
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
