// Package failover implements the Failover Coordinator (C6): a guarded
// PRIMARY/REPLICA state machine driven by an explicit periodic tick rather
// than an owned goroutine, per §9's "periodic coordination loop → explicit
// tick" design note. Health is injected via ports rather than probed by
// the coordinator itself.
package failover

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/litefs-adapter/core/pkg/clusterstate"
	"github.com/litefs-adapter/core/pkg/ports"
)

// HealthInput is the port through which external callers report node
// health; the coordinator never probes anything itself.
type HealthInput interface {
	MarkHealthy()
	MarkUnhealthy()
	Current() clusterstate.HealthState
}

// healthFlag is the module's own HealthInput implementation: a mutex
// guarded flag, injected into the coordinator at construction.
type healthFlag struct {
	mu    sync.Mutex
	state clusterstate.HealthState
}

// NewHealthFlag constructs a HealthInput that starts healthy.
func NewHealthFlag() HealthInput {
	return &healthFlag{state: clusterstate.HealthHealthy}
}

func (h *healthFlag) MarkHealthy() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = clusterstate.HealthHealthy
}

func (h *healthFlag) MarkUnhealthy() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = clusterstate.HealthUnhealthy
}

func (h *healthFlag) Current() clusterstate.HealthState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Coordinator implements the C6 state machine. role and health-derived
// gating are guarded by a single mutex; events are emitted while the
// mutex is held so observers see a consistent ordering, per §5.
type Coordinator struct {
	election ports.LeaderElection
	health   HealthInput
	emitter  ports.EventEmitter

	mu   sync.Mutex
	role clusterstate.Role
}

// NewCoordinator constructs a coordinator starting in the REPLICA state,
// per §4.6.
func NewCoordinator(election ports.LeaderElection, health HealthInput, emitter ports.EventEmitter) *Coordinator {
	return &Coordinator{
		election: election,
		health:   health,
		emitter:  emitter,
		role:     clusterstate.RoleReplica,
	}
}

// Role returns the coordinator's current role.
func (c *Coordinator) Role() clusterstate.Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

// CoordinateTransition evaluates the transition table in §4.6 once. It
// queries elected (via the Leader-Election port), the injected health
// state, and quorum (when the port supports it), then applies exactly one
// of the documented transitions. Idempotent ticks (no observable state
// change) emit no events.
func (c *Coordinator) CoordinateTransition(ctx context.Context) {
	elected, err := c.election.IsLeaderElected(ctx)
	if err != nil {
		// Treated as "unknown"; the coordinator stays where it is and
		// does not guess at a transition.
		log.Printf("failover: leader-election port unreachable, holding role: %v", err)
		return
	}

	healthy := c.health.Current() != clusterstate.HealthUnhealthy
	quorum := c.resolveQuorum(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.role {
	case clusterstate.RoleReplica:
		c.transitionFromReplica(elected, healthy, quorum)
	case clusterstate.RolePrimary:
		c.transitionFromPrimary(ctx, elected, healthy, quorum)
	}
}

func (c *Coordinator) resolveQuorum(ctx context.Context) bool {
	raftElection, ok := c.election.(ports.RaftLeaderElection)
	if !ok {
		// Static mode has no quorum concept; treat as always satisfied.
		return true
	}
	quorum, err := raftElection.IsQuorumReached(ctx)
	if err != nil {
		return false
	}
	return quorum
}

// transitionFromReplica must be called with c.mu held.
func (c *Coordinator) transitionFromReplica(elected, healthy, quorum bool) {
	switch {
	case elected && healthy && quorum:
		c.role = clusterstate.RolePrimary
		c.emitLocked(clusterstate.FailoverPromoted, clusterstate.RoleReplica, clusterstate.RolePrimary, "elected, healthy, quorum reached")
	case elected && !healthy:
		c.emitLocked(clusterstate.FailoverPromotionBlocked, clusterstate.RoleReplica, clusterstate.RoleReplica, "health")
	case elected && !quorum:
		c.emitLocked(clusterstate.FailoverPromotionBlocked, clusterstate.RoleReplica, clusterstate.RoleReplica, "quorum")
	}
}

// transitionFromPrimary must be called with c.mu held.
func (c *Coordinator) transitionFromPrimary(ctx context.Context, elected, healthy, quorum bool) {
	switch {
	case elected && healthy && quorum:
		// Idempotent: no event.
	case !elected:
		c.role = clusterstate.RoleReplica
		c.emitLocked(clusterstate.FailoverDemoted, clusterstate.RolePrimary, clusterstate.RoleReplica, "no longer elected")
	case elected && !healthy:
		c.role = clusterstate.RoleReplica
		c.emitLocked(clusterstate.FailoverDemotedForHealth, clusterstate.RolePrimary, clusterstate.RoleReplica, "health")
	case elected && !quorum:
		c.role = clusterstate.RoleReplica
		c.emitLocked(clusterstate.FailoverDemotedForQuorumLoss, clusterstate.RolePrimary, clusterstate.RoleReplica, "quorum")
	}
}

// Handoff performs an explicit operator-requested graceful demotion of a
// PRIMARY node: emits handoff_begin, asks the Leader-Election port to step
// down, waits up to drainTimeout for in-flight writes to drain, then
// transitions to REPLICA and emits handoff_complete. If step-down fails,
// the error is logged and the coordinator still drains and transitions to
// REPLICA. Handoff does not fence the `.primary` marker itself.
func (c *Coordinator) Handoff(ctx context.Context, drain func(context.Context, time.Duration), drainTimeout time.Duration) {
	c.mu.Lock()
	if c.role != clusterstate.RolePrimary {
		c.mu.Unlock()
		return
	}
	c.emitLocked(clusterstate.FailoverHandoffBegin, clusterstate.RolePrimary, clusterstate.RolePrimary, "operator-requested handoff")
	c.mu.Unlock()

	if err := c.election.DemoteFromLeader(ctx); err != nil {
		log.Printf("failover: step-down failed during handoff, proceeding with demotion anyway: %v", err)
	}

	if drain != nil {
		drain(ctx, drainTimeout)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.role = clusterstate.RoleReplica
	c.emitLocked(clusterstate.FailoverHandoffComplete, clusterstate.RolePrimary, clusterstate.RoleReplica, "handoff complete")
}

// emitLocked must be called with c.mu held.
func (c *Coordinator) emitLocked(kind clusterstate.FailoverEventKind, from, to clusterstate.Role, reason string) {
	event, err := clusterstate.NewFailoverEvent(kind, from, to, reason, time.Now())
	if err != nil {
		log.Printf("failover: failed to construct event: %v", err)
		return
	}
	if c.emitter != nil {
		c.emitter.Emit(ports.Event{Payload: event})
	}
}
