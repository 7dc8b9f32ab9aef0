// Package ports defines the external collaborator contracts the
// coordination core consumes. Every concrete adapter (the raft reference
// implementation in internal/raftelect, the split-brain detector, the
// mount-backed conflict resolution, the event bus, the forwarding HTTP
// client) satisfies one of these interfaces; callers
// inside the core depend only on the interface, never on a concrete type,
// per the "explicit capability sets, not inheritance" design note.
package ports

import (
	"context"
	"net/http"
	"time"

	"github.com/litefs-adapter/core/pkg/clusterstate"
)

// PrimaryDetector answers whether the local node is currently primary.
// Implementations may raise an infrastructure-unavailable error (see
// pkg/errors) when the underlying marker cannot be observed.
type PrimaryDetector interface {
	IsPrimary(ctx context.Context) (bool, error)
}

// NodeIDResolver resolves the identifier this process reports as in
// cluster state and election traffic. Implementations raise a
// configuration error when no identifier can be resolved.
type NodeIDResolver interface {
	ResolveNodeID() (string, error)
}

// LeaderElection is the base port every leader-election adapter must
// satisfy, whether static or raft. Failures are treated as "unknown" by
// callers: the coordinator stays REPLICA rather than guess.
type LeaderElection interface {
	IsLeaderElected(ctx context.Context) (bool, error)
	ElectAsLeader(ctx context.Context) error
	DemoteFromLeader(ctx context.Context) error
}

// RaftLeaderElection extends LeaderElection with the consensus-specific
// operations a raft-mode Role Resolver and Failover Coordinator need.
type RaftLeaderElection interface {
	LeaderElection

	IsQuorumReached(ctx context.Context) (bool, error)
	GetClusterMembers(ctx context.Context) ([]string, error)
	GetClusterState(ctx context.Context) (clusterstate.ClusterState, error)
	DetectSplitBrain(ctx context.Context) (bool, error)
	GetElectionTimeout() time.Duration
}

// SplitBrainDetector is the port the write-path guard and middleware query
// for the current split-brain signal. Detection failures are fail-open for
// callers that choose to treat them that way (middleware); the guard
// itself fails closed on error per §7 of the coordination design.
type SplitBrainDetector interface {
	Check(ctx context.Context) (*clusterstate.SplitBrainEvent, error)
	HasResolved(ctx context.Context) (bool, error)
}

// ResolutionStrategy names a conflict-resolution action a Conflict
// Resolution port can be asked to apply.
type ResolutionStrategy string

const (
	StrategyForceReplica ResolutionStrategy = "FORCE_REPLICA"
	StrategyFenceWrites  ResolutionStrategy = "FENCE_WRITES"
)

// ConflictResolution fences write access or applies a named resolution
// strategy when split-brain is detected. Errors are logged by callers and
// never cascade into request failures.
type ConflictResolution interface {
	FenceWriteAccess(ctx context.Context) error
	ApplyResolutionStrategy(ctx context.Context, strategy ResolutionStrategy) error
}

// Event is the envelope carried by the Event Emitter port. Payload is
// either a clusterstate.FailoverEvent or a clusterstate.SplitBrainEvent;
// callers type-switch on it.
type Event struct {
	Payload interface{}
}

// EventEmitter is fire-and-forget: emit must never fail the caller.
// Subscribers are invoked synchronously in registration order and must not
// panic; pkg/events.Bus is the module's own implementation of this port.
type EventEmitter interface {
	Emit(event Event)
}

// ForwardRequest is the HTTP Client port's request shape: everything the
// Forwarding Engine needs preserved across the hop to the primary.
type ForwardRequest struct {
	Method  string
	URL     string
	Header  http.Header
	Body    []byte
	Timeout time.Duration
}

// ForwardResponse is the HTTP Client port's response shape.
type ForwardResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// HTTPClient forwards a request to the primary and returns its response,
// or a transport error that the Forwarding Engine's retry/breaker logic
// interprets.
type HTTPClient interface {
	Forward(ctx context.Context, req ForwardRequest) (*ForwardResponse, error)
}
