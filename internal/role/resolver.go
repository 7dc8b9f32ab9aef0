// Package role implements the Role Resolver (C3): the uniform
// primary/replica query interface higher layers use, backed by either a
// byte-exact static hostname comparison or a raft-mode Leader-Election
// port delegate.
package role

import (
	"context"

	"github.com/litefs-adapter/core/internal/config"
	"github.com/litefs-adapter/core/internal/mount"
	"github.com/litefs-adapter/core/pkg/ports"
)

// Belief is the tri-state result of a role query. Unknown arises only in
// raft mode when the Leader-Election port cannot be reached; callers must
// treat Unknown as Replica for safety, per §4.3.
type Belief int

const (
	BeliefReplica Belief = iota
	BeliefPrimary
	BeliefUnknown
)

// IsPrimary reports whether the caller should treat the node as primary:
// true only for BeliefPrimary.
func (b Belief) IsPrimary() bool { return b == BeliefPrimary }

// Resolver implements the Role Resolver contract for both static and raft
// modes. Exactly one of hostname comparison or the leader-election port is
// consulted, selected by settings.LeaderElection at construction.
type Resolver struct {
	mode            config.ElectionMode
	primaryHostname string
	localHostname   string
	election        ports.LeaderElection
	observer        *mount.Observer
}

// NewStatic constructs a static-mode resolver. Comparison is byte-exact,
// case-sensitive, with no normalization: any mismatch (including case,
// FQDN vs. short name, or substring) resolves to replica.
func NewStatic(primaryHostname, localHostname string, observer *mount.Observer) *Resolver {
	return &Resolver{
		mode:            config.ElectionStatic,
		primaryHostname: primaryHostname,
		localHostname:   localHostname,
		observer:        observer,
	}
}

// NewRaft constructs a raft-mode resolver delegating to the given
// Leader-Election port.
func NewRaft(election ports.LeaderElection, observer *mount.Observer) *Resolver {
	return &Resolver{
		mode:     config.ElectionRaft,
		election: election,
		observer: observer,
	}
}

// Resolve returns the node's current role belief.
func (r *Resolver) Resolve(ctx context.Context) Belief {
	if r.mode == config.ElectionStatic {
		if r.primaryHostname == r.localHostname {
			return BeliefPrimary
		}
		return BeliefReplica
	}

	elected, err := r.election.IsLeaderElected(ctx)
	if err != nil {
		return BeliefUnknown
	}
	if elected {
		return BeliefPrimary
	}
	return BeliefReplica
}

// IsPrimary is the simple boolean projection of Resolve: Unknown is
// treated as not-primary.
func (r *Resolver) IsPrimary(ctx context.Context) bool {
	return r.Resolve(ctx).IsPrimary()
}

// PrimaryURL returns the primary's URL from the mount observer's marker
// content. It returns ("", false) when the marker is empty-but-present
// (meaning "this node is primary") or absent (no primary elected); the
// bool distinguishes "no URL to forward to" from "forward here".
func (r *Resolver) PrimaryURL() (url string, ok bool) {
	marker, err := r.observer.ReadPrimaryMarker()
	if err != nil {
		return "", false
	}
	if marker.Kind != mount.MarkerPresentWithContent {
		return "", false
	}
	return marker.Content, true
}
