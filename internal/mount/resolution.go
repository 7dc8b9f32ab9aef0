package mount

import (
	"context"
	"fmt"

	"github.com/litefs-adapter/core/pkg/ports"
)

// Resolution implements ports.ConflictResolution on top of the mount
// observer's fencing primitive, plus an injected role check and
// force-to-replica callback the caller supplies -- typically
// role.Resolver.IsPrimary and failover.Coordinator.Handoff. Neither
// collaborator is required: a nil isPrimary or forceReplica simply makes
// StrategyForceReplica a no-op, which is itself a safe default (there is
// nothing to force).
type Resolution struct {
	observer     *Observer
	isPrimary    func(ctx context.Context) bool
	forceReplica func(ctx context.Context)
}

// NewResolution constructs a Resolution collaborator for the Split-Brain
// Detector's caller to invoke when a detection fires.
func NewResolution(observer *Observer, isPrimary func(ctx context.Context) bool, forceReplica func(ctx context.Context)) *Resolution {
	return &Resolution{observer: observer, isPrimary: isPrimary, forceReplica: forceReplica}
}

// FenceWriteAccess adapts Observer.FenceWriteAccess to the port's exact
// signature.
func (r *Resolution) FenceWriteAccess(ctx context.Context) error {
	return r.observer.FenceWriteAccess(ctx)
}

// ApplyResolutionStrategy applies a named resolution strategy.
// StrategyFenceWrites delegates to FenceWriteAccess. StrategyForceReplica
// is a no-op when the node is already a replica (or when no
// isPrimary/forceReplica collaborator was wired) -- per §8's idempotence
// property, forcing replica on an already-replica node must not be
// observable.
func (r *Resolution) ApplyResolutionStrategy(ctx context.Context, strategy ports.ResolutionStrategy) error {
	switch strategy {
	case ports.StrategyFenceWrites:
		return r.FenceWriteAccess(ctx)
	case ports.StrategyForceReplica:
		if r.isPrimary == nil || r.forceReplica == nil || !r.isPrimary(ctx) {
			return nil
		}
		r.forceReplica(ctx)
		return nil
	default:
		return fmt.Errorf("mount: unknown resolution strategy %q", strategy)
	}
}
