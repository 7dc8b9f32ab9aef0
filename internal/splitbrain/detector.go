// Package splitbrain implements the Split-Brain Detector (C5): from a
// cluster snapshot, it identifies whether multiple nodes claim leadership
// and exposes detection/resolution signals. It is mode-gated — a no-op in
// static mode, since static assignment has no second leader to disagree
// with — and does not heal on its own; an optional Resolution collaborator
// (internal/mount.Observer.FenceWriteAccess) is invoked by the caller.
package splitbrain

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/litefs-adapter/core/internal/config"
	"github.com/litefs-adapter/core/pkg/clusterstate"
	"github.com/litefs-adapter/core/pkg/ports"
)

// Detector implements the Split-Brain Detector contract.
type Detector struct {
	mode       config.ElectionMode
	election   ports.RaftLeaderElection
	nodeID     string

	mu             sync.Mutex
	everDetected   bool
	lastLeaderCnt  int
}

// NewDetector constructs a detector. In static mode (election == nil is
// also accepted as a static-mode shorthand), Check always returns no
// detection.
func NewDetector(mode config.ElectionMode, election ports.RaftLeaderElection, nodeID string) *Detector {
	return &Detector{mode: mode, election: election, nodeID: nodeID}
}

// Check queries the current cluster snapshot and returns a detection event
// when two or more leaders are observed, or nil otherwise. Zero leaders is
// logged as a leaderless warning, not reported as split-brain.
func (d *Detector) Check(ctx context.Context) (*clusterstate.SplitBrainEvent, error) {
	if d.mode != config.ElectionRaft || d.election == nil {
		return nil, nil
	}

	snapshot, err := d.election.GetClusterState(ctx)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.lastLeaderCnt = snapshot.CountLeaders()
	d.mu.Unlock()

	if snapshot.IsLeaderless() {
		log.Printf("splitbrain: cluster snapshot shows no leader (leaderless, not split-brain)")
	}

	if !snapshot.HasSplitBrain() {
		return nil, nil
	}

	event, err := clusterstate.NewSplitBrainEvent(time.Now(), snapshot, d.nodeID, snapshot.LeadersDetected())
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.everDetected = true
	d.mu.Unlock()

	return &event, nil
}

// HasResolved reports whether a previous detection has since been followed
// by a snapshot with <= 1 leader.
func (d *Detector) HasResolved(ctx context.Context) (bool, error) {
	d.mu.Lock()
	everDetected := d.everDetected
	d.mu.Unlock()

	if !everDetected {
		return false, nil
	}

	if d.mode != config.ElectionRaft || d.election == nil {
		return true, nil
	}

	snapshot, err := d.election.GetClusterState(ctx)
	if err != nil {
		return false, err
	}
	return snapshot.CountLeaders() <= 1, nil
}
