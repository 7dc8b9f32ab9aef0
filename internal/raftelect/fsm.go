// Package raftelect is the reference ports.RaftLeaderElection adapter: a
// hashicorp/raft cluster whose only replicated state is "who believes they
// are leader, and as of what heartbeat", wired up the way cuemby-warren's
// pkg/manager.Manager wires its own raft.Raft (NewTCPTransport,
// NewFileSnapshotStore, raftboltdb.NewBoltStore for the log/stable stores,
// raft.NewRaft, then BootstrapCluster/AddVoter to form the cluster).
package raftelect

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hashicorp/raft"
)

// beliefCommand is the only log entry kind this FSM applies: one node's
// self-reported leadership belief as of a given term and heartbeat time.
// Unlike cuemby-warren's WarrenFSM (which replicates node/job CRUD), this FSM
// carries no domain data beyond the belief itself: cluster coordination
// state is a read-side projection of raft's own leadership, not a
// separately-replicated resource.
type beliefCommand struct {
	NodeID           string     `json:"node_id"`
	BelievesIsLeader bool       `json:"believes_is_leader"`
	ElectionTerm     int        `json:"election_term"`
	LastHeartbeat    *time.Time `json:"last_heartbeat,omitempty"`
}

// electionFSM implements raft.FSM. It holds the last beliefCommand seen
// from every node that has ever applied one, which is exactly the state
// GetClusterState needs to build a clusterstate.ClusterState snapshot.
type electionFSM struct {
	mu       sync.RWMutex
	beliefs  map[string]beliefCommand
}

func newElectionFSM() *electionFSM {
	return &electionFSM{beliefs: make(map[string]beliefCommand)}
}

// Apply applies one committed log entry: decode the belief and store it.
func (f *electionFSM) Apply(log *raft.Log) interface{} {
	var cmd beliefCommand
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("raftelect: decode log entry: %w", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beliefs[cmd.NodeID] = cmd
	return nil
}

// Snapshot returns a point-in-time copy of the belief map for raft to
// persist; fsmSnapshot.Persist below serializes it as JSON.
func (f *electionFSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	copied := make(map[string]beliefCommand, len(f.beliefs))
	for id, b := range f.beliefs {
		copied[id] = b
	}
	return &fsmSnapshot{beliefs: copied}, nil
}

// Restore replaces the FSM's state from a previously persisted snapshot.
func (f *electionFSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	var beliefs map[string]beliefCommand
	if err := json.NewDecoder(rc).Decode(&beliefs); err != nil {
		return fmt.Errorf("raftelect: decode snapshot: %w", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beliefs = beliefs
	return nil
}

// snapshot returns a defensive copy of the current belief map for the
// election adapter to build a clusterstate.ClusterState from.
func (f *electionFSM) snapshot() map[string]beliefCommand {
	f.mu.RLock()
	defer f.mu.RUnlock()
	copied := make(map[string]beliefCommand, len(f.beliefs))
	for id, b := range f.beliefs {
		copied[id] = b
	}
	return copied
}

type fsmSnapshot struct {
	beliefs map[string]beliefCommand
}

func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	err := json.NewEncoder(sink).Encode(s.beliefs)
	if err != nil {
		sink.Cancel()
		return err
	}
	return sink.Close()
}

func (s *fsmSnapshot) Release() {}
