// Package clusterstate defines the immutable value objects that describe a
// raft-elected cluster's leadership belief: per-node state, the aggregate
// cluster snapshot, and the pure derivations (split-brain, leaderless,
// single-leader) built on top of them. Nothing in this package mutates
// after construction and nothing in this package performs I/O; it is the
// shared vocabulary the split-brain detector and failover coordinator both
// read.
package clusterstate

import (
	"fmt"
	"strings"
	"time"
)

// NodeState is a single raft node's self-reported belief about leadership.
// Constructed only via NewNodeState, which enforces the invariant that a
// leader receives no heartbeats from itself.
type NodeState struct {
	nodeID            string
	believesIsLeader  bool
	electionTerm      int
	lastHeartbeatTS   *time.Time
}

// NewNodeState validates and constructs a NodeState. nodeID must be
// non-empty and non-whitespace; electionTerm must be >= 0. If
// believesIsLeader is true, lastHeartbeat is ignored and treated as absent
// (a leader does not receive heartbeats from itself).
func NewNodeState(nodeID string, believesIsLeader bool, electionTerm int, lastHeartbeat *time.Time) (NodeState, error) {
	if strings.TrimSpace(nodeID) == "" {
		return NodeState{}, fmt.Errorf("clusterstate: node_id must be non-empty and non-whitespace")
	}
	if electionTerm < 0 {
		return NodeState{}, fmt.Errorf("clusterstate: election_term must be >= 0, got %d", electionTerm)
	}
	ns := NodeState{
		nodeID:           nodeID,
		believesIsLeader: believesIsLeader,
		electionTerm:     electionTerm,
	}
	if !believesIsLeader {
		ns.lastHeartbeatTS = lastHeartbeat
	}
	return ns, nil
}

func (n NodeState) NodeID() string             { return n.nodeID }
func (n NodeState) BelievesIsLeader() bool      { return n.believesIsLeader }
func (n NodeState) ElectionTerm() int           { return n.electionTerm }
func (n NodeState) LastHeartbeat() *time.Time   { return n.lastHeartbeatTS }

// ClusterState is the aggregate snapshot of all known node states plus the
// quorum policy in effect. Constructed only via NewClusterState.
type ClusterState struct {
	members    map[string]NodeState
	quorumSize int
}

// NewClusterState validates and constructs a ClusterState. members must be
// non-empty; quorumSize must be in [1, len(members)].
func NewClusterState(members map[string]NodeState, quorumSize int) (ClusterState, error) {
	if len(members) == 0 {
		return ClusterState{}, fmt.Errorf("clusterstate: members must be non-empty")
	}
	if quorumSize < 1 || quorumSize > len(members) {
		return ClusterState{}, fmt.Errorf("clusterstate: quorum_size must be in [1..%d], got %d", len(members), quorumSize)
	}
	copied := make(map[string]NodeState, len(members))
	for id, ns := range members {
		copied[id] = ns
	}
	return ClusterState{members: copied, quorumSize: quorumSize}, nil
}

// Members returns a copy of the member map so callers cannot mutate the
// snapshot held internally.
func (c ClusterState) Members() map[string]NodeState {
	copied := make(map[string]NodeState, len(c.members))
	for id, ns := range c.members {
		copied[id] = ns
	}
	return copied
}

func (c ClusterState) QuorumSize() int { return c.quorumSize }

// LeadersDetected returns the set of node ids that currently believe they
// are the leader, in no particular order.
func (c ClusterState) LeadersDetected() []string {
	leaders := make([]string, 0, 1)
	for id, ns := range c.members {
		if ns.believesIsLeader {
			leaders = append(leaders, id)
		}
	}
	return leaders
}

// CountLeaders returns |LeadersDetected()|.
func (c ClusterState) CountLeaders() int {
	count := 0
	for _, ns := range c.members {
		if ns.believesIsLeader {
			count++
		}
	}
	return count
}

// HasSplitBrain reports whether two or more nodes simultaneously believe
// they are the leader.
func (c ClusterState) HasSplitBrain() bool { return c.CountLeaders() >= 2 }

// IsLeaderless reports whether no node believes it is the leader.
func (c ClusterState) IsLeaderless() bool { return c.CountLeaders() == 0 }

// HasSingleLeader reports whether exactly one node believes it is the
// leader.
func (c ClusterState) HasSingleLeader() bool { return c.CountLeaders() == 1 }

// HasQuorum reports whether the number of alive/known members reaches the
// configured quorum size. This module treats every member present in the
// snapshot as live; staleness detection belongs to the collaborator that
// built the snapshot (the raft port), not to this pure value object.
func (c ClusterState) HasQuorum() bool {
	return len(c.members) >= c.quorumSize
}
