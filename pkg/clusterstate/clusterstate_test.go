package clusterstate

import (
	"testing"
	"time"
)

func TestNewNodeState(t *testing.T) {
	t.Parallel()

	now := time.Now()

	t.Run("rejects empty node id", func(t *testing.T) {
		if _, err := NewNodeState("", false, 1, nil); err == nil {
			t.Error("expected error for empty node id")
		}
		if _, err := NewNodeState("   ", false, 1, nil); err == nil {
			t.Error("expected error for whitespace-only node id")
		}
	})

	t.Run("rejects negative election term", func(t *testing.T) {
		if _, err := NewNodeState("node-1", false, -1, nil); err == nil {
			t.Error("expected error for negative election term")
		}
	})

	t.Run("leader never carries a heartbeat", func(t *testing.T) {
		ns, err := NewNodeState("node-1", true, 4, &now)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ns.LastHeartbeat() != nil {
			t.Error("leader node state should report nil LastHeartbeat regardless of input")
		}
	})

	t.Run("non-leader retains heartbeat", func(t *testing.T) {
		ns, err := NewNodeState("node-2", false, 4, &now)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ns.LastHeartbeat() == nil || !ns.LastHeartbeat().Equal(now) {
			t.Error("non-leader node state should retain the supplied heartbeat")
		}
	})
}

func mustNodeState(t *testing.T, nodeID string, believesIsLeader bool, term int) NodeState {
	t.Helper()
	ns, err := NewNodeState(nodeID, believesIsLeader, term, nil)
	if err != nil {
		t.Fatalf("NewNodeState(%q): %v", nodeID, err)
	}
	return ns
}

func TestNewClusterState_Validation(t *testing.T) {
	t.Parallel()

	t.Run("rejects empty members", func(t *testing.T) {
		if _, err := NewClusterState(map[string]NodeState{}, 1); err == nil {
			t.Error("expected error for empty members")
		}
	})

	t.Run("rejects out-of-range quorum size", func(t *testing.T) {
		members := map[string]NodeState{
			"a": mustNodeState(t, "a", false, 1),
		}
		if _, err := NewClusterState(members, 0); err == nil {
			t.Error("expected error for quorum_size < 1")
		}
		if _, err := NewClusterState(members, 2); err == nil {
			t.Error("expected error for quorum_size > len(members)")
		}
	})
}

func TestClusterState_Derivations(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		members        map[string]NodeState
		wantSplitBrain bool
		wantLeaderless bool
		wantSingle     bool
		wantLeaderCnt  int
	}{
		{
			name: "single leader",
			members: map[string]NodeState{
				"a": mustNodeState(t, "a", true, 1),
				"b": mustNodeState(t, "b", false, 1),
			},
			wantSingle:    true,
			wantLeaderCnt: 1,
		},
		{
			name: "leaderless",
			members: map[string]NodeState{
				"a": mustNodeState(t, "a", false, 1),
				"b": mustNodeState(t, "b", false, 1),
			},
			wantLeaderless: true,
			wantLeaderCnt:  0,
		},
		{
			name: "split brain",
			members: map[string]NodeState{
				"a": mustNodeState(t, "a", true, 2),
				"b": mustNodeState(t, "b", true, 2),
				"c": mustNodeState(t, "c", false, 2),
			},
			wantSplitBrain: true,
			wantLeaderCnt:  2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs, err := NewClusterState(tt.members, 1)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := cs.HasSplitBrain(); got != tt.wantSplitBrain {
				t.Errorf("HasSplitBrain() = %v, want %v", got, tt.wantSplitBrain)
			}
			if got := cs.IsLeaderless(); got != tt.wantLeaderless {
				t.Errorf("IsLeaderless() = %v, want %v", got, tt.wantLeaderless)
			}
			if got := cs.HasSingleLeader(); got != tt.wantSingle {
				t.Errorf("HasSingleLeader() = %v, want %v", got, tt.wantSingle)
			}
			if got := cs.CountLeaders(); got != tt.wantLeaderCnt {
				t.Errorf("CountLeaders() = %d, want %d", got, tt.wantLeaderCnt)
			}
			if got := len(cs.LeadersDetected()); got != tt.wantLeaderCnt {
				t.Errorf("len(LeadersDetected()) = %d, want %d", got, tt.wantLeaderCnt)
			}
		})
	}
}

func TestClusterState_HasQuorum(t *testing.T) {
	t.Parallel()

	members := map[string]NodeState{
		"a": mustNodeState(t, "a", true, 1),
		"b": mustNodeState(t, "b", false, 1),
		"c": mustNodeState(t, "c", false, 1),
	}
	cs, err := NewClusterState(members, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cs.HasQuorum() {
		t.Error("3 members with quorum_size 2 should have quorum")
	}
}

func TestClusterState_MembersIsDefensiveCopy(t *testing.T) {
	t.Parallel()

	members := map[string]NodeState{
		"a": mustNodeState(t, "a", true, 1),
	}
	cs, err := NewClusterState(members, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	members["b"] = mustNodeState(t, "b", true, 1)
	if len(cs.Members()) != 1 {
		t.Error("mutating the input map after construction should not affect the ClusterState")
	}

	got := cs.Members()
	got["c"] = mustNodeState(t, "c", true, 1)
	if len(cs.Members()) != 1 {
		t.Error("mutating the returned map should not affect the ClusterState")
	}
}
