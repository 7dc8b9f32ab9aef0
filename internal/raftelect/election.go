package raftelect

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"

	"github.com/litefs-adapter/core/pkg/clusterstate"
)

func marshalBelief(cmd beliefCommand) ([]byte, error) {
	return json.Marshal(cmd)
}

// currentTerm reads the election term out of raft.Stats(), the same
// string-keyed map tokmesh's clusterserver integration tests assert
// against; raft.Raft does not expose a typed CurrentTerm accessor.
func currentTerm(r *raft.Raft) int {
	term, err := strconv.Atoi(r.Stats()["term"])
	if err != nil {
		return 0
	}
	return term
}

// Peer is one other voter this node expects to find in the cluster,
// addressed the way raft.ServerAddress wants it ("host:port").
type Peer struct {
	NodeID string
	Addr   string
}

// Config configures a single raft node. It mirrors the fields
// internal/config.Settings exposes for raft mode (self_addr, peers) plus
// the on-disk/bootstrap details raft itself needs.
type Config struct {
	NodeID    string
	BindAddr  string
	DataDir   string
	Peers     []Peer
	Bootstrap bool

	HeartbeatTimeout   time.Duration
	ElectionTimeout    time.Duration
	CommitTimeout      time.Duration
	LeaderLeaseTimeout time.Duration
}

// Election is the reference ports.RaftLeaderElection adapter: one raft.Raft
// node per process, replicating nothing but leadership belief via
// electionFSM. Timeouts follow cuemby-warren's Bootstrap tuning (a few
// hundred milliseconds, not raft's WAN-oriented one-second defaults) so
// that failover completes well inside the coordination core's budget.
type Election struct {
	nodeID          string
	raft            *raft.Raft
	fsm             *electionFSM
	electionTimeout time.Duration
}

// New constructs and starts a raft node at cfg.BindAddr, storing its log,
// stable store, and snapshots under cfg.DataDir. When cfg.Bootstrap is
// true, the node bootstraps a fresh cluster whose voters are itself plus
// every entry of cfg.Peers; nodes not listed there join later via AddVoter
// once they contact the elected leader, same as warren's Manager.AddVoter
// flow.
func New(cfg Config) (*Election, error) {
	if cfg.NodeID == "" {
		return nil, fmt.Errorf("raftelect: node id must be non-empty")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("raftelect: create data dir: %w", err)
	}

	raftConfig := raft.DefaultConfig()
	raftConfig.LocalID = raft.ServerID(cfg.NodeID)
	if cfg.HeartbeatTimeout > 0 {
		raftConfig.HeartbeatTimeout = cfg.HeartbeatTimeout
	} else {
		raftConfig.HeartbeatTimeout = 500 * time.Millisecond
	}
	if cfg.ElectionTimeout > 0 {
		raftConfig.ElectionTimeout = cfg.ElectionTimeout
	} else {
		raftConfig.ElectionTimeout = 500 * time.Millisecond
	}
	if cfg.CommitTimeout > 0 {
		raftConfig.CommitTimeout = cfg.CommitTimeout
	}
	if cfg.LeaderLeaseTimeout > 0 {
		raftConfig.LeaderLeaseTimeout = cfg.LeaderLeaseTimeout
	} else {
		raftConfig.LeaderLeaseTimeout = 250 * time.Millisecond
	}

	addr, err := net.ResolveTCPAddr("tcp", cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("raftelect: resolve bind address: %w", err)
	}
	transport, err := raft.NewTCPTransport(cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("raftelect: create transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(cfg.DataDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("raftelect: create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-log.db"))
	if err != nil {
		return nil, fmt.Errorf("raftelect: create log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-stable.db"))
	if err != nil {
		return nil, fmt.Errorf("raftelect: create stable store: %w", err)
	}

	fsm := newElectionFSM()
	r, err := raft.NewRaft(raftConfig, fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, fmt.Errorf("raftelect: create raft: %w", err)
	}

	e := &Election{nodeID: cfg.NodeID, raft: r, fsm: fsm, electionTimeout: raftConfig.ElectionTimeout}

	if cfg.Bootstrap {
		servers := []raft.Server{{ID: raftConfig.LocalID, Address: transport.LocalAddr()}}
		for _, p := range cfg.Peers {
			servers = append(servers, raft.Server{ID: raft.ServerID(p.NodeID), Address: raft.ServerAddress(p.Addr)})
		}
		future := r.BootstrapCluster(raft.Configuration{Servers: servers})
		if err := future.Error(); err != nil && err != raft.ErrCantBootstrap {
			return nil, fmt.Errorf("raftelect: bootstrap cluster: %w", err)
		}
	}

	return e, nil
}

// AddVoter admits a new node to the cluster; only the current raft leader
// can do this, matching warren's Manager.AddVoter.
func (e *Election) AddVoter(nodeID, addr string) error {
	if e.raft.State() != raft.Leader {
		return fmt.Errorf("raftelect: not the leader, current leader: %s", e.raft.Leader())
	}
	future := e.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(addr), 0, 10*time.Second)
	return future.Error()
}

// IsLeaderElected reports whether this node currently holds raft
// leadership.
func (e *Election) IsLeaderElected(ctx context.Context) (bool, error) {
	return e.raft.State() == raft.Leader, nil
}

// ElectAsLeader records this node's leadership belief into the replicated
// FSM. It is not itself an election mechanism -- raft elects leaders on its
// own -- it is how the Failover Coordinator publishes "this node believes
// it is primary" into the state every node's GetClusterState reads, which
// is what the Split-Brain Detector compares across nodes. Callers must
// only invoke this once raft itself has actually elected this node leader.
func (e *Election) ElectAsLeader(ctx context.Context) error {
	if e.raft.State() != raft.Leader {
		return fmt.Errorf("raftelect: cannot claim leadership belief, raft state is %s", e.raft.State())
	}
	return e.applyBelief(true)
}

// DemoteFromLeader clears this node's leadership belief and, if it still
// holds raft leadership, asks raft to transfer it away so the next
// heartbeat round elects a different node.
func (e *Election) DemoteFromLeader(ctx context.Context) error {
	if err := e.applyBelief(false); err != nil {
		return err
	}
	if e.raft.State() == raft.Leader {
		if err := e.raft.LeadershipTransfer().Error(); err != nil {
			return fmt.Errorf("raftelect: leadership transfer: %w", err)
		}
	}
	return nil
}

func (e *Election) applyBelief(believesIsLeader bool) error {
	now := time.Now()
	cmd := beliefCommand{
		NodeID:           e.nodeID,
		BelievesIsLeader: believesIsLeader,
		ElectionTerm:     currentTerm(e.raft),
	}
	if !believesIsLeader {
		cmd.LastHeartbeat = &now
	}
	data, err := marshalBelief(cmd)
	if err != nil {
		return err
	}
	future := e.raft.Apply(data, 5*time.Second)
	return future.Error()
}

// IsQuorumReached approximates quorum by asking whether raft currently
// recognizes an elected leader: raft cannot elect or keep a leader without
// a quorum of voters participating, so a non-empty Leader() is the
// observable proxy warren's own GetRaftStats/LeaderAddr rely on.
func (e *Election) IsQuorumReached(ctx context.Context) (bool, error) {
	return e.raft.Leader() != "", nil
}

// GetClusterMembers returns the configured voter node ids.
func (e *Election) GetClusterMembers(ctx context.Context) ([]string, error) {
	future := e.raft.GetConfiguration()
	if err := future.Error(); err != nil {
		return nil, fmt.Errorf("raftelect: get configuration: %w", err)
	}
	servers := future.Configuration().Servers
	ids := make([]string, 0, len(servers))
	for _, s := range servers {
		ids = append(ids, string(s.ID))
	}
	return ids, nil
}

// GetClusterState builds a clusterstate.ClusterState snapshot from the
// configured voters and the most recent leadership belief each has
// replicated through the FSM. A voter that has never applied a belief is
// reported as a non-leader at term 0 with no heartbeat, which is always a
// safe default: it can never manufacture a phantom leader.
func (e *Election) GetClusterState(ctx context.Context) (clusterstate.ClusterState, error) {
	future := e.raft.GetConfiguration()
	if err := future.Error(); err != nil {
		return clusterstate.ClusterState{}, fmt.Errorf("raftelect: get configuration: %w", err)
	}
	servers := future.Configuration().Servers
	if len(servers) == 0 {
		return clusterstate.ClusterState{}, fmt.Errorf("raftelect: cluster configuration has no servers")
	}

	beliefs := e.fsm.snapshot()
	members := make(map[string]clusterstate.NodeState, len(servers))
	for _, s := range servers {
		id := string(s.ID)
		b, ok := beliefs[id]
		if !ok {
			ns, err := clusterstate.NewNodeState(id, false, 0, nil)
			if err != nil {
				return clusterstate.ClusterState{}, err
			}
			members[id] = ns
			continue
		}
		ns, err := clusterstate.NewNodeState(id, b.BelievesIsLeader, b.ElectionTerm, b.LastHeartbeat)
		if err != nil {
			return clusterstate.ClusterState{}, err
		}
		members[id] = ns
	}

	quorumSize := len(servers)/2 + 1
	return clusterstate.NewClusterState(members, quorumSize)
}

// DetectSplitBrain reports whether the replicated belief state currently
// shows two or more nodes simultaneously believing themselves leader.
func (e *Election) DetectSplitBrain(ctx context.Context) (bool, error) {
	state, err := e.GetClusterState(ctx)
	if err != nil {
		return false, err
	}
	return state.HasSplitBrain(), nil
}

// GetElectionTimeout returns the raft election timeout this node was
// configured with.
func (e *Election) GetElectionTimeout() time.Duration {
	return e.electionTimeout
}

// Shutdown gracefully stops the raft node, releasing its log/stable/
// snapshot stores.
func (e *Election) Shutdown() error {
	return e.raft.Shutdown().Error()
}
