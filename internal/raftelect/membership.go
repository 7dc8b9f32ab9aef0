package raftelect

import (
	"encoding/json"
	"fmt"
	"log"
	"net"

	"github.com/hashicorp/memberlist"
)

// MembershipConfig configures the gossip layer that discovers peers and
// feeds their raft addresses to AddVoter. Grounded on
// yndnr-tokmesh-go/src/internal/server/clusterserver.Discovery: a
// memberlist.Memberlist whose per-node metadata carries the raft
// address, joined via a seed list rather than a single rendezvous server.
type MembershipConfig struct {
	NodeID    string
	ClusterID string
	BindAddr  string
	BindPort  int
	RaftAddr  string
	SeedNodes []string
}

// Membership wraps a memberlist.Memberlist whose sole purpose is
// discovering peers and exposing each one's raft address, so that
// Election.AddVoter has something to dial.
type Membership struct {
	clusterID string
	list      *memberlist.Memberlist
	onJoin    func(nodeID, raftAddr string)
	onLeave   func(nodeID string)
}

// NewMembership starts gossiping on cfg.BindAddr/cfg.BindPort, joining
// cfg.SeedNodes if any are given (an empty SeedNodes list means this node
// bootstraps the gossip ring on its own, the same convention Election.New
// uses for cfg.Bootstrap).
func NewMembership(cfg MembershipConfig) (*Membership, error) {
	mlConfig := memberlist.DefaultLANConfig()
	mlConfig.Name = cfg.NodeID
	mlConfig.BindAddr = cfg.BindAddr
	mlConfig.BindPort = cfg.BindPort
	mlConfig.LogOutput = logWriter{}

	m := &Membership{clusterID: cfg.ClusterID}
	mlConfig.Delegate = &metadataDelegate{metadata: nodeMetadata{RaftAddr: cfg.RaftAddr, ClusterID: cfg.ClusterID}}
	mlConfig.Events = &membershipEvents{m: m}

	list, err := memberlist.Create(mlConfig)
	if err != nil {
		return nil, fmt.Errorf("raftelect: create memberlist: %w", err)
	}
	m.list = list

	if len(cfg.SeedNodes) > 0 {
		if _, err := list.Join(cfg.SeedNodes); err != nil {
			list.Shutdown()
			return nil, fmt.Errorf("raftelect: join seed nodes: %w", err)
		}
	}
	return m, nil
}

// OnJoin registers a callback invoked with (nodeID, raftAddr) every time a
// peer joins the gossip ring, so the caller can turn around and call
// Election.AddVoter.
func (m *Membership) OnJoin(fn func(nodeID, raftAddr string)) { m.onJoin = fn }

// OnLeave registers a callback invoked with nodeID when a peer leaves.
func (m *Membership) OnLeave(fn func(nodeID string)) { m.onLeave = fn }

// Peers returns the raft addresses of every currently known member other
// than this node, keyed by node id.
func (m *Membership) Peers() map[string]string {
	peers := make(map[string]string)
	for _, node := range m.list.Members() {
		if node.Name == m.list.LocalNode().Name {
			continue
		}
		var meta nodeMetadata
		if len(node.Meta) > 0 {
			_ = json.Unmarshal(node.Meta, &meta)
		}
		addr := meta.RaftAddr
		if addr == "" {
			addr = net.JoinHostPort(node.Addr.String(), fmt.Sprintf("%d", node.Port))
		}
		peers[node.Name] = addr
	}
	return peers
}

// Leave broadcasts a graceful departure from the gossip ring.
func (m *Membership) Leave() error { return m.list.Leave(0) }

// Shutdown stops the gossip layer without broadcasting a leave.
func (m *Membership) Shutdown() error { return m.list.Shutdown() }

type nodeMetadata struct {
	RaftAddr  string `json:"raft_addr"`
	ClusterID string `json:"cluster_id"`
}

type metadataDelegate struct {
	metadata nodeMetadata
}

func (d *metadataDelegate) NodeMeta(limit int) []byte {
	data, err := json.Marshal(d.metadata)
	if err != nil {
		return nil
	}
	if len(data) > limit {
		return data[:limit]
	}
	return data
}

func (d *metadataDelegate) NotifyMsg([]byte)                           {}
func (d *metadataDelegate) GetBroadcasts(overhead, limit int) [][]byte { return nil }
func (d *metadataDelegate) LocalState(join bool) []byte                { return nil }
func (d *metadataDelegate) MergeRemoteState(buf []byte, join bool)     {}

type membershipEvents struct {
	m *Membership
}

func (e *membershipEvents) NotifyJoin(node *memberlist.Node) {
	var meta nodeMetadata
	if len(node.Meta) > 0 {
		if err := json.Unmarshal(node.Meta, &meta); err != nil {
			log.Printf("raftelect: membership: discarding node %s with unparseable metadata: %v", node.Name, err)
			return
		}
	}
	if e.m.clusterID != "" && meta.ClusterID != "" && meta.ClusterID != e.m.clusterID {
		log.Printf("raftelect: membership: rejecting node %s, cluster id mismatch", node.Name)
		return
	}
	raftAddr := meta.RaftAddr
	if raftAddr == "" {
		raftAddr = net.JoinHostPort(node.Addr.String(), fmt.Sprintf("%d", node.Port))
	}
	if e.m.onJoin != nil {
		e.m.onJoin(node.Name, raftAddr)
	}
}

func (e *membershipEvents) NotifyLeave(node *memberlist.Node) {
	if e.m.onLeave != nil {
		e.m.onLeave(node.Name)
	}
}

func (e *membershipEvents) NotifyUpdate(node *memberlist.Node) {}

// logWriter discards memberlist's own verbose logging; the core logs
// leadership/membership transitions itself at the call sites that matter.
type logWriter struct{}

func (logWriter) Write(p []byte) (int, error) { return len(p), nil }
