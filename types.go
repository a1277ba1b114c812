package ctcluster

import "time"

// SignedTreeHead is an immutable commitment to a Merkle-tree size at a
// given time. The signature/root material the real CT log attaches is
// opaque to the controller and round-trips unchanged through Extra.
type SignedTreeHead struct {
	TreeSize  int64
	Timestamp int64 // milliseconds
	Extra     []byte
}

// notOlderThan implements the spec's ordering: A is not older than B iff
// A's timestamp and tree size are both >= B's.
func (a SignedTreeHead) notOlderThan(b SignedTreeHead) bool {
	return a.Timestamp >= b.Timestamp && a.TreeSize >= b.TreeSize
}

// equalForServing reports whether a and b have identical tree_size and
// timestamp; the opaque signature/root material does not participate.
func (a SignedTreeHead) equalForServing(b SignedTreeHead) bool {
	return a.Timestamp == b.Timestamp && a.TreeSize == b.TreeSize
}

// ClusterNodeState is the per-node record published at /nodes/{node_id}.
type ClusterNodeState struct {
	NodeID    string
	Hostname  string
	LogPort   int
	NewestSTH *SignedTreeHead
	Extra     []byte // arbitrary other fields, passed through unchanged
}

// ClusterConfig is the singleton record at /cluster_config.
type ClusterConfig struct {
	MinimumServingNodes    int
	MinimumServingFraction float64
}

// WatchKind distinguishes the events a Gateway watch stream can deliver.
type WatchKind int

const (
	WatchInitial WatchKind = iota
	WatchAdd
	WatchUpdate
	WatchRemove
)

// WatchEvent is a single delivery from one of the Gateway's watch streams,
// total order per key.
type WatchEvent struct {
	Kind    WatchKind
	Key     string
	Value   []byte
	Version int64
}

// nodeEvent is what the peer view forwards to the event loop on every
// mutation of a /nodes/{id} entry.
type nodeEvent struct {
	nodeID   string
	previous *ClusterNodeState
	current  *ClusterNodeState
}

// localNodeState is held by this process and republished to /nodes/{self}
// on every mutation (spec.md §3, "Local Node State").
type localNodeState struct {
	hostname  string
	logPort   int
	newestSTH *SignedTreeHead
}

func (s localNodeState) toClusterNodeState(nodeID string) ClusterNodeState {
	return ClusterNodeState{
		NodeID:    nodeID,
		Hostname:  s.hostname,
		LogPort:   s.logPort,
		NewestSTH: s.newestSTH,
	}
}

// now is overridable in tests that need deterministic clocks; production
// code always uses time.Now.
var now = time.Now
