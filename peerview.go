package ctcluster

import (
	"log/slog"
)

// peerView maintains this node's picture of every node's published state,
// this node's own entry included (spec.md §4.2, "Peer State View"). It owns no goroutine of its
// own; the event loop feeds it WatchEvents from Gateway.WatchNodes and
// reads back nodeEvents describing what changed.
type peerView struct {
	logger *slog.Logger
	peers  map[string]ClusterNodeState
}

func newPeerView(logger *slog.Logger) *peerView {
	return &peerView{
		logger: logger,
		peers:  make(map[string]ClusterNodeState),
	}
}

// apply decodes and folds a single WatchEvent from /nodes/ into the view,
// returning the nodeEvent to forward downstream, or nil if a removal (or
// an undecodable value) names a peer the view does not hold. Every
// successful decode returns an event, even when the state is unchanged.
// A decode failure is logged and the peer is dropped from the
// view entirely, per spec.md §7's EncodingError handling: a bad row is
// treated as an absent peer rather than crashing the loop.
func (v *peerView) apply(evt WatchEvent) *nodeEvent {
	switch evt.Kind {
	case WatchInitial, WatchAdd, WatchUpdate:
		state, err := DecodeNodeState(evt.Value)
		if err != nil {
			v.logger.Warn("dropping peer with undecodable state", "node_id", evt.Key, "error", err)
			return v.remove(evt.Key)
		}
		return v.upsert(evt.Key, state)
	case WatchRemove:
		return v.remove(evt.Key)
	default:
		return nil
	}
}

func (v *peerView) upsert(nodeID string, state ClusterNodeState) *nodeEvent {
	previous, existed := v.peers[nodeID]
	v.peers[nodeID] = state

	var prevPtr *ClusterNodeState
	if existed {
		prevCopy := previous
		prevPtr = &prevCopy
	}
	current := state
	return &nodeEvent{nodeID: nodeID, previous: prevPtr, current: &current}
}

func (v *peerView) remove(nodeID string) *nodeEvent {
	previous, existed := v.peers[nodeID]
	if !existed {
		return nil
	}
	delete(v.peers, nodeID)
	prevCopy := previous
	return &nodeEvent{nodeID: nodeID, previous: &prevCopy, current: nil}
}

// snapshot returns the currently visible peers as a slice, safe for the
// calculator to range over without aliasing the view's internal map.
func (v *peerView) snapshot() []ClusterNodeState {
	out := make([]ClusterNodeState, 0, len(v.peers))
	for _, p := range v.peers {
		out = append(out, p)
	}
	return out
}
