package ctcluster

import (
	"context"
	"log/slog"
)

// gateState is the Election Gate's two-state machine (spec.md §4.5).
type gateState int

const (
	gateOut gateState = iota
	gateIn
)

// electionGate commands an ElectionPrimitive so that this node
// participates in master election iff its local newest_sth is not older
// than the currently published Serving STH. Transitions are
// edge-triggered: no redundant Start/Stop calls are issued.
type electionGate struct {
	election ElectionPrimitive
	logger   *slog.Logger
	state    gateState
}

func newElectionGate(election ElectionPrimitive, logger *slog.Logger) *electionGate {
	return &electionGate{election: election, logger: logger, state: gateOut}
}

// observe re-evaluates the gate given the local node's newest STH and the
// currently known Serving STH (nil if none has ever been published), and
// issues a Start/Stop command on any state transition.
func (g *electionGate) observe(ctx context.Context, local *SignedTreeHead, serving *SignedTreeHead) {
	wantIn := g.shouldBeIn(local, serving)

	switch {
	case wantIn && g.state == gateOut:
		g.state = gateIn
		if err := g.election.StartElection(ctx); err != nil {
			g.logger.Error("failed to start election", "error", err)
		}
	case !wantIn && g.state == gateIn:
		g.state = gateOut
		if err := g.election.StopElection(ctx); err != nil {
			g.logger.Error("failed to stop election", "error", err)
		}
	}
}

// shouldBeIn implements the gate's transition predicate: in iff local is
// not older than serving, or no Serving STH exists yet and local has any
// STH at all.
func (g *electionGate) shouldBeIn(local *SignedTreeHead, serving *SignedTreeHead) bool {
	if serving == nil {
		return local != nil
	}
	if local == nil {
		return false
	}
	return local.notOlderThan(*serving)
}

// isIn reports the gate's current state, for tests and diagnostics.
func (g *electionGate) isIn() bool {
	return g.state == gateIn
}
