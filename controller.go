package ctcluster

import (
	"context"
	"fmt"
	"regexp"
)

var validClusterID = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// ValidateClusterID reports whether id is safe to use as a Postgres
// table-name fragment (database/queries.go interpolates it via fmt.Sprintf).
func ValidateClusterID(id string) error {
	if !validClusterID.MatchString(id) {
		return ErrInvalidClusterID
	}
	return nil
}

// Controller is the public entry point a host process embeds: it owns
// one node's membership in one cluster and exposes the operations named
// in spec.md §6. It mirrors the teacher's Ring type — a thin façade over
// an internal coordinator/loop goroutine, constructed with functional
// options and driven by Start/Stop.
type Controller struct {
	nodeID string
	gw     Gateway
	loop   *loop
	cancel context.CancelFunc
}

// NewController creates a Controller for nodeID against gw. It does not
// start any background work; call Start for that.
func NewController(nodeID string, gw Gateway, opts ...Option) *Controller {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Controller{
		nodeID: nodeID,
		gw:     gw,
		loop:   newLoop(nodeID, gw, o),
	}
}

// Start launches the event loop goroutine and blocks only long enough to
// hand off; the returned error is non-nil only if ctx is already done.
func (c *Controller) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("ctcluster: cannot start controller: %w", err)
	}
	var loopCtx context.Context
	loopCtx, c.cancel = context.WithCancel(context.Background())
	go c.loop.run(loopCtx)
	return nil
}

// Stop cancels the event loop and drops this node's /nodes/{self} lease
// so peers observe its departure without waiting out the TTL.
func (c *Controller) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	if err := c.gw.DeleteNode(ctx, c.nodeID); err != nil {
		return fmt.Errorf("ctcluster: failed to drop node lease on stop: %w", err)
	}
	return nil
}

// NewTreeHead reports a new local STH: the controller republishes
// /nodes/{self} and re-runs the calculator and election gate.
func (c *Controller) NewTreeHead(sth SignedTreeHead) {
	c.loop.cmds <- func() { c.loop.handleNewTreeHead(sth) }
}

// SetNodeHostPort updates the hostname/port published in this node's
// state.
func (c *Controller) SetNodeHostPort(host string, port int) {
	c.loop.cmds <- func() { c.loop.handleSetHostPort(host, port) }
}

// GetLocalNodeState returns a snapshot of this node's published state.
func (c *Controller) GetLocalNodeState() ClusterNodeState {
	reply := make(chan ClusterNodeState, 1)
	c.loop.cmds <- func() {
		reply <- c.loop.local.toClusterNodeState(c.loop.nodeID)
	}
	return <-reply
}

// GetCalculatedServingSTH returns the calculator's latest verdict:
// either a candidate Serving STH, or ErrInsufficientData.
func (c *Controller) GetCalculatedServingSTH() (SignedTreeHead, error) {
	type result struct {
		sth SignedTreeHead
		err error
	}
	reply := make(chan result, 1)
	c.loop.cmds <- func() {
		if c.loop.calcErr != nil {
			reply <- result{err: c.loop.calcErr}
			return
		}
		reply <- result{sth: *c.loop.calculated}
	}
	r := <-reply
	return r.sth, r.err
}

// Quiesced returns a channel that closes once the loop has no pending
// worker-pool results and no queued commands at the instant the probe is
// evaluated. It exists for deterministic tests that need to wait for
// "calculator idle" instead of sleeping.
func (c *Controller) Quiesced() <-chan struct{} {
	reply := make(chan struct{})
	c.loop.cmds <- func() { c.loop.handleQuiescedProbe(reply) }
	return reply
}
