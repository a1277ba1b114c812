package ctcluster

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// loop is the single-threaded event loop (spec.md §5): it owns the peer
// view, config view, S_last, and election gate state, and is the only
// goroutine that ever touches them. Everything else — watch streams,
// worker-pool results, host calls — arrives as a message on one of its
// channels, mirroring the teacher's coordinator except generalized from
// fixed ticker workers into a single actor loop, since here the state
// those workers would touch is shared and must stay single-threaded.
type loop struct {
	nodeID string
	gw     Gateway
	pool   *workerPool
	opts   options
	logger *slog.Logger

	peers *peerView
	cfg   *configView
	gate  *electionGate

	local          localNodeState
	servingSTH     *SignedTreeHead
	servingVersion int64

	calculated *SignedTreeHead
	calcErr    error

	nodeCh <-chan WatchEvent
	cfgCh  <-chan WatchEvent
	sthCh  <-chan WatchEvent
	cmds   chan func()

	pending         int
	quiescedWaiters []chan struct{}
}

func newLoop(nodeID string, gw Gateway, opts options) *loop {
	return &loop{
		nodeID: nodeID,
		gw:     gw,
		pool:   newWorkerPool(opts.logger, opts.workerQueueSize),
		opts:   opts,
		logger: opts.logger,
		peers:  newPeerView(opts.logger),
		cfg:    newConfigView(opts.logger),
		gate:   newElectionGate(opts.election, opts.logger),
		cmds:   make(chan func(), 64),
	}
}

// run blocks until ctx is cancelled. It is started in its own goroutine
// by Controller.Start.
func (l *loop) run(ctx context.Context) {
	l.pool.start(ctx, l.opts.workerCount)
	defer l.pool.stop()

	l.recoverServingSTH(ctx)

	var err error
	l.nodeCh, err = l.gw.WatchNodes(ctx)
	if err != nil {
		l.logger.Error("failed to start node watch", "error", err)
		return
	}
	l.cfgCh, err = l.gw.WatchConfig(ctx)
	if err != nil {
		l.logger.Error("failed to start config watch", "error", err)
		return
	}
	l.sthCh, err = l.gw.WatchServingSTH(ctx)
	if err != nil {
		l.logger.Error("failed to start serving sth watch", "error", err)
		return
	}

	renewTicker := time.NewTicker(l.opts.renewalInterval)
	defer renewTicker.Stop()

	sweepTicker := time.NewTicker(l.opts.refreshInterval)
	defer sweepTicker.Stop()

	l.recalculate()

	for {
		var idleCheck bool
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-l.nodeCh:
			if !ok {
				l.nodeCh = nil
				continue
			}
			l.handleNodeEvent(evt)
			idleCheck = true
		case evt, ok := <-l.cfgCh:
			if !ok {
				l.cfgCh = nil
				continue
			}
			l.cfg.apply(evt)
			l.recalculate()
			idleCheck = true
		case evt, ok := <-l.sthCh:
			if !ok {
				l.sthCh = nil
				continue
			}
			l.handleServingEvent(evt)
			idleCheck = true
		case fn := <-l.cmds:
			fn()
			idleCheck = true
		case <-renewTicker.C:
			l.republishSelf()
			idleCheck = true
		case <-sweepTicker.C:
			l.sweepExpiredNodes()
			idleCheck = true
		}

		if idleCheck {
			l.checkQuiesced()
		}
	}
}

// recoverServingSTH seeds servingSTH/servingVersion before the watch
// streams start, trying the shared gateway first (the authoritative
// source) and falling back to the local mirror if the gateway can't be
// reached yet, so a restarting node has a candidate S_last immediately
// rather than waiting on the first WatchInitial delivery.
func (l *loop) recoverServingSTH(ctx context.Context) {
	if value, version, err := l.gw.GetServingSTH(ctx); err != nil {
		l.logger.Warn("failed to recover serving sth from gateway, falling back to local store", "error", err)
	} else if value != nil {
		if sth, decodeErr := DecodeSTH(value); decodeErr != nil {
			l.logger.Warn("failed to decode recovered serving sth", "error", decodeErr)
		} else {
			l.servingSTH = &sth
			l.servingVersion = version
			return
		}
	}

	if sth, err := l.opts.local.LatestTreeHead(); err == nil {
		l.servingSTH = &sth
	} else if !errors.Is(err, ErrNotFound) {
		l.logger.Warn("failed to recover serving sth from local store", "error", err)
	}
}

// isIdle reports whether every watch channel and the command queue are
// empty and no worker-pool result is outstanding, at this instant.
func (l *loop) isIdle() bool {
	return len(l.nodeCh) == 0 && len(l.cfgCh) == 0 && len(l.sthCh) == 0 && len(l.cmds) == 0 && l.pending == 0
}

func (l *loop) checkQuiesced() {
	if len(l.quiescedWaiters) == 0 || !l.isIdle() {
		return
	}
	for _, w := range l.quiescedWaiters {
		close(w)
	}
	l.quiescedWaiters = nil
}

func (l *loop) handleQuiescedProbe(reply chan struct{}) {
	if l.isIdle() {
		close(reply)
		return
	}
	l.quiescedWaiters = append(l.quiescedWaiters, reply)
}

// handleNodeEvent folds a /nodes/ watch event into the peer view and
// subscribes/unsubscribes the continuous fetcher accordingly.
func (l *loop) handleNodeEvent(evt WatchEvent) {
	ne := l.peers.apply(evt)
	if ne == nil || ne.nodeID == l.nodeID {
		l.recalculate()
		return
	}
	switch {
	case ne.previous == nil && ne.current != nil:
		l.opts.fetcher.Subscribe(ne.nodeID, ne.current.Hostname, ne.current.LogPort)
	case ne.current == nil:
		l.opts.fetcher.Unsubscribe(ne.nodeID)
	}
	l.recalculate()
}

// handleServingEvent folds a /serving_sth watch event into S_last and
// re-evaluates the election gate; ConfigMissing-style absence (no event
// yet) is handled by servingSTH starting nil.
func (l *loop) handleServingEvent(evt WatchEvent) {
	switch evt.Kind {
	case WatchInitial, WatchAdd, WatchUpdate:
		sth, err := DecodeSTH(evt.Value)
		if err != nil {
			l.logger.Warn("ignoring undecodable serving sth", "error", err)
			return
		}
		l.servingSTH = &sth
		l.servingVersion = evt.Version
		l.mirrorLocally(sth)
	case WatchRemove:
		l.servingSTH = nil
		l.servingVersion = 0
	}
	l.recalculate()
}

// recalculate re-runs the calculator against the current snapshot and,
// if this node is master and the gate is in, attempts to publish the
// result.
func (l *loop) recalculate() {
	candidate, err := calculate(l.peers.snapshot(), l.cfg.get(), l.servingSTH)
	l.calcErr = err
	if err != nil {
		l.calculated = nil
	} else {
		c := candidate
		l.calculated = &c
	}

	l.gate.observe(context.Background(), l.local.newestSTH, l.servingSTH)

	if err == nil && l.opts.election.IsMaster() && l.gate.isIn() {
		l.publish(candidate)
	}
}

// publish CASes candidate onto /serving_sth if it's not already what's
// there; a conflict means another master raced us and is handled by
// simply waiting for the next watch event to refresh S_last.
func (l *loop) publish(candidate SignedTreeHead) {
	if l.servingSTH != nil && candidate.equalForServing(*l.servingSTH) {
		return
	}
	encoded, err := EncodeSTH(candidate)
	if err != nil {
		l.logger.Error("failed to encode serving sth candidate", "error", err)
		return
	}
	expectVersion := l.servingVersion

	l.offload(func(ctx context.Context) func() {
		version, putErr := l.gw.PutServingSTH(ctx, encoded, expectVersion)
		return func() {
			if putErr != nil {
				if !errors.Is(putErr, ErrConflict) {
					l.logger.Warn("failed to publish serving sth, will retry", "error", putErr)
				}
				return
			}
			l.servingSTH = &candidate
			l.servingVersion = version
			l.gate.observe(context.Background(), l.local.newestSTH, l.servingSTH)
		}
	})
}

// mirrorLocally writes the newly observed Serving STH to the local
// database sink for fast recovery on restart.
func (l *loop) mirrorLocally(sth SignedTreeHead) {
	l.offload(func(context.Context) func() {
		if err := l.opts.local.StoreServingSTH(sth); err != nil {
			l.logger.Warn("failed to mirror serving sth locally", "error", err)
		}
		return nil
	})
}

// republishSelf re-encodes and re-leases this node's /nodes/{self} entry.
func (l *loop) republishSelf() {
	state := l.local.toClusterNodeState(l.nodeID)
	encoded, err := EncodeNodeState(state)
	if err != nil {
		l.logger.Error("failed to encode local node state", "error", err)
		return
	}
	ttl := l.opts.leaseTTL
	l.offload(func(ctx context.Context) func() {
		_, putErr := l.gw.PutNode(ctx, l.nodeID, encoded, ttl)
		return func() {
			if putErr != nil {
				l.logger.Warn("failed to republish local node state", "error", putErr)
			}
		}
	})
}

// sweepExpiredNodes offloads a deletion of lapsed /nodes/ leases, the
// periodic counterpart of the teacher's cleanupExpiredLeasesWorker.
func (l *loop) sweepExpiredNodes() {
	l.offload(func(ctx context.Context) func() {
		if err := l.gw.SweepExpiredNodes(ctx); err != nil {
			return func() {
				l.logger.Warn("failed to sweep expired node leases", "error", err)
			}
		}
		return nil
	})
}

func (l *loop) handleNewTreeHead(sth SignedTreeHead) {
	l.local.newestSTH = &sth
	l.republishSelf()
	l.recalculate()
}

func (l *loop) handleSetHostPort(host string, port int) {
	l.local.hostname = host
	l.local.logPort = port
	l.republishSelf()
}

// offload hands work to the worker pool and posts its result back onto
// the loop via cmds, keeping all state mutation on this goroutine. A
// saturated pool drops the job; the next triggering event will retry.
func (l *loop) offload(work func(ctx context.Context) func()) {
	l.pending++
	ok := l.pool.submit(func(ctx context.Context) {
		post := work(ctx)
		select {
		case l.cmds <- func() {
			l.pending--
			if post != nil {
				post()
			}
		}:
		case <-ctx.Done():
		}
	})
	if !ok {
		l.pending--
		l.logger.Warn("worker pool saturated, dropping job")
	}
}
