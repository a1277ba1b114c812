package ctcluster

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeGateway is an in-memory Gateway test double: puts are applied
// in-process and immediately echoed onto the relevant watch channel,
// the same total order a real poll-based store gives a single watcher.
type fakeGateway struct {
	nodeCh chan WatchEvent
	cfgCh  chan WatchEvent
	sthCh  chan WatchEvent

	mu         sync.Mutex
	sthVal     []byte
	sthVer     int64
	sweepCalls int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		nodeCh: make(chan WatchEvent, 32),
		cfgCh:  make(chan WatchEvent, 32),
		sthCh:  make(chan WatchEvent, 32),
	}
}

func (g *fakeGateway) WatchNodes(context.Context) (<-chan WatchEvent, error)       { return g.nodeCh, nil }
func (g *fakeGateway) WatchConfig(context.Context) (<-chan WatchEvent, error)      { return g.cfgCh, nil }
func (g *fakeGateway) WatchServingSTH(context.Context) (<-chan WatchEvent, error)  { return g.sthCh, nil }

func (g *fakeGateway) PutNode(_ context.Context, nodeID string, value []byte, _ time.Duration) (int64, error) {
	g.nodeCh <- WatchEvent{Kind: WatchUpdate, Key: nodeID, Value: value, Version: 1}
	return 1, nil
}

func (g *fakeGateway) DeleteNode(_ context.Context, nodeID string) error {
	g.nodeCh <- WatchEvent{Kind: WatchRemove, Key: nodeID}
	return nil
}

func (g *fakeGateway) SweepExpiredNodes(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sweepCalls++
	return nil
}

func (g *fakeGateway) sweepCallCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sweepCalls
}

func (g *fakeGateway) PutServingSTH(_ context.Context, value []byte, expectVersion int64) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if expectVersion != g.sthVer {
		return 0, ErrConflict
	}
	g.sthVer++
	g.sthVal = value
	g.sthCh <- WatchEvent{Kind: WatchUpdate, Value: value, Version: g.sthVer}
	return g.sthVer, nil
}

func (g *fakeGateway) GetServingSTH(context.Context) ([]byte, int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sthVal, g.sthVer, nil
}

func (g *fakeGateway) setConfig(t *testing.T, cfg ClusterConfig) {
	t.Helper()
	encoded, err := EncodeConfig(cfg)
	require.NoError(t, err)
	g.cfgCh <- WatchEvent{Kind: WatchAdd, Value: encoded, Version: 1}
}

func (g *fakeGateway) addPeer(t *testing.T, state ClusterNodeState) {
	t.Helper()
	encoded, err := EncodeNodeState(state)
	require.NoError(t, err)
	g.nodeCh <- WatchEvent{Kind: WatchAdd, Key: state.NodeID, Value: encoded, Version: 1}
}

func waitQuiesced(t *testing.T, c *Controller) {
	t.Helper()
	select {
	case <-c.Quiesced():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for controller to quiesce")
	}
}

// eventuallyPublished polls via repeated Quiesced probes (never a blind
// sleep) until the calculator reports a serving sth or the budget runs
// out, since settling can take more than one quiesced round as events
// echo between the loop, the worker pool, and back.
func eventuallyPublished(t *testing.T, c *Controller) SignedTreeHead {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		waitQuiesced(t, c)
		if got, err := c.GetCalculatedServingSTH(); err == nil {
			return got
		}
	}
	t.Fatal("controller never reported a calculated serving sth")
	return SignedTreeHead{}
}

func TestControllerEndToEnd(t *testing.T) {
	t.Run("a lone node with sufficient coverage becomes master and publishes", func(t *testing.T) {
		// Arrange
		gw := newFakeGateway()
		gw.setConfig(t, ClusterConfig{MinimumServingNodes: 1, MinimumServingFraction: 0.5})
		election := &fakeElection{}
		ctrl := NewController("self", gw,
			WithElectionPrimitive(election),
			WithLogger(discardLogger()),
			WithLeaseTTL(time.Minute),
		)
		ctx := context.Background()
		require.NoError(t, ctrl.Start(ctx))
		defer ctrl.Stop(ctx)

		// Act
		ctrl.NewTreeHead(SignedTreeHead{TreeSize: 100, Timestamp: 100})

		// Assert
		got := eventuallyPublished(t, ctrl)
		require.Equal(t, int64(100), got.TreeSize)
		require.True(t, election.IsMaster())
	})

	t.Run("gate leaves once a peer publishes ahead without local catching up", func(t *testing.T) {
		// Arrange
		gw := newFakeGateway()
		gw.setConfig(t, ClusterConfig{MinimumServingNodes: 1, MinimumServingFraction: 0.5})
		election := &fakeElection{}
		ctrl := NewController("self", gw,
			WithElectionPrimitive(election),
			WithLogger(discardLogger()),
			WithLeaseTTL(time.Minute),
		)
		ctx := context.Background()
		require.NoError(t, ctrl.Start(ctx))
		defer ctrl.Stop(ctx)

		ctrl.NewTreeHead(SignedTreeHead{TreeSize: 100, Timestamp: 100})
		eventuallyPublished(t, ctrl)
		require.True(t, election.IsMaster())

		// Act: the store reports a Serving STH further ahead than local.
		encoded, err := EncodeSTH(SignedTreeHead{TreeSize: 500, Timestamp: 500})
		require.NoError(t, err)
		gw.sthCh <- WatchEvent{Kind: WatchUpdate, Value: encoded, Version: 99}

		// Assert
		waitQuiesced(t, ctrl)
		waitQuiesced(t, ctrl)
		require.False(t, election.IsMaster())
	})

	t.Run("periodic sweep ticker reaps expired node leases", func(t *testing.T) {
		// Arrange: a tiny lease TTL drives a correspondingly tiny sweep
		// cadence (refreshInterval == leaseTTL/2).
		gw := newFakeGateway()
		gw.setConfig(t, ClusterConfig{MinimumServingNodes: 1, MinimumServingFraction: 0.5})
		ctrl := NewController("self", gw,
			WithElectionPrimitive(&fakeElection{}),
			WithLogger(discardLogger()),
			WithLeaseTTL(20*time.Millisecond),
		)
		ctx := context.Background()
		require.NoError(t, ctrl.Start(ctx))
		defer ctrl.Stop(ctx)

		// Assert: the sweep fires on its own, with no caller-driven event.
		require.Eventually(t, func() bool {
			return gw.sweepCallCount() > 0
		}, time.Second, 5*time.Millisecond, "expected the sweep ticker to call SweepExpiredNodes")
	})
}
