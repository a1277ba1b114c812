package ctcluster

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go-ctcluster/database"
)

// Gateway is the Consistent Store Gateway (spec.md §4.1/§6): a thin
// adapter exposing watch streams, CAS writes, and leased writes over the
// external store. The postgresGateway below backs it with the same
// Postgres schema style the teacher uses for its lease/proposal tables,
// generalized with a version column so CAS and watch diffing have
// something concrete to compare.
type Gateway interface {
	WatchNodes(ctx context.Context) (<-chan WatchEvent, error)
	WatchConfig(ctx context.Context) (<-chan WatchEvent, error)
	WatchServingSTH(ctx context.Context) (<-chan WatchEvent, error)

	PutNode(ctx context.Context, nodeID string, value []byte, ttl time.Duration) (int64, error)
	DeleteNode(ctx context.Context, nodeID string) error
	SweepExpiredNodes(ctx context.Context) error

	PutServingSTH(ctx context.Context, value []byte, expectVersion int64) (int64, error)
	GetServingSTH(ctx context.Context) ([]byte, int64, error)
}

const (
	singletonConfig      = "cluster_config"
	singletonServingSTH  = "serving_sth"
)

// postgresGateway implements Gateway over database.Queries.
type postgresGateway struct {
	queries      *database.Queries
	clusterID    string
	logger       *slog.Logger
	pollInterval time.Duration
}

// NewPostgresGateway creates a Gateway backed by Postgres. db must already
// have Migrate(db, clusterID) applied.
func NewPostgresGateway(db *sql.DB, clusterID string, pollInterval time.Duration, logger *slog.Logger) Gateway {
	return &postgresGateway{
		queries:      database.NewQueries(db, clusterID),
		clusterID:    clusterID,
		logger:       logger,
		pollInterval: pollInterval,
	}
}

type versionedValue struct {
	value   []byte
	version int64
}

// WatchNodes polls /nodes/ (the cluster's live-lease rows) and streams
// add/update/remove events, replaying a full snapshot on every call so a
// reconnecting caller rebuilds its peer view before resuming incremental
// events, per the spec's Design Notes on watch re-synchronization.
func (g *postgresGateway) WatchNodes(ctx context.Context) (<-chan WatchEvent, error) {
	out := make(chan WatchEvent, 64)
	go g.pollLoop(ctx, out, func() (map[string]versionedValue, error) {
		records, err := g.queries.ListNodes(ctx, g.clusterID, now())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		snapshot := make(map[string]versionedValue, len(records))
		for _, r := range records {
			snapshot[r.NodeID] = versionedValue{value: r.Value, version: r.Version}
		}
		return snapshot, nil
	})
	return out, nil
}

// WatchConfig polls the singleton /cluster_config entry.
func (g *postgresGateway) WatchConfig(ctx context.Context) (<-chan WatchEvent, error) {
	return g.watchSingleton(ctx, singletonConfig)
}

// WatchServingSTH polls the singleton /serving_sth entry.
func (g *postgresGateway) WatchServingSTH(ctx context.Context) (<-chan WatchEvent, error) {
	return g.watchSingleton(ctx, singletonServingSTH)
}

func (g *postgresGateway) watchSingleton(ctx context.Context, name string) (<-chan WatchEvent, error) {
	out := make(chan WatchEvent, 8)
	go g.pollLoop(ctx, out, func() (map[string]versionedValue, error) {
		record, err := g.queries.GetSingleton(ctx, g.clusterID, name)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if record == nil {
			return map[string]versionedValue{}, nil
		}
		return map[string]versionedValue{name: {value: record.Value, version: record.Version}}, nil
	})
	return out, nil
}

// pollLoop is the generic watch implementation: it fetches a full
// snapshot on a ticker, diffs it against the previous snapshot, and
// emits events. The first successful fetch emits WatchInitial instead of
// WatchAdd for every key present, per the spec's watch contract.
func (g *postgresGateway) pollLoop(ctx context.Context, out chan<- WatchEvent, fetch func() (map[string]versionedValue, error)) {
	defer close(out)

	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()

	prev := map[string]versionedValue{}
	first := true

	poll := func() bool {
		snapshot, err := fetch()
		if err != nil {
			g.logger.Warn("gateway poll failed, will retry", "error", err)
			return true
		}
		prev = diffAndEmit(prev, snapshot, out, first)
		first = false
		return true
	}

	if !poll() {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !poll() {
				return
			}
		}
	}
}

// diffAndEmit compares prev to next and sends the appropriate events to
// out, returning next as the new baseline for the following diff.
func diffAndEmit(prev, next map[string]versionedValue, out chan<- WatchEvent, initial bool) map[string]versionedValue {
	for k, v := range next {
		pv, existed := prev[k]
		switch {
		case !existed:
			kind := WatchAdd
			if initial {
				kind = WatchInitial
			}
			out <- WatchEvent{Kind: kind, Key: k, Value: v.value, Version: v.version}
		case pv.version != v.version:
			out <- WatchEvent{Kind: WatchUpdate, Key: k, Value: v.value, Version: v.version}
		}
	}
	for k, pv := range prev {
		if _, stillThere := next[k]; !stillThere {
			out <- WatchEvent{Kind: WatchRemove, Key: k, Version: pv.version}
		}
	}
	return next
}

// PutNode leases this node's /nodes/{id} entry, unconditionally
// overwriting whatever was there (teacher's lease semantics: the node
// owns its own key, there's no collision to arbitrate).
func (g *postgresGateway) PutNode(ctx context.Context, nodeID string, value []byte, ttl time.Duration) (int64, error) {
	version, err := g.queries.PutNode(ctx, &database.NodeRecord{
		ClusterID: g.clusterID,
		NodeID:    nodeID,
		Value:     value,
		ExpiresAt: now().Add(ttl),
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return version, nil
}

// DeleteNode drops this node's lease outright, used on graceful
// shutdown so peers observe its removal promptly rather than waiting out
// the TTL.
func (g *postgresGateway) DeleteNode(ctx context.Context, nodeID string) error {
	if err := g.queries.DeleteNode(ctx, g.clusterID, nodeID); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// SweepExpiredNodes deletes lapsed node leases outright, the
// database/queries.go analogue of the teacher's
// cleanupExpiredLeasesWorker. ListNodes already filters on expires_at,
// so this is not required for correctness of n, but it keeps %s_nodes
// from accumulating dead rows forever.
func (g *postgresGateway) SweepExpiredNodes(ctx context.Context) error {
	if err := g.queries.DeleteExpiredNodes(ctx, g.clusterID, now()); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// PutServingSTH performs the CAS write at the heart of I1/I2: it only
// succeeds if expectVersion still matches what's stored.
func (g *postgresGateway) PutServingSTH(ctx context.Context, value []byte, expectVersion int64) (int64, error) {
	version, err := g.queries.PutSingletonCAS(ctx, g.clusterID, singletonServingSTH, value, expectVersion)
	if errors.Is(err, database.ErrConflict) {
		return 0, ErrConflict
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return version, nil
}

// GetServingSTH reads the current Serving STH row, used at startup to
// recover S_last before the watch stream delivers its initial event.
func (g *postgresGateway) GetServingSTH(ctx context.Context) ([]byte, int64, error) {
	record, err := g.queries.GetSingleton(ctx, g.clusterID, singletonServingSTH)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if record == nil {
		return nil, 0, nil
	}
	return record.Value, record.Version, nil
}
