package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DBTX is an interface that both sql.DB and sql.Tx implement.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Queries provides table-aware database operations for one cluster's
// backing tables.
type Queries struct {
	db        DBTX
	tableName string
}

// NewQueries creates a new Queries instance with the given table name
// prefix (typically the cluster id).
func NewQueries(db DBTX, tableName string) *Queries {
	return &Queries{
		db:        db,
		tableName: tableName,
	}
}

var (
	listNodesSQL = `
SELECT cluster_id, node_id, value, version, expires_at
FROM %s_nodes
WHERE cluster_id = $1 AND expires_at > $2
ORDER BY node_id ASC;`

	getNodeSQL = `
SELECT cluster_id, node_id, value, version, expires_at
FROM %s_nodes
WHERE cluster_id = $1 AND node_id = $2;`

	putNodeSQL = `
INSERT INTO %s_nodes (cluster_id, node_id, value, version, expires_at)
VALUES ($1, $2, $3, 1, $4)
ON CONFLICT (cluster_id, node_id)
DO UPDATE SET
    value = EXCLUDED.value,
    version = %s_nodes.version + 1,
    expires_at = EXCLUDED.expires_at
RETURNING version;`

	deleteNodeSQL = `
DELETE FROM %s_nodes
WHERE cluster_id = $1 AND node_id = $2;`

	deleteExpiredNodesSQL = `
DELETE FROM %s_nodes
WHERE cluster_id = $1 AND expires_at <= $2;`

	getSingletonSQL = `
SELECT cluster_id, name, value, version
FROM %s_singletons
WHERE cluster_id = $1 AND name = $2;`

	insertSingletonSQL = `
INSERT INTO %s_singletons (cluster_id, name, value, version)
VALUES ($1, $2, $3, 1)
ON CONFLICT (cluster_id, name) DO NOTHING
RETURNING version;`

	updateSingletonCASSQL = `
UPDATE %s_singletons
SET value = $3, version = version + 1
WHERE cluster_id = $1 AND name = $2 AND version = $4
RETURNING version;`
)

// ListNodes returns all currently-live (unexpired) node rows for a
// cluster, ordered by node id.
func (q *Queries) ListNodes(ctx context.Context, clusterID string, now time.Time) ([]*NodeRecord, error) {
	var (
		query     = fmt.Sprintf(listNodesSQL, q.tableName)
		rows, err = q.db.QueryContext(ctx, query, clusterID, now)
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	defer rows.Close()

	var nodes []*NodeRecord
	for rows.Next() {
		var n NodeRecord
		if err := rows.Scan(&n.ClusterID, &n.NodeID, &n.Value, &n.Version, &n.ExpiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		nodes = append(nodes, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return nodes, nil
}

// GetNode returns the row for a single node, or nil if it doesn't exist.
// It does not filter on expires_at: a row whose lease has lapsed but has
// not been swept yet is still returned.
func (q *Queries) GetNode(ctx context.Context, clusterID, nodeID string) (*NodeRecord, error) {
	var (
		query = fmt.Sprintf(getNodeSQL, q.tableName)
		n     NodeRecord
		err   = q.db.QueryRowContext(ctx, query, clusterID, nodeID).Scan(
			&n.ClusterID, &n.NodeID, &n.Value, &n.Version, &n.ExpiresAt,
		)
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get node: %w", err)
	}
	return &n, nil
}

// PutNode unconditionally upserts a node's leased entry, bumping its
// version, and returns the new version.
func (q *Queries) PutNode(ctx context.Context, n *NodeRecord) (int64, error) {
	var (
		query   = fmt.Sprintf(putNodeSQL, q.tableName, q.tableName)
		version int64
		err     = q.db.QueryRowContext(ctx, query, n.ClusterID, n.NodeID, n.Value, n.ExpiresAt).Scan(&version)
	)
	if err != nil {
		return 0, fmt.Errorf("failed to put node: %w", err)
	}
	return version, nil
}

// DeleteNode removes a node's entry outright (process teardown).
func (q *Queries) DeleteNode(ctx context.Context, clusterID, nodeID string) error {
	var query = fmt.Sprintf(deleteNodeSQL, q.tableName)
	if _, err := q.db.ExecContext(ctx, query, clusterID, nodeID); err != nil {
		return fmt.Errorf("failed to delete node: %w", err)
	}
	return nil
}

// DeleteExpiredNodes sweeps lapsed leases. ListNodes already excludes
// expired rows, so this only keeps dead rows from accumulating.
func (q *Queries) DeleteExpiredNodes(ctx context.Context, clusterID string, now time.Time) error {
	var query = fmt.Sprintf(deleteExpiredNodesSQL, q.tableName)
	if _, err := q.db.ExecContext(ctx, query, clusterID, now); err != nil {
		return fmt.Errorf("failed to delete expired nodes: %w", err)
	}
	return nil
}

// GetSingleton returns a named singleton row (cluster_config or
// serving_sth), or nil if it hasn't been written yet.
func (q *Queries) GetSingleton(ctx context.Context, clusterID, name string) (*SingletonRecord, error) {
	var (
		query = fmt.Sprintf(getSingletonSQL, q.tableName)
		s     SingletonRecord
		err   = q.db.QueryRowContext(ctx, query, clusterID, name).Scan(&s.ClusterID, &s.Name, &s.Value, &s.Version)
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get singleton %q: %w", name, err)
	}
	return &s, nil
}

// PutSingletonCAS writes a singleton row only if expectVersion matches
// the stored version (expectVersion == 0 means "must not already
// exist"). Returns ErrConflict on mismatch.
func (q *Queries) PutSingletonCAS(ctx context.Context, clusterID, name string, value []byte, expectVersion int64) (int64, error) {
	if expectVersion == 0 {
		var (
			query   = fmt.Sprintf(insertSingletonSQL, q.tableName)
			version int64
			err     = q.db.QueryRowContext(ctx, query, clusterID, name, value).Scan(&version)
		)
		if err == sql.ErrNoRows {
			return 0, ErrConflict
		}
		if err != nil {
			return 0, fmt.Errorf("failed to insert singleton %q: %w", name, err)
		}
		return version, nil
	}

	var (
		query   = fmt.Sprintf(updateSingletonCASSQL, q.tableName)
		version int64
		err     = q.db.QueryRowContext(ctx, query, clusterID, name, value, expectVersion).Scan(&version)
	)
	if err == sql.ErrNoRows {
		return 0, ErrConflict
	}
	if err != nil {
		return 0, fmt.Errorf("failed to update singleton %q: %w", name, err)
	}
	return version, nil
}
