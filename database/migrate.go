package database

import (
	"database/sql"
	"fmt"
)

var (
	createNodesTableSQL = `
CREATE TABLE IF NOT EXISTS %s_nodes (
    cluster_id    VARCHAR       NOT NULL,
    node_id       VARCHAR       NOT NULL,
    value         BYTEA         NOT NULL,
    version       BIGINT        NOT NULL,
    expires_at    TIMESTAMPTZ   NOT NULL,

    PRIMARY KEY (cluster_id, node_id)
);`

	createSingletonsTableSQL = `
CREATE TABLE IF NOT EXISTS %s_singletons (
    cluster_id    VARCHAR       NOT NULL,
    name          VARCHAR       NOT NULL,
    value         BYTEA         NOT NULL,
    version       BIGINT        NOT NULL,

    PRIMARY KEY (cluster_id, name)
);`

	createNodesExpiryIndexSQL = `
CREATE INDEX IF NOT EXISTS %s_nodes_expiry_idx
ON %s_nodes (cluster_id, expires_at);`
)

// Migrate creates the nodes and singletons tables with indexes.
func Migrate(db *sql.DB, tableName string) error {
	if err := createNodesTable(db, tableName); err != nil {
		return err
	}

	if err := createSingletonsTable(db, tableName); err != nil {
		return err
	}

	if err := createNodesExpiryIndex(db, tableName); err != nil {
		return err
	}

	return nil
}

func createNodesTable(db *sql.DB, tableName string) error {
	var query = fmt.Sprintf(createNodesTableSQL, tableName)
	if _, err := db.Exec(query); err != nil {
		return fmt.Errorf("failed to create nodes table: %w", err)
	}
	return nil
}

func createSingletonsTable(db *sql.DB, tableName string) error {
	var query = fmt.Sprintf(createSingletonsTableSQL, tableName)
	if _, err := db.Exec(query); err != nil {
		return fmt.Errorf("failed to create singletons table: %w", err)
	}
	return nil
}

func createNodesExpiryIndex(db *sql.DB, tableName string) error {
	var query = fmt.Sprintf(createNodesExpiryIndexSQL, tableName, tableName)
	if _, err := db.Exec(query); err != nil {
		return fmt.Errorf("failed to create nodes expiry index: %w", err)
	}
	return nil
}
