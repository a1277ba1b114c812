package database

import "time"

// NodeRecord represents a single /nodes/{node_id} row: one leased entry
// per cluster member.
type NodeRecord struct {
	ClusterID string
	NodeID    string
	Value     []byte
	Version   int64
	ExpiresAt time.Time
}

// SingletonRecord represents one of the cluster's singleton keys
// (/cluster_config or /serving_sth), identified by Name.
type SingletonRecord struct {
	ClusterID string
	Name      string
	Value     []byte
	Version   int64
}
