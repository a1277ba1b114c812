// Package localdb provides a process-local mirror of the most recently
// observed Serving STH, for fast recovery at startup without waiting on
// the consistent store's first watch round-trip.
package localdb

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
)

const servingSTHKey = "serving_sth"

// record is the gob-encoded payload stored under servingSTHKey; it
// mirrors ctcluster.SignedTreeHead's fields without importing the root
// package, so localdb stays a leaf dependency.
type record struct {
	TreeSize  int64
	Timestamp int64
	Extra     []byte
}

// Store wraps a goleveldb instance as the local database sink described
// in spec.md §6 ("Database (consumed)"), grounded on the teacher pack's
// db.LevelDB wrapper.
type Store struct {
	conn *leveldb.DB
}

// Open opens (or creates) a LevelDB instance at path.
func Open(path string) (*Store, error) {
	conn, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("localdb: failed to open store at %q: %w", path, err)
	}
	return &Store{conn: conn}, nil
}

// Close releases the underlying LevelDB handle.
func (s *Store) Close() error {
	return s.conn.Close()
}

// StoreServingSTH replaces the mirrored STH with the one described by
// treeSize/timestamp/extra, but only if it is not older than whatever is
// already stored (same "not older than" comparator the calculator uses:
// both fields must advance or hold).
func (s *Store) StoreServingSTH(treeSize, timestamp int64, extra []byte) error {
	existing, ok, err := s.latest()
	if err != nil {
		return err
	}
	if ok && (timestamp < existing.Timestamp || treeSize < existing.TreeSize) {
		return nil
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(record{TreeSize: treeSize, Timestamp: timestamp, Extra: extra}); err != nil {
		return fmt.Errorf("localdb: failed to encode record: %w", err)
	}
	if err := s.conn.Put([]byte(servingSTHKey), buf.Bytes(), nil); err != nil {
		return fmt.Errorf("localdb: failed to write record: %w", err)
	}
	return nil
}

// LatestTreeHead returns the most recently stored tree size, timestamp,
// and extra bytes, or ok == false if nothing has ever been stored.
func (s *Store) LatestTreeHead() (treeSize, timestamp int64, extra []byte, ok bool, err error) {
	r, found, err := s.latest()
	if err != nil || !found {
		return 0, 0, nil, false, err
	}
	return r.TreeSize, r.Timestamp, r.Extra, true, nil
}

func (s *Store) latest() (record, bool, error) {
	data, err := s.conn.Get([]byte(servingSTHKey), nil)
	if err == leveldb.ErrNotFound {
		return record{}, false, nil
	}
	if err != nil {
		return record{}, false, fmt.Errorf("localdb: failed to read record: %w", err)
	}
	var r record
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&r); err != nil {
		return record{}, false, fmt.Errorf("localdb: failed to decode record: %w", err)
	}
	return r, true, nil
}
