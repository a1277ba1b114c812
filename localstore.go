package ctcluster

import "go-ctcluster/localdb"

// LocalStore is the local database sink described in spec.md §6
// ("Database (consumed)"): an opaque, process-local mirror of whatever
// Serving STH this replica last observed. It is not the consistent store
// — it exists purely for fast local recovery of S_last at startup.
type LocalStore interface {
	// StoreServingSTH replaces the locally mirrored STH with sth, but
	// only if sth is not older than whatever is already stored.
	StoreServingSTH(sth SignedTreeHead) error

	// LatestTreeHead returns the most recently stored STH, or
	// ErrNotFound if nothing has ever been stored.
	LatestTreeHead() (SignedTreeHead, error)
}

// noopLocalStore is the zero-value LocalStore; it never recovers anything
// and silently discards mirror writes, useful for tests of components
// that don't care about local recovery.
type noopLocalStore struct{}

func (noopLocalStore) StoreServingSTH(SignedTreeHead) error { return nil }
func (noopLocalStore) LatestTreeHead() (SignedTreeHead, error) {
	return SignedTreeHead{}, ErrNotFound
}

// leveldbLocalStore adapts a localdb.Store to LocalStore, translating
// between SignedTreeHead and the leaf package's plain-field record so
// localdb need not import the root package.
type leveldbLocalStore struct {
	store *localdb.Store
}

// NewLocalStore opens a goleveldb-backed LocalStore at path.
func NewLocalStore(path string) (LocalStore, error) {
	store, err := localdb.Open(path)
	if err != nil {
		return nil, err
	}
	return &leveldbLocalStore{store: store}, nil
}

func (l *leveldbLocalStore) StoreServingSTH(sth SignedTreeHead) error {
	return l.store.StoreServingSTH(sth.TreeSize, sth.Timestamp, sth.Extra)
}

func (l *leveldbLocalStore) LatestTreeHead() (SignedTreeHead, error) {
	treeSize, timestamp, extra, ok, err := l.store.LatestTreeHead()
	if err != nil {
		return SignedTreeHead{}, err
	}
	if !ok {
		return SignedTreeHead{}, ErrNotFound
	}
	return SignedTreeHead{TreeSize: treeSize, Timestamp: timestamp, Extra: extra}, nil
}

// Close releases the underlying LevelDB handle, if this LocalStore was
// created by NewLocalStore.
func (l *leveldbLocalStore) Close() error {
	return l.store.Close()
}
