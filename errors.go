package ctcluster

import "errors"

var (
	// ErrInsufficientData is the calculator's normal "can't publish yet"
	// verdict (spec.md §7) — not an error condition, a distinguished result.
	ErrInsufficientData = errors.New("ctcluster: insufficient data to compute a serving STH")

	// ErrConflict is returned by Gateway.PutServingSTH when expectVersion no
	// longer matches the stored version; the event loop picks up the new
	// S_last from the serving STH watch and recomputes rather than
	// surfacing this to the host.
	ErrConflict = errors.New("ctcluster: compare-and-swap conflict")

	// ErrStoreUnavailable is a transient failure reaching the consistent
	// store. Watch polls retry on their next tick and node republishing on
	// the next renewal tick; a failed Serving STH publish is retried only
	// when the next event triggers a recalculation. No backoff is applied.
	ErrStoreUnavailable = errors.New("ctcluster: consistent store unavailable")

	// ErrInvalidClusterID is returned when a cluster identifier is not a
	// safe Postgres table-name fragment.
	ErrInvalidClusterID = errors.New("ctcluster: cluster id must contain only lowercase letters, numbers, and underscores, and start with a letter")

	// ErrNotFound is returned by the local database sink when no Serving
	// STH has ever been stored locally.
	ErrNotFound = errors.New("ctcluster: no tree head stored")
)
