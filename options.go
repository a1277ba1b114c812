package ctcluster

import (
	"io"
	"log/slog"
	"time"
)

// options configures Controller behavior (internal only).
type options struct {
	leaseTTL        time.Duration
	renewalInterval time.Duration
	refreshInterval time.Duration
	workerCount     int
	workerQueueSize int
	election        ElectionPrimitive
	fetcher         PeerFetcher
	local           LocalStore
	logger          *slog.Logger
}

// defaultOptions returns sensible defaults.
func defaultOptions() options {
	var leaseTTL = 15 * time.Second
	return options{
		leaseTTL:        leaseTTL,
		renewalInterval: leaseTTL / 3,
		refreshInterval: leaseTTL / 2,
		workerCount:     4,
		workerQueueSize: 64,
		election:        noopElection{},
		fetcher:         noopFetcher{},
		local:           noopLocalStore{},
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// Option is a functional option for configuring a Controller.
type Option func(*options)

// WithLeaseTTL sets the lease time-to-live for this node's /nodes/{id}
// entry, and derives the renewal and refresh cadence from it.
func WithLeaseTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.leaseTTL = ttl
		o.renewalInterval = ttl / 3
		o.refreshInterval = ttl / 2
	}
}

// WithWorkerPool sets the size and queue depth of the bounded worker pool
// that absorbs blocking store/database writes off the event loop.
func WithWorkerPool(workers, queueSize int) Option {
	return func(o *options) {
		if workers > 0 {
			o.workerCount = workers
		}
		if queueSize > 0 {
			o.workerQueueSize = queueSize
		}
	}
}

// WithElectionPrimitive sets the external master-election collaborator.
func WithElectionPrimitive(election ElectionPrimitive) Option {
	return func(o *options) {
		if election != nil {
			o.election = election
		}
	}
}

// WithFetcher sets the continuous peer-log fetcher collaborator that is
// subscribed/unsubscribed as peers come and go.
func WithFetcher(fetcher PeerFetcher) Option {
	return func(o *options) {
		if fetcher != nil {
			o.fetcher = fetcher
		}
	}
}

// WithLocalStore sets the local database sink that mirrors the Serving
// STH this node last saw published.
func WithLocalStore(local LocalStore) Option {
	return func(o *options) {
		if local != nil {
			o.local = local
		}
	}
}

// WithLogger sets the logger used by the controller.
// If the logger is nil, the controller uses a no-op logger.
// DEFAULT: a no-op logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger == nil {
			o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
			return
		}
		o.logger = logger
	}
}
