package ctcluster

import "log/slog"

// configView mirrors the singleton /cluster_config entry (spec.md §4.3,
// "Cluster Config View"). Until the first WatchInitial/WatchAdd arrives,
// current returns nil and the calculator treats that as
// ErrInsufficientData.
type configView struct {
	logger  *slog.Logger
	current *ClusterConfig
}

func newConfigView(logger *slog.Logger) *configView {
	return &configView{logger: logger}
}

// apply folds a single WatchEvent from /cluster_config into the view. A
// decode failure leaves the previously known config in place: a
// corrupted config write should not blind every node to a config that
// was working a moment ago.
func (v *configView) apply(evt WatchEvent) {
	switch evt.Kind {
	case WatchInitial, WatchAdd, WatchUpdate:
		cfg, err := DecodeConfig(evt.Value)
		if err != nil {
			v.logger.Warn("ignoring undecodable cluster config update", "error", err)
			return
		}
		v.current = &cfg
	case WatchRemove:
		v.current = nil
	}
}

// get returns the currently known config, or nil if none has been
// observed yet.
func (v *configView) get() *ClusterConfig {
	return v.current
}
