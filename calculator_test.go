package ctcluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sth(size, ts int64) *SignedTreeHead {
	return &SignedTreeHead{TreeSize: size, Timestamp: ts}
}

func peer(id string, s *SignedTreeHead) ClusterNodeState {
	return ClusterNodeState{NodeID: id, NewestSTH: s}
}

func TestCalculate(t *testing.T) {
	t.Run("50 percent coverage ramp-up", func(t *testing.T) {
		// Arrange
		cfg := &ClusterConfig{MinimumServingNodes: 1, MinimumServingFraction: 0.5}

		// Act / Assert: single peer.
		got, err := calculate([]ClusterNodeState{peer("n1", sth(100, 100))}, cfg, nil)
		require.NoError(t, err)
		assert.Equal(t, *sth(100, 100), got)

		// Act / Assert: add a second peer that clears 50% coverage.
		peers := []ClusterNodeState{peer("n1", sth(100, 100)), peer("n2", sth(200, 200))}
		got, err = calculate(peers, cfg, &got)
		require.NoError(t, err)
		assert.Equal(t, *sth(200, 200), got)

		// Act / Assert: a third peer too far behind for 300@300 to reach 50%.
		peers = append(peers, peer("n3", sth(300, 300)))
		got, err = calculate(peers, cfg, &got)
		require.NoError(t, err)
		assert.Equal(t, *sth(200, 200), got)
	})

	t.Run("70 percent floor holds back advancement", func(t *testing.T) {
		// Arrange
		cfg := &ClusterConfig{MinimumServingNodes: 1, MinimumServingFraction: 0.7}

		got, err := calculate([]ClusterNodeState{peer("n1", sth(100, 100))}, cfg, nil)
		require.NoError(t, err)
		assert.Equal(t, *sth(100, 100), got)

		peers := []ClusterNodeState{peer("n1", sth(100, 100)), peer("n2", sth(200, 200))}
		got, err = calculate(peers, cfg, &got)
		require.NoError(t, err)
		assert.Equal(t, *sth(100, 100), got)

		peers = append(peers, peer("n3", sth(300, 300)))
		got, err = calculate(peers, cfg, &got)
		require.NoError(t, err)
		assert.Equal(t, *sth(100, 100), got)
	})

	t.Run("minimum serving nodes gates publication regardless of coverage", func(t *testing.T) {
		// Arrange
		cfg := &ClusterConfig{MinimumServingNodes: 2, MinimumServingFraction: 0.6}

		// Act / Assert: below N_min.
		_, err := calculate([]ClusterNodeState{peer("n1", sth(100, 100))}, cfg, nil)
		assert.ErrorIs(t, err, ErrInsufficientData)

		// Act / Assert: N_min satisfied, 100@100 covers both.
		peers := []ClusterNodeState{peer("n1", sth(100, 100)), peer("n2", sth(200, 200))}
		got, err := calculate(peers, cfg, nil)
		require.NoError(t, err)
		assert.Equal(t, *sth(100, 100), got)

		peers = append(peers, peer("n3", sth(300, 300)))
		got, err = calculate(peers, cfg, &got)
		require.NoError(t, err)
		assert.Equal(t, *sth(200, 200), got)
	})

	t.Run("cannot regress once published", func(t *testing.T) {
		// Arrange
		cfg := &ClusterConfig{MinimumServingNodes: 1, MinimumServingFraction: 0.5}
		peers := []ClusterNodeState{peer("n1", sth(200, 200)), peer("n2", sth(200, 200)), peer("n3", sth(200, 200))}

		got, err := calculate(peers, cfg, nil)
		require.NoError(t, err)
		assert.Equal(t, *sth(200, 200), got)

		// Act: one peer regresses, the others still hold the line.
		peers[0] = peer("n1", sth(100, 100))
		got, err = calculate(peers, cfg, &got)
		require.NoError(t, err)
		assert.Equal(t, *sth(200, 200), got)

		// Act: a second peer regresses too; nothing eligible is >= last.
		peers[2] = peer("n3", sth(100, 100))
		_, err = calculate(peers, cfg, &got)
		assert.ErrorIs(t, err, ErrInsufficientData)
	})

	t.Run("empty peer set is insufficient data", func(t *testing.T) {
		cfg := &ClusterConfig{MinimumServingNodes: 0, MinimumServingFraction: 0.5}
		_, err := calculate(nil, cfg, nil)
		assert.ErrorIs(t, err, ErrInsufficientData)
	})

	t.Run("missing config is insufficient data", func(t *testing.T) {
		_, err := calculate([]ClusterNodeState{peer("n1", sth(100, 100))}, nil, nil)
		assert.ErrorIs(t, err, ErrInsufficientData)
	})

	t.Run("f_min zero selects the largest candidate subject to monotonicity", func(t *testing.T) {
		cfg := &ClusterConfig{MinimumServingNodes: 0, MinimumServingFraction: 0}
		peers := []ClusterNodeState{peer("n1", sth(50, 50)), peer("n2", sth(200, 75))}

		got, err := calculate(peers, cfg, nil)
		require.NoError(t, err)
		assert.Equal(t, *sth(200, 75), got)
	})

	t.Run("f_min one requires every peer to cover the candidate", func(t *testing.T) {
		cfg := &ClusterConfig{MinimumServingNodes: 0, MinimumServingFraction: 1}
		peers := []ClusterNodeState{peer("n1", sth(10, 100)), peer("n2", sth(12, 100)), peer("n3", sth(15, 150))}

		// Only 10@100 has every peer's newest_sth not older than it.
		got, err := calculate(peers, cfg, nil)
		require.NoError(t, err)
		assert.Equal(t, *sth(10, 100), got)
	})

	t.Run("same timestamp different size is rejected as a replay of S_last", func(t *testing.T) {
		cfg := &ClusterConfig{MinimumServingNodes: 0, MinimumServingFraction: 0.5}
		last := sth(9, 1002)
		peers := []ClusterNodeState{peer("n1", sth(10, 1002)), peer("n2", sth(10, 1002))}

		_, err := calculate(peers, cfg, last)
		assert.ErrorIs(t, err, ErrInsufficientData)
	})

	t.Run("exact match of S_last is a legal no-op candidate", func(t *testing.T) {
		cfg := &ClusterConfig{MinimumServingNodes: 0, MinimumServingFraction: 0.5}
		last := sth(9, 1002)
		peers := []ClusterNodeState{peer("n1", sth(9, 1002))}

		got, err := calculate(peers, cfg, last)
		require.NoError(t, err)
		assert.Equal(t, *last, got)
	})

	t.Run("peer with no newest sth does not count toward coverage", func(t *testing.T) {
		cfg := &ClusterConfig{MinimumServingNodes: 0, MinimumServingFraction: 1}
		peers := []ClusterNodeState{peer("n1", sth(5, 5)), {NodeID: "n2"}}

		_, err := calculate(peers, cfg, nil)
		assert.ErrorIs(t, err, ErrInsufficientData)
	})

	t.Run("duplicate tree heads across peers are deduplicated into one candidate", func(t *testing.T) {
		cfg := &ClusterConfig{MinimumServingNodes: 0, MinimumServingFraction: 1}
		peers := []ClusterNodeState{peer("n1", sth(5, 5)), peer("n2", sth(5, 5)), peer("n3", sth(5, 5))}

		got, err := calculate(peers, cfg, nil)
		require.NoError(t, err)
		assert.Equal(t, *sth(5, 5), got)
	})
}

func TestMinCoverage(t *testing.T) {
	assert.Equal(t, 0, minCoverage(0, 10))
	assert.Equal(t, 5, minCoverage(0.5, 10))
	assert.Equal(t, 5, minCoverage(0.41, 10))
	assert.Equal(t, 10, minCoverage(1, 10))
}
