package ctcluster

import "math"

// calculate is the Serving STH Calculator (spec.md §4.4). It is a pure
// function of the currently visible peer states, the current cluster
// config, and the last successfully published Serving STH, and returns
// either the next candidate to publish or ErrInsufficientData.
//
// peers is the full visible-peer snapshot, including this node's own
// entry if it has one; n = len(peers) is used directly in the coverage
// arithmetic, per the spec's Design Notes ("do not add a separate
// staleness heuristic for peer entries").
func calculate(peers []ClusterNodeState, cfg *ClusterConfig, last *SignedTreeHead) (SignedTreeHead, error) {
	if cfg == nil {
		return SignedTreeHead{}, ErrInsufficientData
	}

	n := len(peers)
	if n < cfg.MinimumServingNodes {
		return SignedTreeHead{}, ErrInsufficientData
	}

	// Step 2: candidate list, deduplicated by (tree_size, timestamp).
	type key struct {
		size int64
		ts   int64
	}
	seen := make(map[key]SignedTreeHead)
	for _, p := range peers {
		if p.NewestSTH == nil {
			continue
		}
		k := key{p.NewestSTH.TreeSize, p.NewestSTH.Timestamp}
		if _, ok := seen[k]; !ok {
			seen[k] = *p.NewestSTH
		}
	}

	required := minCoverage(cfg.MinimumServingFraction, n)

	var best *SignedTreeHead
	for _, candidate := range seen {
		candidate := candidate

		// Step 3: coverage.
		if coverage(peers, candidate) < required {
			continue
		}

		// Step 4: monotonicity and timestamp non-reuse against S_last. An
		// exact match of S_last is a legal candidate (it's how "nothing
		// eligible improves on S_last" surfaces as a no-op republish
		// instead of an error); same timestamp with a different size
		// would reuse the timestamp with different content and is
		// rejected outright (I2).
		if last != nil {
			if candidate.TreeSize < last.TreeSize || candidate.Timestamp < last.Timestamp {
				continue
			}
			if candidate.Timestamp == last.Timestamp && candidate.TreeSize != last.TreeSize {
				continue
			}
		}

		// Step 5: largest tree_size, tie-break largest timestamp.
		if best == nil || isBetterCandidate(candidate, *best) {
			best = &candidate
		}
	}

	if best == nil {
		return SignedTreeHead{}, ErrInsufficientData
	}
	return *best, nil
}

// isBetterCandidate reports whether a should be selected over b: larger
// tree_size wins; among ties, larger timestamp wins. Still-ties are
// impossible because candidates are deduplicated by (size, timestamp).
func isBetterCandidate(a, b SignedTreeHead) bool {
	if a.TreeSize != b.TreeSize {
		return a.TreeSize > b.TreeSize
	}
	return a.Timestamp > b.Timestamp
}

// coverage counts the visible peers whose newest_sth is not older than
// candidate.
func coverage(peers []ClusterNodeState, candidate SignedTreeHead) int {
	count := 0
	for _, p := range peers {
		if p.NewestSTH != nil && p.NewestSTH.notOlderThan(candidate) {
			count++
		}
	}
	return count
}

// minCoverage computes ceil(fMin * n); fMin == 0 makes every candidate
// eligible regardless of n (including n == 0, though that case is already
// excluded by the N_min check above for any cfg.MinimumServingNodes > 0).
func minCoverage(fMin float64, n int) int {
	if fMin <= 0 {
		return 0
	}
	return int(math.Ceil(fMin * float64(n)))
}
