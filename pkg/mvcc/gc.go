package mvcc

// GCStats reports what a GC pass did, surfaced through the engine-level
// stats() as part of mvccStats (spec.md §6).
type GCStats struct {
	KeysScanned    int
	VersionsPruned int
	Horizon        uint64
}

// RunGC prunes version chains that no active transaction could still
// need, per spec.md §4.5: a version committed strictly before every
// active transaction's startTs is safe to discard (keeping the single
// newest such version per key so any startTs at or after the horizon
// still resolves). Chains deeper than MaxChainDepth are additionally
// truncated at the tail regardless of visibility, per the configured
// mvccMaxChainDepth.
//
// retentionHorizon lets the caller additionally refuse to prune anything
// committed within the configured mvccRetentionMs window even if no
// active transaction needs it — pkg/raydb's background GC loop derives
// this from its own commitTs→wall-clock bookkeeping (commitTs is a
// logical counter here, not a timestamp, so that mapping lives above this
// package) and passes the oldest commitTs still inside the retention
// window. Pass 0 to disable the retention floor and prune purely by
// active-transaction visibility.
func (m *Manager) RunGC(retentionHorizon uint64) GCStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	horizon := m.oldestActiveStartTsLocked()
	if retentionHorizon > 0 && retentionHorizon < horizon {
		horizon = retentionHorizon
	}

	stats := GCStats{Horizon: horizon}
	for key := range m.pool.heads {
		stats.KeysScanned++
		before := m.pool.chainDepth(key)
		m.pool.pruneCommittedBefore(key, horizon)
		if m.pool.chainDepth(key) > m.maxChainDepth {
			m.pool.truncateAfter(key, m.maxChainDepth)
		}
		after := m.pool.chainDepth(key)
		if before > after {
			stats.VersionsPruned += before - after
		}
	}
	return stats
}

func (m *Manager) oldestActiveStartTsLocked() uint64 {
	oldest := m.nextCommit
	for _, t := range m.active {
		if t.StartTs < oldest {
			oldest = t.StartTs
		}
	}
	return oldest
}
