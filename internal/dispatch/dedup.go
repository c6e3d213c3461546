package dispatch

import (
	"sync"
	"time"
)

// dedupEntry is the last tiered emission remembered for one account.
type dedupEntry struct {
	tier        string
	clusterID   uint64
	clusterSize int
	at          time.Time
}

// deduper is the idempotence backing store Dispatcher consults before a
// tiered emission. dedupTable is the default in-process implementation;
// redisDedup backs it with a shared store for multi-process deployments.
type deduper interface {
	allow(accountID, tier string, clusterID uint64, clusterSize int, now time.Time) bool
}

// dedupTable suppresses repeat tiered-sink emissions for an account
// unless its tier changes, its cluster membership changes, or the
// configured window has elapsed since the last emission. audit_log is
// exempt and never consults this table.
type dedupTable struct {
	mu      sync.Mutex
	window  time.Duration
	entries map[string]dedupEntry
}

func newDedupTable(window time.Duration) *dedupTable {
	return &dedupTable{window: window, entries: make(map[string]dedupEntry)}
}

// allow reports whether a tiered emission for accountID should proceed,
// recording it as the new last-emission state when it does.
func (d *dedupTable) allow(accountID, tier string, clusterID uint64, clusterSize int, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	prev, ok := d.entries[accountID]
	if ok &&
		prev.tier == tier &&
		prev.clusterID == clusterID &&
		prev.clusterSize == clusterSize &&
		now.Sub(prev.at) < d.window {
		return false
	}

	d.entries[accountID] = dedupEntry{tier: tier, clusterID: clusterID, clusterSize: clusterSize, at: now}
	return true
}
