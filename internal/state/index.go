package state

import (
	"hash/fnv"
	"sync"
)

// indexShards is the number of locks each cross-account pivot index is
// split across, bounding contention the same way Store shards accounts.
const indexShards = 32

// pivotShard is one lock-guarded partition of a pivot index.
type pivotShard struct {
	mu      sync.RWMutex
	buckets map[string]map[string]struct{} // pivot value -> account set
}

// CrossIndex maps a single pivot attribute (subnet/24, payment hash,
// JA3, JA3S, H2-SETTINGS hash, system-prompt hash) to the set of
// accounts observed with that value, used by the hydra worker and the
// pivot worker to find related accounts without scanning every account.
type CrossIndex struct {
	shards [indexShards]*pivotShard
}

// NewCrossIndex allocates an empty pivot index.
func NewCrossIndex() *CrossIndex {
	ci := &CrossIndex{}
	for i := range ci.shards {
		ci.shards[i] = &pivotShard{buckets: make(map[string]map[string]struct{})}
	}
	return ci
}

func (ci *CrossIndex) shardFor(value string) *pivotShard {
	h := fnv.New32a()
	h.Write([]byte(value))
	return ci.shards[h.Sum32()%indexShards]
}

// Add records that accountID was observed with pivot value.
func (ci *CrossIndex) Add(value, accountID string) {
	if value == "" {
		return
	}
	s := ci.shardFor(value)
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.buckets[value]
	if !ok {
		set = make(map[string]struct{})
		s.buckets[value] = set
	}
	set[accountID] = struct{}{}
}

// Accounts returns the accounts sharing pivot value, excluding none.
func (ci *CrossIndex) Accounts(value string) []string {
	if value == "" {
		return nil
	}
	s := ci.shardFor(value)
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.buckets[value]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	return out
}

// Count returns the number of distinct accounts sharing pivot value.
func (ci *CrossIndex) Count(value string) int {
	if value == "" {
		return 0
	}
	s := ci.shardFor(value)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buckets[value])
}

// PivotIndexes bundles every cross-account index the hydra and pivot
// workers consult, keyed by the attribute name used in edge-weight
// computation. HeaderOrderHash is tracked for the fingerprint worker's
// own cross-account clustering check; it carries no hydra edge weight.
type PivotIndexes struct {
	Subnet24         *CrossIndex
	PaymentHash       *CrossIndex
	JA3              *CrossIndex
	JA3S             *CrossIndex
	H2SettingsHash   *CrossIndex
	SystemPromptHash *CrossIndex
	HeaderOrderHash  *CrossIndex
}

// NewPivotIndexes allocates all seven pivot indexes.
func NewPivotIndexes() *PivotIndexes {
	return &PivotIndexes{
		Subnet24:         NewCrossIndex(),
		PaymentHash:       NewCrossIndex(),
		JA3:              NewCrossIndex(),
		JA3S:             NewCrossIndex(),
		H2SettingsHash:   NewCrossIndex(),
		SystemPromptHash: NewCrossIndex(),
		HeaderOrderHash:  NewCrossIndex(),
	}
}
