package state

import (
	"hash/fnv"
	"math"
	"sync"
	"time"

	"glasswally/internal/config"
	"glasswally/internal/event"
)

// shard is one lock-guarded partition of the account map, sized by
// config.StateConfig.Shards to bound lock contention under concurrent
// ingest, mirroring the correlation engine's per-rule-state locking
// generalized to per-account-shard locking.
type shard struct {
	mu       sync.RWMutex
	accounts map[string]*AccountState
}

// Store is the sliding-window state store: every account's per-horizon
// windows, the cross-account pivot indexes, and a dirty-set the hydra
// clusterer drains to know which accounts need graph recomputation.
type Store struct {
	shards      []*shard
	windowCfg   WindowConfig
	accountCap  int

	Pivots *PivotIndexes

	dirtyMu sync.Mutex
	dirty   map[string]struct{}

	velocityMu  sync.Mutex
	velocity    *reservoir // global rolling sample of per-account request rates

	accountCount int64
	countMu      sync.Mutex
}

// NewStore builds a Store sized per cfg.
func NewStore(cfg config.StateConfig) *Store {
	n := cfg.Shards
	if n <= 0 {
		n = 64
	}
	s := &Store{
		shards: make([]*shard, n),
		windowCfg: WindowConfig{
			InterArrivalCap: cfg.InterArrivalRing,
			ReservoirK:      cfg.ReservoirSize,
		},
		accountCap: cfg.AccountCap,
		Pivots:     NewPivotIndexes(),
		dirty:      make(map[string]struct{}),
		velocity:   newReservoir(cfg.ReservoirSize),
	}
	for i := range s.shards {
		s.shards[i] = &shard{accounts: make(map[string]*AccountState)}
	}
	return s
}

func (s *Store) shardFor(accountID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(accountID))
	return s.shards[int(h.Sum32())%len(s.shards)]
}

// getOrCreate returns the account's state, allocating it under a
// write lock on first sight. accountCap is not checked here or anywhere
// else in the Store: new accounts are always created, the number of
// tracked accounts is not bounded, and no account is evicted to make room.
func (s *Store) getOrCreate(accountID string) *AccountState {
	sh := s.shardFor(accountID)

	sh.mu.RLock()
	as, ok := sh.accounts[accountID]
	sh.mu.RUnlock()
	if ok {
		return as
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if as, ok := sh.accounts[accountID]; ok {
		return as
	}
	as = newAccountState(accountID, s.windowCfg)
	sh.accounts[accountID] = as
	s.countMu.Lock()
	s.accountCount++
	s.countMu.Unlock()
	return as
}

// Ingest records ev against its account's state, updates the
// cross-account pivot indexes, marks the account dirty for hydra
// recomputation, and folds the event's instantaneous rate into the
// global velocity reservoir.
func (s *Store) Ingest(ev *event.Event) error {
	as := s.getOrCreate(ev.AccountID)
	if err := as.Ingest(ev); err != nil {
		return err
	}

	s.Pivots.Subnet24.Add(ev.Subnet24, ev.AccountID)
	s.Pivots.PaymentHash.Add(ev.PaymentHash, ev.AccountID)
	s.Pivots.JA3.Add(ev.JA3, ev.AccountID)
	s.Pivots.JA3S.Add(ev.JA3S, ev.AccountID)
	s.Pivots.H2SettingsHash.Add(ev.H2SettingsHash, ev.AccountID)
	s.Pivots.SystemPromptHash.Add(ev.SystemPromptHash, ev.AccountID)
	s.Pivots.HeaderOrderHash.Add(ev.HeaderOrderHash, ev.AccountID)

	s.markDirty(ev.AccountID)

	if w := as.Windows[Horizon5m]; w.Count() >= 2 {
		times := w.Times()
		elapsed := times[len(times)-1].Sub(times[0]).Seconds()
		if elapsed > 0 {
			s.velocityMu.Lock()
			s.velocity.Add(float64(len(times)) / elapsed)
			s.velocityMu.Unlock()
		}
	}

	return nil
}

// Get returns an account's state if it exists.
func (s *Store) Get(accountID string) (*AccountState, bool) {
	sh := s.shardFor(accountID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	as, ok := sh.accounts[accountID]
	return as, ok
}

// AccountCount returns the number of distinct accounts currently tracked.
func (s *Store) AccountCount() int64 {
	s.countMu.Lock()
	defer s.countMu.Unlock()
	return s.accountCount
}

// markDirty records that accountID's pivot relationships changed and
// needs a hydra graph recomputation pass.
func (s *Store) markDirty(accountID string) {
	s.dirtyMu.Lock()
	s.dirty[accountID] = struct{}{}
	s.dirtyMu.Unlock()
}

// DrainDirty returns and clears the current dirty set, used by the
// hydra clusterer's debounced recompute loop.
func (s *Store) DrainDirty() []string {
	s.dirtyMu.Lock()
	defer s.dirtyMu.Unlock()
	out := make([]string, 0, len(s.dirty))
	for a := range s.dirty {
		out = append(out, a)
	}
	s.dirty = make(map[string]struct{})
	return out
}

// GlobalVelocityZScore returns how many standard deviations rate is from
// the global rolling mean request rate, used by the velocity worker.
func (s *Store) GlobalVelocityZScore(rate float64) float64 {
	s.velocityMu.Lock()
	mean, variance := s.velocity.MeanVar()
	s.velocityMu.Unlock()
	if variance <= 0 {
		return 0
	}
	stddev := math.Sqrt(variance)
	if stddev == 0 {
		return 0
	}
	return (rate - mean) / stddev
}

// GC trims every tracked account's windows against now, bounding memory
// for accounts that stopped sending events without being evicted.
func (s *Store) GC(now time.Time) {
	for _, sh := range s.shards {
		sh.mu.RLock()
		accounts := make([]*AccountState, 0, len(sh.accounts))
		for _, as := range sh.accounts {
			accounts = append(accounts, as)
		}
		sh.mu.RUnlock()

		for _, as := range accounts {
			as.mu.Lock()
			for h := Horizon(0); h < HorizonCount; h++ {
				as.Windows[h].Trim(now)
			}
			as.mu.Unlock()
		}
	}
}
