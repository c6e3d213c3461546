package state

import "time"

// Snapshot is a read-only view of one account's state, handed to every
// detector worker for a single analysis pass. Workers never hold a
// reference to the live AccountState: Snapshot copies just enough to
// answer the spec's per-worker feature queries without risking a data
// race against the ingest path running concurrently in another goroutine.
type Snapshot struct {
	AccountID string
	Now       time.Time

	Windows        [HorizonCount]*Window // read-only after Snapshot; Store never mutates in place
	ThirtyDayCount int

	LastEnforcement   EnforcementRecord
	HasLastEnforcement bool

	ModelChangedAt    time.Time
	HasModelChange    bool

	store *Store
}

// Snapshot captures a's current windows for worker consumption. Callers
// must not mutate the returned Window values.
func (as *AccountState) Snapshot(now time.Time) *Snapshot {
	as.mu.RLock()
	defer as.mu.RUnlock()

	snap := &Snapshot{
		AccountID:      as.AccountID,
		Now:            now,
		ThirtyDayCount: len(as.thirtyDayTimes),
	}
	for h := Horizon(0); h < HorizonCount; h++ {
		snap.Windows[h] = as.Windows[h]
	}
	if n := len(as.EnforcementLog); n > 0 {
		snap.LastEnforcement = as.EnforcementLog[n-1]
		snap.HasLastEnforcement = true
	}
	snap.ModelChangedAt = as.modelChangedAt
	snap.HasModelChange = as.hasModelChange
	return snap
}

// Snapshot looks up accountID and returns its current snapshot, or nil
// if the account has never been seen.
func (s *Store) Snapshot(accountID string, now time.Time) *Snapshot {
	as, ok := s.Get(accountID)
	if !ok {
		return nil
	}
	snap := as.Snapshot(now)
	snap.store = s
	return snap
}

// Window returns the window for horizon h.
func (snap *Snapshot) Window(h Horizon) *Window { return snap.Windows[h] }

// PivotAccounts returns the other accounts sharing value for the named
// pivot attribute, used by the pivot and hydra workers.
func (snap *Snapshot) PivotAccounts(attr, value string) []string {
	if snap.store == nil {
		return nil
	}
	idx := snap.store.pivotIndexFor(attr)
	if idx == nil {
		return nil
	}
	return idx.Accounts(value)
}

// PivotCount returns the number of distinct accounts sharing value for
// the named pivot attribute.
func (snap *Snapshot) PivotCount(attr, value string) int {
	if snap.store == nil {
		return 0
	}
	idx := snap.store.pivotIndexFor(attr)
	if idx == nil {
		return 0
	}
	return idx.Count(value)
}

// GlobalVelocityZScore delegates to the owning store's global rate
// reservoir.
func (snap *Snapshot) GlobalVelocityZScore(rate float64) float64 {
	if snap.store == nil {
		return 0
	}
	return snap.store.GlobalVelocityZScore(rate)
}

func (s *Store) pivotIndexFor(attr string) *CrossIndex {
	switch attr {
	case "subnet_24":
		return s.Pivots.Subnet24
	case "payment_hash":
		return s.Pivots.PaymentHash
	case "ja3":
		return s.Pivots.JA3
	case "ja3s":
		return s.Pivots.JA3S
	case "h2_settings_hash":
		return s.Pivots.H2SettingsHash
	case "system_prompt_hash":
		return s.Pivots.SystemPromptHash
	case "header_order_hash":
		return s.Pivots.HeaderOrderHash
	default:
		return nil
	}
}
