package state

import (
	"sync"
	"time"

	"glasswally/internal/errkind"
	"glasswally/internal/event"
)

// Horizon names the sliding windows every account tracks, per the state
// store's data model. ThirtyDay is kept as a coarse counter rather than a
// full Window: no worker inspects its distributions, only its count.
type Horizon int

const (
	Horizon5m Horizon = iota
	Horizon1h
	Horizon24h
	HorizonCount
)

var horizonDurations = [HorizonCount]time.Duration{
	Horizon5m:  5 * time.Minute,
	Horizon1h:  time.Hour,
	Horizon24h: 24 * time.Hour,
}

const thirtyDayHorizon = 30 * 24 * time.Hour

// AccountState holds every window for a single account, guarded by its
// own mutex so that concurrent workers reading a snapshot never contend
// with the ingest path for unrelated accounts (mirrors the per-rule
// state locking shape in the correlation engine this package is built
// from).
type AccountState struct {
	mu sync.RWMutex

	AccountID string
	Windows   [HorizonCount]*Window

	thirtyDayTimes []time.Time
	lastTimestamp  time.Time

	lastModel         string
	modelChangedAt    time.Time
	hasModelChange    bool

	lastASNClass string

	// EnforcementLog records recent dispatcher actions for this account so
	// the pivot worker can check whether a linked account was already
	// acted upon within the lookback window.
	EnforcementLog []EnforcementRecord
}

// EnforcementRecord is a minimal record of a past enforcement action,
// retained for a bounded lookback window (see AccountState.EnforcementLog).
type EnforcementRecord struct {
	At   time.Time
	Tier string
}

func newAccountState(accountID string, cfg WindowConfig) *AccountState {
	as := &AccountState{AccountID: accountID}
	for h := Horizon(0); h < HorizonCount; h++ {
		as.Windows[h] = NewWindow(horizonDurations[h], cfg.InterArrivalCap, cfg.ReservoirK)
	}
	return as
}

// WindowConfig parameterizes the bounded structures every window
// allocates, sourced from config.StateConfig.
type WindowConfig struct {
	InterArrivalCap int
	ReservoirK      int
}

// Ingest records ev into every horizon window, enforcing the
// monotonic-timestamp-per-account invariant. A non-monotonic event is
// rejected with errkind.StateOrdering rather than silently reordered.
func (as *AccountState) Ingest(ev *event.Event) error {
	as.mu.Lock()
	defer as.mu.Unlock()

	if !as.lastTimestamp.IsZero() && ev.Timestamp.Before(as.lastTimestamp) {
		return errkind.New(errkind.StateOrdering, "AccountState.Ingest", nil)
	}
	as.lastTimestamp = ev.Timestamp

	if ev.Model != "" {
		if as.lastModel != "" && as.lastModel != ev.Model {
			as.modelChangedAt = ev.Timestamp
			as.hasModelChange = true
		}
		as.lastModel = ev.Model
	}
	if ev.ASNClass != "" {
		as.lastASNClass = string(ev.ASNClass)
	}

	now := ev.Timestamp
	for h := Horizon(0); h < HorizonCount; h++ {
		w := as.Windows[h]
		w.Trim(now)
		w.Add(ev)
	}

	as.thirtyDayTimes = append(as.thirtyDayTimes, now)
	cutoff := now.Add(-thirtyDayHorizon)
	i := 0
	for i < len(as.thirtyDayTimes) && as.thirtyDayTimes[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		as.thirtyDayTimes = as.thirtyDayTimes[i:]
	}
	return nil
}

// LastModelChange returns the time of the account's most recent
// model-identifier change, if any has been observed.
func (as *AccountState) LastModelChange() (time.Time, bool) {
	as.mu.RLock()
	defer as.mu.RUnlock()
	return as.modelChangedAt, as.hasModelChange
}

// LastASNClass returns the account's most recently observed ASN
// classification, used by the hydra-aware ASN classifier worker to
// gauge a cluster's datacenter concentration.
func (as *AccountState) LastASNClass() (string, bool) {
	as.mu.RLock()
	defer as.mu.RUnlock()
	return as.lastASNClass, as.lastASNClass != ""
}

// ThirtyDayCount returns the coarse 30-day event count.
func (as *AccountState) ThirtyDayCount() int {
	as.mu.RLock()
	defer as.mu.RUnlock()
	return len(as.thirtyDayTimes)
}

// RecordEnforcement appends an enforcement action to the account's
// bounded log and evicts entries older than lookback.
func (as *AccountState) RecordEnforcement(at time.Time, tier string, lookback time.Duration) {
	as.mu.Lock()
	defer as.mu.Unlock()
	as.EnforcementLog = append(as.EnforcementLog, EnforcementRecord{At: at, Tier: tier})
	cutoff := at.Add(-lookback)
	i := 0
	for i < len(as.EnforcementLog) && as.EnforcementLog[i].At.Before(cutoff) {
		i++
	}
	if i > 0 {
		as.EnforcementLog = as.EnforcementLog[i:]
	}
}

// RecentEnforcement returns whether any enforcement action was recorded
// within lookback of now.
func (as *AccountState) RecentEnforcement(now time.Time, lookback time.Duration) (EnforcementRecord, bool) {
	as.mu.RLock()
	defer as.mu.RUnlock()
	if len(as.EnforcementLog) == 0 {
		return EnforcementRecord{}, false
	}
	last := as.EnforcementLog[len(as.EnforcementLog)-1]
	if now.Sub(last.At) <= lookback {
		return last, true
	}
	return EnforcementRecord{}, false
}
