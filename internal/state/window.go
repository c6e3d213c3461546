package state

import (
	"time"

	"glasswally/internal/event"
)

// hashMultisetCap bounds the number of distinct fingerprint values a
// window tracks per attribute before evicting the least-seen entry, per
// the "bounded multiset" requirement in the state store's data model.
const hashMultisetCap = 128

// promptRingSize bounds how many recent prompts the structural-hash,
// text and zero-width-char rings retain (cot/biometric/watermark all
// operate over the "last 50 prompts"; watermark narrows to the last 5).
const promptRingSize = 50

// maxTokensRingSize bounds the recent max_tokens_requested history used
// by the token_budget worker's geometric-progression check.
const maxTokensRingSize = 32

// hashMultiset is a bounded value->count map used for the JA3/JA3S/
// H2-SETTINGS/system-prompt-hash multisets each window retains.
type hashMultiset struct {
	counts map[string]int
}

func newHashMultiset() *hashMultiset {
	return &hashMultiset{counts: make(map[string]int)}
}

func (h *hashMultiset) Add(v string) {
	if v == "" {
		return
	}
	if _, ok := h.counts[v]; !ok && len(h.counts) >= hashMultisetCap {
		h.evictSmallest()
	}
	h.counts[v]++
}

func (h *hashMultiset) evictSmallest() {
	var minKey string
	minCount := int(^uint(0) >> 1)
	for k, c := range h.counts {
		if c < minCount {
			minCount = c
			minKey = k
		}
	}
	if minKey != "" {
		delete(h.counts, minKey)
	}
}

// Top returns the most frequently observed value and its count.
func (h *hashMultiset) Top() (string, int) {
	var topKey string
	topCount := 0
	for k, c := range h.counts {
		if c > topCount {
			topCount = c
			topKey = k
		}
	}
	return topKey, topCount
}

func (h *hashMultiset) Distinct() int { return len(h.counts) }

// Keys returns every distinct value currently tracked, used when an IOC
// bundle needs the full set of fingerprints a cluster shares rather than
// just the dominant one.
func (h *hashMultiset) Keys() []string {
	out := make([]string, 0, len(h.counts))
	for k := range h.counts {
		out = append(out, k)
	}
	return out
}

// stringSet is a bounded set used for distinct subnets / payment hashes.
type stringSet struct {
	m map[string]struct{}
}

func newStringSet() *stringSet { return &stringSet{m: make(map[string]struct{})} }

func (s *stringSet) Add(v string) {
	if v == "" {
		return
	}
	if len(s.m) >= hashMultisetCap {
		return
	}
	s.m[v] = struct{}{}
}

func (s *stringSet) Len() int { return len(s.m) }

func (s *stringSet) Values() []string {
	out := make([]string, 0, len(s.m))
	for v := range s.m {
		out = append(out, v)
	}
	return out
}

// Window accumulates the behavioral statistics spec.md's data model
// requires for one time horizon of one account.
type Window struct {
	Horizon time.Duration

	times []time.Time // trimmed to Horizon on every mutation

	PromptLen   *welford
	TokenBudget *welford
	PromptLenCV *reservoir
	TokenCV     *reservoir

	InterArrival *floatRing
	lastEventAt  time.Time

	JA3            *hashMultiset
	JA3S           *hashMultiset
	H2Settings     *hashMultiset
	SystemPrompt   *hashMultiset
	HeaderOrder    *hashMultiset
	IPAddresses    *stringSet
	Subnets        *stringSet
	PaymentHashes  *stringSet

	TopicTransitions [event.NumTopics][event.NumTopics]int
	lastTopic        event.Topic
	hasLastTopic     bool

	RefusalCounts map[string]int

	StructuralHashes *stringRing
	PromptTexts      *stringRing
	ZeroWidthFlags   *boolRing
	MaxTokensHistory []int

	Embedding vecWelford

	// sessionBoundaries is recomputed on demand from times; a "session"
	// is a maximal run of events with inter-arrival <= 5 minutes.
}

// NewWindow constructs an empty window for the given horizon.
func NewWindow(horizon time.Duration, interArrivalCap, reservoirK int) *Window {
	return &Window{
		Horizon:        horizon,
		PromptLen:      newWelford(),
		TokenBudget:    newWelford(),
		PromptLenCV:    newReservoir(reservoirK),
		TokenCV:        newReservoir(reservoirK),
		InterArrival:   newFloatRing(interArrivalCap),
		JA3:            newHashMultiset(),
		JA3S:           newHashMultiset(),
		H2Settings:     newHashMultiset(),
		SystemPrompt:   newHashMultiset(),
		HeaderOrder:    newHashMultiset(),
		IPAddresses:    newStringSet(),
		Subnets:        newStringSet(),
		PaymentHashes:  newStringSet(),
		RefusalCounts:  make(map[string]int),
		StructuralHashes: newStringRing(promptRingSize),
		PromptTexts:      newStringRing(promptRingSize),
		ZeroWidthFlags:   newBoolRing(5),
	}
}

// Add records ev into the window. Callers are responsible for checking
// monotonicity before calling Add.
func (w *Window) Add(ev *event.Event) {
	if !w.lastEventAt.IsZero() {
		delta := ev.Timestamp.Sub(w.lastEventAt).Seconds()
		if delta >= 0 {
			w.InterArrival.Push(delta)
		}
	}
	w.lastEventAt = ev.Timestamp
	w.times = append(w.times, ev.Timestamp)

	if ev.PromptLenTokens > 0 {
		w.PromptLen.Add(float64(ev.PromptLenTokens))
		w.PromptLenCV.Add(float64(ev.PromptLenTokens))
	}
	if ev.MaxTokensRequested > 0 {
		w.TokenBudget.Add(float64(ev.MaxTokensRequested))
		w.TokenCV.Add(float64(ev.MaxTokensRequested))
		w.MaxTokensHistory = append(w.MaxTokensHistory, ev.MaxTokensRequested)
		if len(w.MaxTokensHistory) > maxTokensRingSize {
			w.MaxTokensHistory = w.MaxTokensHistory[len(w.MaxTokensHistory)-maxTokensRingSize:]
		}
	}

	w.JA3.Add(ev.JA3)
	w.JA3S.Add(ev.JA3S)
	w.H2Settings.Add(ev.H2SettingsHash)
	w.SystemPrompt.Add(ev.SystemPromptHash)
	w.HeaderOrder.Add(ev.HeaderOrderHash)
	w.IPAddresses.Add(ev.IPAddress)
	w.Subnets.Add(ev.Subnet24)
	w.PaymentHashes.Add(ev.PaymentHash)

	if w.hasLastTopic {
		w.TopicTransitions[w.lastTopic][ev.PromptTopic]++
	}
	w.lastTopic = ev.PromptTopic
	w.hasLastTopic = true

	if ev.RefusalCategory != nil {
		w.RefusalCounts[string(*ev.RefusalCategory)]++
	}

	if ev.PromptStructuralHash != "" {
		w.StructuralHashes.Push(ev.PromptStructuralHash)
	}
	if ev.PromptText != "" {
		w.PromptTexts.Push(ev.PromptText)
	}
	w.ZeroWidthFlags.Push(ev.ZeroWidthCharFlag)

	if len(ev.PromptEmbedding) > 0 {
		w.Embedding.Add(ev.PromptEmbedding)
	}
}

// Trim drops events older than the window's horizon relative to now.
// Only the timestamp slice is trimmed precisely; the bounded
// approximations (reservoirs, hash multisets, rings) age naturally
// through replacement rather than exact removal, matching the spec's
// "approximated" numeric semantics.
func (w *Window) Trim(now time.Time) {
	cutoff := now.Add(-w.Horizon)
	i := 0
	for i < len(w.times) && w.times[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		w.times = w.times[i:]
	}
}

// Count returns the number of events currently within the horizon.
func (w *Window) Count() int { return len(w.times) }

// Times returns the (already-trimmed) event timestamps in the window, in
// ingestion order.
func (w *Window) Times() []time.Time {
	out := make([]time.Time, len(w.times))
	copy(out, w.times)
	return out
}
