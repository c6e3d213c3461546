package workers

import (
	"context"
	"time"

	"glasswally/internal/event"
	"glasswally/internal/hydra"
	"glasswally/internal/state"
)

// pivotLookback is the window after a correlated account's enforcement
// action during which a model change on this account is considered
// evasive pivoting (spec.md §9, Open Question (c)).
const pivotLookback = 10 * time.Minute

// PivotWorker fires when an account switches to a different model
// shortly after an enforcement action landed on another account in its
// Hydra cluster — the classic move of rotating onto a fresh identity or
// target once one member of a coordinated operation gets caught.
type PivotWorker struct {
	Clusterer *hydra.Clusterer
	Store     *state.Store
}

func (PivotWorker) Kind() Kind { return Pivot }

func (w PivotWorker) Analyze(ctx context.Context, ev *event.Event, snap *state.Snapshot) event.Signal {
	if w.Clusterer == nil || w.Store == nil || snap == nil || !snap.HasModelChange {
		return zeroSignal(Pivot, insufficientHistory)
	}

	peers := w.Clusterer.Component(ev.AccountID)
	var latest time.Time
	found := false
	for _, peer := range peers {
		if peer == ev.AccountID {
			continue
		}
		peerState, ok := w.Store.Get(peer)
		if !ok {
			continue
		}
		record, ok := peerState.RecentEnforcement(snap.ModelChangedAt, pivotLookback)
		if !ok {
			continue
		}
		if !found || record.At.After(latest) {
			latest = record.At
			found = true
		}
	}

	if !found {
		return zeroSignal(Pivot, insufficientHistory)
	}

	delta := snap.ModelChangedAt.Sub(latest)
	if delta < 0 || delta > pivotLookback {
		return zeroSignal(Pivot, insufficientHistory)
	}

	decay := 1.0 - delta.Seconds()/pivotLookback.Seconds()
	score := event.Clamp(decay)

	return clampSignal(event.Signal{
		WorkerKind: string(Pivot),
		Score:      score,
		Evidence:   []string{"post_enforcement_model_pivot"},
		ContributingFeatures: map[string]any{
			"delta_seconds": delta.Seconds(),
		},
	})
}
