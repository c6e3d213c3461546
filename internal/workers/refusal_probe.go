package workers

import (
	"context"

	"glasswally/internal/event"
	"glasswally/internal/state"
)

const refusalProbeMaxCategories = 4

// RefusalProbeWorker scores accounts that deliberately probe a model's
// refusal boundary: a high fraction of refused requests spanning many
// distinct refusal categories suggests systematic boundary-mapping
// rather than incidental refusals.
type RefusalProbeWorker struct{}

func (RefusalProbeWorker) Kind() Kind { return RefusalProbe }

func (RefusalProbeWorker) Analyze(ctx context.Context, ev *event.Event, snap *state.Snapshot) event.Signal {
	if snap == nil {
		return zeroSignal(RefusalProbe, insufficientHistory)
	}
	w1h := snap.Window(state.Horizon1h)
	total := w1h.Count()
	if total < 5 {
		return zeroSignal(RefusalProbe, insufficientHistory)
	}

	var refused int
	for _, c := range w1h.RefusalCounts {
		refused += c
	}
	fraction := float64(refused) / float64(total)

	categoryTerm := float64(len(w1h.RefusalCounts)) / float64(refusalProbeMaxCategories)
	if categoryTerm > 1.0 {
		categoryTerm = 1.0
	}

	score := event.Clamp(fraction * categoryTerm)

	evidence := []string{insufficientHistory}
	if score > 0 {
		evidence = []string{"refusal_boundary_probing"}
	}

	return clampSignal(event.Signal{
		WorkerKind: string(RefusalProbe),
		Score:      score,
		Evidence:   evidence,
		ContributingFeatures: map[string]any{
			"refused":    refused,
			"categories": len(w1h.RefusalCounts),
		},
	})
}
