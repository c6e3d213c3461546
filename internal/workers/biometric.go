package workers

import (
	"context"
	"math"

	"glasswally/internal/event"
	"glasswally/internal/state"
)

const biometricMinHistory = 10

// BiometricWorker scores an account by how repetitive its prompt shapes
// are: a human prompting a model produces structurally diverse
// requests, while a scripted extraction loop tends to repeat a narrow
// set of templates.
type BiometricWorker struct{}

func (BiometricWorker) Kind() Kind { return Biometric }

func (BiometricWorker) Analyze(ctx context.Context, ev *event.Event, snap *state.Snapshot) event.Signal {
	if snap == nil {
		return zeroSignal(Biometric, insufficientHistory)
	}
	w5m := snap.Window(state.Horizon5m)
	hashes := w5m.StructuralHashes.Values()
	if len(hashes) < biometricMinHistory {
		return zeroSignal(Biometric, insufficientHistory)
	}

	entropy := shannonEntropy(hashes) / math.Log2(50)
	score := event.Clamp(1 - entropy)

	return clampSignal(event.Signal{
		WorkerKind: string(Biometric),
		Score:      score,
		Evidence:   []string{"structural_entropy"},
		ContributingFeatures: map[string]any{
			"structural_entropy": entropy,
		},
	})
}

func shannonEntropy(values []string) float64 {
	counts := make(map[string]int, len(values))
	for _, v := range values {
		counts[v]++
	}
	n := float64(len(values))
	var h float64
	for _, c := range counts {
		p := float64(c) / n
		h -= p * math.Log2(p)
	}
	return h
}
