package workers

import (
	"context"
	"math"

	"glasswally/internal/event"
	"glasswally/internal/state"
)

// VelocityWorker flags accounts issuing requests faster than the global
// population, with unusually uniform token counts and inter-arrival
// timing — the composite signature of a scripted extraction loop rather
// than a human typing prompts.
type VelocityWorker struct{}

func (VelocityWorker) Kind() Kind { return Velocity }

func (VelocityWorker) Analyze(ctx context.Context, ev *event.Event, snap *state.Snapshot) event.Signal {
	if snap == nil {
		return zeroSignal(Velocity, insufficientHistory)
	}
	w1h := snap.Window(state.Horizon1h)
	if w1h.Count() < 5 {
		return zeroSignal(Velocity, insufficientHistory)
	}

	rate := float64(w1h.Count())
	zRPH := snap.GlobalVelocityZScore(rate / 3600.0)
	// Only extreme positive velocity is suspicious; clamp the
	// contribution to [0,1] the way the fusion layer expects.
	zTerm := math.Min(math.Max(zRPH, 0), 1.0)

	tokenCV := w1h.TokenCV.CV()

	tau := kendallTauUniformity(w1h.InterArrival.Values())

	score := event.Clamp(0.5*zTerm + 0.3*(1-tokenCV) + 0.2*math.Abs(tau))

	evidence := []string{}
	if zTerm > 0.5 {
		evidence = append(evidence, "velocity_z_high")
	}
	if tokenCV < 0.1 {
		evidence = append(evidence, "token_count_uniform")
	}
	if math.Abs(tau) > 0.5 {
		evidence = append(evidence, "inter_arrival_scheduled")
	}
	if len(evidence) == 0 {
		evidence = []string{insufficientHistory}
	}

	return clampSignal(event.Signal{
		WorkerKind: string(Velocity),
		Score:      score,
		Evidence:   evidence,
		ContributingFeatures: map[string]any{
			"z_rph":    zTerm,
			"token_cv": tokenCV,
			"tau":      tau,
		},
	})
}

// kendallTauUniformity measures how closely a sequence of inter-arrival
// deltas resembles a perfectly uniform (evenly spaced) schedule, via
// Kendall's tau between the observed order and the order sorted deltas
// would imply. A schedule with near-zero variance in its own rank order
// produces tau near 1, indicating a scripted cadence.
func kendallTauUniformity(deltas []float64) float64 {
	n := len(deltas)
	if n < 2 {
		return 0
	}
	sorted := append([]float64(nil), deltas...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	rank := make(map[float64]int, n)
	for i, v := range sorted {
		if _, ok := rank[v]; !ok {
			rank[v] = i
		}
	}

	var concordant, discordant int64
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			oi, oj := i < j, rank[deltas[i]] < rank[deltas[j]]
			if oi == oj {
				concordant++
			} else {
				discordant++
			}
		}
	}
	total := concordant + discordant
	if total == 0 {
		return 0
	}
	return float64(concordant-discordant) / float64(total)
}
