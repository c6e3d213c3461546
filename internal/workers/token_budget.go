package workers

import (
	"context"
	"math"

	"glasswally/internal/event"
	"glasswally/internal/state"
)

const tokenBudgetMinHistory = 5
const tokenBudgetRatioTolerance = 0.10
const tokenBudgetSaturationFraction = 0.90
const tokenBudgetSaturationThreshold = 0.70

// TokenBudgetWorker flags two distinct extraction tells in
// max_tokens_requested: a geometric progression (an automated probe
// sweeping the usable context window) or a majority of requests pinned
// near the model's maximum (maximal-extraction harvesting).
type TokenBudgetWorker struct{}

func (TokenBudgetWorker) Kind() Kind { return TokenBudget }

func (TokenBudgetWorker) Analyze(ctx context.Context, ev *event.Event, snap *state.Snapshot) event.Signal {
	if snap == nil {
		return zeroSignal(TokenBudget, insufficientHistory)
	}
	w1h := snap.Window(state.Horizon1h)
	history := w1h.MaxTokensHistory
	if len(history) < tokenBudgetMinHistory {
		return zeroSignal(TokenBudget, insufficientHistory)
	}

	var evidence []string
	var score float64

	if isGeometricProgression(history, tokenBudgetRatioTolerance) {
		score = math.Max(score, 1.0)
		evidence = append(evidence, "geometric_token_progression")
	}

	if ev.ModelMaxTokens > 0 {
		atMax := 0
		for _, v := range history {
			if float64(v) >= tokenBudgetSaturationFraction*float64(ev.ModelMaxTokens) {
				atMax++
			}
		}
		fraction := float64(atMax) / float64(len(history))
		if fraction >= tokenBudgetSaturationThreshold {
			score = math.Max(score, 1.0)
			evidence = append(evidence, "max_token_saturation")
		}
	}

	if len(evidence) == 0 {
		evidence = []string{insufficientHistory}
	}

	return clampSignal(event.Signal{
		WorkerKind: string(TokenBudget),
		Score:      score,
		Evidence:   evidence,
	})
}

func isGeometricProgression(values []int, tolerance float64) bool {
	if len(values) < 3 {
		return false
	}
	var ratios []float64
	for i := 1; i < len(values); i++ {
		if values[i-1] == 0 {
			return false
		}
		ratios = append(ratios, float64(values[i])/float64(values[i-1]))
	}
	base := ratios[0]
	if base <= 1.0 {
		return false
	}
	for _, r := range ratios[1:] {
		if math.Abs(r-base)/base > tolerance {
			return false
		}
	}
	return true
}
