package workers

import (
	"context"
	"math"

	"glasswally/internal/event"
	"glasswally/internal/state"
)

const sequenceModelMinHistory = 15
const stationaryIterations = 200

// SequenceModelWorker scores an account by how predictable its
// topic-to-topic transitions are: a scripted sweep through a fixed set
// of capability probes settles into a small number of topics visited
// with low transition entropy, unlike organic conversational drift.
type SequenceModelWorker struct{}

func (SequenceModelWorker) Kind() Kind { return SequenceModel }

func (SequenceModelWorker) Analyze(ctx context.Context, ev *event.Event, snap *state.Snapshot) event.Signal {
	if snap == nil {
		return zeroSignal(SequenceModel, insufficientHistory)
	}
	w1h := snap.Window(state.Horizon1h)
	total := 0
	for i := 0; i < event.NumTopics; i++ {
		for j := 0; j < event.NumTopics; j++ {
			total += w1h.TopicTransitions[i][j]
		}
	}
	if total < sequenceModelMinHistory {
		return zeroSignal(SequenceModel, insufficientHistory)
	}

	rowSums := make([]float64, event.NumTopics)
	p := make([][]float64, event.NumTopics)
	for i := 0; i < event.NumTopics; i++ {
		p[i] = make([]float64, event.NumTopics)
		var sum float64
		for j := 0; j < event.NumTopics; j++ {
			sum += float64(w1h.TopicTransitions[i][j])
		}
		rowSums[i] = sum
		for j := 0; j < event.NumTopics; j++ {
			if sum > 0 {
				p[i][j] = float64(w1h.TopicTransitions[i][j]) / sum
			}
		}
	}

	stationary := stationaryDistribution(p)
	stationaryEntropy := entropyOf(stationary)

	var transitionEntropy float64
	for i := 0; i < event.NumTopics; i++ {
		if stationary[i] == 0 {
			continue
		}
		transitionEntropy += stationary[i] * entropyOf(p[i])
	}

	log2n := math.Log2(float64(event.NumTopics))
	score := event.Clamp((stationaryEntropy / log2n) * (1 - transitionEntropy/log2n))

	return clampSignal(event.Signal{
		WorkerKind: string(SequenceModel),
		Score:      score,
		Evidence:   []string{"topic_transition_regularity"},
		ContributingFeatures: map[string]any{
			"stationary_entropy": stationaryEntropy,
			"transition_entropy": transitionEntropy,
		},
	})
}

// stationaryDistribution approximates the stationary distribution of a
// row-stochastic transition matrix p by power iteration from a uniform
// start; rows with zero mass are treated as absorbing self-loops so the
// iteration never divides by zero.
func stationaryDistribution(p [][]float64) []float64 {
	n := len(p)
	dist := make([]float64, n)
	for i := range dist {
		dist[i] = 1.0 / float64(n)
	}
	next := make([]float64, n)
	for iter := 0; iter < stationaryIterations; iter++ {
		for j := range next {
			next[j] = 0
		}
		for i := 0; i < n; i++ {
			rowSum := 0.0
			for j := 0; j < n; j++ {
				rowSum += p[i][j]
			}
			if rowSum == 0 {
				next[i] += dist[i]
				continue
			}
			for j := 0; j < n; j++ {
				next[j] += dist[i] * p[i][j]
			}
		}
		dist, next = next, dist
	}
	return dist
}

func entropyOf(dist []float64) float64 {
	var h float64
	for _, p := range dist {
		if p <= 0 {
			continue
		}
		h -= p * math.Log2(p)
	}
	return h
}
