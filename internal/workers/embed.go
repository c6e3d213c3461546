package workers

import (
	"context"

	"glasswally/internal/event"
	"glasswally/internal/state"
)

// embedMinHistory is the minimum number of prompts before the embed
// worker trusts the account's running embedding centroid.
const embedMinHistory = 10

// embedThreshold is the cosine similarity floor below which no archetype
// match is reported.
const embedThreshold = 0.60

// EmbedWorker compares an account's running prompt-embedding centroid
// against a fixed set of extraction-archetype centroids pinned in the
// versioned centroid data file, flagging accounts whose aggregate
// prompting behavior resembles a known distillation pattern.
type EmbedWorker struct{}

func (EmbedWorker) Kind() Kind { return Embed }

func (EmbedWorker) Analyze(ctx context.Context, ev *event.Event, snap *state.Snapshot) event.Signal {
	if snap == nil {
		return zeroSignal(Embed, insufficientHistory)
	}
	w1h := snap.Window(state.Horizon1h)
	if w1h.Count() < embedMinHistory {
		return zeroSignal(Embed, insufficientHistory)
	}

	centroid := w1h.Embedding.Centroid()
	if len(centroid) == 0 {
		return zeroSignal(Embed, insufficientHistory)
	}

	var bestName string
	var best float64
	for _, arch := range archetypeCentroids() {
		sim := cosineSimilarity(centroid, arch.Centroid)
		if sim > best {
			best = sim
			bestName = arch.Name
		}
	}

	if best <= embedThreshold {
		return zeroSignal(Embed, insufficientHistory)
	}

	return clampSignal(event.Signal{
		WorkerKind: string(Embed),
		Score:      best,
		Evidence:   []string{"archetype_match:" + bestName},
		ContributingFeatures: map[string]any{
			"archetype": bestName,
			"cosine":    best,
		},
	})
}
