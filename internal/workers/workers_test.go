package workers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"glasswally/internal/config"
	"glasswally/internal/event"
	"glasswally/internal/state"
)

func newTestSnapshot(t *testing.T, events []*event.Event) (*state.Store, *state.Snapshot) {
	t.Helper()
	s := state.NewStore(config.Default().State)
	var last time.Time
	for _, ev := range events {
		require.NoError(t, s.Ingest(ev))
		last = ev.Timestamp
	}
	return s, s.Snapshot(events[0].AccountID, last.Add(time.Second))
}

func TestFingerprintWorkerInsufficientHistory(t *testing.T) {
	w := FingerprintWorker{}
	sig := w.Analyze(context.Background(), &event.Event{}, nil)
	assert.Equal(t, 0.0, sig.Score)
	assert.Contains(t, sig.Evidence, insufficientHistory)
}

func TestCoTWorkerDetectsElicitationPhrase(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var events []*event.Event
	for i := 0; i < 6; i++ {
		events = append(events, &event.Event{
			EventID:   event.NewEventID(),
			AccountID: "acct-cot",
			Timestamp: base.Add(time.Duration(i) * time.Second),
			PromptText: "Please think step by step about this problem.",
			PromptStructuralHash: "shape-a",
		})
	}
	_, snap := newTestSnapshot(t, events)

	w := CoTWorker{}
	sig := w.Analyze(context.Background(), events[len(events)-1], snap)
	assert.Greater(t, sig.Score, 0.0)
}

func TestWatermarkWorkerCanaryMatch(t *testing.T) {
	w := WatermarkWorker{}
	sig := w.Analyze(context.Background(), &event.Event{CanaryTokenMatch: "canary-123"}, nil)
	assert.Equal(t, 1.0, sig.Score)
}

func TestTokenBudgetGeometricProgression(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var events []*event.Event
	tokens := []int{100, 200, 400, 800, 1600}
	for i, tok := range tokens {
		events = append(events, &event.Event{
			EventID:            event.NewEventID(),
			AccountID:          "acct-tb",
			Timestamp:          base.Add(time.Duration(i) * time.Minute),
			MaxTokensRequested: tok,
		})
	}
	_, snap := newTestSnapshot(t, events)

	w := TokenBudgetWorker{}
	sig := w.Analyze(context.Background(), events[len(events)-1], snap)
	assert.Contains(t, sig.Evidence, "geometric_token_progression")
}

func TestRefusalProbeWorkerScoresByFractionAndCategories(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	catA := event.RefusalCategory("policy")
	catB := event.RefusalCategory("safety")
	var events []*event.Event
	for i := 0; i < 6; i++ {
		ev := &event.Event{
			EventID:   event.NewEventID(),
			AccountID: "acct-rp",
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}
		if i%2 == 0 {
			ev.RefusalCategory = &catA
		} else {
			ev.RefusalCategory = &catB
		}
		events = append(events, ev)
	}
	_, snap := newTestSnapshot(t, events)

	w := RefusalProbeWorker{}
	sig := w.Analyze(context.Background(), events[len(events)-1], snap)
	assert.Greater(t, sig.Score, 0.0)
}

func TestBiometricWorkerLowEntropyHighScore(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var events []*event.Event
	for i := 0; i < 12; i++ {
		events = append(events, &event.Event{
			EventID:              event.NewEventID(),
			AccountID:            "acct-bio",
			Timestamp:            base.Add(time.Duration(i) * time.Second),
			PromptStructuralHash: "same-shape",
		})
	}
	_, snap := newTestSnapshot(t, events)

	w := BiometricWorker{}
	sig := w.Analyze(context.Background(), events[len(events)-1], snap)
	assert.InDelta(t, 1.0, sig.Score, 1e-6)
}
