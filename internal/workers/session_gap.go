package workers

import (
	"context"
	"time"

	"glasswally/internal/event"
	"glasswally/internal/state"
)

const sessionGapThreshold = 5 * time.Minute
const sessionGapMinSessions = 20

// SessionGapWorker scores an account by how regular its session
// boundaries are: a real user's sessions vary in length and spacing,
// while a scheduled job produces near-constant inter-session gaps and
// session sizes.
type SessionGapWorker struct{}

func (SessionGapWorker) Kind() Kind { return SessionGap }

func (SessionGapWorker) Analyze(ctx context.Context, ev *event.Event, snap *state.Snapshot) event.Signal {
	if snap == nil {
		return zeroSignal(SessionGap, insufficientHistory)
	}
	w24h := snap.Window(state.Horizon24h)
	times := w24h.Times()
	if len(times) < 5 {
		return zeroSignal(SessionGap, insufficientHistory)
	}

	sessions := splitSessions(times, sessionGapThreshold)
	if len(sessions) < sessionGapMinSessions {
		return zeroSignal(SessionGap, insufficientHistory)
	}

	gaps := make([]float64, 0, len(sessions)-1)
	for i := 1; i < len(sessions); i++ {
		gap := sessions[i][0].Sub(sessions[i-1][len(sessions[i-1])-1]).Seconds()
		gaps = append(gaps, gap)
	}
	sizes := make([]float64, 0, len(sessions))
	for _, s := range sessions {
		sizes = append(sizes, float64(len(s)))
	}

	gapCV := coefficientOfVariation(gaps)
	sizeCV := coefficientOfVariation(sizes)

	score := (1 - gapCV) * (1 - sizeCV)
	if score < 0 {
		score = 0
	}

	return clampSignal(event.Signal{
		WorkerKind: string(SessionGap),
		Score:      score,
		Evidence:   []string{"regular_session_cadence"},
		ContributingFeatures: map[string]any{
			"sessions": len(sessions),
			"gap_cv":   gapCV,
			"size_cv":  sizeCV,
		},
	})
}

// splitSessions partitions a sorted sequence of timestamps into maximal
// runs where consecutive events are no more than gap apart.
func splitSessions(times []time.Time, gap time.Duration) [][]time.Time {
	if len(times) == 0 {
		return nil
	}
	var sessions [][]time.Time
	current := []time.Time{times[0]}
	for i := 1; i < len(times); i++ {
		if times[i].Sub(times[i-1]) <= gap {
			current = append(current, times[i])
		} else {
			sessions = append(sessions, current)
			current = []time.Time{times[i]}
		}
	}
	sessions = append(sessions, current)
	return sessions
}
