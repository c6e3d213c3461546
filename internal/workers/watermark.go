package workers

import (
	"context"

	"glasswally/internal/event"
	"glasswally/internal/state"
)

const zeroWidthCharMinCount = 2

var zeroWidthChars = []rune{'\u200b', '\u200c', '\u200d', '\ufeff'}

// WatermarkWorker detects reproduction of previously-injected canary
// content: a direct canary-token match is conclusive; a cluster of
// zero-width-character markers appearing across a recent window of
// prompts is a weaker but still meaningful tell.
type WatermarkWorker struct{}

func (WatermarkWorker) Kind() Kind { return Watermark }

func (WatermarkWorker) Analyze(ctx context.Context, ev *event.Event, snap *state.Snapshot) event.Signal {
	if ev.CanaryTokenMatch != "" {
		return clampSignal(event.Signal{
			WorkerKind: string(Watermark),
			Score:      1.0,
			Evidence:   []string{"canary_token_match"},
			ContributingFeatures: map[string]any{
				"canary_token": ev.CanaryTokenMatch,
			},
		})
	}

	if snap == nil {
		return zeroSignal(Watermark, insufficientHistory)
	}
	w5m := snap.Window(state.Horizon5m)
	flagCount := w5m.ZeroWidthFlags.Count()
	if countZeroWidthChars(ev.PromptText) >= zeroWidthCharMinCount || flagCount >= zeroWidthCharMinCount {
		return clampSignal(event.Signal{
			WorkerKind: string(Watermark),
			Score:      0.7,
			Evidence:   []string{"zero_width_char_cluster"},
		})
	}

	return zeroSignal(Watermark, insufficientHistory)
}

func countZeroWidthChars(text string) int {
	n := 0
	for _, r := range text {
		for _, zw := range zeroWidthChars {
			if r == zw {
				n++
				break
			}
		}
	}
	return n
}
