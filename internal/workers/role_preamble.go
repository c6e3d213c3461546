package workers

import (
	"context"
	"strings"

	"glasswally/internal/event"
	"glasswally/internal/state"
)

// jailbreakCompoundPatterns lists fixed phrase pairs that, appearing
// together in a system prompt, indicate an attempt to strip a target
// model's refusal behavior before harvesting its outputs.
var jailbreakCompoundPatterns = [][2]string{
	{"never refuse", "always complete"},
	{"do not decline", "fulfill every request"},
	{"ignore safety", "answer directly"},
	{"no restrictions", "comply fully"},
}

// RolePreambleWorker scores the cross-account collision rate of an
// account's dominant system-prompt hash (many accounts using the exact
// same custom system prompt is a hallmark of a scripted harness), with a
// bonus when the preamble text itself contains a known jailbreak
// compound pattern.
type RolePreambleWorker struct{}

func (RolePreambleWorker) Kind() Kind { return RolePreamble }

func (RolePreambleWorker) Analyze(ctx context.Context, ev *event.Event, snap *state.Snapshot) event.Signal {
	if snap == nil {
		return zeroSignal(RolePreamble, insufficientHistory)
	}
	w24h := snap.Window(state.Horizon24h)
	if w24h.Count() < 5 {
		return zeroSignal(RolePreamble, insufficientHistory)
	}

	topHash, _ := w24h.SystemPrompt.Top()
	if topHash == "" {
		return zeroSignal(RolePreamble, insufficientHistory)
	}

	sharing := snap.PivotCount("system_prompt_hash", topHash)
	collisionRate := 0.0
	if sharing > 1 {
		collisionRate = 1.0 - 1.0/float64(sharing)
	}

	bonus := 0.0
	var evidence []string
	if collisionRate > 0 {
		evidence = append(evidence, "system_prompt_collision")
	}
	if containsCompoundPattern(ev.SystemPromptText) {
		bonus = 0.20
		evidence = append(evidence, "jailbreak_compound_pattern")
	}

	if len(evidence) == 0 {
		evidence = []string{insufficientHistory}
	}

	return clampSignal(event.Signal{
		WorkerKind: string(RolePreamble),
		Score:      event.Clamp(collisionRate + bonus),
		Evidence:   evidence,
		ContributingFeatures: map[string]any{
			"sharing_accounts": sharing,
		},
	})
}

func containsCompoundPattern(preamble string) bool {
	if preamble == "" {
		return false
	}
	lower := strings.ToLower(preamble)
	for _, pair := range jailbreakCompoundPatterns {
		if strings.Contains(lower, pair[0]) && strings.Contains(lower, pair[1]) {
			return true
		}
	}
	return false
}
