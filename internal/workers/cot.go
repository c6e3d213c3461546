package workers

import (
	"context"
	"strings"

	"glasswally/internal/event"
	"glasswally/internal/state"
)

// cotPhrases is the fixed lexicon of chain-of-thought elicitation
// phrasing spec.md §4.3 calls for ("Aho-Corasick pattern set of 33
// chain-of-thought elicitation phrases"). The retrieved corpus carries
// no multi-pattern string-matching library, so matching is a plain
// substring scan over the deduped prompt set (DESIGN.md records the
// stdlib-necessity justification); the phrase set itself is unchanged.
var cotPhrases = []string{
	"think step by step",
	"let's think through this",
	"walk me through your reasoning",
	"show your work",
	"explain your reasoning process",
	"break this down step by step",
	"reason through this carefully",
	"what is your chain of thought",
	"think out loud",
	"step-by-step explanation",
	"walk through the logic",
	"show me the intermediate steps",
	"reason step by step",
	"first think, then answer",
	"provide your reasoning before the answer",
	"explain how you arrived at",
	"outline your thought process",
	"detail every step of your reasoning",
	"think carefully and explain",
	"lay out your reasoning",
	"give a step by step breakdown",
	"reveal your internal reasoning",
	"describe your reasoning chain",
	"before answering, reason about",
	"think methodically",
	"solve this step by step",
	"go through this logically",
	"explain each step",
	"reason it out",
	"take it one step at a time",
	"share your thought process",
	"think this through",
	"analyze step by step",
}

// CoTWorker scores an account by how many distinct prompt shapes over
// its recent history match a known chain-of-thought elicitation phrase,
// a pattern used to harvest a target model's intermediate reasoning
// traces for distillation.
type CoTWorker struct{}

func (CoTWorker) Kind() Kind { return CoT }

func (CoTWorker) Analyze(ctx context.Context, ev *event.Event, snap *state.Snapshot) event.Signal {
	if snap == nil {
		return zeroSignal(CoT, insufficientHistory)
	}
	w5m := snap.Window(state.Horizon5m)
	texts := w5m.PromptTexts.Values()
	if len(texts) < 5 {
		return zeroSignal(CoT, insufficientHistory)
	}

	seenShapes := make(map[string]struct{})
	structuralHashes := w5m.StructuralHashes.Values()
	matches := 0
	for i, text := range texts {
		shape := ""
		if i < len(structuralHashes) {
			shape = structuralHashes[i]
		}
		if shape != "" {
			if _, dup := seenShapes[shape]; dup {
				continue
			}
			seenShapes[shape] = struct{}{}
		}
		if containsCoTPhrase(text) {
			matches++
		}
	}

	score := event.Clamp(float64(matches) / 10.0)

	evidence := []string{insufficientHistory}
	if matches > 0 {
		evidence = []string{"cot_phrase_matches"}
	}

	return clampSignal(event.Signal{
		WorkerKind: string(CoT),
		Score:      score,
		Evidence:   evidence,
		ContributingFeatures: map[string]any{
			"matches": matches,
		},
	})
}

func containsCoTPhrase(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range cotPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
