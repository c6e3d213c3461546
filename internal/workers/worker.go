// Package workers implements the sixteen concurrent detector workers
// that analyze one account's state snapshot and each produce a single
// Signal for the fusion engine. The dispatch shape (context-bounded
// analysis, insufficient-history short-circuit, structured evidence) is
// grounded on the correlation engine's worker pool in
// internal/correlation/engine.go; each worker's actual detection logic
// is ported from the distillation campaign's original worker of the
// same name under glasswally/src/workers/ in original_source.
package workers

import (
	"context"
	"time"

	"glasswally/internal/event"
	"glasswally/internal/state"
)

// Kind enumerates the fixed set of detector workers, matching the
// worker tags used in config.DefaultWeights.
type Kind string

const (
	Fingerprint    Kind = "fingerprint"
	Velocity       Kind = "velocity"
	CoT            Kind = "cot"
	Embed          Kind = "embed"
	Hydra          Kind = "hydra"
	TimingCluster  Kind = "timing_cluster"
	ASNClassifier  Kind = "asn_classifier"
	H2GRPC         Kind = "h2_grpc"
	RolePreamble   Kind = "role_preamble"
	Pivot          Kind = "pivot"
	Biometric      Kind = "biometric"
	Watermark      Kind = "watermark"
	SessionGap     Kind = "session_gap"
	TokenBudget    Kind = "token_budget"
	RefusalProbe   Kind = "refusal_probe"
	SequenceModel  Kind = "sequence_model"
)

// All lists every worker kind in a stable order, used by the
// orchestrator to fan out and by the fusion engine to look up weights.
var All = []Kind{
	Fingerprint, Velocity, CoT, Embed, Hydra, TimingCluster, ASNClassifier,
	H2GRPC, RolePreamble, Pivot, Biometric, Watermark, SessionGap,
	TokenBudget, RefusalProbe, SequenceModel,
}

// Budget is the per-worker analysis time budget before a worker is
// treated as timed out and contributes a zero signal.
const Budget = 25 * time.Millisecond

// insufficientHistory is the shared evidence string every worker emits
// when it lacks enough history to produce a meaningful score.
const insufficientHistory = "insufficient history"

// Worker analyzes one account's snapshot and returns a bounded Signal.
// Implementations must return promptly: the orchestrator enforces
// Budget via context cancellation and treats a late return as a
// WorkerTimeout, contributing a zero signal instead.
type Worker interface {
	Kind() Kind
	Analyze(ctx context.Context, ev *event.Event, snap *state.Snapshot) event.Signal
}

// zeroSignal builds the canonical "nothing to see" signal for kind.
func zeroSignal(kind Kind, reason string) event.Signal {
	return event.Signal{
		WorkerKind: string(kind),
		Score:      0,
		Evidence:   []string{reason},
	}
}

// clampSignal bounds sig.Score into [0,1] before it leaves a worker.
func clampSignal(sig event.Signal) event.Signal {
	sig.Score = event.Clamp(sig.Score)
	return sig
}
