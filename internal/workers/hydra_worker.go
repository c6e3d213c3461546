package workers

import (
	"context"

	"glasswally/internal/event"
	"glasswally/internal/hydra"
	"glasswally/internal/state"
)

// hydraDegreeSaturation is the vertex-degree value at which the hydra
// worker's degree term saturates at 1.0.
const hydraDegreeSaturation = 20.0

// hydraComponentBonusSize is the minimum connected-component size that
// earns the flat membership bonus.
const hydraComponentBonusSize = 5

// HydraWorker scores an account by its connectivity in the current
// cross-account pivot graph: how many other accounts it is directly
// linked to (vertex degree), plus a bonus for belonging to a
// sufficiently large coordinated cluster.
type HydraWorker struct {
	Clusterer *hydra.Clusterer
}

func (HydraWorker) Kind() Kind { return Hydra }

func (w HydraWorker) Analyze(ctx context.Context, ev *event.Event, snap *state.Snapshot) event.Signal {
	if w.Clusterer == nil || snap == nil {
		return zeroSignal(Hydra, insufficientHistory)
	}

	degree := w.Clusterer.Degree(ev.AccountID)
	component := w.Clusterer.Component(ev.AccountID)

	degreeScore := float64(degree) / hydraDegreeSaturation
	if degreeScore > 1.0 {
		degreeScore = 1.0
	}

	var componentBonus float64
	var evidence []string
	if len(component) >= hydraComponentBonusSize {
		componentBonus = 0.20
		evidence = append(evidence, "cluster_component_bonus")
	}
	if degree > 0 {
		evidence = append(evidence, "pivot_degree")
	}
	if len(evidence) == 0 {
		evidence = []string{insufficientHistory}
	}

	restrictedGeo := false // geo uplift is applied once at fusion time, not duplicated here
	rawScore, confidence := hydra.Score(hydra.ScoreInput{
		ComponentSize:  len(component),
		RestrictedGeo:  restrictedGeo,
		TotalRequests:  snap.Window(state.Horizon24h).Count(),
		SharedPayments: snap.PivotCount("payment_hash", firstSubnetPayment(snap)),
		SharedSubnets:  snap.PivotCount("subnet_24", ev.Subnet24),
	})

	score := event.Clamp(degreeScore + componentBonus)

	return clampSignal(event.Signal{
		WorkerKind: string(Hydra),
		Score:      score,
		Evidence:   evidence,
		ContributingFeatures: map[string]any{
			"degree":               degree,
			"component_size":       len(component),
			"reference_cluster_score":      rawScore,
			"reference_cluster_confidence": confidence,
		},
	})
}

func firstSubnetPayment(snap *state.Snapshot) string {
	w5m := snap.Window(state.Horizon5m)
	values := w5m.PaymentHashes.Values()
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
