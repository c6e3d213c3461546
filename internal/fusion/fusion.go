// Package fusion combines the sixteen detector workers' signals into one
// auditable composite score, applies geographic uplift and cluster-floor
// propagation, and assigns an enforcement tier. The severity/tier
// conversion shape follows the correlation-alert pipeline's
// Severity/IntToSeverity plumbing in the teacher's
// internal/alerting/manager.go, generalized from a fixed alert severity
// enum to the five-tier closed-lower threshold table in config.
package fusion

import (
	"fmt"
	"math"
	"sort"

	"glasswally/internal/config"
	"glasswally/internal/event"
)

// Tier is one of the five enforcement tiers.
type Tier string

const (
	TierNone     Tier = "None"
	TierLow      Tier = "Low"
	TierMedium   Tier = "Medium"
	TierHigh     Tier = "High"
	TierCritical Tier = "Critical"
)

// Action names the enforcement action a tier maps to.
type Action string

const (
	ActionNone             Action = "no-op"
	ActionFlagForReview    Action = "FlagForReview"
	ActionRateLimit        Action = "RateLimit"
	ActionInjectCanary     Action = "InjectCanary"
	ActionClusterTakedown  Action = "ClusterTakedown"
	ActionSuspendAccount   Action = "SuspendAccount"
)

// Result is one fusion pass's output for one account.
type Result struct {
	AccountID         string
	CompositeScore    float64
	Tier              Tier
	Action            Action
	ClusterID         uint64
	ClusterSize       int
	GeoUpliftApplied  bool
	PerWorkerScores   map[string]float64
	Evidence          []string
}

// ClusterView is the clusterer's view of an account's membership,
// provided by the orchestrator for each fusion call.
type ClusterView struct {
	ClusterID   uint64
	ClusterSize int
}

// Engine applies config.FusionConfig's weights, geo uplift and
// cluster-floor rules to a set of worker signals.
type Engine struct {
	cfg config.FusionConfig

	weights    map[string]float64
	restricted map[string]bool
	tiers      []config.TierThreshold
}

// New builds a fusion Engine from cfg. cfg must already have passed
// config.Config.Validate (weights summing to 1.0).
func New(cfg config.FusionConfig) *Engine {
	weights := make(map[string]float64, len(cfg.Weights))
	for _, w := range cfg.Weights {
		weights[w.Worker] = w.Weight
	}
	restricted := make(map[string]bool, len(cfg.RestrictedCountry))
	for _, c := range cfg.RestrictedCountry {
		restricted[c] = true
	}
	tiers := append([]config.TierThreshold(nil), cfg.Tiers...)
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].LowerBound < tiers[j].LowerBound })

	return &Engine{cfg: cfg, weights: weights, restricted: restricted, tiers: tiers}
}

// Fuse combines signals for one account into a Result. cluster is the
// account's current cluster view (ClusterSize 0/1 means unclustered).
func (e *Engine) Fuse(accountID string, signals []event.Signal, country string, cluster ClusterView) Result {
	perWorker := make(map[string]float64, len(signals))
	contributions := make(map[string]float64, len(signals))
	var base float64
	for _, sig := range signals {
		w := e.weights[sig.WorkerKind]
		perWorker[sig.WorkerKind] = sig.Score
		contribution := w * sig.Score
		contributions[sig.WorkerKind] = contribution
		base += contribution
	}

	geoUplift := false
	score := base
	if e.restricted[country] {
		geoUplift = true
		score = math.Min(score*e.cfg.GeoUplift, 1.0)
	}

	var floorEvidence string
	if cluster.ClusterSize >= 3 {
		floor := clusterFloor(cluster.ClusterSize, e.cfg.ClusterFloorBase, e.cfg.ClusterFloorStep, e.cfg.ClusterFloorCap)
		if floor > score {
			score = floor
			floorEvidence = fmt.Sprintf("cluster floor n=%d", cluster.ClusterSize)
		}
	}

	score = event.Clamp(score)
	tier, action := e.tierFor(score, cluster.ClusterSize)

	evidence := topContributions(contributions, 3)
	if geoUplift {
		evidence = append(evidence, "geo_uplift_applied")
	}
	if floorEvidence != "" {
		evidence = append(evidence, floorEvidence)
	}

	return Result{
		AccountID:        accountID,
		CompositeScore:   score,
		Tier:             tier,
		Action:           action,
		ClusterID:        cluster.ClusterID,
		ClusterSize:      cluster.ClusterSize,
		GeoUpliftApplied: geoUplift,
		PerWorkerScores:  perWorker,
		Evidence:         evidence,
	}
}

// clusterFloor is spec.md §4.6/§9(b)'s saturating floor function.
func clusterFloor(n int, base, step, cap float64) float64 {
	floor := base + step*float64(n-3)
	return math.Min(floor, cap)
}

func (e *Engine) tierFor(score float64, clusterSize int) (Tier, Action) {
	tier := TierNone
	for _, t := range e.tiers {
		if score >= t.LowerBound {
			tier = Tier(t.Tier)
		}
	}
	switch tier {
	case TierNone:
		return TierNone, ActionNone
	case TierLow:
		return TierLow, ActionFlagForReview
	case TierMedium:
		return TierMedium, ActionRateLimit
	case TierHigh:
		return TierHigh, ActionInjectCanary
	case TierCritical:
		if clusterSize >= 2 {
			return TierCritical, ActionClusterTakedown
		}
		return TierCritical, ActionSuspendAccount
	default:
		return TierNone, ActionNone
	}
}

func topContributions(contributions map[string]float64, n int) []string {
	type kv struct {
		worker string
		value  float64
	}
	list := make([]kv, 0, len(contributions))
	for k, v := range contributions {
		list = append(list, kv{k, v})
	}
	sort.Slice(list, func(i, j int) bool { return math.Abs(list[i].value) > math.Abs(list[j].value) })
	if len(list) > n {
		list = list[:n]
	}
	out := make([]string, 0, len(list))
	for _, kv := range list {
		out = append(out, fmt.Sprintf("%s:%.4f", kv.worker, kv.value))
	}
	return out
}
