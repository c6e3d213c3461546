package fusion

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"glasswally/internal/config"
	"glasswally/internal/event"
)

func newTestEngine() *Engine {
	return New(config.Default().Fusion)
}

func TestFuseWeightSumInvariant(t *testing.T) {
	e := newTestEngine()
	signals := []event.Signal{
		{WorkerKind: "fingerprint", Score: 1.0},
		{WorkerKind: "velocity", Score: 1.0},
	}
	var wantWeight float64
	for _, w := range config.DefaultWeights() {
		if w.Worker == "fingerprint" || w.Worker == "velocity" {
			wantWeight += w.Weight
		}
	}
	res := e.Fuse("acct-1", signals, "US", ClusterView{})
	assert.InDelta(t, wantWeight, res.CompositeScore, 1e-9)
}

func TestFuseCompositeScoreClamped(t *testing.T) {
	e := newTestEngine()
	var signals []event.Signal
	for _, w := range config.DefaultWeights() {
		signals = append(signals, event.Signal{WorkerKind: w.Worker, Score: 1.0})
	}
	res := e.Fuse("acct-2", signals, "CN", ClusterView{})
	assert.LessOrEqual(t, res.CompositeScore, 1.0)
	assert.GreaterOrEqual(t, res.CompositeScore, 0.0)
	assert.True(t, res.GeoUpliftApplied)
}

func TestFuseClusterFloorRaisesLowScore(t *testing.T) {
	e := newTestEngine()
	signals := []event.Signal{{WorkerKind: "fingerprint", Score: 0.0}}
	res := e.Fuse("acct-3", signals, "US", ClusterView{ClusterID: 7, ClusterSize: 5})
	assert.InDelta(t, 0.45, res.CompositeScore, 1e-9)
	assert.Contains(t, res.Evidence, "cluster floor n=5")
}

func TestFuseClusterFloorCapsAt085(t *testing.T) {
	e := newTestEngine()
	signals := []event.Signal{{WorkerKind: "fingerprint", Score: 0.0}}
	res := e.Fuse("acct-4", signals, "US", ClusterView{ClusterID: 9, ClusterSize: 50})
	assert.LessOrEqual(t, res.CompositeScore, 0.85)
}

func TestFuseTierBoundaryExactly072EmitsInjectCanary(t *testing.T) {
	signals := []event.Signal{{WorkerKind: "fingerprint", Score: 1.0}}

	cfg := config.Default().Fusion
	for i := range cfg.Weights {
		if cfg.Weights[i].Worker == "fingerprint" {
			cfg.Weights[i].Weight = 0.72
		} else {
			cfg.Weights[i].Weight = 0
		}
	}
	eng := New(cfg)
	res := eng.Fuse("acct-5", signals, "US", ClusterView{})
	assert.InDelta(t, 0.72, res.CompositeScore, 1e-9)
	assert.Equal(t, TierHigh, res.Tier)
	assert.Equal(t, ActionInjectCanary, res.Action)
}

func TestFuseTierNoneBelowLowThreshold(t *testing.T) {
	e := newTestEngine()
	signals := []event.Signal{{WorkerKind: "fingerprint", Score: 0.01}}
	res := e.Fuse("acct-6", signals, "US", ClusterView{})
	assert.Equal(t, TierNone, res.Tier)
	assert.Equal(t, ActionNone, res.Action)
}

func TestFuseCriticalClusteredIsTakedown(t *testing.T) {
	e := newTestEngine()
	var signals []event.Signal
	for _, w := range config.DefaultWeights() {
		signals = append(signals, event.Signal{WorkerKind: w.Worker, Score: 1.0})
	}
	res := e.Fuse("acct-7", signals, "US", ClusterView{ClusterID: 1, ClusterSize: 4})
	assert.Equal(t, TierCritical, res.Tier)
	assert.Equal(t, ActionClusterTakedown, res.Action)
}

func TestFuseEvidenceTopThreeByAbsoluteContribution(t *testing.T) {
	e := newTestEngine()
	signals := []event.Signal{
		{WorkerKind: "fingerprint", Score: 1.0},
		{WorkerKind: "velocity", Score: 0.9},
		{WorkerKind: "cot", Score: 0.8},
		{WorkerKind: "watermark", Score: 0.01},
	}
	res := e.Fuse("acct-8", signals, "US", ClusterView{})
	assert.LessOrEqual(t, len(res.Evidence), 3)
	assert.Equal(t, []string{"fingerprint:0.1400", "velocity:0.0900", "cot:0.0720"}, res.Evidence)
}
