package workers

import (
	"glasswally/internal/hydra"
	"glasswally/internal/state"
)

// NewAll constructs one instance of every detector worker, wiring the
// few that need the hydra clusterer or the state store directly. The
// returned slice is in the same stable order as All.
func NewAll(store *state.Store, clusterer *hydra.Clusterer) []Worker {
	return []Worker{
		FingerprintWorker{},
		VelocityWorker{},
		CoTWorker{},
		EmbedWorker{},
		HydraWorker{Clusterer: clusterer},
		TimingClusterWorker{},
		ASNClassifierWorker{ClusterDatacenterFraction: datacenterFraction(store, clusterer)},
		H2GRPCWorker{},
		RolePreambleWorker{},
		PivotWorker{Clusterer: clusterer, Store: store},
		BiometricWorker{},
		WatermarkWorker{},
		SessionGapWorker{},
		TokenBudgetWorker{},
		RefusalProbeWorker{},
		SequenceModelWorker{},
	}
}

// datacenterFraction builds the ASN classifier's cluster-datacenter
// lookup from the clusterer's current component membership and each
// member's most recent observed ASN class.
func datacenterFraction(store *state.Store, clusterer *hydra.Clusterer) func(string) (float64, bool) {
	return func(accountID string) (float64, bool) {
		if store == nil || clusterer == nil {
			return 0, false
		}
		members := clusterer.Component(accountID)
		if len(members) < 2 {
			return 0, false
		}
		var datacenter, total int
		for _, member := range members {
			as, ok := store.Get(member)
			if !ok {
				continue
			}
			class, ok := as.LastASNClass()
			if !ok {
				continue
			}
			total++
			if class == "datacenter" {
				datacenter++
			}
		}
		if total == 0 {
			return 0, false
		}
		return float64(datacenter) / float64(total), true
	}
}
