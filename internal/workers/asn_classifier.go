package workers

import (
	"context"

	"glasswally/internal/event"
	"glasswally/internal/state"
)

// ASNClassifierWorker scores based on the network class an account
// connects from and, when clustered, the datacenter concentration of
// its cluster — residential/mobile traffic from a real end user looks
// nothing like a scraping farm's datacenter egress.
type ASNClassifierWorker struct {
	// ClusterDatacenterFraction resolves the fraction of an account's
	// current cluster that is itself datacenter-classed. A nil func
	// treats every account as unclustered for this worker's purposes.
	ClusterDatacenterFraction func(accountID string) (fraction float64, clustered bool)
}

func (ASNClassifierWorker) Kind() Kind { return ASNClassifier }

func (w ASNClassifierWorker) Analyze(ctx context.Context, ev *event.Event, snap *state.Snapshot) event.Signal {
	if snap == nil {
		return zeroSignal(ASNClassifier, insufficientHistory)
	}

	var score float64
	var evidence string
	switch ev.ASNClass {
	case event.AsnDatacenter:
		if w.ClusterDatacenterFraction != nil {
			if fraction, clustered := w.ClusterDatacenterFraction(ev.AccountID); clustered && fraction >= 0.60 {
				score = 1.0
				evidence = "datacenter_cluster_majority"
				break
			}
		}
		score = 0.6
		evidence = "datacenter_solo"
	case event.AsnTor, event.AsnUnknown:
		score = 0.3
		evidence = "tor_or_unknown_asn"
	default:
		score = 0.0
		evidence = "residential_or_mobile_asn"
	}

	return clampSignal(event.Signal{
		WorkerKind: string(ASNClassifier),
		Score:      score,
		Evidence:   []string{evidence},
		ContributingFeatures: map[string]any{
			"asn_class": string(ev.ASNClass),
		},
	})
}
