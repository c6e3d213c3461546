package hydra

import "math"

// restrictedGeoBonus and the thresholds below are carried over from the
// distillation campaign's original hydra worker unchanged.
const (
	clusterSizeWeight   = 0.40
	clusterSizeSaturate = 25.0
	paymentWeight       = 0.07
	paymentCap          = 0.35
	subnetWeight        = 0.03
	subnetCap           = 0.15
	restrictedGeoBonus  = 0.10
	confidenceSaturate  = 100.0
)

// ScoreInput bundles the features the original hydra worker's score
// formula consumes for one account's current component.
type ScoreInput struct {
	ComponentSize   int
	SharedPayments  int
	SharedSubnets   int
	RestrictedGeo   bool
	TotalRequests   int
}

// Score computes the hydra worker's raw score and confidence exactly as
// glasswally/src/workers/hydra.rs does: a saturating cluster-size term
// plus saturating shared-payment and shared-subnet terms, a flat bonus
// for restricted-geography membership, scaled by a confidence factor
// derived from total request volume.
func Score(in ScoreInput) (score, confidence float64) {
	sizeScore := math.Min(float64(in.ComponentSize)/clusterSizeSaturate, 1.0) * clusterSizeWeight
	paymentScore := math.Min(float64(in.SharedPayments)*paymentWeight, paymentCap)
	subnetScore := math.Min(float64(in.SharedSubnets)*subnetWeight, subnetCap)

	total := sizeScore + paymentScore + subnetScore
	if in.RestrictedGeo {
		total += restrictedGeoBonus
	}

	confidence = math.Min(float64(in.TotalRequests)/confidenceSaturate, 1.0)
	return math.Min(total, 1.0), confidence
}
