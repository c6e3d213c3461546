package hydra

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"glasswally/internal/config"
)

func TestScoreClusterSizeSaturates(t *testing.T) {
	score, confidence := Score(ScoreInput{ComponentSize: 100, TotalRequests: 1000})
	assert.InDelta(t, 0.40, score, 1e-9)
	assert.InDelta(t, 1.0, confidence, 1e-9)
}

func TestScorePaymentCap(t *testing.T) {
	score, _ := Score(ScoreInput{SharedPayments: 10})
	assert.InDelta(t, 0.35, score, 1e-9)
}

func TestScoreSubnetCap(t *testing.T) {
	score, _ := Score(ScoreInput{SharedSubnets: 10})
	assert.InDelta(t, 0.15, score, 1e-9)
}

func TestScoreRestrictedGeoBonus(t *testing.T) {
	base, _ := Score(ScoreInput{ComponentSize: 3})
	withGeo, _ := Score(ScoreInput{ComponentSize: 3, RestrictedGeo: true})
	assert.InDelta(t, 0.10, withGeo-base, 1e-9)
}

func TestScoreClampsToOne(t *testing.T) {
	score, _ := Score(ScoreInput{ComponentSize: 1000, SharedPayments: 100, SharedSubnets: 100, RestrictedGeo: true})
	assert.Equal(t, 1.0, score)
}

func TestClustererSingletonForUnknownAccount(t *testing.T) {
	c := New(nil, config.Default().Hydra, nil)
	comp := c.Component("never-seen")
	assert.Equal(t, []string{"never-seen"}, comp)
	assert.Equal(t, 0, c.ComponentCount())
}
