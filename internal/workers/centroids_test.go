package workers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCentroidsVersionMismatch(t *testing.T) {
	err := LoadCentroids("v999")
	require.Error(t, err)
}

func TestLoadCentroidsSuccess(t *testing.T) {
	require.NoError(t, LoadCentroids(CentroidVersion))
	assert.Len(t, archetypeCentroids(), 8)
	assert.Len(t, topicCentroidVectors(), 12)
}

func TestAssignTopicDeterministic(t *testing.T) {
	require.NoError(t, LoadCentroids(CentroidVersion))
	a := AssignTopic("summarize this article for me please")
	b := AssignTopic("summarize this article for me please")
	assert.Equal(t, a, b)
}

func TestCosineSimilaritySymmetric(t *testing.T) {
	a := []float64{1, 0, 0}
	b := []float64{0, 1, 0}
	assert.Equal(t, cosineSimilarity(a, b), cosineSimilarity(b, a))
	assert.InDelta(t, 1.0, cosineSimilarity(a, a), 1e-9)
}
