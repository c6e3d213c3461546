package workers

import (
	"embed"
	"fmt"
	"math"

	"github.com/goccy/go-json"
)

//go:embed data/centroids_v1.json
var centroidFS embed.FS

// CentroidVersion is the version string this build's centroid data
// embeds. config.Config.CentroidVersion must match it at startup or the
// process refuses to start (spec.md §9, Open Question (a)).
const CentroidVersion = "v1"

// namedCentroid pairs a human-readable label with its centroid vector.
type namedCentroid struct {
	Name     string    `json:"name"`
	Centroid []float64 `json:"centroid"`
}

type centroidData struct {
	Version            string          `json:"version"`
	EmbeddingDim       int             `json:"embedding_dim"`
	TopicEmbeddingDim  int             `json:"topic_embedding_dim"`
	Archetypes         []namedCentroid `json:"archetypes"`
	Topics             []namedCentroid `json:"topics"`
}

var loadedCentroids *centroidData

// LoadCentroids parses the embedded centroid data file and verifies its
// version matches expectedVersion. Called once at startup; a mismatch
// is a fatal ConfigInvalid condition.
func LoadCentroids(expectedVersion string) error {
	raw, err := centroidFS.ReadFile("data/centroids_v1.json")
	if err != nil {
		return fmt.Errorf("read centroid data: %w", err)
	}
	var data centroidData
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("parse centroid data: %w", err)
	}
	if data.Version != expectedVersion {
		return fmt.Errorf("centroid data version %q does not match configured version %q", data.Version, expectedVersion)
	}
	loadedCentroids = &data
	return nil
}

// archetypeCentroids returns the extraction-archetype centroids used by
// the embed worker. LoadCentroids must have been called successfully.
func archetypeCentroids() []namedCentroid {
	if loadedCentroids == nil {
		return nil
	}
	return loadedCentroids.Archetypes
}

// topicCentroidVectors returns the twelve capability-bucket centroids
// used for nearest-centroid topic assignment.
func topicCentroidVectors() []namedCentroid {
	if loadedCentroids == nil {
		return nil
	}
	return loadedCentroids.Topics
}

// cosineSimilarity returns the cosine similarity of a and b, or 0 if
// either is a zero vector or their lengths differ.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
