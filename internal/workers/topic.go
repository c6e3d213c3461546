package workers

import (
	"hash/fnv"

	"glasswally/internal/event"
)

// topicEmbeddingDim is the dimensionality of the hashed random-feature
// embedding used purely for topic assignment (distinct from the
// account-level prompt_embedding used by the embed worker).
const topicEmbeddingDim = 512

// AssignTopic derives a deterministic, stable topic bucket for prompt by
// hashing it into a fixed-dimension random-feature embedding and
// returning the nearest of the twelve pinned topic centroids. Both the
// hashing and the nearest-centroid lookup are pure functions of prompt's
// text, so repeated calls across processes agree.
func AssignTopic(prompt string) event.Topic {
	embedding := hashedFeatureEmbedding(prompt, topicEmbeddingDim)

	topics := topicCentroidVectors()
	if len(topics) == 0 {
		return 0
	}

	best := 0
	bestSim := -2.0
	for i, t := range topics {
		sim := cosineSimilarity(embedding, t.Centroid)
		if sim > bestSim {
			bestSim = sim
			best = i
		}
	}
	return event.Topic(best)
}

// hashedFeatureEmbedding builds a deterministic sparse-then-dense
// random-feature embedding: each token in prompt is hashed into dim
// buckets with a sign derived from a second hash, the classic
// hashing-trick construction for a stable, library-free embedding.
func hashedFeatureEmbedding(prompt string, dim int) []float64 {
	vec := make([]float64, dim)
	tokens := tokenize(prompt)
	for _, tok := range tokens {
		h1 := fnv.New32a()
		h1.Write([]byte(tok))
		idx := int(h1.Sum32()) % dim
		if idx < 0 {
			idx += dim
		}

		h2 := fnv.New32a()
		h2.Write([]byte("sign:" + tok))
		sign := 1.0
		if h2.Sum32()%2 == 0 {
			sign = -1.0
		}
		vec[idx] += sign
	}
	return vec
}

func tokenize(s string) []string {
	var tokens []string
	start := -1
	for i, r := range s {
		isWord := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if isWord {
			if start == -1 {
				start = i
			}
		} else if start != -1 {
			tokens = append(tokens, s[start:i])
			start = -1
		}
	}
	if start != -1 {
		tokens = append(tokens, s[start:])
	}
	return tokens
}
