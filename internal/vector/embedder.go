package vector

import (
	"context"
	"hash/fnv"
	"math"
	"strings"

	"github.com/ternarybob/colligo/internal/interfaces"
)

const localEmbedderDims = 256

// LocalEmbedder is a deterministic, dependency-free embedder: each token is
// hashed into a fixed-size bag-of-words vector which is then L2 normalized.
// It gives stable, meaningful-enough similarity for development and tests;
// production deployments plug a real model in through the Embedder interface.
type LocalEmbedder struct{}

// NewLocalEmbedder creates the default embedder.
func NewLocalEmbedder() *LocalEmbedder {
	return &LocalEmbedder{}
}

// EmbedDocuments generates embeddings for multiple texts
func (e *LocalEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.EmbedQuery(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// EmbedQuery generates an embedding for a single text
func (e *LocalEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, localEmbedderDims)

	for _, token := range tokenize(text) {
		h := fnv.New32a()
		h.Write([]byte(token))
		sum := h.Sum32()
		idx := int(sum % localEmbedderDims)
		// Sign bit from the hash keeps the vector from collapsing toward
		// all-positive components.
		if sum&0x80000000 != 0 {
			vec[idx] -= 1
		} else {
			vec[idx] += 1
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	} else {
		// Empty input still needs a valid unit vector.
		vec[0] = 1
	}

	return vec, nil
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
}

var _ interfaces.Embedder = (*LocalEmbedder)(nil)
