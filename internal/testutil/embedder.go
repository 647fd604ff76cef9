package testutil

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"google.golang.org/genai"
)

// MockEmbedder implements ai.Embedder with deterministic vectors derived
// from the input text. Identical text always embeds identically, and
// different texts almost surely differ, which is enough for similarity
// ranking in tests without a real embedding service.
type MockEmbedder struct {
	// Err, when set, is returned from every Embed call.
	Err error
	// Calls counts Embed invocations.
	Calls int
}

// Name implements ai.Embedder.
func (m *MockEmbedder) Name() string { return "mock/embedder" }

// Register implements ai.Embedder. No-op for testing.
func (m *MockEmbedder) Register(api.Registry) {}

// Embed implements ai.Embedder.
func (m *MockEmbedder) Embed(_ context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	m.Calls++
	if m.Err != nil {
		return nil, m.Err
	}

	dim := 768
	if opts, ok := req.Options.(*genai.EmbedContentConfig); ok && opts != nil && opts.OutputDimensionality != nil {
		dim = int(*opts.OutputDimensionality)
	}

	embeddings := make([]*ai.Embedding, 0, len(req.Input))
	for _, doc := range req.Input {
		var text string
		for _, part := range doc.Content {
			if part != nil {
				text += part.Text
			}
		}
		embeddings = append(embeddings, &ai.Embedding{Embedding: deterministicVector(text, dim)})
	}
	return &ai.EmbedResponse{Embeddings: embeddings}, nil
}

// deterministicVector expands a SHA-256 digest of the text into a unit
// vector of the requested dimension.
func deterministicVector(text string, dim int) []float32 {
	vec := make([]float32, dim)
	seed := sha256.Sum256([]byte(text))

	var norm float64
	digest := seed
	for i := range vec {
		if i%8 == 0 && i > 0 {
			digest = sha256.Sum256(digest[:])
		}
		bits := binary.BigEndian.Uint32(digest[(i%8)*4 : (i%8)*4+4])
		v := float32(bits%2000)/1000 - 1 // [-1, 1)
		vec[i] = v
		norm += float64(v) * float64(v)
	}

	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec
}
