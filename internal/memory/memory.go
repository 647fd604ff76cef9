// Package memory stores long-term user facts in PostgreSQL with
// pgvector embeddings.
//
// Memory is strictly best-effort: every operation here can fail without
// failing the turn that triggered it. Callers log and continue with
// whatever they have.
package memory

import (
	"time"

	"github.com/google/uuid"
)

const (
	// VectorDimension is the embedding width stored in the memories
	// table. Must match the vector(768) column type.
	VectorDimension int32 = 768

	// MaxContentLength bounds a single stored fact.
	MaxContentLength = 2000

	// MaxFactsPerExtraction caps how many facts one turn may produce.
	MaxFactsPerExtraction = 5

	// DefaultTopK is the retrieval count when the caller passes zero.
	DefaultTopK = 5

	// MaxTopK bounds retrieval regardless of what the caller asks for.
	MaxTopK = 20

	// EmbedTimeout bounds a single embedding call.
	EmbedTimeout = 10 * time.Second
)

// Record is one stored fact with its retrieval score.
type Record struct {
	ID              uuid.UUID
	OwnerID         string
	Content         string
	SourceSessionID uuid.UUID
	CreatedAt       time.Time

	// Similarity is the cosine similarity to the retrieval query,
	// in [0, 1]. Only set on records returned by Retrieve.
	Similarity float64
}
