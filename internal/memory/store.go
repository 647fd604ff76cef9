package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"google.golang.org/genai"

	"github.com/murmurhq/murmur/internal/log"
)

// insertMemorySQL deduplicates on content hash: persisting the same fact
// twice for one owner is a no-op while the first copy is active.
const insertMemorySQL = `INSERT INTO memories (owner_id, content, embedding, source_session_id)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (owner_id, md5(content)) WHERE active = true DO NOTHING`

// Store manages persistent memory backed by PostgreSQL + pgvector.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool     *pgxpool.Pool
	embedder ai.Embedder
	logger   log.Logger
}

// NewStore creates a memory Store.
func NewStore(pool *pgxpool.Pool, embedder ai.Embedder, logger log.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{pool: pool, embedder: embedder, logger: logger}, nil
}

// embed generates a vector embedding for the given text.
func (s *Store) embed(ctx context.Context, text string) (pgvector.Vector, error) {
	dim := VectorDimension
	resp, err := s.embedder.Embed(ctx, &ai.EmbedRequest{
		Input:   []*ai.Document{ai.DocumentFromText(text, nil)},
		Options: &genai.EmbedContentConfig{OutputDimensionality: &dim},
	})
	if err != nil {
		return pgvector.Vector{}, fmt.Errorf("embedding text: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return pgvector.Vector{}, fmt.Errorf("empty embedding response")
	}
	return pgvector.NewVector(resp.Embeddings[0].Embedding), nil
}

// Retrieve finds the owner's stored facts most similar to the query,
// ordered by cosine similarity descending. Returns an empty slice when
// the query or owner is blank.
func (s *Store) Retrieve(ctx context.Context, ownerID, query string, topK int) ([]*Record, error) {
	if query == "" || ownerID == "" {
		return []*Record{}, nil
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	if topK > MaxTopK {
		topK = MaxTopK
	}
	if strings.ContainsRune(query, 0) {
		return []*Record{}, nil
	}

	embedCtx, cancel := context.WithTimeout(ctx, EmbedTimeout)
	defer cancel()

	vec, err := s.embed(embedCtx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, owner_id, content, COALESCE(source_session_id, '00000000-0000-0000-0000-000000000000'::uuid),
		        created_at, 1 - (embedding <=> $1) AS similarity
		 FROM memories
		 WHERE owner_id = $2 AND active = true
		 ORDER BY embedding <=> $1
		 LIMIT $3`,
		vec, ownerID, topK,
	)
	if err != nil {
		return nil, fmt.Errorf("querying memories: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec := &Record{}
		if err := rows.Scan(&rec.ID, &rec.OwnerID, &rec.Content, &rec.SourceSessionID, &rec.CreatedAt, &rec.Similarity); err != nil {
			return nil, fmt.Errorf("scanning memory: %w", err)
		}
		records = append(records, rec)
	}
	if records == nil {
		records = []*Record{}
	}
	return records, rows.Err()
}

// Persist stores extracted facts for the owner. Each fact is embedded
// and inserted; exact duplicates of active facts are dropped by the
// content-hash index.
//
// Persist keeps going after individual failures and returns them
// joined, so one bad fact does not lose the rest.
func (s *Store) Persist(ctx context.Context, ownerID string, sessionID uuid.UUID, facts []string) error {
	if ownerID == "" {
		return fmt.Errorf("owner ID is required")
	}
	if len(facts) == 0 {
		return nil
	}

	var errs []error
	stored := 0
	for _, fact := range facts {
		if err := s.persistOne(ctx, ownerID, sessionID, fact); err != nil {
			errs = append(errs, err)
			continue
		}
		stored++
	}

	s.logger.Debug("persisted facts", "owner", ownerID, "stored", stored, "failed", len(errs))
	return errors.Join(errs...)
}

func (s *Store) persistOne(ctx context.Context, ownerID string, sessionID uuid.UUID, fact string) error {
	fact = strings.TrimSpace(fact)
	if fact == "" {
		return fmt.Errorf("empty fact")
	}
	if runes := []rune(fact); len(runes) > MaxContentLength {
		fact = string(runes[:MaxContentLength])
	}
	if ContainsSecrets(fact) {
		return fmt.Errorf("fact contains potential secrets")
	}

	embedCtx, cancel := context.WithTimeout(ctx, EmbedTimeout)
	defer cancel()

	vec, err := s.embed(embedCtx, fact)
	if err != nil {
		return err
	}

	var sourceID any
	if sessionID != uuid.Nil {
		sourceID = sessionID
	}
	if _, err := s.pool.Exec(ctx, insertMemorySQL, ownerID, fact, vec, sourceID); err != nil {
		return fmt.Errorf("inserting memory: %w", err)
	}
	return nil
}

// Forget soft-deletes all of the owner's facts.
func (s *Store) Forget(ctx context.Context, ownerID string) error {
	if _, err := s.pool.Exec(ctx,
		`UPDATE memories SET active = false, updated_at = now() WHERE owner_id = $1 AND active = true`,
		ownerID,
	); err != nil {
		return fmt.Errorf("forgetting memories: %w", err)
	}
	return nil
}
