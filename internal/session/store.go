package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/murmurhq/murmur/internal/log"
)

const sessionCols = `id, owner_id, title, created_at, updated_at`
const messageCols = `id, session_id, role, content, sequence_number, created_at`

// Store manages session persistence with a PostgreSQL backend.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// NewStore creates a session Store.
func NewStore(pool *pgxpool.Pool, logger log.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Create creates a new session for the owner. Title may be empty; it is
// filled in later from the first exchange.
func (s *Store) Create(ctx context.Context, ownerID, title string) (*Session, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("owner ID is required")
	}

	sess, err := scanSession(s.pool.QueryRow(ctx,
		`INSERT INTO sessions (owner_id, title)
		 VALUES ($1, $2)
		 RETURNING `+sessionCols,
		ownerID, title,
	))
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	s.logger.Debug("created session", "id", sess.ID, "owner", ownerID)
	return sess, nil
}

// Get retrieves a session by ID, scoped to the owner. A session that
// exists but belongs to someone else is ErrNotFound: ownership is not
// an error the caller can distinguish from absence.
func (s *Store) Get(ctx context.Context, ownerID string, id uuid.UUID) (*Session, error) {
	sess, err := scanSession(s.pool.QueryRow(ctx,
		`SELECT `+sessionCols+` FROM sessions WHERE id = $1 AND owner_id = $2`,
		id, ownerID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting session %s: %w", id, err)
	}
	return sess, nil
}

// List returns the owner's sessions ordered by most recently updated.
func (s *Store) List(ctx context.Context, ownerID string, limit, offset int) ([]*Session, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+sessionCols+` FROM sessions
		 WHERE owner_id = $1
		 ORDER BY updated_at DESC
		 LIMIT $2 OFFSET $3`,
		ownerID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// Delete removes a session and all its messages (CASCADE), scoped to
// the owner.
func (s *Store) Delete(ctx context.Context, ownerID string, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM sessions WHERE id = $1 AND owner_id = $2`,
		id, ownerID,
	)
	if err != nil {
		return fmt.Errorf("deleting session %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	s.logger.Debug("deleted session", "id", id)
	return nil
}

// SetTitle updates the session title. Used for automatic titling after
// the first exchange; skipped silently if the session vanished meanwhile.
func (s *Store) SetTitle(ctx context.Context, id uuid.UUID, title string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE sessions SET title = $1, updated_at = now() WHERE id = $2`,
		title, id,
	)
	if err != nil {
		return fmt.Errorf("setting session title: %w", err)
	}
	return nil
}

// AppendMessages appends a whole turn's messages atomically.
//
// The session row is locked for the duration of the transaction, so
// sequence numbers are assigned without gaps even under concurrent
// writers: each message gets max(sequence_number)+1, +2, and so on.
// Either every message lands or none does.
func (s *Store) AppendMessages(ctx context.Context, sessionID uuid.UUID, messages []*Message) error {
	if len(messages) == 0 {
		return nil
	}
	for i, msg := range messages {
		for j, part := range msg.Content {
			if part == nil {
				return fmt.Errorf("message %d has nil content part at index %d", i, j)
			}
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", rbErr)
		}
	}()

	// Lock the session row so concurrent appends serialize here and
	// sequence numbers stay gap-free.
	var locked uuid.UUID
	err = tx.QueryRow(ctx,
		`SELECT id FROM sessions WHERE id = $1 FOR UPDATE`,
		sessionID,
	).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("locking session %s: %w", sessionID, err)
	}

	var maxSeq int64
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(sequence_number), 0) FROM messages WHERE session_id = $1`,
		sessionID,
	).Scan(&maxSeq); err != nil {
		return fmt.Errorf("reading max sequence number: %w", err)
	}

	for i, msg := range messages {
		contentJSON, err := json.Marshal(msg.Content)
		if err != nil {
			return fmt.Errorf("marshaling message %d content: %w", i, err)
		}

		seq := maxSeq + int64(i) + 1
		if _, err := tx.Exec(ctx,
			`INSERT INTO messages (session_id, role, content, sequence_number)
			 VALUES ($1, $2, $3, $4)`,
			sessionID, msg.Role, contentJSON, seq,
		); err != nil {
			return fmt.Errorf("inserting message %d: %w", i, err)
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE sessions SET updated_at = now() WHERE id = $1`,
		sessionID,
	); err != nil {
		return fmt.Errorf("touching session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing append: %w", err)
	}

	s.logger.Debug("appended messages", "session_id", sessionID, "count", len(messages), "from_seq", maxSeq+1)
	return nil
}

// History returns the last limit messages as genkit messages in
// chronological order, ready to seed a model call. Tool-role rows are
// skipped: their pairing tool-request messages are never persisted, so
// replaying them would hand the model an orphan tool response.
func (s *Store) History(ctx context.Context, sessionID uuid.UUID, limit int) ([]*ai.Message, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("history limit must be positive, got %d", limit)
	}

	// Take the newest rows, then restore chronological order.
	rows, err := s.pool.Query(ctx,
		`SELECT role, content FROM (
		   SELECT role, content, sequence_number
		   FROM messages
		   WHERE session_id = $1
		   ORDER BY sequence_number DESC
		   LIMIT $2
		 ) recent
		 ORDER BY sequence_number ASC`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	defer rows.Close()

	var history []*ai.Message
	for rows.Next() {
		var role string
		var contentJSON []byte
		if err := rows.Scan(&role, &contentJSON); err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}
		if ai.Role(role) == ai.RoleTool {
			continue
		}

		var parts []*ai.Part
		if err := json.Unmarshal(contentJSON, &parts); err != nil {
			s.logger.Warn("skipping malformed message content", "session_id", sessionID, "error", err)
			continue
		}
		history = append(history, &ai.Message{Role: ai.Role(role), Content: parts})
	}
	return history, rows.Err()
}

// Messages retrieves stored messages for the owner's session with
// pagination, ordered by sequence number ascending.
func (s *Store) Messages(ctx context.Context, ownerID string, sessionID uuid.UUID, limit, offset int) ([]*Message, error) {
	if _, err := s.Get(ctx, ownerID, sessionID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+messageCols+` FROM messages
		 WHERE session_id = $1
		 ORDER BY sequence_number ASC
		 LIMIT $2 OFFSET $3`,
		sessionID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("getting messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg := &Message{}
		var contentJSON []byte
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &contentJSON, &msg.SequenceNumber, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		if err := json.Unmarshal(contentJSON, &msg.Content); err != nil {
			s.logger.Warn("skipping malformed message content", "message_id", msg.ID, "error", err)
			continue
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// ClearMessages deletes all messages from the owner's session while
// keeping the session itself. Sequence numbering restarts at 1.
func (s *Store) ClearMessages(ctx context.Context, ownerID string, sessionID uuid.UUID) error {
	if _, err := s.Get(ctx, ownerID, sessionID); err != nil {
		return err
	}

	if _, err := s.pool.Exec(ctx,
		`DELETE FROM messages WHERE session_id = $1`,
		sessionID,
	); err != nil {
		return fmt.Errorf("clearing messages: %w", err)
	}
	if _, err := s.pool.Exec(ctx,
		`UPDATE sessions SET updated_at = now() WHERE id = $1`,
		sessionID,
	); err != nil {
		return fmt.Errorf("touching session: %w", err)
	}

	s.logger.Debug("cleared messages", "session_id", sessionID)
	return nil
}

// scanner matches both pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*Session, error) {
	sess := &Session{}
	if err := row.Scan(&sess.ID, &sess.OwnerID, &sess.Title, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
		return nil, err
	}
	return sess, nil
}
