// Package session persists conversation sessions and their ordered
// message history in PostgreSQL.
//
// Each session belongs to one owner and carries a gap-free sequence of
// messages: sequence numbers start at 1 and increase by exactly 1 per
// message. The Store enforces this by appending whole turns inside a
// transaction that locks the session row, and the Guard serializes
// turns so two concurrent requests cannot interleave on one session.
package session

import (
	"errors"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"
)

// ErrNotFound indicates the requested session does not exist or does
// not belong to the caller.
var ErrNotFound = errors.New("session not found")

// TitleMaxLength caps auto-generated session titles.
const TitleMaxLength = 50

// Role constants define valid message roles. They match the genkit
// ai.Role values and the database CHECK constraint.
const (
	RoleUser   = "user"
	RoleModel  = "model"
	RoleSystem = "system"
	RoleTool   = "tool"
)

// Session represents a conversation session (application-level type).
type Session struct {
	ID        uuid.UUID
	OwnerID   string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message represents a single conversation message (application-level type).
// Content field stores Genkit's ai.Part slice, serialized as JSONB in database.
type Message struct {
	ID             uuid.UUID
	SessionID      uuid.UUID
	Role           string     // "user" | "model" | "system" | "tool"
	Content        []*ai.Part // Genkit Part slice (stored as JSONB)
	SequenceNumber int64
	CreatedAt      time.Time
}

// NewUserMessage builds a user message from plain text.
func NewUserMessage(sessionID uuid.UUID, text string) *Message {
	return &Message{
		SessionID: sessionID,
		Role:      RoleUser,
		Content:   []*ai.Part{ai.NewTextPart(text)},
	}
}

// FromAI converts a genkit message into a persistable Message.
func FromAI(sessionID uuid.UUID, msg *ai.Message) *Message {
	return &Message{
		SessionID: sessionID,
		Role:      string(msg.Role),
		Content:   msg.Content,
	}
}

// AI converts a stored Message back into a genkit message.
func (m *Message) AI() *ai.Message {
	return &ai.Message{
		Role:    ai.Role(m.Role),
		Content: m.Content,
	}
}

// Text returns the concatenated text parts of the message.
// Non-text parts (tool requests, tool responses) contribute nothing.
func (m *Message) Text() string {
	var out string
	for _, part := range m.Content {
		if part != nil && part.IsText() {
			out += part.Text
		}
	}
	return out
}
