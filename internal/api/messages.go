package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/murmurhq/murmur/internal/session"
)

const (
	defaultMessagePageSize = 50
	maxMessagePageSize     = 200
)

type messagePayload struct {
	ID             string `json:"id"`
	Role           string `json:"role"`
	Content        string `json:"content"`
	SequenceNumber int64  `json:"sequenceNumber"`
	CreatedAt      string `json:"createdAt"`
}

type listMessagesResponse struct {
	SessionID string           `json:"sessionId"`
	Messages  []messagePayload `json:"messages"`
}

// list returns the session transcript in sequence order.
func (h *sessionHandler) list(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, h.logger, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	limit := queryInt(r, "limit", defaultMessagePageSize)
	if limit <= 0 || limit > maxMessagePageSize {
		limit = defaultMessagePageSize
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	messages, err := h.store.Messages(r.Context(), id.UserID, id.SessionID, limit, offset)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, h.logger, http.StatusNotFound, "session_not_found", "session not found")
			return
		}
		h.logger.Error("listing messages", "error", err, "session_id", id.SessionID)
		writeError(w, h.logger, http.StatusInternalServerError, "internal_error", "failed to list messages")
		return
	}

	payload := listMessagesResponse{
		SessionID: id.SessionID.String(),
		Messages:  make([]messagePayload, 0, len(messages)),
	}
	for _, m := range messages {
		payload.Messages = append(payload.Messages, messagePayload{
			ID:             m.ID.String(),
			Role:           m.Role,
			Content:        m.Text(),
			SequenceNumber: m.SequenceNumber,
			CreatedAt:      m.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, h.logger, http.StatusOK, payload)
}

// clear wipes the session transcript. Sequence numbering restarts at 1
// on the next turn.
func (h *sessionHandler) clear(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, h.logger, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	if err := h.store.ClearMessages(r.Context(), id.UserID, id.SessionID); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, h.logger, http.StatusNotFound, "session_not_found", "session not found")
			return
		}
		h.logger.Error("clearing messages", "error", err, "session_id", id.SessionID)
		writeError(w, h.logger, http.StatusInternalServerError, "internal_error", "failed to clear messages")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
