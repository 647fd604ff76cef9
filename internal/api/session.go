package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/murmurhq/murmur/internal/log"
	"github.com/murmurhq/murmur/internal/session"
)

const maxSessionBodyBytes = 4 * 1024

// sessionStore is the persistence surface the session handlers need.
// *session.Store satisfies it.
type sessionStore interface {
	Create(ctx context.Context, ownerID, title string) (*session.Session, error)
	Get(ctx context.Context, ownerID string, id uuid.UUID) (*session.Session, error)
	Delete(ctx context.Context, ownerID string, id uuid.UUID) error
	Messages(ctx context.Context, ownerID string, sessionID uuid.UUID, limit, offset int) ([]*session.Message, error)
	ClearMessages(ctx context.Context, ownerID string, sessionID uuid.UUID) error
}

type sessionHandler struct {
	store  sessionStore
	tokens *tokenAuthority
	logger log.Logger
}

type createSessionRequest struct {
	Title string `json:"title,omitempty"`
}

type createSessionResponse struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Token     string `json:"token"`
	ExpiresAt string `json:"expiresAt"`
}

// create provisions a session and mints its bearer token. A valid
// bearer on the request reuses that caller's user ID so one user can
// hold several sessions; otherwise a fresh user is provisioned.
func (h *sessionHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.Body != nil {
		// Body is optional; a decode failure on a present body is
		// still a client error.
		err := json.NewDecoder(io.LimitReader(r.Body, maxSessionBodyBytes)).Decode(&req)
		if err != nil && !errors.Is(err, io.EOF) {
			writeError(w, h.logger, http.StatusBadRequest, "invalid_request", "malformed JSON body")
			return
		}
	}

	title := strings.TrimSpace(req.Title)
	if len([]rune(title)) > session.TitleMaxLength {
		title = string([]rune(title)[:session.TitleMaxLength])
	}
	if title == "" {
		title = "New conversation"
	}

	userID := uuid.New().String()
	if header := r.Header.Get("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			if id, err := h.tokens.Verify(token, time.Now()); err == nil {
				userID = id.UserID
			}
		}
	}

	sess, err := h.store.Create(r.Context(), userID, title)
	if err != nil {
		h.logger.Error("creating session", "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "internal_error", "failed to create session")
		return
	}

	token, expiresAt := h.tokens.Mint(userID, sess.ID, time.Now())
	writeJSON(w, h.logger, http.StatusCreated, createSessionResponse{
		ID:        sess.ID.String(),
		Title:     sess.Title,
		Token:     token,
		ExpiresAt: expiresAt.UTC().Format(time.RFC3339),
	})
}

// delete removes the authenticated session and its messages.
func (h *sessionHandler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, h.logger, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	if err := h.store.Delete(r.Context(), id.UserID, id.SessionID); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, h.logger, http.StatusNotFound, "session_not_found", "session not found")
			return
		}
		h.logger.Error("deleting session", "error", err, "session_id", id.SessionID)
		writeError(w, h.logger, http.StatusInternalServerError, "internal_error", "failed to delete session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
