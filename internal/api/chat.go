package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/murmurhq/murmur/internal/agent"
	"github.com/murmurhq/murmur/internal/log"
	"github.com/murmurhq/murmur/internal/model"
	"github.com/murmurhq/murmur/internal/session"
	"github.com/murmurhq/murmur/internal/stream"
)

const (
	// maxInputRunes bounds a single chat message.
	maxInputRunes = 10_000

	maxChatBodyBytes = 64 * 1024
)

// turnRunner runs one conversational turn. *agent.Agent satisfies it.
type turnRunner interface {
	Run(ctx context.Context, req agent.RunRequest) (*agent.Result, error)
}

// sessionReader checks session existence and ownership.
// *session.Store satisfies it.
type sessionReader interface {
	Get(ctx context.Context, ownerID string, id uuid.UUID) (*session.Session, error)
}

type chatHandler struct {
	agent    turnRunner
	sessions sessionReader
	guard    *session.Guard
	logger   log.Logger
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"sessionId"`
}

// validateMessage rejects input the pipeline should never see: empty,
// oversized, NUL bytes, or embedded script tags.
func validateMessage(msg string) error {
	trimmed := strings.TrimSpace(msg)
	if trimmed == "" {
		return errors.New("message is required")
	}
	if len([]rune(msg)) > maxInputRunes {
		return fmt.Errorf("message exceeds %d characters", maxInputRunes)
	}
	if strings.ContainsRune(msg, '\x00') {
		return errors.New("message contains null bytes")
	}
	if strings.Contains(strings.ToLower(msg), "<script") {
		return errors.New("message contains disallowed markup")
	}
	return nil
}

func (h *chatHandler) decode(w http.ResponseWriter, r *http.Request) (identity, string, bool) {
	id, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, h.logger, http.StatusUnauthorized, "unauthorized", "authentication required")
		return identity{}, "", false
	}

	var req chatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxChatBodyBytes)).Decode(&req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return identity{}, "", false
	}
	if err := validateMessage(req.Message); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_message", err.Error())
		return identity{}, "", false
	}

	if _, err := h.sessions.Get(r.Context(), id.UserID, id.SessionID); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, h.logger, http.StatusNotFound, "session_not_found", "session not found")
		} else {
			h.logger.Error("loading session", "error", err, "session_id", id.SessionID)
			writeError(w, h.logger, http.StatusInternalServerError, "internal_error", "internal server error")
		}
		return identity{}, "", false
	}
	return id, req.Message, true
}

// send handles a synchronous turn: JSON in, JSON out.
func (h *chatHandler) send(w http.ResponseWriter, r *http.Request) {
	id, message, ok := h.decode(w, r)
	if !ok {
		return
	}

	release, err := h.guard.Acquire(id.SessionID)
	if err != nil {
		writeError(w, h.logger, http.StatusConflict, "session_busy", "a turn is already in progress for this session")
		return
	}
	defer release()

	res, err := h.agent.Run(r.Context(), agent.RunRequest{
		SessionID: id.SessionID,
		OwnerID:   id.UserID,
		Input:     message,
	})
	if err != nil {
		status, code := classifyTurnError(err)
		h.logger.Error("turn failed", "error", err, "session_id", id.SessionID, "request_id", requestIDFromContext(r.Context()))
		writeError(w, h.logger, status, code, "failed to process message")
		return
	}

	writeJSON(w, h.logger, http.StatusOK, chatResponse{
		Response:  res.Response,
		SessionID: id.SessionID.String(),
	})
}

// streamChat handles a streaming turn over SSE. Errors before the first
// byte map to HTTP statuses; after that they become a terminal error
// event on the stream.
func (h *chatHandler) streamChat(w http.ResponseWriter, r *http.Request) {
	id, message, ok := h.decode(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, h.logger, http.StatusInternalServerError, "streaming_unsupported", "streaming not supported")
		return
	}

	release, err := h.guard.Acquire(id.SessionID)
	if err != nil {
		writeError(w, h.logger, http.StatusConflict, "session_busy", "a turn is already in progress for this session")
		return
	}
	defer release()

	stream.SetHeaders(w)

	pipe := stream.NewPipe()
	type turnOutcome struct {
		res *agent.Result
		err error
	}
	outcome := make(chan turnOutcome, 1)

	go func() {
		res, err := h.agent.Run(r.Context(), agent.RunRequest{
			SessionID: id.SessionID,
			OwnerID:   id.UserID,
			Input:     message,
			Emit:      pipe.Emit,
		})
		if err != nil {
			pipe.Fail(err)
		} else {
			pipe.CloseSend()
		}
		outcome <- turnOutcome{res: res, err: err}
	}()

	for {
		fragment, err := pipe.Recv(r.Context())
		if err == nil {
			if werr := stream.WriteEvent(w, flusher, stream.EventChunk, stream.ChunkPayload{Text: fragment}); werr != nil {
				h.logger.Debug("client gone mid-stream", "error", werr, "session_id", id.SessionID)
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}

		// Turn failed after fragments may have been sent; the error
		// event is the terminal signal.
		h.logger.Error("stream turn failed", "error", err, "session_id", id.SessionID)
		_, code := classifyTurnError(err)
		_ = stream.WriteEvent(w, flusher, stream.EventError, stream.ErrorPayload{
			Code:    code,
			Message: "failed to process message",
		})
		<-outcome
		return
	}

	out := <-outcome
	if out.err != nil || out.res == nil {
		_ = stream.WriteEvent(w, flusher, stream.EventError, stream.ErrorPayload{
			Code:    "internal_error",
			Message: "failed to process message",
		})
		return
	}
	_ = stream.WriteEvent(w, flusher, stream.EventDone, stream.DonePayload{
		Response:  out.res.Response,
		SessionID: id.SessionID.String(),
	})
}

// classifyTurnError maps a turn error to an HTTP status and stable code.
func classifyTurnError(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrModelUnavailable):
		return http.StatusServiceUnavailable, "model_unavailable"
	case errors.Is(err, agent.ErrEmptyInput):
		return http.StatusBadRequest, "invalid_message"
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound, "session_not_found"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "request_canceled"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
