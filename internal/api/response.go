package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/murmurhq/murmur/internal/log"
)

// errorBody is the uniform error payload. Message is always safe to
// show a caller; internal detail stays in the logs.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

// writeJSON encodes into a buffer first so headers go out only after a
// successful encode, leaving room for a proper 500 on failure.
func writeJSON(w http.ResponseWriter, logger log.Logger, status int, data any) {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(data); err != nil {
		logger.Error("encoding JSON response", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		// Client disconnects are routine.
		logger.Debug("writing response body", "error", err)
	}
}

func writeError(w http.ResponseWriter, logger log.Logger, status int, code, message string) {
	writeJSON(w, logger, status, errorResponse{Error: errorBody{Code: code, Message: message}})
}
