package api

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/murmurhq/murmur/internal/log"
)

const readinessPingTimeout = 2 * time.Second

type componentStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type readinessResponse struct {
	Status     string                     `json:"status"`
	Components map[string]componentStatus `json:"components"`
}

// health is the liveness probe.
func health(logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, logger, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// readiness reports per-component status, pinging the database pool.
// Returns 503 as soon as any component is down.
func readiness(pool *pgxpool.Pool, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := readinessResponse{
			Status: "ok",
			Components: map[string]componentStatus{
				"api": {Status: "ok"},
			},
		}

		if pool != nil {
			ctx, cancel := context.WithTimeout(r.Context(), readinessPingTimeout)
			defer cancel()
			if err := pool.Ping(ctx); err != nil {
				resp.Status = "degraded"
				resp.Components["database"] = componentStatus{Status: "down", Error: "connection failed"}
				writeJSON(w, logger, http.StatusServiceUnavailable, resp)
				return
			}
			resp.Components["database"] = componentStatus{Status: "ok"}
		}

		writeJSON(w, logger, http.StatusOK, resp)
	}
}
