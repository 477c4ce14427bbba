// Package handlers implements HTTP request handlers for the Foursight API.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/4dn-dcic/foursight-sub000/internal/connection"
	"github.com/4dn-dcic/foursight-sub000/internal/queue"
	"github.com/4dn-dcic/foursight-sub000/internal/runner"
)

// Handlers contains all HTTP handler dependencies.
type Handlers struct {
	runner *runner.Runner
	conn   *connection.Connection
	queue  *queue.Queue
	logger *slog.Logger
}

// New creates a new Handlers instance. q may be nil, in which case runs
// requested with "queue": true are rejected.
func New(r *runner.Runner, conn *connection.Connection, q *queue.Queue) *Handlers {
	return &Handlers{
		runner: r,
		conn:   conn,
		queue:  q,
		logger: slog.Default(),
	}
}

// SetLogger overrides the default logger.
func (h *Handlers) SetLogger(l *slog.Logger) {
	if l != nil {
		h.logger = l
	}
}

// writeError logs the internal error and returns a sanitized JSON error to the client.
func (h *Handlers) writeError(w http.ResponseWriter, status int, msg string, err error) {
	if err != nil {
		h.logger.Error(msg, "error", err, "status", status)
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
