package handlers

import (
	"encoding/json"
	"net/http"
)

// Health reports whether the results store answers.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if err := h.conn.Store.Ping(r.Context()); err != nil {
		h.logger.Warn("results store ping failed", "error", err)
		status = "degraded"
	}

	if err := json.NewEncoder(w).Encode(map[string]string{
		"status":      status,
		"environment": h.conn.Environment,
		"backend":     h.conn.Store.Backend().Name(),
	}); err != nil {
		http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
		return
	}
}
