package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/4dn-dcic/foursight-sub000/internal/runner"
	"github.com/4dn-dcic/foursight-sub000/pkg/types"
)

type checkInfo struct {
	CheckString string       `json:"check_string"`
	Module      string       `json:"module"`
	Function    string       `json:"function"`
	Kind        types.Kind   `json:"kind"`
	Description string       `json:"description,omitempty"`
	Defaults    types.Kwargs `json:"defaults,omitempty"`
}

// ListChecks returns every registered check and action.
func (h *Handlers) ListChecks(w http.ResponseWriter, r *http.Request) {
	descs := h.runner.Registry().List()
	out := make([]checkInfo, 0, len(descs))
	for _, d := range descs {
		out = append(out, checkInfo{
			CheckString: d.Key(),
			Module:      d.Module,
			Function:    d.Function,
			Kind:        d.Kind,
			Description: d.Description,
			Defaults:    d.Defaults,
		})
	}
	_ = json.NewEncoder(w).Encode(out)
}

type runRequest struct {
	Kwargs types.Kwargs `json:"kwargs"`
	// Queue sends the run to the work queue instead of running it inline.
	Queue bool `json:"queue"`
}

// RunCheck runs a check or action inline, or queues it.
func (h *Handlers) RunCheck(w http.ResponseWriter, r *http.Request) {
	checkString := chi.URLParam(r, "module") + "/" + chi.URLParam(r, "function")

	var body runRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", err)
		return
	}

	if body.Queue {
		if h.queue == nil {
			h.writeError(w, http.StatusBadRequest, "no work queue configured", nil)
			return
		}
		if _, err := h.runner.Resolve(checkString); err != nil {
			h.writeError(w, http.StatusNotFound, err.Error(), nil)
			return
		}
		uuid, err := h.queue.Enqueue(r.Context(), checkString, body.Kwargs)
		if err != nil {
			h.writeError(w, http.StatusBadGateway, "failed to queue run", err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"check_string": checkString, "uuid": uuid})
		return
	}

	env, err := h.runner.RunCheckOrAction(r.Context(), h.conn, checkString, body.Kwargs)
	var de *runner.DispatchError
	switch {
	case errors.As(err, &de):
		h.writeError(w, http.StatusNotFound, de.Message, nil)
		return
	case err != nil:
		h.writeError(w, http.StatusInternalServerError, "run failed", err)
		return
	case env == nil:
		writeJSON(w, http.StatusConflict, map[string]string{"status": "skipped", "reason": "action already recorded for this check run"})
		return
	}
	_ = json.NewEncoder(w).Encode(env)
}
