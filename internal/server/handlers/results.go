package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/4dn-dcic/foursight-sub000/internal/result"
	"github.com/4dn-dcic/foursight-sub000/pkg/types"
)

const defaultHistoryLimit = 25

func (h *Handlers) reader(r *http.Request) *result.Reader {
	return h.conn.Results(chi.URLParam(r, "name"))
}

func (h *Handlers) writeEnvelope(w http.ResponseWriter, env *types.Envelope, what string) {
	if env == nil {
		h.writeError(w, http.StatusNotFound, what+" not found", nil)
		return
	}
	_ = json.NewEncoder(w).Encode(env)
}

// GetLatest returns the most recently stored run.
func (h *Handlers) GetLatest(w http.ResponseWriter, r *http.Request) {
	h.writeEnvelope(w, h.reader(r).GetLatest(r.Context()), "latest result")
}

// GetPrimary returns the run stored as primary.
func (h *Handlers) GetPrimary(w http.ResponseWriter, r *http.Request) {
	h.writeEnvelope(w, h.reader(r).GetPrimary(r.Context()), "primary result")
}

// GetByUUID returns one timestamped run.
func (h *Handlers) GetByUUID(w http.ResponseWriter, r *http.Request) {
	h.writeEnvelope(w, h.reader(r).GetResultByUUID(r.Context(), chi.URLParam(r, "uuid")), "result")
}

// GetClosest returns the run closest to hours/mins ago. exclude_errors=true
// skips ERROR runs.
func (h *Handlers) GetClosest(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	hours, err := intParam(q.Get("hours"), 0)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid hours", nil)
		return
	}
	mins, err := intParam(q.Get("mins"), 0)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid mins", nil)
		return
	}
	var opts []result.ClosestOption
	if ok, _ := strconv.ParseBool(q.Get("exclude_errors")); ok {
		opts = append(opts, result.WithoutErrors())
	}

	env, err := h.reader(r).GetClosest(r.Context(), hours, mins, opts...)
	if errors.Is(err, result.ErrNoResults) || errors.Is(err, result.ErrNoValidResults) {
		h.writeError(w, http.StatusNotFound, err.Error(), nil)
		return
	}
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to find closest result", err)
		return
	}
	_ = json.NewEncoder(w).Encode(env)
}

// GetHistory pages through runs newest first.
func (h *Handlers) GetHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := intParam(q.Get("start"), 0)
	if err != nil || start < 0 {
		h.writeError(w, http.StatusBadRequest, "invalid start", nil)
		return
	}
	limit, err := intParam(q.Get("limit"), defaultHistoryLimit)
	if err != nil || limit < 0 {
		h.writeError(w, http.StatusBadRequest, "invalid limit", nil)
		return
	}
	after, err := timeParam(q.Get("after"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid after", nil)
		return
	}
	_ = json.NewEncoder(w).Encode(h.reader(r).GetResultHistory(r.Context(), start, limit, after))
}

// DeleteResults removes timestamped runs. Query parameters: prior_date,
// include_primary and dry_run.
func (h *Handlers) DeleteResults(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	prior, err := timeParam(q.Get("prior_date"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid prior_date", nil)
		return
	}
	includePrimary, _ := strconv.ParseBool(q.Get("include_primary"))
	dryRun, _ := strconv.ParseBool(q.Get("dry_run"))

	n, err := h.reader(r).DeleteResults(r.Context(), result.DeleteOptions{
		PriorDate:      prior,
		IncludePrimary: includePrimary,
		DryRun:         dryRun,
	})
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to delete results", err)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"deleted": n, "dry_run": dryRun})
}

func intParam(s string, fallback int) (int, error) {
	if s == "" {
		return fallback, nil
	}
	return strconv.Atoi(s)
}

// timeParam accepts RFC 3339 or a bare date.
func timeParam(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, s)
}
