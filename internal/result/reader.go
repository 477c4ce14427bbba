package result

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/4dn-dcic/foursight-sub000/internal/store"
	"github.com/4dn-dcic/foursight-sub000/pkg/types"
)

// Retrieval errors.
var (
	// ErrNoResults means name has no timestamped history at all.
	ErrNoResults = errors.New("no results")
	// ErrNoValidResults means history exists but every usable run is an ERROR.
	ErrNoValidResults = errors.New("no non-error results")
)

const fetchConcurrency = 8

// Reader provides every read and maintenance operation over the stored runs
// of one check or action name.
type Reader struct {
	name   string
	store  *store.Store
	logger *slog.Logger
}

// NewReader creates a Reader for name.
func NewReader(s *store.Store, name string) *Reader {
	return &Reader{name: name, store: s, logger: slog.Default().With("result", name)}
}

// Name returns the check or action name.
func (r *Reader) Name() string { return r.name }

// Store returns the underlying store adapter.
func (r *Reader) Store() *store.Store { return r.store }

// GetLatest returns the most recent run, or nil.
func (r *Reader) GetLatest(ctx context.Context) *types.Envelope {
	return r.fetch(ctx, LatestKey(r.name))
}

// GetPrimary returns the most recent run stored with primary=true, or nil.
func (r *Reader) GetPrimary(ctx context.Context) *types.Envelope {
	return r.fetch(ctx, PrimaryKey(r.name))
}

// GetResultByUUID returns the run with the given identity, or nil.
func (r *Reader) GetResultByUUID(ctx context.Context, uuid string) *types.Envelope {
	return r.fetch(ctx, HistoryKey(r.name, uuid))
}

// ClosestOption tunes GetClosest.
type ClosestOption func(*closestOptions)

type closestOptions struct {
	excludeErrors bool
}

// WithoutErrors skips runs whose status is ERROR. When only ERROR runs exist
// GetClosest returns ErrNoValidResults.
func WithoutErrors() ClosestOption {
	return func(o *closestOptions) { o.excludeErrors = true }
}

type candidate struct {
	key  string
	uuid string
	at   time.Time
}

// GetClosest returns the run whose uuid timestamp is nearest to
// now - (diffHours, diffMins). Ties go to the earlier key in lexical order.
func (r *Reader) GetClosest(ctx context.Context, diffHours, diffMins int, opts ...ClosestOption) (*types.Envelope, error) {
	var o closestOptions
	for _, fn := range opts {
		fn(&o)
	}

	target := nowFunc().UTC().Add(-(time.Duration(diffHours)*time.Hour + time.Duration(diffMins)*time.Minute))
	cands := r.history(ctx)
	if len(cands) == 0 {
		return nil, fmt.Errorf("%w for %s", ErrNoResults, r.name)
	}

	sort.SliceStable(cands, func(i, j int) bool {
		return absDuration(cands[i].at.Sub(target)) < absDuration(cands[j].at.Sub(target))
	})

	fetched := 0
	for _, c := range cands {
		env := r.fetch(ctx, c.key)
		if env == nil {
			continue
		}
		fetched++
		if o.excludeErrors && env.Status == string(types.CheckError) {
			continue
		}
		return env, nil
	}
	if fetched == 0 {
		return nil, fmt.Errorf("%w for %s", ErrNoResults, r.name)
	}
	return nil, fmt.Errorf("%w for %s", ErrNoValidResults, r.name)
}

// GetAllResults loads every timestamped run, oldest first. It reads the whole
// namespace and is meant for maintenance, not request paths.
func (r *Reader) GetAllResults(ctx context.Context) []*types.Envelope {
	cands := r.history(ctx)
	return r.fetchAll(ctx, cands)
}

// GetResultHistory pages through runs newest first. Runs at or before
// afterDate are excluded when afterDate is non-zero.
func (r *Reader) GetResultHistory(ctx context.Context, start, limit int, afterDate time.Time) []types.HistoryEntry {
	cands := r.history(ctx)
	if !afterDate.IsZero() {
		kept := cands[:0]
		for _, c := range cands {
			if c.at.After(afterDate) {
				kept = append(kept, c)
			}
		}
		cands = kept
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].uuid > cands[j].uuid })

	if start < 0 {
		start = 0
	}
	if start >= len(cands) || limit <= 0 {
		return []types.HistoryEntry{}
	}
	end := start + limit
	if end > len(cands) {
		end = len(cands)
	}

	envs := r.fetchAll(ctx, cands[start:end])
	out := make([]types.HistoryEntry, 0, len(envs))
	for _, env := range envs {
		out = append(out, types.HistoryEntry{Status: env.Status, Summary: env.Summary, Kwargs: env.Kwargs})
	}
	return out
}

// DeleteOptions selects which timestamped runs DeleteResults removes.
type DeleteOptions struct {
	// PriorDate, when set, limits deletion to runs strictly older than it.
	PriorDate time.Time
	// IncludePrimary allows deleting the run currently stored as primary.
	// The zero value preserves it.
	IncludePrimary bool
	// Filter, when set, must return true for a key to be deleted. A filter
	// error aborts the delete before anything is removed.
	Filter func(key string) (bool, error)
	// DryRun counts the matching runs without deleting them.
	DryRun bool
}

// DeleteResults removes timestamped runs and returns how many were deleted.
// Latest, primary and action record keys are never touched.
func (r *Reader) DeleteResults(ctx context.Context, opts DeleteOptions) (int, error) {
	cands := r.history(ctx)

	var primaryUUID string
	if !opts.IncludePrimary {
		if p := r.GetPrimary(ctx); p != nil {
			primaryUUID = p.UUID
			if primaryUUID == "" {
				primaryUUID = p.Kwargs.UUID()
			}
		}
	}

	keys := make([]string, 0, len(cands))
	for _, c := range cands {
		if !opts.PriorDate.IsZero() && !c.at.Before(opts.PriorDate) {
			continue
		}
		if primaryUUID != "" && c.uuid == primaryUUID {
			continue
		}
		if opts.Filter != nil {
			ok, err := opts.Filter(c.key)
			if err != nil {
				return 0, fmt.Errorf("delete filter on %s: %w", c.key, err)
			}
			if !ok {
				continue
			}
		}
		keys = append(keys, c.key)
	}

	if len(keys) == 0 || opts.DryRun {
		return len(keys), nil
	}
	if !r.store.Delete(ctx, keys) {
		return 0, fmt.Errorf("deleting %d results for %s failed", len(keys), r.name)
	}
	r.logger.Info("deleted results", "count", len(keys))
	return len(keys), nil
}

// ActionRecord marks that an action has been dispatched for one check run.
type ActionRecord struct {
	Action     string `json:"action"`
	ActionUUID string `json:"action_uuid"`
}

// GetActionRecord returns the record for the check run checkUUID, or nil.
func (r *Reader) GetActionRecord(ctx context.Context, checkUUID string) *ActionRecord {
	data := r.store.Get(ctx, ActionRecordKey(r.name, checkUUID))
	if data == nil {
		return nil
	}
	var rec ActionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		r.logger.Warn("malformed action record", "uuid", checkUUID, "error", err)
		return nil
	}
	return &rec
}

// history lists the timestamped keys of this name in lexical order.
func (r *Reader) history(ctx context.Context) []candidate {
	keys := r.store.ListKeys(ctx, Prefix(r.name))
	sort.Strings(keys)
	out := make([]candidate, 0, len(keys))
	for _, k := range keys {
		if uuid, at, ok := historyUUID(r.name, k); ok {
			out = append(out, candidate{key: k, uuid: uuid, at: at})
		}
	}
	return out
}

func (r *Reader) fetch(ctx context.Context, key string) *types.Envelope {
	data := r.store.Get(ctx, key)
	if data == nil {
		return nil
	}
	var env types.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		r.logger.Warn("skipping malformed result", "key", key, "error", err)
		return nil
	}
	return &env
}

// fetchAll loads cands concurrently, keeping their order and dropping misses.
func (r *Reader) fetchAll(ctx context.Context, cands []candidate) []*types.Envelope {
	envs := make([]*types.Envelope, len(cands))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for i, c := range cands {
		g.Go(func() error {
			envs[i] = r.fetch(gctx, c.key)
			return nil
		})
	}
	_ = g.Wait()

	out := make([]*types.Envelope, 0, len(envs))
	for _, env := range envs {
		if env != nil {
			out = append(out, env)
		}
	}
	return out
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
