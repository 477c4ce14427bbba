// Package archiver copies stored check and action results from the working
// store into a second, durable store. A typical pairing is a Redis or SQLite
// working store archived into Postgres or S3.
package archiver

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/4dn-dcic/foursight-sub000/internal/metrics"
	"github.com/4dn-dcic/foursight-sub000/internal/result"
	"github.com/4dn-dcic/foursight-sub000/internal/store"
)

const defaultInterval = 5 * time.Minute

// Stats counts the keys handled by one archive pass.
type Stats struct {
	Copied  int `json:"copied"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

func (s *Stats) add(o Stats) {
	s.Copied += o.Copied
	s.Skipped += o.Skipped
	s.Failed += o.Failed
}

// Archiver periodically copies results for a fixed set of names.
type Archiver struct {
	source   *store.Store
	dest     *store.Store
	names    []string
	interval time.Duration
	logger   *slog.Logger
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New creates an Archiver copying the results of names from source to dest.
func New(source, dest *store.Store, names []string, interval time.Duration, logger *slog.Logger) *Archiver {
	if interval <= 0 {
		interval = defaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		source:   source,
		dest:     dest,
		names:    names,
		interval: interval,
		logger:   logger,
	}
}

// Start begins the archiver background loop.
func (a *Archiver) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	a.wg.Add(1)
	go a.loop(ctx)
	a.logger.Info("archiver started", "interval", a.interval, "names", len(a.names))
}

// Stop signals the archiver to stop and waits for it to finish.
func (a *Archiver) Stop(_ context.Context) {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	a.logger.Info("archiver stopped")
}

func (a *Archiver) loop(ctx context.Context) {
	defer a.wg.Done()
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	// Run once immediately on start
	a.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single archive pass over every name.
func (a *Archiver) RunOnce(ctx context.Context) Stats {
	var total Stats
	for _, name := range a.names {
		if ctx.Err() != nil {
			break
		}
		st := a.archiveName(ctx, name)
		if st.Failed > 0 {
			a.logger.Warn("archiver: incomplete pass", "name", name, "failed", st.Failed)
		}
		total.add(st)
	}
	metrics.KeysArchived.Add(int64(total.Copied))
	metrics.ArchiveFailures.Add(int64(total.Failed))
	a.logger.Debug("archiver: pass complete", "copied", total.Copied, "skipped", total.Skipped, "failed", total.Failed)
	return total
}

// archiveName copies every key under name. History entries and action
// records are write-once, so they are only created when missing. The latest
// and primary pointers are overwritten whenever their content differs.
func (a *Archiver) archiveName(ctx context.Context, name string) Stats {
	var st Stats
	latest, primary := result.LatestKey(name), result.PrimaryKey(name)

	for _, key := range a.source.ListKeys(ctx, result.Prefix(name)) {
		if ctx.Err() != nil {
			return st
		}
		if key == latest || key == primary {
			a.copyPointer(ctx, key, &st)
			continue
		}
		if a.dest.Exists(ctx, key) {
			st.Skipped++
			continue
		}
		data := a.source.Get(ctx, key)
		if data == nil {
			st.Failed++
			continue
		}
		if a.dest.PutIfAbsent(ctx, key, data) {
			st.Copied++
		} else if a.dest.Exists(ctx, key) {
			st.Skipped++
		} else {
			st.Failed++
		}
	}
	return st
}

func (a *Archiver) copyPointer(ctx context.Context, key string, st *Stats) {
	data := a.source.Get(ctx, key)
	if data == nil {
		st.Failed++
		return
	}
	if bytes.Equal(a.dest.Get(ctx, key), data) {
		st.Skipped++
		return
	}
	if !a.dest.Put(ctx, key, data) {
		a.logger.Error("archiver: pointer copy failed", "key", key)
		st.Failed++
		return
	}
	st.Copied++
}
