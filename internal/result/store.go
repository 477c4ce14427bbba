package result

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/4dn-dcic/foursight-sub000/internal/metrics"
	"github.com/4dn-dcic/foursight-sub000/pkg/types"
)

var tracer = otel.Tracer("github.com/4dn-dcic/foursight-sub000/internal/result")

// ensureKwargs normalizes or fills in the run identity and the primary flag.
func ensureKwargs(kw types.Kwargs) (types.Kwargs, error) {
	if kw == nil {
		kw = types.Kwargs{}
	}
	if err := NormalizeKwargsUUID(kw); err != nil {
		return nil, err
	}
	if kw.UUID() == "" {
		kw[types.KwargUUID] = NewUUID(nowFunc())
	}
	if _, ok := kw[types.KwargPrimary]; !ok {
		kw[types.KwargPrimary] = false
	}
	return kw, nil
}

// storeEnvelope encodes env once and writes it to the history key, latest and
// (for primary runs) primary. The returned envelope is decoded from the
// stored bytes, so it equals what later reads return and shares no state
// with the caller's run object.
func (r *Reader) storeEnvelope(ctx context.Context, env types.Envelope) (*types.Envelope, error) {
	ctx, span := tracer.Start(ctx, "result.store", trace.WithAttributes(
		attribute.String("foursight.name", r.name),
		attribute.String("foursight.kind", string(env.Kind)),
		attribute.String("foursight.uuid", env.UUID),
		attribute.String("foursight.status", env.Status),
	))
	defer span.End()

	data, err := json.Marshal(env)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("encoding %s result: %w", r.name, err)
	}
	var out types.Envelope
	if err := json.Unmarshal(data, &out); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("decoding %s result: %w", r.name, err)
	}

	if env.Kwargs.DoNotStore() {
		span.SetAttributes(attribute.Bool("foursight.do_not_store", true))
		metrics.ResultsNotStored.Add(1)
		return &out, nil
	}

	keys := []string{HistoryKey(r.name, env.UUID), LatestKey(r.name)}
	if env.Kwargs.Primary() {
		keys = append(keys, PrimaryKey(r.name))
	}
	for _, k := range keys {
		if !r.store.Put(ctx, k, data) {
			r.logger.Warn("result write failed", "key", k, "uuid", env.UUID)
			metrics.ResultsNotStored.Add(1)
			continue
		}
		metrics.ResultsStored.Add(1)
	}
	return &out, nil
}
