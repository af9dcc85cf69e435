package fetch

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "mod-data-export/fetch"

// metrics records chunk outcomes. A zero value is not usable; use newMetrics.
type metrics struct {
	chunks        metric.Int64Counter
	retries       metric.Int64Counter
	records       metric.Int64Counter
	chunkDuration metric.Float64Histogram
}

func newMetrics(mp metric.MeterProvider) (*metrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(meterName)

	m := new(metrics)
	var err error
	if m.chunks, err = meter.Int64Counter(
		"fetch_chunks_total",
		metric.WithDescription("Chunk fetches by outcome"),
	); err != nil {
		return nil, err
	}
	if m.retries, err = meter.Int64Counter(
		"fetch_chunk_retries_total",
		metric.WithDescription("Chunk fetch retries"),
	); err != nil {
		return nil, err
	}
	if m.records, err = meter.Int64Counter(
		"fetch_records_total",
		metric.WithDescription("Records returned by chunk fetches"),
	); err != nil {
		return nil, err
	}
	if m.chunkDuration, err = meter.Float64Histogram(
		"fetch_chunk_duration_seconds",
		metric.WithDescription("Time taken to fetch one chunk, retries included"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *metrics) observeChunk(ctx context.Context, kind string, ok bool, records int, d time.Duration) {
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	attrs := metric.WithAttributes(attribute.String("kind", kind), attribute.String("outcome", outcome))
	m.chunks.Add(ctx, 1, attrs)
	m.chunkDuration.Record(ctx, d.Seconds(), attrs)
	if records > 0 {
		m.records.Add(ctx, int64(records), metric.WithAttributes(attribute.String("kind", kind)))
	}
}

func (m *metrics) incRetry(ctx context.Context, kind string) {
	m.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
