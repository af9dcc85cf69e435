package exporter

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "mod-data-export/exporter"

type metrics struct {
	slices        metric.Int64Counter
	records       metric.Int64Counter
	uploadRetries metric.Int64Counter
	sliceDuration metric.Float64Histogram
}

func newMetrics(mp metric.MeterProvider) (*metrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(meterName)

	m := new(metrics)
	var err error
	if m.slices, err = meter.Int64Counter(
		"export_slices_total",
		metric.WithDescription("Exported slices by final unit status"),
	); err != nil {
		return nil, err
	}
	if m.records, err = meter.Int64Counter(
		"export_records_total",
		metric.WithDescription("Records written to MARC files"),
	); err != nil {
		return nil, err
	}
	if m.uploadRetries, err = meter.Int64Counter(
		"export_upload_retries_total",
		metric.WithDescription("Slice upload retries"),
	); err != nil {
		return nil, err
	}
	if m.sliceDuration, err = meter.Float64Histogram(
		"export_slice_duration_seconds",
		metric.WithDescription("Time taken to export one slice"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *metrics) observeSlice(ctx context.Context, kind, status string, exported int64, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("kind", kind), attribute.String("status", status))
	m.slices.Add(ctx, 1, attrs)
	m.sliceDuration.Record(ctx, d.Seconds(), attrs)
	if exported > 0 {
		m.records.Add(ctx, exported, metric.WithAttributes(attribute.String("kind", kind)))
	}
}
