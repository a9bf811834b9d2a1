// Package observability provides OpenTelemetry instrumentation for
// tracing and metrics.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// InitMetrics initializes the OpenTelemetry metrics provider with a
// Prometheus exporter. It returns the HTTP handler for the /metrics
// endpoint and a shutdown function to call on application exit.
func InitMetrics() (http.Handler, func(context.Context) error, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)

	otel.SetMeterProvider(provider)

	return promhttp.Handler(), provider.Shutdown, nil
}

// Metrics holds the orchestration core's instruments. A nil *Metrics is
// valid and records nothing, so tests can pass nil.
type Metrics struct {
	jobsCompleted  metric.Int64Counter
	jobDuration    metric.Float64Histogram
	batchCompleted metric.Int64Counter
}

// NewMetrics creates the core's instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("opsplane")

	jobsCompleted, err := meter.Int64Counter("opsplane_jobs_completed_total",
		metric.WithDescription("Jobs that reached a terminal status, by status"))
	if err != nil {
		return nil, err
	}

	jobDuration, err := meter.Float64Histogram("opsplane_job_duration_seconds",
		metric.WithDescription("Wall time from started_at to completed_at"))
	if err != nil {
		return nil, err
	}

	batchCompleted, err := meter.Int64Counter("opsplane_batches_completed_total",
		metric.WithDescription("Batch parents that reached a terminal status, by status"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		jobsCompleted:  jobsCompleted,
		jobDuration:    jobDuration,
		batchCompleted: batchCompleted,
	}, nil
}

// RecordJobCompleted counts a terminal job and its duration.
func (m *Metrics) RecordJobCompleted(ctx context.Context, status string, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.jobsCompleted.Add(ctx, 1, attrs)
	if duration > 0 {
		m.jobDuration.Record(ctx, duration.Seconds(), attrs)
	}
}

// RecordBatchCompleted counts a terminal batch parent.
func (m *Metrics) RecordBatchCompleted(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.batchCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
