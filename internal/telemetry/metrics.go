package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/wolfeidau/genjobs"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Gateway metrics
	JobsSubmittedTotal     metric.Int64Counter
	JobsCompletedTotal     metric.Int64Counter
	JobsFailedTotal        metric.Int64Counter
	TrackingWriteErrors    metric.Int64Counter
	BackendCallDuration    metric.Float64Histogram
	HeartbeatsTotal        metric.Int64Counter
	BackgroundJobsInFlight metric.Int64UpDownCounter

	// Sweeper metrics
	StaleJobsFailedTotal metric.Int64Counter

	// Change notifier metrics
	ActiveSubscriptions     metric.Int64UpDownCounter
	ChangesPublishedTotal   metric.Int64Counter
	ChangesDroppedTotal     metric.Int64Counter
	ListenerReconnectsTotal metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	m.JobsSubmittedTotal, _ = meter.Int64Counter(
		"genjobs.jobs.submitted.total",
		metric.WithDescription("Total number of generation jobs submitted to the gateway"),
		metric.WithUnit("{job}"),
	)

	m.JobsCompletedTotal, _ = meter.Int64Counter(
		"genjobs.jobs.completed.total",
		metric.WithDescription("Total number of jobs resolved as completed"),
		metric.WithUnit("{job}"),
	)

	m.JobsFailedTotal, _ = meter.Int64Counter(
		"genjobs.jobs.failed.total",
		metric.WithDescription("Total number of jobs resolved as failed"),
		metric.WithUnit("{job}"),
	)

	m.TrackingWriteErrors, _ = meter.Int64Counter(
		"genjobs.jobs.tracking_write_errors.total",
		metric.WithDescription("Total number of job store writes that failed and were skipped"),
		metric.WithUnit("{error}"),
	)

	m.BackendCallDuration, _ = meter.Float64Histogram(
		"genjobs.backend.call.duration",
		metric.WithDescription("Duration of calls to the generation backend"),
		metric.WithUnit("ms"),
	)

	m.HeartbeatsTotal, _ = meter.Int64Counter(
		"genjobs.jobs.heartbeats.total",
		metric.WithDescription("Total number of heartbeat touches written for in-flight jobs"),
		metric.WithUnit("{heartbeat}"),
	)

	m.BackgroundJobsInFlight, _ = meter.Int64UpDownCounter(
		"genjobs.jobs.background.in_flight",
		metric.WithDescription("Number of asynchronously submitted jobs still running"),
		metric.WithUnit("{job}"),
	)

	m.StaleJobsFailedTotal, _ = meter.Int64Counter(
		"genjobs.sweeper.stale_jobs_failed.total",
		metric.WithDescription("Total number of stale generating jobs failed by the sweeper"),
		metric.WithUnit("{job}"),
	)

	m.ActiveSubscriptions, _ = meter.Int64UpDownCounter(
		"genjobs.notifier.subscriptions.active",
		metric.WithDescription("Number of active job change subscriptions"),
		metric.WithUnit("{subscription}"),
	)

	m.ChangesPublishedTotal, _ = meter.Int64Counter(
		"genjobs.notifier.changes.published.total",
		metric.WithDescription("Total number of job changes delivered to subscribers"),
		metric.WithUnit("{change}"),
	)

	m.ChangesDroppedTotal, _ = meter.Int64Counter(
		"genjobs.notifier.changes.dropped.total",
		metric.WithDescription("Total number of job changes dropped due to slow subscribers"),
		metric.WithUnit("{change}"),
	)

	m.ListenerReconnectsTotal, _ = meter.Int64Counter(
		"genjobs.notifier.listener.reconnects.total",
		metric.WithDescription("Total number of database listener reconnects"),
		metric.WithUnit("{reconnect}"),
	)

	return m
}
