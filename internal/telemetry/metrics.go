package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/wolfeidau/tenantd"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Entitlement resolution metrics
	ResolveTotal    metric.Int64Counter
	ResolveDuration metric.Float64Histogram

	// Lifecycle saga metrics
	LifecycleOpsTotal  metric.Int64Counter
	CompensationsTotal metric.Int64Counter

	// Membership sync metrics
	SyncTotal           metric.Int64Counter
	SyncConflictRetries metric.Int64Counter
	SeatBlockedTotal    metric.Int64Counter
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

// WithOp labels a measurement with the lifecycle operation name.
func WithOp(op string) metric.AddOption {
	return metric.WithAttributes(attribute.String("op", op))
}

// WithOutcome labels a measurement with a terminal outcome.
func WithOutcome(outcome string) metric.AddOption {
	return metric.WithAttributes(attribute.String("outcome", outcome))
}

// WithSource labels a measurement with the winning entitlement source type.
func WithSource(source string) metric.AddOption {
	return metric.WithAttributes(attribute.String("source", source))
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	// Entitlement resolution metrics
	m.ResolveTotal, _ = meter.Int64Counter(
		"tenantd.entitlements.resolve.total",
		metric.WithDescription("Total number of entitlement resolutions"),
		metric.WithUnit("{resolution}"),
	)

	m.ResolveDuration, _ = meter.Float64Histogram(
		"tenantd.entitlements.resolve.duration",
		metric.WithDescription("Duration of entitlement resolutions"),
		metric.WithUnit("ms"),
	)

	// Lifecycle saga metrics
	m.LifecycleOpsTotal, _ = meter.Int64Counter(
		"tenantd.organizations.lifecycle.total",
		metric.WithDescription("Total number of completed organization lifecycle operations"),
		metric.WithUnit("{operation}"),
	)

	m.CompensationsTotal, _ = meter.Int64Counter(
		"tenantd.organizations.compensations.total",
		metric.WithDescription("Total number of lifecycle compensations, labelled by failure code"),
		metric.WithUnit("{compensation}"),
	)

	// Membership sync metrics
	m.SyncTotal, _ = meter.Int64Counter(
		"tenantd.memberships.sync.total",
		metric.WithDescription("Total number of membership sync events, labelled by outcome"),
		metric.WithUnit("{event}"),
	)

	m.SyncConflictRetries, _ = meter.Int64Counter(
		"tenantd.memberships.sync.conflict_retries.total",
		metric.WithDescription("Total number of membership sync retries after serialization conflicts"),
		metric.WithUnit("{retry}"),
	)

	m.SeatBlockedTotal, _ = meter.Int64Counter(
		"tenantd.memberships.seat_blocked.total",
		metric.WithDescription("Total number of memberships blocked by the seat limit"),
		metric.WithUnit("{membership}"),
	)

	return m
}
