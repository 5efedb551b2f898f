// Package observe provides application-wide observability primitives for
// PromptPane: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/promptpane/promptpane/internal/session"
)

// meterName is the instrumentation scope name used for all PromptPane metrics.
const meterName = "github.com/promptpane/promptpane"

// latencyBuckets are the histogram boundaries (seconds) shared by all latency
// instruments. The upper buckets accommodate full streamed answer sessions,
// which routinely run for tens of seconds.
var latencyBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// SessionDuration measures wall time from session start to terminal
	// state, labelled by status (done/error).
	SessionDuration metric.Float64Histogram

	// HTTPRequestDuration measures HTTP handler latency, labelled by
	// method and path.
	HTTPRequestDuration metric.Float64Histogram

	// Sessions counts finished answer sessions, labelled by status.
	Sessions metric.Int64Counter

	// Frames counts interpreted stream frames, labelled by kind
	// (summary, answer, end, error, ...).
	Frames metric.Int64Counter

	// TranscriptSegments counts transcript segments accepted into the
	// rolling window.
	TranscriptSegments metric.Int64Counter

	// TranscriptLength reports the rolling transcript length in characters
	// after each accepted merge.
	TranscriptLength metric.Int64Gauge

	// MemorySaves counts exchange persistence attempts, labelled by status.
	MemorySaves metric.Int64Counter

	// ActiveSessions tracks sessions currently streaming.
	ActiveSessions metric.Int64UpDownCounter

	// DisplayClients tracks connected display WebSocket clients.
	DisplayClients metric.Int64UpDownCounter
}

// Metrics doubles as the session recorder so the session package stays free
// of any OTel dependency.
var _ session.Recorder = (*Metrics)(nil)

// NewMetrics creates all metric instruments on the given provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)

	m := &Metrics{}
	var err error

	m.SessionDuration, err = meter.Float64Histogram(
		"promptpane.session.duration",
		metric.WithDescription("Answer session duration from start to terminal state"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	)
	if err != nil {
		return nil, err
	}

	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"promptpane.http.request.duration",
		metric.WithDescription("HTTP request duration"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	)
	if err != nil {
		return nil, err
	}

	m.Sessions, err = meter.Int64Counter(
		"promptpane.sessions",
		metric.WithDescription("Finished answer sessions by status"),
	)
	if err != nil {
		return nil, err
	}

	m.Frames, err = meter.Int64Counter(
		"promptpane.frames",
		metric.WithDescription("Interpreted stream frames by kind"),
	)
	if err != nil {
		return nil, err
	}

	m.TranscriptSegments, err = meter.Int64Counter(
		"promptpane.transcript.segments",
		metric.WithDescription("Transcript segments accepted into the rolling window"),
	)
	if err != nil {
		return nil, err
	}

	m.TranscriptLength, err = meter.Int64Gauge(
		"promptpane.transcript.length",
		metric.WithDescription("Rolling transcript length after the last accepted merge"),
	)
	if err != nil {
		return nil, err
	}

	m.MemorySaves, err = meter.Int64Counter(
		"promptpane.memory.saves",
		metric.WithDescription("Exchange persistence attempts by status"),
	)
	if err != nil {
		return nil, err
	}

	m.ActiveSessions, err = meter.Int64UpDownCounter(
		"promptpane.active_sessions",
		metric.WithDescription("Sessions currently streaming"),
	)
	if err != nil {
		return nil, err
	}

	m.DisplayClients, err = meter.Int64UpDownCounter(
		"promptpane.display_clients",
		metric.WithDescription("Connected display WebSocket clients"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide Metrics built on the global OTel
// meter provider. It panics when instrument creation fails, which only
// happens on SDK misconfiguration.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: create default metrics: " + err.Error())
		}
		defaultMetrics = m
	})
	return defaultMetrics
}

// Attr is a shorthand for string attributes.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// SessionStarted implements session.Recorder.
func (m *Metrics) SessionStarted(id uint64) {
	m.ActiveSessions.Add(context.Background(), 1)
}

// FrameProcessed implements session.Recorder.
func (m *Metrics) FrameProcessed(kind string) {
	m.Frames.Add(context.Background(), 1, metric.WithAttributes(Attr("kind", kind)))
}

// SessionFinished implements session.Recorder.
func (m *Metrics) SessionFinished(id uint64, status string, elapsed time.Duration) {
	ctx := context.Background()
	m.ActiveSessions.Add(ctx, -1)
	m.Sessions.Add(ctx, 1, metric.WithAttributes(Attr("status", status)))
	m.SessionDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(Attr("status", status)))
}

// RecordTranscriptSegment counts one accepted transcript segment and reports
// the merged transcript length.
func (m *Metrics) RecordTranscriptSegment(ctx context.Context, mergedLen int) {
	m.TranscriptSegments.Add(ctx, 1)
	m.TranscriptLength.Record(ctx, int64(mergedLen))
}

// ExchangeSaved implements session.Recorder.
func (m *Metrics) ExchangeSaved(status string) {
	m.MemorySaves.Add(context.Background(), 1, metric.WithAttributes(Attr("status", status)))
}
