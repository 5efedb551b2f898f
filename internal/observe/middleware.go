package observe

import (
	"net/http"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// traceware instruments one wrapped handler: a server span per request,
// W3C trace context propagation in both directions, the request-duration
// histogram, and a completion log line carrying the trace id.
type traceware struct {
	next    http.Handler
	metrics *Metrics
	prop    propagation.TraceContext
}

// Middleware wraps handlers with tracing, metrics, and request logging.
// The trace id is echoed to clients as X-Correlation-ID so a display client
// bug report can be joined to server traces.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return &traceware{next: next, metrics: m}
	}
}

func (t *traceware) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	ctx := t.prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := StartSpan(ctx, "HTTP "+r.Method+" "+r.URL.Path,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			semconv.HTTPRequestMethodKey.String(r.Method),
			semconv.URLPath(r.URL.Path),
		),
	)
	defer span.End()

	if cid := CorrelationID(ctx); cid != "" {
		w.Header().Set("X-Correlation-ID", cid)
	}
	t.prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

	sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
	t.next.ServeHTTP(sw, r.WithContext(ctx))

	elapsed := time.Since(start)
	span.SetAttributes(semconv.HTTPResponseStatusCode(sw.status))
	t.metrics.HTTPRequestDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(
			Attr("method", r.Method),
			Attr("path", r.URL.Path),
		),
	)

	Logger(ctx).Info("request completed",
		"method", r.Method,
		"path", r.URL.Path,
		"status", sw.status,
		"duration", elapsed,
	)
}

// statusWriter remembers the status code for the span and the log line.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap exposes the wrapped writer so connection upgrades (WebSocket
// hijacking) can reach the underlying http.Hijacker.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
