package observe

import (
	"context"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/facesync/internal/observe"

// startRequestSpan opens the server span for r under ctx, which already
// carries any propagated remote parent.
func startRequestSpan(ctx context.Context, r *http.Request) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "HTTP "+r.Method+" "+r.URL.Path,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			semconv.HTTPRequestMethodKey.String(r.Method),
			semconv.URLPath(r.URL.Path),
		),
	)
}

// CorrelationID returns the trace id of the span in ctx, or "" without one.
// The middleware echoes it as X-Correlation-ID so a client can quote it when
// a speech request misbehaves.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// Logger returns base tagged with the trace id of ctx, if any. A nil base
// means [slog.Default].
func Logger(ctx context.Context, base *slog.Logger) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	if cid := CorrelationID(ctx); cid != "" {
		return base.With(slog.String("trace_id", cid))
	}
	return base
}
