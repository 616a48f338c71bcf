package observe_test

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/MrWong99/facesync/internal/observe"
)

const remoteTraceID = "4bf92f3577b34da6a3ce929d0e0e4736"

// contexts returns a background context, one with a local span and one
// carrying a remote parent from a client's traceparent header.
func contexts(t *testing.T) map[string]context.Context {
	t.Helper()
	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	local, span := tp.Tracer("facesync-test").Start(context.Background(), "POST /api/avatars/lateman/speak")
	t.Cleanup(func() { span.End() })

	remote := propagation.TraceContext{}.Extract(context.Background(), propagation.MapCarrier{
		"traceparent": "00-" + remoteTraceID + "-00f067aa0ba902b7-01",
	})
	return map[string]context.Context{
		"none":   context.Background(),
		"local":  local,
		"remote": remote,
	}
}

func TestCorrelationID(t *testing.T) {
	t.Parallel()
	ctxs := contexts(t)

	if got := observe.CorrelationID(ctxs["none"]); got != "" {
		t.Errorf("without span = %q, want empty", got)
	}
	if got := observe.CorrelationID(ctxs["remote"]); got != remoteTraceID {
		t.Errorf("remote parent = %q, want %q", got, remoteTraceID)
	}
	got := observe.CorrelationID(ctxs["local"])
	if len(got) != 32 || strings.Trim(got, "0123456789abcdef") != "" {
		t.Errorf("local span = %q, want 32 hex chars", got)
	}
}

func TestLogger(t *testing.T) {
	t.Parallel()
	ctxs := contexts(t)

	tests := []struct {
		ctx       string
		wantTrace string
	}{
		{ctx: "none"},
		{ctx: "remote", wantTrace: "trace_id=" + remoteTraceID},
		{ctx: "local", wantTrace: "trace_id=" + observe.CorrelationID(ctxs["local"])},
	}
	for _, tc := range tests {
		t.Run(tc.ctx, func(t *testing.T) {
			var buf bytes.Buffer
			base := slog.New(slog.NewTextHandler(&buf, nil)).With("avatar", "lateman")
			observe.Logger(ctxs[tc.ctx], base).Info("speech accepted")

			out := buf.String()
			if !strings.Contains(out, "avatar=lateman") {
				t.Errorf("base attributes lost: %s", out)
			}
			if tc.wantTrace == "" {
				if strings.Contains(out, "trace_id") {
					t.Errorf("unexpected trace_id: %s", out)
				}
				return
			}
			if !strings.Contains(out, tc.wantTrace) {
				t.Errorf("output = %s, want %s", out, tc.wantTrace)
			}
		})
	}
}

func TestLogger_NilBaseUsesDefault(t *testing.T) {
	t.Parallel()
	if observe.Logger(context.Background(), nil) != slog.Default() {
		t.Error("nil base did not fall back to slog.Default")
	}
}
