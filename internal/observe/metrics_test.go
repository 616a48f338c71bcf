package observe

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/facesync/internal/resilience"
	"github.com/MrWong99/facesync/pkg/lipsync"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumWhere returns the total of all int64 sum data points of metric name
// whose attributes include every key/value pair in match.
func sumWhere(t *testing.T, rm metricdata.ResourceMetrics, name string, match map[string]string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is %T, not a sum", name, met.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		if attrsMatch(dp.Attributes.ToSlice(), match) {
			total += dp.Value
		}
	}
	return total
}

// histCount returns the sample count of histogram name across data points
// matching match.
func histCount(t *testing.T, rm metricdata.ResourceMetrics, name string, match map[string]string) uint64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("metric %q is %T, not a histogram", name, met.Data)
	}
	var n uint64
	for _, dp := range hist.DataPoints {
		if attrsMatch(dp.Attributes.ToSlice(), match) {
			n += dp.Count
		}
	}
	return n
}

func attrsMatch(kvs []attribute.KeyValue, match map[string]string) bool {
	for k, v := range match {
		found := false
		for _, kv := range kvs {
			if string(kv.Key) == k && kv.Value.AsString() == v {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestSessionLifecycle(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.SessionStarted(ctx, "lateman")
	m.SessionEnded(ctx, "lateman", lipsync.OutcomeSuperseded)
	m.SessionStarted(ctx, "lateman")
	m.SessionEnded(ctx, "lateman", lipsync.OutcomeCompleted)
	m.SessionStarted(ctx, "oldman")

	rm := collect(t, reader)

	if got := sumWhere(t, rm, "facesync.sessions.submitted", map[string]string{"avatar": "lateman"}); got != 2 {
		t.Errorf("submitted(lateman) = %d, want 2", got)
	}
	if got := sumWhere(t, rm, "facesync.sessions.superseded", nil); got != 1 {
		t.Errorf("superseded = %d, want 1", got)
	}
	if got := sumWhere(t, rm, "facesync.sessions.completed", map[string]string{"outcome": "completed"}); got != 1 {
		t.Errorf("completed(outcome=completed) = %d, want 1", got)
	}
	if got := sumWhere(t, rm, "facesync.sessions.completed", nil); got != 2 {
		t.Errorf("completed(all) = %d, want 2", got)
	}
	if got := sumWhere(t, rm, "facesync.active_sessions", map[string]string{"avatar": "lateman"}); got != 0 {
		t.Errorf("active(lateman) = %d, want 0", got)
	}
	if got := sumWhere(t, rm, "facesync.active_sessions", map[string]string{"avatar": "oldman"}); got != 1 {
		t.Errorf("active(oldman) = %d, want 1", got)
	}
}

func TestTickAndScale(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.TickObserved(ctx, "lateman", 300*time.Microsecond)
	m.TickObserved(ctx, "lateman", 2*time.Millisecond)
	m.TimelineScaled(ctx, "lateman", 2)

	rm := collect(t, reader)
	if got := histCount(t, rm, "facesync.tick.duration", map[string]string{"avatar": "lateman"}); got != 2 {
		t.Errorf("tick samples = %d, want 2", got)
	}
	met := findMetric(rm, "facesync.timeline.scale_factor")
	if met == nil {
		t.Fatal("scale factor metric not found")
	}
	hist := met.Data.(metricdata.Histogram[float64])
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Sum != 2 {
		t.Errorf("scale factor data = %+v, want one sample of 2", hist.DataPoints)
	}
}

func TestRenderCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.FrameDrawn(ctx, "oldman")
	m.FrameDrawn(ctx, "oldman")
	m.RenderSkipped(ctx, "oldman")
	m.RenderFailed(ctx, "oldman")

	rm := collect(t, reader)
	tests := []struct {
		name string
		want int64
	}{
		{"facesync.frames.drawn", 2},
		{"facesync.render.skipped", 1},
		{"facesync.render.failures", 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := sumWhere(t, rm, tc.name, map[string]string{"avatar": "oldman"}); got != tc.want {
				t.Errorf("value = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestAssetLoaded(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.AssetLoaded(ctx, "lateman", 20*time.Millisecond, nil)
	m.AssetLoaded(ctx, "lateman", 30*time.Millisecond, nil)
	m.AssetLoaded(ctx, "lateman", time.Millisecond, errors.New("not found"))

	rm := collect(t, reader)
	if got := histCount(t, rm, "facesync.assets.load.duration", map[string]string{"status": "ok"}); got != 2 {
		t.Errorf("ok samples = %d, want 2", got)
	}
	if got := histCount(t, rm, "facesync.assets.load.duration", map[string]string{"status": "error"}); got != 1 {
		t.Errorf("error samples = %d, want 1", got)
	}
	if got := sumWhere(t, rm, "facesync.assets.failures", map[string]string{"avatar": "lateman"}); got != 1 {
		t.Errorf("failures = %d, want 1", got)
	}
}

func TestStoreCircuitChanged(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.StoreCircuitChanged(ctx, "http", resilience.StateClosed, resilience.StateOpen)
	m.StoreCircuitChanged(ctx, "http", resilience.StateOpen, resilience.StateHalfOpen)
	m.StoreCircuitChanged(ctx, "dir", resilience.StateClosed, resilience.StateOpen)

	rm := collect(t, reader)
	name := "facesync.assets.store.circuit_transitions"
	if got := sumWhere(t, rm, name, map[string]string{"store": "http"}); got != 2 {
		t.Errorf("http transitions = %d, want 2", got)
	}
	if got := sumWhere(t, rm, name, map[string]string{"to": "open"}); got != 2 {
		t.Errorf("transitions to open = %d, want 2", got)
	}
	if got := sumWhere(t, rm, name, map[string]string{"store": "http", "to": "half-open"}); got != 1 {
		t.Errorf("http half-open = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
