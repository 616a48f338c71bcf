// Package observe provides application-wide observability primitives for
// facesync: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
//
// [Metrics] implements the Recorder interfaces of packages assets, render,
// lipsync and resilience, so one instance can be handed to every component of
// an avatar and to the asset store.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/facesync/internal/resilience"
	"github.com/MrWong99/facesync/pkg/assets"
	"github.com/MrWong99/facesync/pkg/lipsync"
	"github.com/MrWong99/facesync/pkg/render"
)

// meterName is the instrumentation scope name used for all facesync metrics.
const meterName = "github.com/MrWong99/facesync"

var (
	_ assets.Recorder  = (*Metrics)(nil)
	_ render.Recorder  = (*Metrics)(nil)
	_ lipsync.Recorder = (*Metrics)(nil)

	_ resilience.Recorder = (*Metrics)(nil)
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Sessions ---

	// SessionsSubmitted counts accepted speech requests. Attribute: avatar.
	SessionsSubmitted metric.Int64Counter

	// SessionsSuperseded counts sessions replaced by a newer submission.
	SessionsSuperseded metric.Int64Counter

	// SessionsCompleted counts ended sessions. Attributes: avatar, outcome.
	SessionsCompleted metric.Int64Counter

	// ActiveSessions tracks loading or playing sessions across all avatars.
	ActiveSessions metric.Int64UpDownCounter

	// --- Tick loop ---

	// TickDuration tracks the processing time of one render tick.
	TickDuration metric.Float64Histogram

	// ScaleFactor records the timeline scale factor applied per session.
	ScaleFactor metric.Float64Histogram

	// --- Rendering ---

	FramesDrawn    metric.Int64Counter
	RenderFailures metric.Int64Counter
	RenderSkips    metric.Int64Counter

	// --- Assets ---

	// AssetLoadDuration tracks the fetch and decode time of one frame.
	// Attributes: avatar, status.
	AssetLoadDuration metric.Float64Histogram

	// AssetFailures counts frames that could not be loaded.
	AssetFailures metric.Int64Counter

	// StoreCircuitTransitions counts asset store breaker state changes.
	// Attributes: store, from, to.
	StoreCircuitTransitions metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for asset
// loads and HTTP requests.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// tickBuckets covers sub-millisecond tick work up to a blown 60 Hz budget.
var tickBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.0167, 0.025, 0.05,
}

var scaleBuckets = []float64{
	0.5, 0.75, 0.9, 0.95, 1, 1.05, 1.1, 1.25, 1.5, 2,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Sessions.
	if met.SessionsSubmitted, err = m.Int64Counter("facesync.sessions.submitted",
		metric.WithDescription("Total speech sessions submitted by avatar."),
	); err != nil {
		return nil, err
	}
	if met.SessionsSuperseded, err = m.Int64Counter("facesync.sessions.superseded",
		metric.WithDescription("Total sessions replaced by a newer submission."),
	); err != nil {
		return nil, err
	}
	if met.SessionsCompleted, err = m.Int64Counter("facesync.sessions.completed",
		metric.WithDescription("Total ended sessions by avatar and outcome."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("facesync.active_sessions",
		metric.WithDescription("Number of loading or playing sessions."),
	); err != nil {
		return nil, err
	}

	// Tick loop.
	if met.TickDuration, err = m.Float64Histogram("facesync.tick.duration",
		metric.WithDescription("Processing time of one render tick."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(tickBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ScaleFactor, err = m.Float64Histogram("facesync.timeline.scale_factor",
		metric.WithDescription("Ratio of decoded audio duration to estimated timeline duration."),
		metric.WithExplicitBucketBoundaries(scaleBuckets...),
	); err != nil {
		return nil, err
	}

	// Rendering.
	if met.FramesDrawn, err = m.Int64Counter("facesync.frames.drawn",
		metric.WithDescription("Total frames published to a render surface."),
	); err != nil {
		return nil, err
	}
	if met.RenderFailures, err = m.Int64Counter("facesync.render.failures",
		metric.WithDescription("Total draws that failed while compositing."),
	); err != nil {
		return nil, err
	}
	if met.RenderSkips, err = m.Int64Counter("facesync.render.skipped",
		metric.WithDescription("Total draws skipped because the frame was not loaded."),
	); err != nil {
		return nil, err
	}

	// Assets.
	if met.AssetLoadDuration, err = m.Float64Histogram("facesync.assets.load.duration",
		metric.WithDescription("Latency of fetching and decoding one frame image."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AssetFailures, err = m.Int64Counter("facesync.assets.failures",
		metric.WithDescription("Total frame images that failed to load."),
	); err != nil {
		return nil, err
	}

	if met.StoreCircuitTransitions, err = m.Int64Counter("facesync.assets.store.circuit_transitions",
		metric.WithDescription("Asset store circuit breaker state changes by store."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("facesync.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

func avatarAttr(avatar string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("avatar", avatar))
}

// ── lipsync.Recorder ────────────────────────────────────────────────────────

// SessionStarted records an accepted submission.
func (m *Metrics) SessionStarted(ctx context.Context, avatar string) {
	m.SessionsSubmitted.Add(ctx, 1, avatarAttr(avatar))
	m.ActiveSessions.Add(ctx, 1, avatarAttr(avatar))
}

// SessionEnded records the end of a session with its outcome.
func (m *Metrics) SessionEnded(ctx context.Context, avatar, outcome string) {
	m.ActiveSessions.Add(ctx, -1, avatarAttr(avatar))
	m.SessionsCompleted.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("avatar", avatar),
			attribute.String("outcome", outcome),
		),
	)
	if outcome == lipsync.OutcomeSuperseded {
		m.SessionsSuperseded.Add(ctx, 1, avatarAttr(avatar))
	}
}

// TickObserved records the processing time of one tick.
func (m *Metrics) TickObserved(ctx context.Context, avatar string, d time.Duration) {
	m.TickDuration.Record(ctx, d.Seconds(), avatarAttr(avatar))
}

// TimelineScaled records the scale factor applied to a session timeline.
func (m *Metrics) TimelineScaled(ctx context.Context, avatar string, factor float64) {
	m.ScaleFactor.Record(ctx, factor, avatarAttr(avatar))
}

// ── render.Recorder ─────────────────────────────────────────────────────────

// FrameDrawn records a published frame.
func (m *Metrics) FrameDrawn(ctx context.Context, avatar string) {
	m.FramesDrawn.Add(ctx, 1, avatarAttr(avatar))
}

// RenderSkipped records a draw skipped for a frame that is not loaded.
func (m *Metrics) RenderSkipped(ctx context.Context, avatar string) {
	m.RenderSkips.Add(ctx, 1, avatarAttr(avatar))
}

// RenderFailed records a compositing failure.
func (m *Metrics) RenderFailed(ctx context.Context, avatar string) {
	m.RenderFailures.Add(ctx, 1, avatarAttr(avatar))
}

// ── assets.Recorder ─────────────────────────────────────────────────────────

// AssetLoaded records one frame load attempt.
func (m *Metrics) AssetLoaded(ctx context.Context, avatar string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		m.AssetFailures.Add(ctx, 1, avatarAttr(avatar))
	}
	m.AssetLoadDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(
			attribute.String("avatar", avatar),
			attribute.String("status", status),
		),
	)
}

// ── resilience.Recorder ─────────────────────────────────────────────────────

// StoreCircuitChanged records an asset store breaker transition.
func (m *Metrics) StoreCircuitChanged(ctx context.Context, store string, from, to resilience.State) {
	m.StoreCircuitTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("store", store),
			attribute.String("from", from.String()),
			attribute.String("to", to.String()),
		),
	)
}
