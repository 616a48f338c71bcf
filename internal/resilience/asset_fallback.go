package resilience

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/MrWong99/facesync/pkg/assets"
	"github.com/MrWong99/facesync/pkg/frames"
)

// Compile-time interface assertion.
var _ assets.Store = (*AssetFallback)(nil)

// Recorder receives asset store circuit transitions.
type Recorder interface {
	StoreCircuitChanged(ctx context.Context, store string, from, to State)
}

// AssetFallback implements [assets.Store] by trying a primary store and then
// zero or more fallback stores, each guarded by its own circuit breaker.
//
// A frame the store reports as missing ([assets.ErrNotFound]) or a cancelled
// request does not count against the store's breaker; the next store is still
// consulted for it.
type AssetFallback struct {
	group  *FallbackGroup[assets.Store]
	logger *slog.Logger
	rec    Recorder
}

// AssetFallbackOption configures an [AssetFallback].
type AssetFallbackOption func(*AssetFallback)

// WithLogger sets the logger for circuit transitions. Defaults to
// [slog.Default].
func WithLogger(l *slog.Logger) AssetFallbackOption {
	return func(f *AssetFallback) { f.logger = l }
}

// WithRecorder reports circuit transitions to rec.
func WithRecorder(rec Recorder) AssetFallbackOption {
	return func(f *AssetFallback) { f.rec = rec }
}

// NewAssetFallback creates an AssetFallback with primary as the first store.
// An OnStateChange hook in cfg is called in addition to the logger and
// recorder.
func NewAssetFallback(primary assets.Store, name string, cfg FallbackConfig, opts ...AssetFallbackOption) *AssetFallback {
	f := &AssetFallback{logger: slog.Default()}
	for _, o := range opts {
		o(f)
	}
	if cfg.CircuitBreaker.IsFailure == nil {
		cfg.CircuitBreaker.IsFailure = IsAssetFailure
	}
	hook := cfg.CircuitBreaker.OnStateChange
	cfg.CircuitBreaker.OnStateChange = func(store string, from, to State) {
		f.circuitChanged(store, from, to)
		if hook != nil {
			hook(store, from, to)
		}
	}
	f.group = NewFallbackGroup(primary, name, cfg)
	return f
}

// AddFallback registers an additional store tried after the primary.
func (f *AssetFallback) AddFallback(name string, s assets.Store) {
	f.group.AddFallback(name, s)
}

// Open implements [assets.Store].
func (f *AssetFallback) Open(ctx context.Context, avatar string, id frames.FrameID) (io.ReadCloser, error) {
	return ExecuteWithResult(f.group, func(s assets.Store) (io.ReadCloser, error) {
		return s.Open(ctx, avatar, id)
	})
}

// Breakers exposes the per-store breakers for health reporting.
func (f *AssetFallback) Breakers() []*CircuitBreaker {
	return f.group.Breakers()
}

// Reset closes every store's breaker so the next load tries the primary
// again.
func (f *AssetFallback) Reset() {
	for _, cb := range f.group.Breakers() {
		cb.Reset()
	}
}

func (f *AssetFallback) circuitChanged(store string, from, to State) {
	switch to {
	case StateOpen:
		f.logger.Warn("asset store circuit opened", "store", store, "from", from)
	case StateClosed:
		f.logger.Info("asset store circuit closed", "store", store, "from", from)
	default:
		f.logger.Info("asset store circuit probing", "store", store)
	}
	if f.rec != nil {
		f.rec.StoreCircuitChanged(context.Background(), store, from, to)
	}
}

// IsAssetFailure reports whether err indicates an unhealthy store rather than
// a missing frame or an abandoned request.
func IsAssetFailure(err error) bool {
	return !errors.Is(err, assets.ErrNotFound) &&
		!errors.Is(err, context.Canceled)
}
