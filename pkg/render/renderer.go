package render

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"

	"github.com/MrWong99/facesync/pkg/assets"
	"github.com/MrWong99/facesync/pkg/frames"
)

// Recorder receives per-draw outcomes.
type Recorder interface {
	FrameDrawn(ctx context.Context, avatar string)
	RenderSkipped(ctx context.Context, avatar string)
	RenderFailed(ctx context.Context, avatar string)
}

// Renderer draws frames from an asset cache onto a [Surface].
//
// Composited frames are memoised per frame id because the same handful of
// images is drawn over and over. Draw never panics and never returns an
// error: failures are logged, counted and leave the surface untouched.
type Renderer struct {
	cache   *assets.Cache
	opts    Options
	surface *Surface
	logger  *slog.Logger
	rec     Recorder

	mu   sync.Mutex
	memo map[frames.FrameID]*image.NRGBA
}

// RendererOption configures a [Renderer].
type RendererOption func(*Renderer)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) RendererOption {
	return func(r *Renderer) { r.logger = l }
}

// WithRecorder reports draw outcomes to rec.
func WithRecorder(rec Recorder) RendererOption {
	return func(r *Renderer) { r.rec = rec }
}

// WithSurface draws onto s instead of a fresh surface.
func WithSurface(s *Surface) RendererOption {
	return func(r *Renderer) { r.surface = s }
}

// New creates a Renderer that reads frames from cache.
func New(cache *assets.Cache, opts Options, ropts ...RendererOption) *Renderer {
	r := &Renderer{
		cache:  cache,
		opts:   opts,
		logger: slog.Default(),
		memo:   make(map[frames.FrameID]*image.NRGBA),
	}
	for _, o := range ropts {
		o(r)
	}
	if r.surface == nil {
		r.surface = NewSurface()
	}
	r.logger = r.logger.With("avatar", cache.Avatar())
	return r
}

// Surface returns the surface this renderer draws on.
func (r *Renderer) Surface() *Surface { return r.surface }

// Draw composites frame id and publishes it. It returns true if the surface
// now shows id. A frame that is not cached yet is skipped.
func (r *Renderer) Draw(id frames.FrameID) (ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx := context.Background()
	avatar := r.cache.Avatar()

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("render panic", "frame", id, "panic", fmt.Sprint(p))
			if r.rec != nil {
				r.rec.RenderFailed(ctx, avatar)
			}
			ok = false
		}
	}()

	out, hit := r.memo[id]
	if !hit {
		src, cached := r.cache.Get(id)
		if !cached {
			r.logger.Debug("frame not loaded, keeping previous", "frame", id)
			if r.rec != nil {
				r.rec.RenderSkipped(ctx, avatar)
			}
			return false
		}
		var err error
		out, err = Compose(src, r.opts)
		if err != nil {
			r.logger.Warn("compose frame", "frame", id, "error", err)
			if r.rec != nil {
				r.rec.RenderFailed(ctx, avatar)
			}
			return false
		}
		r.memo[id] = out
	}

	r.surface.publish(out, id)
	if r.rec != nil {
		r.rec.FrameDrawn(ctx, avatar)
	}
	return true
}

// Forget drops memoised composites, e.g. after the asset cache was released.
func (r *Renderer) Forget() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.memo)
}
