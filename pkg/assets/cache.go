package assets

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"log/slog"
	"maps"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register decoder
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/facesync/pkg/frames"
)

// DefaultConcurrency bounds the number of frames fetched in parallel by
// [Cache.Load].
const DefaultConcurrency = 8

const tracerName = "github.com/MrWong99/facesync/pkg/assets"

// Recorder receives per-frame load measurements.
type Recorder interface {
	AssetLoaded(ctx context.Context, avatar string, d time.Duration, err error)
}

// Cache holds the decoded frames of one avatar instance. Images are stored as
// [*image.NRGBA] so the renderer can crop them without conversion.
//
// All methods are safe for concurrent use. [Cache.Get] never blocks on I/O.
type Cache struct {
	store  Store
	avatar string
	limit  int
	logger *slog.Logger
	rec    Recorder
	tracer trace.Tracer

	mu       sync.RWMutex
	images   map[frames.FrameID]*image.NRGBA
	failures map[frames.FrameID]error
	loaded   bool
}

// CacheOption configures a [Cache].
type CacheOption func(*Cache)

// WithConcurrency bounds parallel fetches. Values <= 0 are ignored.
func WithConcurrency(n int) CacheOption {
	return func(c *Cache) {
		if n > 0 {
			c.limit = n
		}
	}
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) CacheOption {
	return func(c *Cache) { c.logger = l }
}

// WithRecorder reports load latency and failures to r.
func WithRecorder(r Recorder) CacheOption {
	return func(c *Cache) { c.rec = r }
}

// NewCache creates an empty cache for avatar backed by store.
func NewCache(store Store, avatar string, opts ...CacheOption) *Cache {
	c := &Cache{
		store:    store,
		avatar:   avatar,
		limit:    DefaultConcurrency,
		logger:   slog.Default(),
		tracer:   otel.Tracer(tracerName),
		images:   make(map[frames.FrameID]*image.NRGBA),
		failures: make(map[frames.FrameID]error),
	}
	for _, o := range opts {
		o(c)
	}
	c.logger = c.logger.With("avatar", avatar)
	return c
}

// Avatar returns the name of the avatar whose frames this cache holds.
func (c *Cache) Avatar() string { return c.avatar }

// Load fetches and decodes ids concurrently. Frames already cached are
// skipped. Individual failures are recorded (see [Cache.Failures]) and do not
// abort the load: a missing frame only means that frame cannot be drawn.
// The returned error is non-nil only if ctx is cancelled.
//
// After Load returns successfully [Cache.Ready] reports true.
func (c *Cache) Load(ctx context.Context, ids []frames.FrameID) error {
	ctx, span := c.tracer.Start(ctx, "assets.Load",
		trace.WithAttributes(
			attribute.String("avatar", c.avatar),
			attribute.Int("frames", len(ids)),
		),
	)
	defer span.End()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.limit)
	for _, id := range ids {
		if _, ok := c.Get(id); ok {
			continue
		}
		g.Go(func() error {
			start := time.Now()
			img, err := c.fetch(gctx, id)
			if c.rec != nil {
				c.rec.AssetLoaded(gctx, c.avatar, time.Since(start), err)
			}
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				c.mu.Lock()
				c.failures[id] = err
				c.mu.Unlock()
				if errors.Is(err, ErrNotFound) {
					c.logger.Debug("frame missing", "frame", id)
				} else {
					c.logger.Warn("frame load failed", "frame", id, "error", err)
				}
				return nil
			}
			c.mu.Lock()
			c.images[id] = img
			delete(c.failures, id)
			c.mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("assets: load %s: %w", c.avatar, err)
	}

	c.mu.Lock()
	c.loaded = true
	loaded, failed := len(c.images), len(c.failures)
	c.mu.Unlock()

	span.SetAttributes(attribute.Int("loaded", loaded), attribute.Int("failed", failed))
	if failed > 0 {
		c.logger.Info("avatar frames loaded with gaps", "loaded", loaded, "failed", failed)
	} else {
		c.logger.Debug("avatar frames loaded", "loaded", loaded)
	}
	return nil
}

func (c *Cache) fetch(ctx context.Context, id frames.FrameID) (*image.NRGBA, error) {
	rc, err := c.store.Open(ctx, c.avatar, id)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	img, _, err := image.Decode(rc)
	if err != nil {
		return nil, fmt.Errorf("assets: decode frame %d: %w", id, err)
	}
	return toNRGBA(img), nil
}

// toNRGBA returns img as a zero-origin *image.NRGBA, converting when needed.
func toNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok && n.Rect.Min == (image.Point{}) {
		return n
	}
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// Get returns the decoded frame if it has been loaded.
func (c *Cache) Get(id frames.FrameID) (*image.NRGBA, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	img, ok := c.images[id]
	return img, ok
}

// Ready reports whether at least one [Cache.Load] has completed since the
// last [Cache.Release].
func (c *Cache) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}

// Len returns the number of decoded frames currently cached.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.images)
}

// Failures returns a copy of the per-frame load errors.
func (c *Cache) Failures() map[frames.FrameID]error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.failures)
}

// Release drops every cached image. The cache can be loaded again afterwards.
func (c *Cache) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.images)
	clear(c.failures)
	c.loaded = false
}
