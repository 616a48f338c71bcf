package lipsync

import (
	"context"
	"log/slog"
	"time"
)

// DefaultTickInterval is the render tick period (about 60 Hz).
const DefaultTickInterval = time.Second / 60

// Session outcomes reported to a [Recorder].
const (
	OutcomeCompleted  = "completed"
	OutcomeError      = "error"
	OutcomeSuperseded = "superseded"
	OutcomeStopped    = "stopped"
)

// Recorder receives session and tick measurements.
type Recorder interface {
	SessionStarted(ctx context.Context, avatar string)
	SessionEnded(ctx context.Context, avatar, outcome string)
	TickObserved(ctx context.Context, avatar string, d time.Duration)
	TimelineScaled(ctx context.Context, avatar string, factor float64)
}

// Ticker is the subset of [time.Ticker] the tick loop needs.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

func newTimeTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

// Option configures a [Controller].
type Option func(*Controller)

// WithTickInterval sets the tick period. Values <= 0 are ignored.
func WithTickInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithTicker replaces the ticker factory. Tests use it to drive ticks by hand.
func WithTicker(f func(time.Duration) Ticker) Option {
	return func(c *Controller) { c.newTicker = f }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithMetrics reports session outcomes and tick latency to r.
func WithMetrics(r Recorder) Option {
	return func(c *Controller) { c.rec = r }
}

// WithSessionIDs replaces the session id generator (random UUIDs by default).
func WithSessionIDs(f func() string) Option {
	return func(c *Controller) { c.newID = f }
}

// WithAvatar names the avatar instance in logs, metrics and status.
func WithAvatar(name string) Option {
	return func(c *Controller) { c.avatar = name }
}
