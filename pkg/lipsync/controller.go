// Package lipsync drives an avatar's mouth from speech audio.
//
// A [Controller] owns at most one playback session per avatar instance. Each
// session plays one [SpeechRequest]: it starts an [audio.Stream], waits for
// the stream to become ready, then runs a tick loop that reads the playback
// position, rescales the viseme timeline once the real duration is known,
// resolves the active viseme, selects a frame and renders it.
//
// Submitting a new request while a session is loading or playing replaces it.
// The old session's tick goroutine is stopped and joined before its audio is
// stopped, so no stale tick ever draws over the new session.
package lipsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/facesync/pkg/audio"
	"github.com/MrWong99/facesync/pkg/frames"
	"github.com/MrWong99/facesync/pkg/render"
	"github.com/MrWong99/facesync/pkg/viseme"
)

// ErrClosed is returned by [Controller.Submit] after [Controller.Close].
var ErrClosed = errors.New("lipsync: controller closed")

// ErrEmptyAudio is returned by [Controller.Submit] for a request without audio.
var ErrEmptyAudio = errors.New("lipsync: empty audio payload")

const tracerName = "github.com/MrWong99/facesync/pkg/lipsync"

// SpeechRequest is one utterance to lip-sync. The timeline is an estimate
// produced alongside the audio; the controller copies it on submission.
type SpeechRequest struct {
	Text     string
	Audio    []byte
	Timeline viseme.Timeline
}

// Controller runs playback sessions for a single avatar instance.
//
// All methods are safe for concurrent use.
type Controller struct {
	player   audio.Player
	selector frames.Selector
	renderer *render.Renderer

	avatar    string
	interval  time.Duration
	newTicker func(time.Duration) Ticker
	newID     func() string
	logger    *slog.Logger
	rec       Recorder
	tracer    trace.Tracer

	// mu serialises lifecycle changes (Submit, Stop, Close).
	mu     sync.Mutex
	closed bool
	active *session

	stateMu sync.RWMutex
	status  Status

	subMu      sync.Mutex
	subs       map[int]chan Status
	nextSub    int
	subsClosed bool
}

// session is the state of one playback. Fields below stop/done are touched
// only by the session's tick goroutine until done is closed.
type session struct {
	id     string
	text   string
	stream audio.Stream
	scaler *viseme.Scaler
	cancel context.CancelFunc
	logger *slog.Logger
	ctx    context.Context

	stop chan struct{}
	done chan struct{}

	finished bool

	// shown is the frame this session last put on the surface.
	shown    frames.FrameID
	hasShown bool
}

// New creates a Controller. renderer may be nil for headless use, in which
// case frames are selected but never drawn.
func New(player audio.Player, selector frames.Selector, renderer *render.Renderer, opts ...Option) *Controller {
	c := &Controller{
		player:    player,
		selector:  selector,
		renderer:  renderer,
		interval:  DefaultTickInterval,
		newTicker: newTimeTicker,
		newID:     uuid.NewString,
		logger:    slog.Default(),
		tracer:    otel.Tracer(tracerName),
		subs:      make(map[int]chan Status),
	}
	for _, o := range opts {
		o(c)
	}
	if c.avatar != "" {
		c.logger = c.logger.With("avatar", c.avatar)
	}

	rest := selector.Rest()
	c.draw(rest)
	c.status = c.idleStatus()
	return c
}

// Avatar returns the configured avatar name.
func (c *Controller) Avatar() string { return c.avatar }

func (c *Controller) idleStatus() Status {
	return Status{
		Avatar:      c.avatar,
		State:       StateIdle,
		ScaleFactor: 1,
		Viseme:      viseme.Silence,
		Frame:       c.selector.Rest(),
	}
}

// Submit replaces any active session with a new one playing req and returns
// the new session id. It returns once audio playback has been requested; the
// session moves from loading to playing asynchronously.
func (c *Controller) Submit(ctx context.Context, req SpeechRequest) (string, error) {
	ctx, span := c.tracer.Start(ctx, "lipsync.Submit",
		trace.WithAttributes(
			attribute.String("avatar", c.avatar),
			attribute.Int("timeline.events", len(req.Timeline)),
			attribute.Int("audio.bytes", len(req.Audio)),
		),
	)
	defer span.End()

	if len(req.Audio) == 0 {
		span.SetStatus(codes.Error, ErrEmptyAudio.Error())
		return "", ErrEmptyAudio
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", ErrClosed
	}

	c.teardownLocked(OutcomeSuperseded)

	id := c.newID()
	span.SetAttributes(attribute.String("session_id", id))
	log := c.logger.With("session_id", id)
	tl := req.Timeline.Clone()

	// Playback outlives the caller's context (typically an HTTP request); it is
	// bounded by the session instead.
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stream, err := c.player.Play(sctx, req.Audio)
	if err != nil {
		cancel()
		span.SetStatus(codes.Error, err.Error())
		log.Error("start audio", "error", err)
		c.setStatus(func(st *Status) {
			*st = c.idleStatus()
			st.SessionID = id
			st.Text = req.Text
			st.State = StateError
			st.Err = err.Error()
		})
		c.record(func(r Recorder) {
			r.SessionStarted(sctx, c.avatar)
			r.SessionEnded(sctx, c.avatar, OutcomeError)
		})
		return "", fmt.Errorf("lipsync: start audio: %w", err)
	}

	s := &session{
		id:     id,
		text:   req.Text,
		stream: stream,
		scaler: viseme.NewScaler(tl),
		cancel: cancel,
		logger: log,
		ctx:    sctx,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	c.active = s
	c.selector.Reset()

	switch {
	case len(tl) == 0:
		log.Warn("empty viseme timeline, mouth stays at rest", "degraded", true)
	case !tl.Sorted():
		log.Warn("viseme timeline out of order", "events", len(tl))
	}

	c.setStatus(func(st *Status) {
		*st = c.idleStatus()
		st.SessionID = id
		st.Text = req.Text
		st.State = StateLoading
		st.EstimatedDuration = s.scaler.Estimated()
	})
	c.record(func(r Recorder) { r.SessionStarted(sctx, c.avatar) })
	log.Info("session submitted", "events", len(tl), "estimated", s.scaler.Estimated())

	go c.run(s)
	return id, nil
}

// Stop ends the active session without starting a new one. The avatar
// returns to its rest frame. Stopping a finished or absent session is a no-op.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardownLocked(OutcomeStopped)
}

// Close stops the active session, rejects further submissions and closes
// every subscription channel.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.teardownLocked(OutcomeStopped)
	c.mu.Unlock()

	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.subsClosed = true
	for id, ch := range c.subs {
		close(ch)
		delete(c.subs, id)
	}
	return nil
}

// Status returns the latest snapshot.
func (c *Controller) Status() Status {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.status
}

// teardownLocked stops the active session. Must be called with c.mu held.
func (c *Controller) teardownLocked(outcome string) {
	s := c.active
	if s == nil {
		return
	}
	c.active = nil

	close(s.stop)
	<-s.done
	s.stream.Stop()
	s.cancel()

	if s.finished {
		return
	}
	s.logger.Info("session ended", "outcome", outcome)
	c.record(func(r Recorder) { r.SessionEnded(s.ctx, c.avatar, outcome) })
	c.selector.Reset()
	c.draw(c.selector.Rest())
	c.setStatus(func(st *Status) { *st = c.idleStatus() })
}

// run is the session goroutine: it waits for the stream, then ticks until the
// stream ends or the session is stopped.
func (c *Controller) run(s *session) {
	defer close(s.done)

	select {
	case <-s.stop:
		return
	case <-s.stream.Done():
		c.finish(s)
		return
	case <-s.stream.Ready():
	}

	c.setStatus(func(st *Status) {
		st.State = StatePlaying
		st.Speaking = true
	})
	s.logger.Debug("playback started")
	c.tick(s)

	ticker := c.newTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-s.stream.Done():
			c.finish(s)
			return
		case <-ticker.C():
			c.tick(s)
		}
	}
}

// tick advances the session by one render step.
func (c *Controller) tick(s *session) {
	start := time.Now()

	elapsed := s.stream.Position().Seconds()
	var actual float64
	if d, ok := s.stream.Duration(); ok {
		actual = d.Seconds()
		if s.scaler.Observe(actual) {
			s.logger.Debug("timeline scaled",
				"estimated", s.scaler.Estimated(),
				"actual", actual,
				"factor", s.scaler.Factor(),
			)
			c.record(func(r Recorder) { r.TimelineScaled(s.ctx, c.avatar, s.scaler.Factor()) })
		}
	}

	class, _ := viseme.Resolve(s.scaler.Timeline(), elapsed)
	id, changed := c.selector.Select(class, elapsed)
	drawn := false
	if changed || !s.hasShown || s.shown != id {
		// A skipped frame is retried on later ticks until its asset loads.
		if drawn = c.draw(id); drawn {
			s.shown, s.hasShown = id, true
		}
	}

	c.setStatus(func(st *Status) {
		st.Elapsed = elapsed
		st.ActualDuration = actual
		st.ScaleFactor = s.scaler.Factor()
		st.Viseme = class
		if drawn {
			st.Frame = id
		}
		st.Speaking = true
		st.Progress = progress(elapsed, actual)
	})
	c.record(func(r Recorder) { r.TickObserved(s.ctx, c.avatar, time.Since(start)) })
}

// finish handles the natural end of a stream, successful or not.
func (c *Controller) finish(s *session) {
	s.finished = true
	err := s.stream.Err()

	c.selector.Reset()
	c.draw(c.selector.Rest())

	if err != nil {
		s.logger.Error("playback failed", "error", err)
		c.setStatus(func(st *Status) {
			st.State = StateError
			st.Err = err.Error()
			st.Speaking = false
			st.Elapsed = 0
			st.Progress = 0
			st.Viseme = viseme.Silence
			st.Frame = c.selector.Rest()
		})
		c.record(func(r Recorder) { r.SessionEnded(s.ctx, c.avatar, OutcomeError) })
		return
	}

	s.logger.Info("session completed", "duration", s.stream.Position())
	c.setStatus(func(st *Status) {
		st.State = StateEnded
		st.Speaking = false
		st.Elapsed = 0
		st.Progress = 0
		st.Viseme = viseme.Silence
		st.Frame = c.selector.Rest()
		if d, ok := s.stream.Duration(); ok {
			st.ActualDuration = d.Seconds()
		}
	})
	c.record(func(r Recorder) { r.SessionEnded(s.ctx, c.avatar, OutcomeCompleted) })
}

// draw reports whether id is now shown. Headless controllers always succeed.
func (c *Controller) draw(id frames.FrameID) bool {
	if c.renderer == nil {
		return true
	}
	return c.renderer.Draw(id)
}

func (c *Controller) record(fn func(Recorder)) {
	if c.rec != nil {
		fn(c.rec)
	}
}

// setStatus applies fn to the status and publishes the result.
func (c *Controller) setStatus(fn func(*Status)) {
	c.stateMu.Lock()
	seq := c.status.Seq
	fn(&c.status)
	c.status.Seq = seq + 1
	snap := c.status
	c.stateMu.Unlock()

	c.publish(snap)
}
