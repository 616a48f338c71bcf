// Package mock provides manually driven implementations of [audio.Player] and
// [audio.Stream] for unit tests.
//
// A [Stream] has no clock of its own: tests move it through its lifecycle with
// [Stream.MarkReady], [Stream.SetPosition] and [Stream.Finish]. The [Player]
// records every payload it is asked to play and hands out a fresh Stream per
// call.
//
// Typical usage:
//
//	p := &mock.Player{}
//	ctrl := lipsync.New(p, sel, rend)
//	ctrl.Submit(ctx, req)
//	s := p.Last()
//	s.SetDuration(3 * time.Second)
//	s.MarkReady()
//	s.SetPosition(2500 * time.Millisecond)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/facesync/pkg/audio"
)

// ─── Stream ──────────────────────────────────────────────────────────────────

// Stream is a mock [audio.Stream] whose clock is set by the test.
type Stream struct {
	mu        sync.Mutex
	ready     chan struct{}
	done      chan struct{}
	readyOnce sync.Once
	doneOnce  sync.Once

	position time.Duration
	duration time.Duration
	known    bool
	err      error

	// StopCalls counts calls to Stop.
	StopCalls int
}

var _ audio.Stream = (*Stream)(nil)

// NewStream returns a stream in the loading state.
func NewStream() *Stream {
	return &Stream{
		ready: make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Ready implements [audio.Stream].
func (s *Stream) Ready() <-chan struct{} { return s.ready }

// Done implements [audio.Stream].
func (s *Stream) Done() <-chan struct{} { return s.done }

// Err implements [audio.Stream].
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Position implements [audio.Stream].
func (s *Stream) Position() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

// Duration implements [audio.Stream].
func (s *Stream) Duration() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duration, s.known
}

// Stop implements [audio.Stream]. It closes Done.
func (s *Stream) Stop() {
	s.mu.Lock()
	s.StopCalls++
	s.mu.Unlock()
	s.doneOnce.Do(func() { close(s.done) })
}

// Stopped reports whether Stop has been called at least once.
func (s *Stream) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.StopCalls > 0
}

// SetDuration makes the decoded duration known.
func (s *Stream) SetDuration(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.duration = d
	s.known = true
}

// SetPosition moves the playback clock.
func (s *Stream) SetPosition(p time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.position = p
}

// MarkReady closes Ready. Safe to call more than once.
func (s *Stream) MarkReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

// Finish ends the stream with err (nil for a clean completion) and closes Done.
func (s *Stream) Finish(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.doneOnce.Do(func() { close(s.done) })
}

// ─── Player ──────────────────────────────────────────────────────────────────

// Player is a mock [audio.Player].
type Player struct {
	mu sync.Mutex

	// PlayErr, when set, is returned by Play instead of a stream.
	PlayErr error

	// Payloads records every payload passed to Play, in call order.
	Payloads [][]byte

	// Streams records every stream returned by Play, in call order.
	Streams []*Stream

	// OnPlay, when set, is called with each new stream before Play returns.
	OnPlay func(*Stream)
}

var _ audio.Player = (*Player)(nil)

// Play implements [audio.Player].
func (p *Player) Play(_ context.Context, payload []byte) (audio.Stream, error) {
	p.mu.Lock()
	p.Payloads = append(p.Payloads, payload)
	if p.PlayErr != nil {
		err := p.PlayErr
		p.mu.Unlock()
		return nil, err
	}
	s := NewStream()
	p.Streams = append(p.Streams, s)
	hook := p.OnPlay
	p.mu.Unlock()

	if hook != nil {
		hook(s)
	}
	return s, nil
}

// Last returns the most recent stream, or nil if Play has not succeeded yet.
func (p *Player) Last() *Stream {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Streams) == 0 {
		return nil
	}
	return p.Streams[len(p.Streams)-1]
}

// Calls returns the number of times Play was called.
func (p *Player) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Payloads)
}
