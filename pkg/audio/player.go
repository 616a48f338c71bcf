// Package audio decodes speech payloads and plays them back in real time.
//
// A [Player] starts a [Stream] per payload. The stream decodes asynchronously,
// signals [Stream.Ready] once the real duration is known, then paces PCM
// chunks to an output sink at wall-clock speed. [Stream.Position] is the
// authoritative playback clock that lip-sync rendering follows.
//
// This package lives under pkg/ so alternative sinks (sound cards, WebRTC
// tracks) can implement [Player] without depending on the service internals.
package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrEmptyPayload is returned by [PCMPlayer.Play] for a zero-length payload.
var ErrEmptyPayload = errors.New("audio: empty payload")

// DefaultChunk is the duration of PCM written to the sink per pacing step.
const DefaultChunk = 20 * time.Millisecond

// Player starts playback of encoded audio payloads.
type Player interface {
	// Play begins decoding payload and returns immediately. Decoding and
	// pacing happen on a background goroutine; ctx bounds both.
	Play(ctx context.Context, payload []byte) (Stream, error)
}

// Stream is a single playback of one payload.
//
// All methods are safe for concurrent use.
type Stream interface {
	// Ready is closed once the payload is decoded and playback has started.
	// It is never closed if decoding fails.
	Ready() <-chan struct{}

	// Done is closed when playback completes, fails or is stopped.
	Done() <-chan struct{}

	// Err returns the failure that ended the stream, or nil after a clean
	// completion or Stop.
	Err() error

	// Position returns the current playback position.
	Position() time.Duration

	// Duration returns the decoded length. ok is false until it is known.
	Duration() (d time.Duration, ok bool)

	// Stop halts playback. Safe to call more than once.
	Stop()
}

// PCMPlayer decodes payloads with [Decode], converts them to one output
// [Format] and writes fixed-size chunks to a sink callback in real time.
type PCMPlayer struct {
	output func(AudioFrame)
	format Format
	chunk  time.Duration
	logger *slog.Logger
}

var _ Player = (*PCMPlayer)(nil)

// PlayerOption configures a [PCMPlayer].
type PlayerOption func(*PCMPlayer)

// WithFormat sets the output format. Invalid formats are ignored.
func WithFormat(f Format) PlayerOption {
	return func(p *PCMPlayer) {
		if f.Validate() == nil {
			p.format = f
		}
	}
}

// WithChunk sets the pacing step. Values <= 0 are ignored.
func WithChunk(d time.Duration) PlayerOption {
	return func(p *PCMPlayer) {
		if d > 0 {
			p.chunk = d
		}
	}
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) PlayerOption {
	return func(p *PCMPlayer) { p.logger = l }
}

// NewPlayer creates a PCMPlayer that writes chunks to output. output is
// called from the stream goroutine and must not block for long; a nil output
// discards audio and only runs the clock.
func NewPlayer(output func(AudioFrame), opts ...PlayerOption) *PCMPlayer {
	p := &PCMPlayer{
		output: output,
		format: DefaultFormat,
		chunk:  DefaultChunk,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	if p.output == nil {
		p.output = func(AudioFrame) {}
	}
	return p
}

// Format returns the output format.
func (p *PCMPlayer) Format() Format { return p.format }

// Play implements [Player].
func (p *PCMPlayer) Play(ctx context.Context, payload []byte) (Stream, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}
	s := newPCMStream()
	go s.run(ctx, p, payload)
	return s, nil
}

// pcmStream is the [Stream] produced by [PCMPlayer].
type pcmStream struct {
	ready    chan struct{}
	done     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once

	err      atomic.Pointer[error]
	duration atomic.Int64 // ns; -1 until decoded
	started  atomic.Int64 // unix ns of playback start; 0 before
	frozen   atomic.Int64 // ns; -1 while running
}

func newPCMStream() *pcmStream {
	s := &pcmStream{
		ready: make(chan struct{}),
		done:  make(chan struct{}),
		stop:  make(chan struct{}),
	}
	s.duration.Store(-1)
	s.frozen.Store(-1)
	return s
}

func (s *pcmStream) Ready() <-chan struct{} { return s.ready }
func (s *pcmStream) Done() <-chan struct{}  { return s.done }

func (s *pcmStream) Err() error {
	if p := s.err.Load(); p != nil {
		return *p
	}
	return nil
}

func (s *pcmStream) setErr(err error) {
	s.err.Store(&err)
}

func (s *pcmStream) Duration() (time.Duration, bool) {
	d := s.duration.Load()
	return time.Duration(d), d >= 0
}

func (s *pcmStream) Position() time.Duration {
	if f := s.frozen.Load(); f >= 0 {
		return time.Duration(f)
	}
	start := s.started.Load()
	if start == 0 {
		return 0
	}
	pos := time.Since(time.Unix(0, start))
	if d := s.duration.Load(); d >= 0 && pos > time.Duration(d) {
		pos = time.Duration(d)
	}
	return pos
}

func (s *pcmStream) Stop() {
	s.stopOnce.Do(func() {
		s.frozen.CompareAndSwap(-1, int64(s.Position()))
		close(s.stop)
	})
}

func (s *pcmStream) run(ctx context.Context, p *PCMPlayer, payload []byte) {
	defer close(s.done)

	clip, err := Decode(payload)
	if err != nil {
		s.setErr(err)
		return
	}
	conv := FormatConverter{Target: p.format}
	clip = conv.ConvertClip(clip)
	total := clip.Duration()
	s.duration.Store(int64(total))

	select {
	case <-s.stop:
		return
	case <-ctx.Done():
		s.setErr(ctx.Err())
		return
	default:
	}

	start := time.Now()
	s.started.Store(start.UnixNano())
	close(s.ready)
	p.logger.Debug("audio playback started", "duration", total, "format", clip.Format.String())

	frameSize := 2 * clip.Channels
	chunkBytes := int(int64(clip.BytesPerSecond()) * int64(p.chunk) / int64(time.Second))
	chunkBytes = max(frameSize, chunkBytes-chunkBytes%frameSize)

	ticker := time.NewTicker(p.chunk)
	defer ticker.Stop()

	for off := 0; off < len(clip.PCM); {
		end := min(off+chunkBytes, len(clip.PCM))
		p.output(AudioFrame{
			Data:       clip.PCM[off:end],
			SampleRate: clip.SampleRate,
			Channels:   clip.Channels,
			Timestamp:  time.Duration(off/frameSize) * time.Second / time.Duration(clip.SampleRate),
		})
		off = end

		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			s.frozen.CompareAndSwap(-1, int64(s.Position()))
			s.setErr(fmt.Errorf("audio: playback interrupted: %w", ctx.Err()))
			return
		case <-ticker.C:
		}
	}

	// The last chunk has been handed to the sink; let the clock run out.
	if remaining := total - time.Since(start); remaining > 0 {
		timer := time.NewTimer(remaining)
		defer timer.Stop()
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			s.frozen.CompareAndSwap(-1, int64(s.Position()))
			s.setErr(fmt.Errorf("audio: playback interrupted: %w", ctx.Err()))
			return
		case <-timer.C:
		}
	}
	s.frozen.CompareAndSwap(-1, int64(total))
}
