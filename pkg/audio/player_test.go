package audio_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/facesync/pkg/audio"
)

// sink collects frames written by a player.
type sink struct {
	mu     sync.Mutex
	frames []audio.AudioFrame
}

func (s *sink) write(f audio.AudioFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f)
}

func (s *sink) totalBytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, f := range s.frames {
		n += len(f.Data)
	}
	return n
}

func waitClosed(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestPCMPlayer_PlaysToCompletion(t *testing.T) {
	t.Parallel()

	out := &sink{}
	p := audio.NewPlayer(out.write,
		audio.WithFormat(audio.Format{SampleRate: 24000, Channels: 1}),
		audio.WithChunk(10*time.Millisecond),
	)
	s, err := p.Play(context.Background(), silentWAV(t, 24000, 100*time.Millisecond))
	if err != nil {
		t.Fatalf("Play: %v", err)
	}

	waitClosed(t, s.Ready(), "ready")
	d, ok := s.Duration()
	if !ok || d != 100*time.Millisecond {
		t.Errorf("Duration() = %v/%v, want 100ms/true", d, ok)
	}
	waitClosed(t, s.Done(), "done")

	if err := s.Err(); err != nil {
		t.Errorf("Err() = %v", err)
	}
	if got := s.Position(); got != 100*time.Millisecond {
		t.Errorf("final Position() = %v, want 100ms", got)
	}
	if got := out.totalBytes(); got != 4800 {
		t.Errorf("sink received %d bytes, want 4800", got)
	}
	out.mu.Lock()
	first := out.frames[0]
	last := out.frames[len(out.frames)-1]
	out.mu.Unlock()
	if first.Timestamp != 0 || first.SampleRate != 24000 || first.Channels != 1 {
		t.Errorf("first frame = %+v", first)
	}
	if last.Timestamp <= 0 {
		t.Errorf("last frame timestamp = %v", last.Timestamp)
	}
}

func TestPCMPlayer_ConvertsToOutputFormat(t *testing.T) {
	t.Parallel()

	out := &sink{}
	p := audio.NewPlayer(out.write, audio.WithFormat(audio.Format{SampleRate: 24000, Channels: 2}))
	s, err := p.Play(context.Background(), silentWAV(t, 12000, 50*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	waitClosed(t, s.Done(), "done")
	// 50ms at 24kHz stereo 16-bit.
	if got := out.totalBytes(); got != 4800 {
		t.Errorf("sink received %d bytes, want 4800", got)
	}
}

func TestPCMPlayer_Stop(t *testing.T) {
	t.Parallel()

	p := audio.NewPlayer(nil)
	s, err := p.Play(context.Background(), silentWAV(t, 24000, 10*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	waitClosed(t, s.Ready(), "ready")
	s.Stop()
	s.Stop() // idempotent
	waitClosed(t, s.Done(), "done")

	if err := s.Err(); err != nil {
		t.Errorf("Err() after Stop = %v", err)
	}
	pos := s.Position()
	if pos >= 10*time.Second {
		t.Errorf("Position() = %v after early stop", pos)
	}
	time.Sleep(20 * time.Millisecond)
	if s.Position() != pos {
		t.Error("position advanced after Stop")
	}
}

func TestPCMPlayer_ContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	p := audio.NewPlayer(nil)
	s, err := p.Play(ctx, silentWAV(t, 24000, 10*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	waitClosed(t, s.Ready(), "ready")
	cancel()
	waitClosed(t, s.Done(), "done")
	if !errors.Is(s.Err(), context.Canceled) {
		t.Errorf("Err() = %v, want context.Canceled", s.Err())
	}
}

func TestPCMPlayer_DecodeFailure(t *testing.T) {
	t.Parallel()

	p := audio.NewPlayer(nil)
	s, err := p.Play(context.Background(), []byte("not audio at all"))
	if err != nil {
		t.Fatalf("Play returned synchronous error: %v", err)
	}
	waitClosed(t, s.Done(), "done")
	if !errors.Is(s.Err(), audio.ErrUnsupportedFormat) {
		t.Errorf("Err() = %v, want ErrUnsupportedFormat", s.Err())
	}
	select {
	case <-s.Ready():
		t.Error("Ready closed for undecodable payload")
	default:
	}
	if _, ok := s.Duration(); ok {
		t.Error("Duration known for undecodable payload")
	}
}

func TestPCMPlayer_EmptyPayload(t *testing.T) {
	t.Parallel()
	if _, err := audio.NewPlayer(nil).Play(context.Background(), nil); !errors.Is(err, audio.ErrEmptyPayload) {
		t.Errorf("err = %v, want ErrEmptyPayload", err)
	}
}
