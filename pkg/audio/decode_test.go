package audio_test

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/MrWong99/facesync/pkg/audio"
)

// makeWAV encodes 16-bit PCM samples as a WAV file and returns its bytes.
func makeWAV(t *testing.T, rate, channels int, samples []int) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	enc := wav.NewEncoder(f, rate, 16, channels, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: rate},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("wav write: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("wav close: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

// silentWAV returns a mono 16-bit WAV of the given length.
func silentWAV(t *testing.T, rate int, d time.Duration) []byte {
	t.Helper()
	n := int(int64(rate) * int64(d) / int64(time.Second))
	return makeWAV(t, rate, 1, make([]int, n))
}

func TestSniff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   []byte
		want audio.Container
	}{
		{name: "wav", in: []byte("RIFF\x00\x00\x00\x00WAVEfmt "), want: audio.ContainerWAV},
		{name: "mp3 id3", in: []byte("ID3\x04\x00"), want: audio.ContainerMP3},
		{name: "mp3 frame sync", in: []byte{0xFF, 0xFB, 0x90, 0x00}, want: audio.ContainerMP3},
		{name: "riff but not wave", in: []byte("RIFF\x00\x00\x00\x00AVI LIST"), want: audio.ContainerUnknown},
		{name: "text", in: []byte("hello"), want: audio.ContainerUnknown},
		{name: "empty", in: nil, want: audio.ContainerUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := audio.Sniff(tt.in); got != tt.want {
				t.Errorf("Sniff = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDecode_WAV(t *testing.T) {
	t.Parallel()

	samples := []int{0, 1000, -1000, 32767, -32768, 42}
	clip, err := audio.Decode(makeWAV(t, 16000, 2, samples))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if clip.SampleRate != 16000 || clip.Channels != 2 {
		t.Errorf("format = %v, want 16000Hz stereo", clip.Format)
	}
	if clip.Frames() != 3 {
		t.Errorf("Frames() = %d, want 3", clip.Frames())
	}
	want := []int16{0, 1000, -1000, 32767, -32768, 42}
	if got := bytesToSamples(clip.PCM); !slices.Equal(got, want) {
		t.Errorf("samples = %v, want %v", got, want)
	}
}

func TestDecode_WAVDuration(t *testing.T) {
	t.Parallel()

	clip, err := audio.Decode(silentWAV(t, 24000, 1500*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	if clip.Duration() != 1500*time.Millisecond {
		t.Errorf("Duration() = %v, want 1.5s", clip.Duration())
	}
}

func TestDecode_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   []byte
	}{
		{name: "empty", in: nil},
		{name: "garbage", in: []byte("definitely not audio")},
		{name: "truncated wav", in: []byte("RIFF\x24\x00\x00\x00WAVE")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := audio.Decode(tt.in); err == nil {
				t.Fatal("expected error")
			}
		})
	}
	if _, err := audio.Decode([]byte("nope")); !errors.Is(err, audio.ErrUnsupportedFormat) {
		t.Errorf("err = %v, want ErrUnsupportedFormat", err)
	}
}
