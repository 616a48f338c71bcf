package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

// ErrUnsupportedFormat is returned by [Decode] when the payload is neither
// WAV nor MP3.
var ErrUnsupportedFormat = errors.New("audio: unsupported payload format")

// Container identifies the encoding of an audio payload.
type Container string

const (
	ContainerUnknown Container = ""
	ContainerWAV     Container = "wav"
	ContainerMP3     Container = "mp3"
)

// Sniff inspects the first bytes of payload.
func Sniff(payload []byte) Container {
	switch {
	case len(payload) >= 12 && string(payload[0:4]) == "RIFF" && string(payload[8:12]) == "WAVE":
		return ContainerWAV
	case len(payload) >= 3 && string(payload[0:3]) == "ID3":
		return ContainerMP3
	case len(payload) >= 2 && payload[0] == 0xFF && payload[1]&0xE0 == 0xE0:
		// MPEG audio frame sync.
		return ContainerMP3
	default:
		return ContainerUnknown
	}
}

// Decode decodes a complete WAV or MP3 payload to 16-bit PCM.
func Decode(payload []byte) (*Clip, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrUnsupportedFormat)
	}
	switch Sniff(payload) {
	case ContainerWAV:
		return decodeWAV(payload)
	case ContainerMP3:
		return decodeMP3(payload)
	default:
		return nil, ErrUnsupportedFormat
	}
}

func decodeWAV(payload []byte) (*Clip, error) {
	dec := wav.NewDecoder(bytes.NewReader(payload))
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: invalid wav header", ErrUnsupportedFormat)
	}
	if dec.WavAudioFormat != 1 {
		return nil, fmt.Errorf("%w: wav encoding %d is not PCM", ErrUnsupportedFormat, dec.WavAudioFormat)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("audio: decode wav: %w", err)
	}
	if buf.Format == nil || buf.Format.NumChannels <= 0 || buf.Format.SampleRate <= 0 {
		return nil, errors.New("audio: decode wav: missing format")
	}
	return &Clip{
		PCM: intBufferToPCM16(buf),
		Format: Format{
			SampleRate: buf.Format.SampleRate,
			Channels:   buf.Format.NumChannels,
		},
	}, nil
}

// intBufferToPCM16 rescales samples of any source bit depth to signed 16-bit
// little-endian PCM.
func intBufferToPCM16(buf *goaudio.IntBuffer) []byte {
	out := make([]byte, len(buf.Data)*2)
	depth := buf.SourceBitDepth
	for i, v := range buf.Data {
		var s int
		switch {
		case depth == 8:
			// 8-bit WAV is unsigned.
			s = (v - 128) << 8
		case depth > 16:
			s = v >> (depth - 16)
		default:
			s = v
		}
		s = max(-32768, min(32767, s))
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

func decodeMP3(payload []byte) (*Clip, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("audio: decode mp3: %w", err)
	}
	// go-mp3 always yields 16-bit little-endian stereo.
	pcm, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("audio: decode mp3: %w", err)
	}
	pcm = pcm[:len(pcm)-len(pcm)%4]
	return &Clip{
		PCM:    pcm,
		Format: Format{SampleRate: dec.SampleRate(), Channels: 2},
	}, nil
}
