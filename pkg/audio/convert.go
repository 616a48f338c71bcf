package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// FormatConverter converts decoded clips and frames to a single target format.
// It logs once on the first format mismatch and once on misaligned PCM.
// Create one per stream; not designed for shared use across goroutines.
type FormatConverter struct {
	Target         Format
	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// ConvertClip returns c in the target format. The input is returned unchanged
// if it already matches.
func (conv *FormatConverter) ConvertClip(c *Clip) *Clip {
	f := conv.Convert(AudioFrame{Data: c.PCM, SampleRate: c.SampleRate, Channels: c.Channels})
	if f.SampleRate == c.SampleRate && f.Channels == c.Channels && len(f.Data) == len(c.PCM) {
		return c
	}
	return &Clip{PCM: f.Data, Format: Format{SampleRate: f.SampleRate, Channels: f.Channels}}
}

// Convert converts a frame to the target format. Matching frames are returned
// as-is. Resampling happens before channel conversion so stereo input bound
// for mono output is only resampled once.
func (conv *FormatConverter) Convert(frame AudioFrame) AudioFrame {
	if len(frame.Data)%2 != 0 {
		conv.warnedCorrupt.Do(func() {
			slog.Warn("audio: odd byte count in PCM data, dropping",
				"bytes", len(frame.Data),
				"format", formatString(frame.SampleRate, frame.Channels),
			)
		})
		return AudioFrame{
			SampleRate: conv.Target.SampleRate,
			Channels:   conv.Target.Channels,
			Timestamp:  frame.Timestamp,
		}
	}

	if frame.SampleRate == conv.Target.SampleRate && frame.Channels == conv.Target.Channels {
		return frame
	}

	conv.warnedMismatch.Do(func() {
		slog.Debug("audio: converting clip format",
			"from", formatString(frame.SampleRate, frame.Channels),
			"to", conv.Target.String(),
		)
	})

	pcm := frame.Data
	rate, channels := frame.SampleRate, frame.Channels

	if rate != conv.Target.SampleRate {
		if channels == 1 {
			pcm = ResampleMono16(pcm, rate, conv.Target.SampleRate)
		} else {
			pcm = ResampleStereo16(pcm, rate, conv.Target.SampleRate)
		}
		rate = conv.Target.SampleRate
	}

	switch {
	case channels == 1 && conv.Target.Channels == 2:
		pcm = MonoToStereo(pcm)
		channels = 2
	case channels == 2 && conv.Target.Channels == 1:
		pcm = StereoToMono(pcm)
		channels = 1
	}

	return AudioFrame{
		Data:       pcm,
		SampleRate: rate,
		Channels:   channels,
		Timestamp:  frame.Timestamp,
	}
}

func sample16(pcm []byte, i int) int16 {
	return int16(pcm[i]) | int16(pcm[i+1])<<8
}

func putSample16(pcm []byte, i int, s int16) {
	pcm[i] = byte(s)
	pcm[i+1] = byte(s >> 8)
}

// MonoToStereo duplicates each mono sample into an L+R pair.
func MonoToStereo(pcm []byte) []byte {
	out := make([]byte, (len(pcm)/2)*4)
	for i := 0; i+1 < len(pcm); i += 2 {
		j := i * 2
		out[j], out[j+1] = pcm[i], pcm[i+1]
		out[j+2], out[j+3] = pcm[i], pcm[i+1]
	}
	return out
}

// StereoToMono averages L and R of each stereo frame.
func StereoToMono(pcm []byte) []byte {
	n := len(pcm) / 4
	out := make([]byte, n*2)
	for i := range n {
		l := int32(sample16(pcm, i*4))
		r := int32(sample16(pcm, i*4+2))
		putSample16(out, i*2, int16((l+r)/2))
	}
	return out
}

// ResampleMono16 resamples mono PCM from srcRate to dstRate with linear
// interpolation. Invalid rates or equal rates return the input unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	return resample16(pcm, 1, srcRate, dstRate)
}

// ResampleStereo16 resamples interleaved stereo PCM from srcRate to dstRate
// with linear interpolation.
func ResampleStereo16(pcm []byte, srcRate, dstRate int) []byte {
	return resample16(pcm, 2, srcRate, dstRate)
}

func resample16(pcm []byte, channels, srcRate, dstRate int) []byte {
	frameSize := 2 * channels
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < frameSize {
		return pcm
	}
	srcFrames := len(pcm) / frameSize
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*frameSize)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstFrames {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		next := idx + 1
		if next >= srcFrames {
			next = idx
		}
		for ch := range channels {
			s0 := float64(sample16(pcm, idx*frameSize+ch*2))
			s1 := float64(sample16(pcm, next*frameSize+ch*2))
			putSample16(out, i*frameSize+ch*2, int16(s0*(1-frac)+s1*frac))
		}
	}
	return out
}

func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
