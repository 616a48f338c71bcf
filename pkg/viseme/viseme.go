// Package viseme defines the discrete mouth-shape vocabulary used by facesync
// and the two pure algorithms that operate on viseme timelines:
//
//   - [Scaler] rescales an estimated timeline to the real decoded audio
//     duration, exactly once per playback session.
//   - [Resolve] maps a point in playback time to the active [Class].
//
// A timeline is produced by an external text-to-speech collaborator before the
// audio is decoded, so its offsets are estimates. Everything in this package is
// allocation-light and free of I/O so it can run on every render tick.
package viseme

import (
	"fmt"
	"strconv"
	"strings"
)

// Class is a discrete visual mouth-shape category. Valid classes are 0–7;
// anything else is treated as [Silence] by frame selection.
type Class int

const (
	// Silence is the neutral, resting mouth (also the fallback class).
	Silence Class = iota

	// Open covers A and E sounds.
	Open

	// Smile covers I sounds.
	Smile

	// Round covers O sounds.
	Round

	// Pursed covers U sounds.
	Pursed

	// Closed covers M, B and P.
	Closed

	// TeethLip covers F and V.
	TeethLip

	// Teeth covers Th, S and Z.
	Teeth
)

// NumClasses is the number of valid viseme classes.
const NumClasses = 8

var classNames = [NumClasses]string{
	"silence",
	"open",
	"smile",
	"round",
	"pursed",
	"closed",
	"teeth_lip",
	"teeth",
}

// Valid reports whether c is one of the eight known classes.
func (c Class) Valid() bool {
	return c >= 0 && c < NumClasses
}

// String returns the lower-case name of the class, or "class(N)" for unknown
// values.
func (c Class) String() string {
	if c.Valid() {
		return classNames[c]
	}
	return fmt.Sprintf("class(%d)", int(c))
}

// ParseClass accepts either a class name ("open", "teeth_lip") or its decimal
// index ("1"). Names are matched case-insensitively.
func ParseClass(s string) (Class, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		c := Class(n)
		if !c.Valid() {
			return 0, fmt.Errorf("viseme: class %d out of range [0, %d]", n, NumClasses-1)
		}
		return c, nil
	}
	for i, name := range classNames {
		if strings.EqualFold(name, s) {
			return Class(i), nil
		}
	}
	return 0, fmt.Errorf("viseme: unknown class %q", s)
}

// Event is a single entry of a viseme timeline. Offsets are in seconds. The
// JSON field names match the payload emitted by the text-to-speech service.
type Event struct {
	Class    Class   `json:"viseme"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
}

// End returns Start + Duration.
func (e Event) End() float64 {
	return e.Start + e.Duration
}

// Timeline is an ordered sequence of events. Producers are expected to emit
// events ascending by Start with non-negative durations, but consumers in this
// package tolerate gaps and minor disorder.
type Timeline []Event

// EstimatedDuration returns the end offset of the last event, or 0 when the
// timeline is empty. Negative results are clamped to 0.
func (t Timeline) EstimatedDuration() float64 {
	if len(t) == 0 {
		return 0
	}
	d := t[len(t)-1].End()
	if d < 0 {
		return 0
	}
	return d
}

// Sorted reports whether events are in non-decreasing Start order and no event
// has a negative duration.
func (t Timeline) Sorted() bool {
	for i, ev := range t {
		if ev.Duration < 0 {
			return false
		}
		if i > 0 && ev.Start < t[i-1].Start {
			return false
		}
	}
	return true
}

// Clone returns a copy of t that shares no memory with it.
func (t Timeline) Clone() Timeline {
	if t == nil {
		return nil
	}
	out := make(Timeline, len(t))
	copy(out, t)
	return out
}
