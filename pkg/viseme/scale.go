package viseme

import "math"

// Scale returns a new timeline with every Start and Duration multiplied by
// factor. The input is not modified.
func Scale(t Timeline, factor float64) Timeline {
	if t == nil {
		return nil
	}
	out := make(Timeline, len(t))
	for i, ev := range t {
		out[i] = Event{
			Class:    ev.Class,
			Start:    ev.Start * factor,
			Duration: ev.Duration * factor,
		}
	}
	return out
}

// Scaler reconciles an estimated timeline with the real audio duration.
//
// The scale factor starts at 1.0 and is computed at most once, on the first
// [Scaler.Observe] call that sees a positive, finite duration while the
// estimated duration is positive. Later observations never rescale, even if
// the reported duration changes.
//
// A Scaler belongs to a single playback session and is not safe for
// concurrent use.
type Scaler struct {
	source    Timeline
	scaled    Timeline
	estimated float64
	factor    float64
	applied   bool
}

// NewScaler creates a Scaler for t. The timeline is used as-is (unscaled)
// until [Scaler.Observe] fires.
func NewScaler(t Timeline) *Scaler {
	return &Scaler{
		source:    t,
		scaled:    t,
		estimated: t.EstimatedDuration(),
		factor:    1,
	}
}

// Observe feeds the currently known audio duration (seconds) to the scaler.
// It returns true only on the call that computed the scale factor.
func (s *Scaler) Observe(actual float64) bool {
	if s.applied || s.estimated <= 0 {
		return false
	}
	if !(actual > 0) || math.IsInf(actual, 0) {
		return false
	}
	s.factor = actual / s.estimated
	s.scaled = Scale(s.source, s.factor)
	s.applied = true
	return true
}

// Timeline returns the scaled timeline, or the original when no scaling has
// been applied.
func (s *Scaler) Timeline() Timeline { return s.scaled }

// Factor returns the current scale factor (1.0 until applied).
func (s *Scaler) Factor() float64 { return s.factor }

// Estimated returns the estimated duration of the source timeline in seconds.
func (s *Scaler) Estimated() float64 { return s.estimated }

// Applied reports whether the scale factor has been computed.
func (s *Scaler) Applied() bool { return s.applied }
