package viseme

import "math"

// NearestTolerance is the maximum distance in seconds between the playback
// time and an event's start for the nearest-event fallback to apply.
const NearestTolerance = 0.2

// Match describes how [Resolve] arrived at its answer.
type Match int

const (
	// MatchNone means no event applied and the result is [Silence].
	MatchNone Match = iota

	// MatchContained means an event's [Start, End) interval contained the time.
	MatchContained

	// MatchNearest means no interval contained the time, but an event started
	// within [NearestTolerance] of it.
	MatchNearest
)

// String returns the human-readable name of the match kind.
func (m Match) String() string {
	switch m {
	case MatchNone:
		return "none"
	case MatchContained:
		return "contained"
	case MatchNearest:
		return "nearest"
	default:
		return "unknown"
	}
}

// Resolve returns the viseme class active at playback time at (seconds).
//
// The first event whose half-open interval [Start, Start+Duration) contains at
// wins. If none does (a gap, or at is past the last event), the event whose
// Start is closest to at is used when that distance is below
// [NearestTolerance]; otherwise the result is [Silence].
//
// Events are scanned linearly so unsorted or overlapping timelines still
// resolve deterministically (first match in slice order).
func Resolve(t Timeline, at float64) (Class, Match) {
	for _, ev := range t {
		if at >= ev.Start && at < ev.Start+ev.Duration {
			return ev.Class, MatchContained
		}
	}
	if len(t) == 0 {
		return Silence, MatchNone
	}

	closest := t[0]
	minDist := math.Abs(at - closest.Start)
	for _, ev := range t[1:] {
		if d := math.Abs(at - ev.Start); d < minDist {
			minDist = d
			closest = ev
		}
	}
	if minDist < NearestTolerance {
		return closest.Class, MatchNearest
	}
	return Silence, MatchNone
}
