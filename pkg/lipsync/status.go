package lipsync

import (
	"fmt"

	"github.com/MrWong99/facesync/pkg/frames"
	"github.com/MrWong99/facesync/pkg/viseme"
)

// State is the lifecycle phase of the controller's current session.
type State int

const (
	// StateIdle means no session has run yet, or the last one was stopped or
	// superseded.
	StateIdle State = iota

	// StateLoading means audio is being decoded and playback has not started.
	StateLoading

	// StatePlaying means audio is playing and the tick loop is running.
	StatePlaying

	// StateEnded means the last session played to completion.
	StateEnded

	// StateError means the last session failed to decode or play.
	StateError
)

var stateNames = [...]string{"idle", "loading", "playing", "ended", "error"}

// String returns the lower-case name of the state.
func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(b []byte) error {
	for i, n := range stateNames {
		if n == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("lipsync: unknown state %q", b)
}

// Active reports whether a session in this state holds the avatar.
func (s State) Active() bool {
	return s == StateLoading || s == StatePlaying
}

// Status is a read-only snapshot of the controller, published after every
// tick and every lifecycle transition. Times are in seconds.
type Status struct {
	Avatar            string         `json:"avatar,omitempty"`
	SessionID         string         `json:"session_id,omitempty"`
	State             State          `json:"state"`
	Text              string         `json:"text,omitempty"`
	Elapsed           float64        `json:"elapsed"`
	EstimatedDuration float64        `json:"estimated_duration"`
	ActualDuration    float64        `json:"actual_duration"`
	ScaleFactor       float64        `json:"scale_factor"`
	Viseme            viseme.Class   `json:"viseme"`
	Frame             frames.FrameID `json:"frame"`
	Speaking          bool           `json:"speaking"`
	Progress          float64        `json:"progress"`
	Err               string         `json:"error,omitempty"`

	// Seq increases with every published snapshot.
	Seq uint64 `json:"seq"`
}

// progress returns elapsed as a percentage of total, clamped to [0, 100].
func progress(elapsed, total float64) float64 {
	if total <= 0 {
		return 0
	}
	return max(0, min(100, elapsed/total*100))
}
