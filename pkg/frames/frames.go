// Package frames maps viseme classes to concrete avatar image frames.
//
// Every avatar ships a [Set]: for each viseme class, a pool of frame
// identifiers that depict that mouth shape. A [Selector] picks one frame out
// of the active class's pool on every render tick. Two strategies exist:
//
//   - [Cyclic] walks the pool at a fixed cadence measured from the moment the
//     class last changed.
//   - [Stochastic] draws a uniformly random pool member once per class change
//     and holds it until the class changes again.
//
// The strategy is chosen once per avatar configuration via [New].
package frames

import (
	"errors"
	"fmt"
	"slices"

	"github.com/MrWong99/facesync/pkg/viseme"
)

// ErrEmptyRestPool is returned when a frame set has no frames for the silence
// class. Every class falls back to that pool, so it must never be empty.
var ErrEmptyRestPool = errors.New("frames: silence (class 0) pool is empty")

// ErrUnknownPolicy is returned by [New] for an unrecognised [Policy].
var ErrUnknownPolicy = errors.New("frames: unknown selection policy")

// FrameID identifies a single still image of an avatar. Assets are named
// after it (frame-<id>.png).
type FrameID int

// Set is the per-avatar mapping from viseme class to its frame pool.
type Set map[viseme.Class][]FrameID

// ParseSet converts a configuration map keyed by class name or index (as
// accepted by [viseme.ParseClass]) into a validated Set.
func ParseSet(raw map[string][]int) (Set, error) {
	s := make(Set, len(raw))
	for key, ids := range raw {
		c, err := viseme.ParseClass(key)
		if err != nil {
			return nil, fmt.Errorf("frames: pool %q: %w", key, err)
		}
		if _, dup := s[c]; dup {
			return nil, fmt.Errorf("frames: class %s configured twice", c)
		}
		pool := make([]FrameID, len(ids))
		for i, id := range ids {
			pool[i] = FrameID(id)
		}
		s[c] = pool
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks that the silence pool is non-empty and that no frame id is
// negative.
func (s Set) Validate() error {
	if len(s[viseme.Silence]) == 0 {
		return ErrEmptyRestPool
	}
	var errs []error
	for c, pool := range s {
		for _, id := range pool {
			if id < 0 {
				errs = append(errs, fmt.Errorf("frames: class %s: negative frame id %d", c, id))
			}
		}
	}
	return errors.Join(errs...)
}

// Pool returns the frames for class c. Classes without a (non-empty) pool,
// including out-of-range values, get the silence pool.
func (s Set) Pool(c viseme.Class) []FrameID {
	if p := s[c]; len(p) > 0 {
		return p
	}
	return s[viseme.Silence]
}

// IDs returns every distinct frame id referenced by the set in ascending
// order. Used to preload an avatar's assets.
func (s Set) IDs() []FrameID {
	seen := make(map[FrameID]struct{})
	var out []FrameID
	for _, pool := range s {
		for _, id := range pool {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}
