package frames

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/MrWong99/facesync/pkg/viseme"
)

// DefaultCadence is the cyclic selector's advance rate in frames per second.
const DefaultCadence = 0.5

// Policy names a frame selection strategy.
type Policy string

const (
	// PolicyCyclic selects frames with [Cyclic].
	PolicyCyclic Policy = "cyclic"

	// PolicyStochastic selects frames with [Stochastic].
	PolicyStochastic Policy = "stochastic"
)

// Selector turns a viseme class and playback time into a frame.
//
// Select returns the frame to display and whether it differs from the frame
// returned by the previous call. A false result means the caller can skip
// redrawing. Reset forgets all per-session state; Rest returns the frame shown
// while the avatar is not speaking.
//
// Implementations are driven from a single tick goroutine and are not safe for
// concurrent use.
type Selector interface {
	Select(c viseme.Class, at float64) (FrameID, bool)
	Reset()
	Rest() FrameID
}

// Option configures a Selector built by [New], [NewCyclic] or [NewStochastic].
type Option func(*options)

type options struct {
	cadence float64
	rng     *rand.Rand
	rest    FrameID
	hasRest bool
}

// WithCadence sets the cyclic advance rate in frames per second. Values <= 0
// are ignored.
func WithCadence(fps float64) Option {
	return func(o *options) {
		if fps > 0 {
			o.cadence = fps
		}
	}
}

// WithRand sets the random source used by the stochastic selector.
func WithRand(r *rand.Rand) Option {
	return func(o *options) { o.rng = r }
}

// WithRest overrides the rest frame. By default it is the first frame of the
// silence pool.
func WithRest(id FrameID) Option {
	return func(o *options) {
		o.rest = id
		o.hasRest = true
	}
}

func buildOptions(set Set, opts []Option) options {
	o := options{cadence: DefaultCadence}
	for _, opt := range opts {
		opt(&o)
	}
	if o.rng == nil {
		o.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if !o.hasRest {
		o.rest = set[viseme.Silence][0]
	}
	return o
}

// New builds the selector for policy. The set is validated first.
func New(policy Policy, set Set, opts ...Option) (Selector, error) {
	if err := set.Validate(); err != nil {
		return nil, err
	}
	switch policy {
	case PolicyCyclic, "":
		return newCyclic(set, buildOptions(set, opts)), nil
	case PolicyStochastic:
		return newStochastic(set, buildOptions(set, opts)), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, policy)
	}
}

// normalize folds unknown classes onto silence so change detection agrees with
// the pool fallback in [Set.Pool].
func normalize(c viseme.Class) viseme.Class {
	if !c.Valid() {
		return viseme.Silence
	}
	return c
}

// ── Cyclic ───────────────────────────────────────────────────────────────────

// Cyclic advances through the active pool at a fixed cadence. The frame index
// is floor((at - epoch) * cadence) mod len(pool), where epoch is the playback
// time of the most recent class change.
type Cyclic struct {
	set     Set
	cadence float64
	rest    FrameID

	started bool
	class   viseme.Class
	epoch   float64
	last    FrameID
	drawn   bool
}

// NewCyclic builds a cyclic selector. It returns [ErrEmptyRestPool] if the
// set has no silence frames.
func NewCyclic(set Set, opts ...Option) (*Cyclic, error) {
	if err := set.Validate(); err != nil {
		return nil, err
	}
	return newCyclic(set, buildOptions(set, opts)), nil
}

func newCyclic(set Set, o options) *Cyclic {
	return &Cyclic{set: set, cadence: o.cadence, rest: o.rest}
}

// Select implements [Selector].
func (s *Cyclic) Select(c viseme.Class, at float64) (FrameID, bool) {
	c = normalize(c)
	if !s.started || c != s.class {
		s.started = true
		s.class = c
		s.epoch = at
	}
	pool := s.set.Pool(c)
	idx := int(math.Floor((at-s.epoch)*s.cadence)) % len(pool)
	if idx < 0 {
		idx += len(pool)
	}
	id := pool[idx]
	changed := !s.drawn || id != s.last
	s.last = id
	s.drawn = true
	return id, changed
}

// Reset implements [Selector].
func (s *Cyclic) Reset() {
	s.started = false
	s.drawn = false
	s.epoch = 0
	s.class = viseme.Silence
}

// Rest implements [Selector].
func (s *Cyclic) Rest() FrameID { return s.rest }

// Cadence returns the configured advance rate in frames per second.
func (s *Cyclic) Cadence() float64 { return s.cadence }

// ── Stochastic ───────────────────────────────────────────────────────────────

// Stochastic picks a random member of the pool whenever the class changes and
// holds it until the next change.
type Stochastic struct {
	set  Set
	rng  *rand.Rand
	rest FrameID

	started bool
	class   viseme.Class
	last    FrameID
}

// NewStochastic builds a stochastic selector. It returns [ErrEmptyRestPool]
// if the set has no silence frames.
func NewStochastic(set Set, opts ...Option) (*Stochastic, error) {
	if err := set.Validate(); err != nil {
		return nil, err
	}
	return newStochastic(set, buildOptions(set, opts)), nil
}

func newStochastic(set Set, o options) *Stochastic {
	return &Stochastic{set: set, rng: o.rng, rest: o.rest}
}

// Select implements [Selector]. The playback time is ignored.
func (s *Stochastic) Select(c viseme.Class, _ float64) (FrameID, bool) {
	c = normalize(c)
	if s.started && c == s.class {
		return s.last, false
	}
	pool := s.set.Pool(c)
	id := pool[s.rng.IntN(len(pool))]
	changed := !s.started || id != s.last
	s.started = true
	s.class = c
	s.last = id
	return id, changed
}

// Reset implements [Selector].
func (s *Stochastic) Reset() {
	s.started = false
	s.class = viseme.Silence
}

// Rest implements [Selector].
func (s *Stochastic) Rest() FrameID { return s.rest }
