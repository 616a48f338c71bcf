// Package resilience keeps avatars drawable when an asset backend misbehaves.
//
// A [CircuitBreaker] stops hammering a store that keeps failing and lets a
// few trial requests through once its cool-down has passed. [FallbackGroup]
// chains several backends, each behind its own breaker, and [AssetFallback]
// applies that to frame stores: a CDN outage degrades to a local directory
// instead of leaving frames unloaded.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// refuses calls.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota
	// StateOpen rejects calls until the reset timeout has passed.
	StateOpen
	// StateHalfOpen admits a bounded number of trial calls. Enough successes
	// close the breaker and a single failure opens it again.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig tunes a [CircuitBreaker]. Zero values take defaults.
type CircuitBreakerConfig struct {
	// Name identifies the protected backend, e.g. "http" or "dir".
	Name string

	// MaxFailures is the run of consecutive failures that opens the breaker.
	// Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of trial calls admitted, and the number of
	// successes needed to close again. Default: 3.
	HalfOpenMax int

	// IsFailure classifies errors. Errors it rejects, such as a missing
	// frame, count as healthy responses. When nil every error is a failure.
	IsFailure func(error) bool

	// OnStateChange is called after every transition, outside the breaker's
	// lock.
	OnStateChange func(name string, from, to State)
}

// CircuitBreaker is a three-state breaker guarding one backend.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int
	isFailure    func(error) bool
	onChange     func(name string, from, to State)
	now          func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	trials    int
	successes int
}

// transition is a state change to announce once the lock is released.
type transition struct {
	from, to State
	moved    bool
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	return &CircuitBreaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		halfOpenMax:  cfg.HalfOpenMax,
		isFailure:    cfg.IsFailure,
		onChange:     cfg.OnStateChange,
		now:          time.Now,
	}
}

// Name returns the backend label.
func (cb *CircuitBreaker) Name() string { return cb.name }

// Execute calls fn unless the breaker refuses it with [ErrCircuitOpen]. fn's
// error is returned unchanged.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	trial, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn()
	cb.settle(trial, err != nil && (cb.isFailure == nil || cb.isFailure(err)))
	return err
}

// admit decides whether a call may proceed and whether it is a trial call.
func (cb *CircuitBreaker) admit() (trial bool, err error) {
	cb.mu.Lock()
	var tr transition
	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.resetTimeout {
			cb.mu.Unlock()
			return false, ErrCircuitOpen
		}
		tr = cb.moveTo(StateHalfOpen)
	case StateHalfOpen:
		if cb.trials >= cb.halfOpenMax {
			cb.mu.Unlock()
			return false, ErrCircuitOpen
		}
	}
	trial = cb.state == StateHalfOpen
	if trial {
		cb.trials++
	}
	cb.mu.Unlock()

	cb.announce(tr)
	return trial, nil
}

// settle records the outcome of an admitted call.
func (cb *CircuitBreaker) settle(trial, failed bool) {
	cb.mu.Lock()
	var tr transition
	switch {
	case failed && cb.state == StateHalfOpen:
		tr = cb.trip()
	case failed && cb.state == StateClosed:
		cb.failures++
		if cb.failures >= cb.maxFailures {
			tr = cb.trip()
		}
	case trial && cb.state == StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.halfOpenMax {
			tr = cb.moveTo(StateClosed)
		}
	case !failed && cb.state == StateClosed:
		cb.failures = 0
	}
	cb.mu.Unlock()

	cb.announce(tr)
}

// trip opens the breaker. cb.mu must be held.
func (cb *CircuitBreaker) trip() transition {
	cb.openedAt = cb.now()
	return cb.moveTo(StateOpen)
}

// moveTo switches state and clears the counters. cb.mu must be held.
func (cb *CircuitBreaker) moveTo(s State) transition {
	tr := transition{from: cb.state, to: s, moved: cb.state != s}
	cb.state = s
	cb.failures, cb.trials, cb.successes = 0, 0, 0
	return tr
}

func (cb *CircuitBreaker) announce(tr transition) {
	if tr.moved && cb.onChange != nil {
		cb.onChange(cb.name, tr.from, tr.to)
	}
}

// State returns the current state. An open breaker whose timeout has passed
// reports [StateHalfOpen]; the switch itself happens on the next call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset closes the breaker at once, e.g. after the operator changed the
// configuration that depends on the backend.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	tr := cb.moveTo(StateClosed)
	cb.mu.Unlock()
	cb.announce(tr)
}
