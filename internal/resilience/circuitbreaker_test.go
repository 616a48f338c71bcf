package resilience

import (
	"errors"
	"slices"
	"sync"
	"testing"
	"time"
)

var (
	errUpstream = errors.New("upstream 502")
	errMissing  = errors.New("frame missing")
)

// clock is a settable time source for breaker cool-downs.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// transitions collects OnStateChange calls as "from>to" strings.
type transitions struct {
	mu  sync.Mutex
	got []string
}

func (tr *transitions) record(_ string, from, to State) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.got = append(tr.got, from.String()+">"+to.String())
}

func (tr *transitions) list() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return slices.Clone(tr.got)
}

func newTestBreaker(cfg CircuitBreakerConfig) (*CircuitBreaker, *clock, *transitions) {
	tr := &transitions{}
	cfg.OnStateChange = tr.record
	cb := NewCircuitBreaker(cfg)
	clk := &clock{t: time.Unix(1_700_000_000, 0)}
	cb.now = clk.now
	return cb, clk, tr
}

func fail(cb *CircuitBreaker, n int) {
	for range n {
		_ = cb.Execute(func() error { return errUpstream })
	}
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "http"})
	if cb.maxFailures != 5 || cb.resetTimeout != 30*time.Second || cb.halfOpenMax != 3 {
		t.Errorf("defaults = %d/%v/%d, want 5/30s/3", cb.maxFailures, cb.resetTimeout, cb.halfOpenMax)
	}
	if cb.State() != StateClosed {
		t.Errorf("initial state = %v", cb.State())
	}
	if cb.Name() != "http" {
		t.Errorf("Name() = %q", cb.Name())
	}
}

func TestCircuitBreaker_Lifecycle(t *testing.T) {
	t.Parallel()

	cb, clk, tr := newTestBreaker(CircuitBreakerConfig{
		Name:         "http",
		MaxFailures:  2,
		ResetTimeout: time.Minute,
		HalfOpenMax:  2,
	})

	fail(cb, 1)
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	fail(cb, 1)
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed: a success breaks the failure run", cb.State())
	}
	fail(cb, 1)
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}

	called := false
	if err := cb.Execute(func() error { called = true; return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("open breaker forwarded the call")
	}

	clk.advance(time.Minute)
	if cb.State() != StateHalfOpen {
		t.Fatalf("state after cool-down = %v, want half-open", cb.State())
	}
	for i := range 2 {
		if err := cb.Execute(func() error { return nil }); err != nil {
			t.Fatalf("trial %d: %v", i, err)
		}
	}
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed after successful trials", cb.State())
	}

	want := []string{"closed>open", "open>half-open", "half-open>closed"}
	if got := tr.list(); !slices.Equal(got, want) {
		t.Errorf("transitions = %v, want %v", got, want)
	}
}

func TestCircuitBreaker_TrialFailureReopens(t *testing.T) {
	t.Parallel()

	cb, clk, tr := newTestBreaker(CircuitBreakerConfig{
		Name:         "http",
		MaxFailures:  1,
		ResetTimeout: time.Minute,
		HalfOpenMax:  3,
	})
	fail(cb, 1)
	clk.advance(time.Minute)

	if err := cb.Execute(func() error { return errUpstream }); !errors.Is(err, errUpstream) {
		t.Fatalf("err = %v, want the store error", err)
	}
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open again", cb.State())
	}
	// The cool-down restarts from the failed trial.
	clk.advance(30 * time.Second)
	if cb.State() != StateOpen {
		t.Errorf("state = %v, want still open", cb.State())
	}

	want := []string{"closed>open", "open>half-open", "half-open>open"}
	if got := tr.list(); !slices.Equal(got, want) {
		t.Errorf("transitions = %v, want %v", got, want)
	}
}

func TestCircuitBreaker_HalfOpenLimitsTrials(t *testing.T) {
	t.Parallel()

	cb, clk, _ := newTestBreaker(CircuitBreakerConfig{
		Name:         "http",
		MaxFailures:  1,
		ResetTimeout: time.Second,
		HalfOpenMax:  1,
	})
	fail(cb, 1)
	clk.advance(time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second trial err = %v, want ErrCircuitOpen", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("trial: %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	t.Parallel()

	cb, _, tr := newTestBreaker(CircuitBreakerConfig{Name: "http", MaxFailures: 1, ResetTimeout: time.Hour})
	fail(cb, 1)
	cb.Reset()
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed", cb.State())
	}
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("Execute after Reset: %v", err)
	}

	// Resetting a closed breaker announces nothing.
	cb.Reset()
	want := []string{"closed>open", "open>closed"}
	if got := tr.list(); !slices.Equal(got, want) {
		t.Errorf("transitions = %v, want %v", got, want)
	}
}

func TestCircuitBreaker_IsFailureClassifier(t *testing.T) {
	t.Parallel()

	cb, _, tr := newTestBreaker(CircuitBreakerConfig{
		Name:         "dir",
		MaxFailures:  2,
		ResetTimeout: time.Hour,
		IsFailure:    func(err error) bool { return !errors.Is(err, errMissing) },
	})

	for i := range 5 {
		if err := cb.Execute(func() error { return errMissing }); !errors.Is(err, errMissing) {
			t.Fatalf("call %d: err = %v, want errMissing passed through", i, err)
		}
	}
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed: missing frames must not trip the breaker", cb.State())
	}

	fail(cb, 1)
	_ = cb.Execute(func() error { return errMissing })
	fail(cb, 1)
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed: a missing frame breaks the failure run", cb.State())
	}
	fail(cb, 1)
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}
	if got := tr.list(); !slices.Equal(got, []string{"closed>open"}) {
		t.Errorf("transitions = %v", got)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
