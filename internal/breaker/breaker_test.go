package breaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeClock lets tests drive the breaker's view of time.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(cfg Config) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	cb := New("test", cfg, nil)
	cb.now = clock.now
	return cb, clock
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	cb, _ := newTestBreaker(DefaultConfig())

	for i := 0; i < 4; i++ {
		cb.RecordFailure()
		if cb.State() != StateClosed {
			t.Fatalf("breaker opened early after %d failures", i+1)
		}
	}

	cb.RecordFailure() // 5th failure
	if cb.State() != StateOpen {
		t.Fatalf("breaker should open at threshold, state %s", cb.State())
	}
	if cb.CanExecute() {
		t.Error("open breaker must deny calls before recovery timeout")
	}
}

func TestBreakerRecoveryCycle(t *testing.T) {
	cb, clock := newTestBreaker(DefaultConfig())

	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}
	if cb.State() != StateOpen {
		t.Fatal("breaker not open")
	}

	// Before the timeout: still denied.
	clock.advance(59 * time.Second)
	if cb.CanExecute() {
		t.Error("denied until recovery timeout elapses")
	}

	// At the timeout: half-open probe allowed.
	clock.advance(1 * time.Second)
	if !cb.CanExecute() {
		t.Fatal("first probe after timeout should be allowed")
	}
	if cb.State() != StateHalfOpen {
		t.Fatalf("expected half_open, got %s", cb.State())
	}

	// Two successes close it.
	cb.RecordSuccess()
	if cb.State() != StateHalfOpen {
		t.Fatal("one success should not close the breaker")
	}
	cb.RecordSuccess()
	if cb.State() != StateClosed {
		t.Fatalf("expected closed after success threshold, got %s", cb.State())
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	cb, clock := newTestBreaker(DefaultConfig())

	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}
	clock.advance(61 * time.Second)
	if !cb.CanExecute() {
		t.Fatal("probe should be allowed")
	}

	cb.RecordFailure()
	if cb.State() != StateOpen {
		t.Fatalf("half-open failure must reopen, got %s", cb.State())
	}
	if cb.CanExecute() {
		t.Error("reopened breaker must deny until a fresh timeout elapses")
	}
}

func TestBreakerHalfOpenProbeLimit(t *testing.T) {
	cfg := DefaultConfig()
	cb, clock := newTestBreaker(cfg)

	for i := 0; i < cfg.FailureThreshold; i++ {
		cb.RecordFailure()
	}
	clock.advance(cfg.RecoveryTimeout)

	// The call that trips open->half_open is admitted with a fresh probe
	// counter, so HalfOpenMaxCalls further probes pass before denial.
	allowed := 0
	for i := 0; i < cfg.HalfOpenMaxCalls+4; i++ {
		if cb.CanExecute() {
			allowed++
		}
	}
	if want := cfg.HalfOpenMaxCalls + 1; allowed != want {
		t.Errorf("half-open should admit exactly %d probes, got %d", want, allowed)
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(DefaultConfig())

	for i := 0; i < 4; i++ {
		cb.RecordFailure()
	}
	cb.RecordSuccess()

	// The streak restarts; four more failures should not open it.
	for i := 0; i < 4; i++ {
		cb.RecordFailure()
	}
	if cb.State() != StateClosed {
		t.Error("success in closed state must reset the failure streak")
	}
}

func TestBreakerReset(t *testing.T) {
	cb, _ := newTestBreaker(DefaultConfig())

	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}
	cb.Reset()
	if cb.State() != StateClosed {
		t.Fatal("reset must force closed")
	}
	if !cb.CanExecute() {
		t.Error("reset breaker must admit calls")
	}
}

func TestBreakerStateChangeCallback(t *testing.T) {
	var transitions []string
	cb := New("dep", DefaultConfig(), func(name string, from, to State) {
		transitions = append(transitions, from.String()+"->"+to.String())
	})

	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}
	if len(transitions) != 1 || transitions[0] != "closed->open" {
		t.Errorf("unexpected transitions: %v", transitions)
	}
}

func TestRegistryGetOrCreate(t *testing.T) {
	r := NewRegistry(DefaultConfig())

	a := r.GetOrCreate("llm")
	b := r.GetOrCreate("llm")
	if a != b {
		t.Error("GetOrCreate must return the same breaker per name")
	}
	if r.Get("missing") != nil {
		t.Error("Get must return nil for unknown names")
	}

	r.GetOrCreate("memory")
	if len(r.List()) != 2 {
		t.Errorf("expected 2 breakers, got %d", len(r.List()))
	}
}

func TestDegradationFallbackOnFailure(t *testing.T) {
	d := NewDegradation()
	cb := New("dep", DefaultConfig(), nil)
	d.Register("search", &CircuitBreakerStrategy{Breaker: cb}, "test feature")

	boom := errors.New("boom")
	result, err := d.Execute(context.Background(), "search",
		func(ctx context.Context) (any, error) { return nil, boom },
		func(ctx context.Context) (any, error) { return "fallback", nil })
	if err != nil {
		t.Fatalf("fallback should absorb the error, got %v", err)
	}
	if result != "fallback" {
		t.Errorf("expected fallback result, got %v", result)
	}
	if !d.IsDegraded("search") {
		t.Error("feature should be marked degraded after a failure")
	}

	// A success clears the degraded flag.
	if _, err := d.Execute(context.Background(), "search",
		func(ctx context.Context) (any, error) { return "ok", nil }, nil); err != nil {
		t.Fatal(err)
	}
	if d.IsDegraded("search") {
		t.Error("success should clear the degraded flag")
	}
}

func TestDegradationOpenBreakerSkipsPrimary(t *testing.T) {
	d := NewDegradation()
	cb := New("dep", Config{FailureThreshold: 1, RecoveryTimeout: time.Hour, HalfOpenMaxCalls: 1, SuccessThreshold: 1}, nil)
	cb.RecordFailure()
	if cb.State() != StateOpen {
		t.Fatal("breaker should be open")
	}
	d.Register("search", &CircuitBreakerStrategy{Breaker: cb}, "test feature")

	called := false
	result, err := d.Execute(context.Background(), "search",
		func(ctx context.Context) (any, error) { called = true; return "x", nil }, nil)
	if err != nil {
		t.Fatalf("open breaker without fallback should yield nil, nil; got %v", err)
	}
	if result != nil {
		t.Errorf("expected nil result, got %v", result)
	}
	if called {
		t.Error("primary must not run while the breaker is open")
	}
}

func TestDegradationDisabledFeature(t *testing.T) {
	d := NewDegradation()
	d.Register("search", nil, "test feature")
	if !d.Disable("search") {
		t.Fatal("disable failed")
	}

	called := false
	d.Execute(context.Background(), "search",
		func(ctx context.Context) (any, error) { called = true; return nil, nil }, nil)
	if called {
		t.Error("disabled feature must not run its primary")
	}
	if d.Enable("missing") {
		t.Error("enabling an unknown feature should fail")
	}
}
