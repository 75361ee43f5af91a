package api

import (
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func TestCircuitBreaker(t *testing.T) {
	t.Run("opens after max failures", func(t *testing.T) {
		cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Minute})

		for i := 0; i < 2; i++ {
			if err := cb.Execute(func() error { return errBoom }); !errors.Is(err, errBoom) {
				t.Fatalf("expected errBoom, got %v", err)
			}
		}

		if cb.State() != StateOpen {
			t.Fatalf("expected open, got %s", cb.State())
		}

		called := false
		err := cb.Execute(func() error { called = true; return nil })
		if !errors.Is(err, ErrCircuitOpen) {
			t.Fatalf("expected ErrCircuitOpen, got %v", err)
		}
		if called {
			t.Fatal("fn must not run while the circuit is open")
		}
	})

	t.Run("success resets the failure count", func(t *testing.T) {
		cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Minute})

		_ = cb.Execute(func() error { return errBoom })
		_ = cb.Execute(func() error { return nil })
		_ = cb.Execute(func() error { return errBoom })

		if cb.State() != StateClosed {
			t.Fatalf("expected closed, got %s", cb.State())
		}
	})

	t.Run("half-open trial call closes on success", func(t *testing.T) {
		cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: 10 * time.Millisecond})

		_ = cb.Execute(func() error { return errBoom })
		time.Sleep(20 * time.Millisecond)

		if err := cb.Execute(func() error { return nil }); err != nil {
			t.Fatalf("expected trial call to pass, got %v", err)
		}
		if cb.State() != StateClosed {
			t.Fatalf("expected closed, got %s", cb.State())
		}
	})

	t.Run("half-open trial call reopens on failure", func(t *testing.T) {
		var transitions []string
		cb := NewCircuitBreaker(CircuitBreakerConfig{
			MaxFailures:  1,
			ResetTimeout: 10 * time.Millisecond,
			OnStateChange: func(from, to CircuitState) {
				transitions = append(transitions, from.String()+"->"+to.String())
			},
		})

		_ = cb.Execute(func() error { return errBoom })
		time.Sleep(20 * time.Millisecond)
		_ = cb.Execute(func() error { return errBoom })

		if cb.State() != StateOpen {
			t.Fatalf("expected open, got %s", cb.State())
		}
		want := []string{"closed->open", "open->half-open", "half-open->open"}
		if len(transitions) != len(want) {
			t.Fatalf("expected transitions %v, got %v", want, transitions)
		}
		for i := range want {
			if transitions[i] != want[i] {
				t.Fatalf("expected transitions %v, got %v", want, transitions)
			}
		}
	})

	t.Run("half-open admits a single trial call", func(t *testing.T) {
		cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: 10 * time.Millisecond})

		_ = cb.Execute(func() error { return errBoom })
		time.Sleep(20 * time.Millisecond)

		trialStarted := make(chan struct{})
		release := make(chan struct{})
		done := make(chan error, 1)
		go func() {
			done <- cb.Execute(func() error {
				close(trialStarted)
				<-release
				return nil
			})
		}()
		<-trialStarted

		called := false
		if err := cb.Execute(func() error { called = true; return nil }); !errors.Is(err, ErrCircuitOpen) {
			t.Fatalf("expected ErrCircuitOpen while the trial call runs, got %v", err)
		}
		if called {
			t.Fatal("only the trial call may reach the backend while half-open")
		}

		close(release)
		if err := <-done; err != nil {
			t.Fatalf("expected trial call to pass, got %v", err)
		}
		if cb.State() != StateClosed {
			t.Fatalf("expected closed, got %s", cb.State())
		}
		if err := cb.Execute(func() error { return nil }); err != nil {
			t.Fatalf("expected closed breaker to allow calls, got %v", err)
		}
	})
}
