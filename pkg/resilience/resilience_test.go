// SPDX-License-Identifier: Apache-2.0
package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	eerrors "github.com/jllopis/ecomentor/pkg/errors"
)

func fastRetry() RetryConfig {
	return DefaultRetryConfig().WithInitialDelay(time.Millisecond).WithMaxAttempts(3)
}

func TestRetrySuccess(t *testing.T) {
	attempts := 0
	err := fastRetry().Do(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient error")
		}
		return nil
	})
	if err != nil {
		t.Errorf("expected success, got error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryMaxAttemptsExceeded(t *testing.T) {
	attempts := 0
	err := fastRetry().WithMaxAttempts(2).Do(context.Background(), func(context.Context) error {
		attempts++
		return errors.New("always fails")
	})
	if err == nil {
		t.Errorf("expected error after max attempts")
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
}

func TestRetryStopsOnNonRecoverableTypedError(t *testing.T) {
	attempts := 0
	err := fastRetry().Do(context.Background(), func(context.Context) error {
		attempts++
		return eerrors.New(eerrors.CodeInvalidInput, "bad request", nil)
	})
	if eerrors.CodeOf(err) != eerrors.CodeInvalidInput {
		t.Errorf("expected invalid input error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestRetryContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := fastRetry().WithInitialDelay(time.Second)
	attempts := 0
	err := cfg.Do(ctx, func(context.Context) error {
		attempts++
		cancel()
		return errors.New("fails")
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if attempts != 1 {
		t.Errorf("expected no retry after cancellation, got %d attempts", attempts)
	}
}

func TestDoValue(t *testing.T) {
	calls := 0
	v, err := DoValue(context.Background(), fastRetry(), func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("flaky")
		}
		return "hits", nil
	})
	if err != nil || v != "hits" {
		t.Fatalf("expected hits, got %q %v", v, err)
	}
}

func TestWithTimeoutExceeded(t *testing.T) {
	_, err := WithTimeout(context.Background(), 10*time.Millisecond, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	if eerrors.CodeOf(err) != eerrors.CodeTimeout {
		t.Fatalf("expected timeout error, got %v", err)
	}
}

func TestWithTimeoutParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := WithTimeout(ctx, time.Second, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	if eerrors.CodeOf(err) != eerrors.CodeContextLost {
		t.Fatalf("expected context lost, got %v", err)
	}
}

func TestWithTimeoutSuccess(t *testing.T) {
	v, err := WithTimeout(context.Background(), time.Second, func(context.Context) (int, error) {
		return 42, nil
	})
	if err != nil || v != 42 {
		t.Fatalf("expected 42, got %d %v", v, err)
	}
}

func TestFallback(t *testing.T) {
	v, cause, err := Fallback(context.Background(),
		func(context.Context) ([]string, error) { return nil, errors.New("editor down") },
		func(error) []string { return []string{"raw"} })
	if err != nil || cause == nil || len(v) != 1 || v[0] != "raw" {
		t.Fatalf("unexpected fallback result %v %v %v", v, cause, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = Fallback(ctx,
		func(ctx context.Context) (int, error) { return 0, ctx.Err() },
		func(error) int { t.Fatal("fallback must not run after cancellation"); return 0 })
	if err == nil {
		t.Fatalf("expected cancellation error")
	}
}

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, Timeout: time.Minute, Name: "gen"})
	now := time.Now()
	cb.now = func() time.Time { return now }

	fail := func(context.Context) error { return errors.New("503") }
	for i := 0; i < 2; i++ {
		_ = cb.Call(context.Background(), fail)
	}
	if cb.State() != StateOpen {
		t.Fatalf("expected open state, got %s", cb.State())
	}

	called := false
	err := cb.Call(context.Background(), func(context.Context) error { called = true; return nil })
	if called || eerrors.CodeOf(err) != eerrors.CodeCircuitOpen {
		t.Fatalf("expected fast failure, got called=%v err=%v", called, err)
	}

	now = now.Add(2 * time.Minute)
	if err := cb.Call(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("expected probe to pass, got %v", err)
	}
	if cb.State() != StateClosed {
		t.Fatalf("expected closed after successful probe, got %s", cb.State())
	}
}

func TestCircuitBreakerIgnoresCallerCancellation(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = cb.Call(ctx, func(ctx context.Context) error { return ctx.Err() })
	if cb.State() != StateClosed {
		t.Fatalf("cancellation must not open the circuit, got %s", cb.State())
	}
}

func TestCircuitBreakerDoesNotSerializeCalls(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = cb.Call(context.Background(), func(context.Context) error {
				started <- struct{}{}
				<-release
				return nil
			})
		}()
	}
	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(time.Second):
			t.Fatalf("calls were serialized")
		}
	}
	close(release)
	wg.Wait()
}
