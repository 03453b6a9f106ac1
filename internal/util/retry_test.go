package util

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetry_SuccessOnFirstAttempt(t *testing.T) {
	attempts := 0
	result := Retry(context.Background(), nil, func() error {
		attempts++
		return nil
	})

	if result.Attempts != 1 || attempts != 1 {
		t.Errorf("expected 1 attempt, got result=%d calls=%d", result.Attempts, attempts)
	}
	if result.LastError != nil {
		t.Errorf("expected no error, got %v", result.LastError)
	}
}

func TestRetry_SuccessAfterRetries(t *testing.T) {
	attempts := 0
	config := &RetryConfig{
		MaxRetries: 5,
		BaseDelay:  time.Millisecond,
		MaxDelay:   10 * time.Millisecond,
		Multiplier: 2.0,
	}

	result := Retry(context.Background(), config, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary error")
		}
		return nil
	})

	if result.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", result.Attempts)
	}
	if result.LastError != nil {
		t.Errorf("expected no error, got %v", result.LastError)
	}
}

func TestRetry_MaxRetriesExceeded(t *testing.T) {
	testErr := errors.New("persistent error")
	config := &RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond}

	result := Retry(context.Background(), config, func() error { return testErr })

	// 1 initial + 3 retries
	if result.Attempts != 4 {
		t.Errorf("expected 4 attempts, got %d", result.Attempts)
	}
	if !errors.Is(result.LastError, ErrMaxRetriesExceeded) {
		t.Error("expected ErrMaxRetriesExceeded in error chain")
	}
	if !errors.Is(result.LastError, testErr) {
		t.Error("expected original error in chain")
	}
}

func TestRetry_RetryIfStopsEarly(t *testing.T) {
	permanent := errors.New("bad request")
	config := &RetryConfig{MaxRetries: 5, BaseDelay: time.Millisecond, RetryIf: RetryIfMarked()}

	result := Retry(context.Background(), config, func() error { return permanent })
	if result.Attempts != 1 {
		t.Errorf("unmarked error should not retry, got %d attempts", result.Attempts)
	}
	if !errors.Is(result.LastError, permanent) {
		t.Errorf("unexpected error %v", result.LastError)
	}

	calls := 0
	result = Retry(context.Background(), config, func() error {
		calls++
		if calls < 3 {
			return MarkRetryable(errors.New("rate limited"))
		}
		return nil
	})
	if result.Attempts != 3 || result.LastError != nil {
		t.Errorf("marked errors should retry: attempts=%d err=%v", result.Attempts, result.LastError)
	}
}

func TestRetry_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	config := &RetryConfig{MaxRetries: -1, BaseDelay: time.Hour}

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	result := Retry(ctx, config, func() error { return errors.New("nope") })
	if !errors.Is(result.LastError, ErrContextCanceled) {
		t.Errorf("expected ErrContextCanceled, got %v", result.LastError)
	}
	if !errors.Is(result.LastError, context.Canceled) {
		t.Errorf("expected context.Canceled in chain, got %v", result.LastError)
	}
}

func TestRetryWithValue(t *testing.T) {
	calls := 0
	val, result := RetryWithValue(context.Background(), &RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond}, func() (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("first fails")
		}
		return "ok", nil
	})

	if val != "ok" {
		t.Errorf("expected ok, got %q", val)
	}
	if result.Attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", result.Attempts)
	}
}

func TestCalculateDelay(t *testing.T) {
	tests := []struct {
		name    string
		config  RetryConfig
		attempt int
		want    time.Duration
	}{
		{"exponential first", RetryConfig{BaseDelay: 100 * time.Millisecond, Multiplier: 2}, 1, 100 * time.Millisecond},
		{"exponential third", RetryConfig{BaseDelay: 100 * time.Millisecond, Multiplier: 2}, 3, 400 * time.Millisecond},
		{"default multiplier", RetryConfig{BaseDelay: 100 * time.Millisecond}, 2, 200 * time.Millisecond},
		{"clamped", RetryConfig{BaseDelay: time.Second, Multiplier: 10, MaxDelay: 5 * time.Second}, 4, 5 * time.Second},
		{"linear first", RetryConfig{BaseDelay: time.Second, Linear: true}, 1, time.Second},
		{"linear third", RetryConfig{BaseDelay: time.Second, Linear: true}, 3, 3 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.config
			if got := calculateDelay(&cfg, tt.attempt); got != tt.want {
				t.Errorf("calculateDelay() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCalculateDelay_JitterBounds(t *testing.T) {
	cfg := &RetryConfig{BaseDelay: 100 * time.Millisecond, Multiplier: 2, Jitter: 0.5}
	for i := 0; i < 50; i++ {
		d := calculateDelay(cfg, 1)
		if d < 50*time.Millisecond || d > 150*time.Millisecond {
			t.Fatalf("jittered delay %v outside [50ms,150ms]", d)
		}
	}
}

func TestMarkRetryableNil(t *testing.T) {
	if MarkRetryable(nil) != nil {
		t.Error("MarkRetryable(nil) should be nil")
	}
	if IsRetryable(errors.New("plain")) {
		t.Error("plain error should not be retryable")
	}
}
