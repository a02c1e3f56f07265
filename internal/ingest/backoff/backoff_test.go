package backoff

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

var errTransient = errors.New("transient")

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		JitterFactor: 0.1,
	}
}

func onlyTransient(err error) bool {
	return errors.Is(err, errTransient) || errors.Is(err, io.ErrUnexpectedEOF)
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	got, err := Retry(context.Background(), fastConfig(5), func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errTransient
		}
		return "page", nil
	}, onlyTransient)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "page" {
		t.Errorf("expected page, got %q", got)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetry_NonRetryablePropagatesImmediately(t *testing.T) {
	fatal := errors.New("bad request")
	calls := 0
	_, err := Retry(context.Background(), fastConfig(5), func(ctx context.Context) (int, error) {
		calls++
		return 0, fatal
	}, onlyTransient)

	if !errors.Is(err, fatal) {
		t.Fatalf("expected original error, got %v", err)
	}
	if errors.Is(err, ErrRetriesExhausted) {
		t.Error("non-retryable error must not be reported as exhausted")
	}
	if calls != 1 {
		t.Errorf("expected exactly 1 call, got %d", calls)
	}
}

func TestRetry_ExhaustionIsDistinguished(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastConfig(4), func(ctx context.Context) (int, error) {
		calls++
		return 0, errTransient
	}, onlyTransient)

	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("expected ErrRetriesExhausted, got %v", err)
	}
	if !errors.Is(err, errTransient) {
		t.Error("exhausted error should still expose the last error")
	}
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) || exhausted.Attempts != 4 {
		t.Errorf("expected 4 attempts recorded, got %+v", exhausted)
	}
	if calls != 4 {
		t.Errorf("expected 4 calls, got %d", calls)
	}
}

func TestRetry_WrapsBodyConsumption(t *testing.T) {
	// The operation fails while "reading the body" on the first attempt.
	attempt := 0
	got, err := Retry(context.Background(), fastConfig(3), func(ctx context.Context) ([]byte, error) {
		attempt++
		if attempt == 1 {
			return nil, io.ErrUnexpectedEOF
		}
		return []byte(`{"data":{}}`), nil
	}, onlyTransient)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != `{"data":{}}` {
		t.Errorf("unexpected body %q", got)
	}
}

func TestRetry_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{MaxAttempts: 10, InitialDelay: time.Second, MaxDelay: time.Second}

	calls := 0
	done := make(chan error, 1)
	go func() {
		_, err := Retry(ctx, cfg, func(ctx context.Context) (int, error) {
			calls++
			return 0, errTransient
		}, onlyTransient)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("retry did not observe cancellation during backoff sleep")
	}
}

func TestConfig_Delay(t *testing.T) {
	cfg := Config{MaxAttempts: 10, InitialDelay: time.Second, MaxDelay: 10 * time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second},
		{20, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := cfg.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %s, want %s", tt.attempt, got, tt.want)
		}
	}
}
