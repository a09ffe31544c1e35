package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rbaliyan/calllog/store"
)

func fastConfig(retries int) Config {
	return Config{MaxRetries: retries, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
}

func TestDo(t *testing.T) {
	t.Run("retries busy until success", func(t *testing.T) {
		attempts := 0
		err := Do(context.Background(), fastConfig(3), func(context.Context) error {
			attempts++
			if attempts < 3 {
				return store.ErrBusy
			}
			return nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if attempts != 3 {
			t.Errorf("expected 3 attempts, got %d", attempts)
		}
	})

	t.Run("non-retryable error returned as is", func(t *testing.T) {
		attempts := 0
		err := Do(context.Background(), fastConfig(3), func(context.Context) error {
			attempts++
			return store.ErrDiskFull
		})
		if err != store.ErrDiskFull {
			t.Errorf("expected ErrDiskFull unchanged, got %v", err)
		}
		if attempts != 1 {
			t.Errorf("expected a single attempt, got %d", attempts)
		}
	})

	t.Run("exhausted retries", func(t *testing.T) {
		attempts := 0
		err := Do(context.Background(), fastConfig(2), func(context.Context) error {
			attempts++
			return store.ErrBusy
		})
		var re *RetryError
		if !errors.As(err, &re) {
			t.Fatalf("expected RetryError, got %v", err)
		}
		if re.Attempts != 3 || attempts != 3 {
			t.Errorf("expected 3 attempts, got %d/%d", re.Attempts, attempts)
		}
		if !errors.Is(err, ErrMaxRetries) || !store.IsBusy(err) {
			t.Errorf("expected max retries wrapping busy, got %v", err)
		}
	})

	t.Run("context canceled between attempts", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cfg := Config{MaxRetries: 5, InitialBackoff: time.Hour, MaxBackoff: time.Hour}
		err := Do(ctx, cfg, func(context.Context) error {
			cancel()
			return store.ErrBusy
		})
		if !errors.Is(err, ErrContextCanceled) {
			t.Errorf("expected ErrContextCanceled, got %v", err)
		}
	})
}

func TestDoWithResult(t *testing.T) {
	n, err := DoWithResult(context.Background(), NoRetry(), func(context.Context) (int64, error) {
		return 7, nil
	})
	if err != nil || n != 7 {
		t.Errorf("got %d, %v", n, err)
	}
}

func TestCalculateBackoffCapped(t *testing.T) {
	cfg := applyDefaults(Config{InitialBackoff: time.Second, MaxBackoff: 2 * time.Second, Multiplier: 10})
	cfg.Jitter = 0
	if got := calculateBackoff(cfg, 3); got != 2*time.Second {
		t.Errorf("expected capped backoff, got %v", got)
	}
}
