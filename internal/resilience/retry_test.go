package resilience

import (
	"context"
	"errors"
	"testing"
)

func TestRetryOnce_SuccessFirstTry(t *testing.T) {
	t.Parallel()
	calls := 0
	got, err := RetryOnce(context.Background(), "op", func(context.Context) (int, error) {
		calls++
		return 42, nil
	})
	if err != nil || got != 42 {
		t.Fatalf("got %d, %v", got, err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryOnce_RecoversOnSecondTry(t *testing.T) {
	t.Parallel()
	calls := 0
	got, err := RetryOnce(context.Background(), "op", func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})
	if err != nil || got != "ok" {
		t.Fatalf("got %q, %v", got, err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestRetryOnce_SecondFailureIsFinal(t *testing.T) {
	t.Parallel()
	calls := 0
	wantErr := errors.New("still broken")
	_, err := RetryOnce(context.Background(), "op", func(context.Context) (int, error) {
		calls++
		return 0, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want exactly 2", calls)
	}
}

func TestRetryOnce_NoRetryAfterCancellation(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := RetryOnce(ctx, "op", func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, context.Canceled
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry once ctx is cancelled)", calls)
	}
}
