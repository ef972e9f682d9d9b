package retryutil

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDo_SucceedsFirstTry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), TranscriptSchedule, func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if calls != 1 {
		t.Errorf("fn called %d times, want 1", calls)
	}
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	delays := []time.Duration{time.Millisecond, time.Millisecond}
	err := Do(context.Background(), delays, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if calls != 3 {
		t.Errorf("fn called %d times, want 3", calls)
	}
}

func TestDo_ExhaustsSchedule(t *testing.T) {
	calls := 0
	wantErr := errors.New("still broken")
	delays := []time.Duration{time.Millisecond, time.Millisecond}
	err := Do(context.Background(), delays, func(ctx context.Context) error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("Do error = %v, want %v", err, wantErr)
	}
	if calls != 3 {
		t.Errorf("fn called %d times, want 3 (attempts = schedule+1)", calls)
	}
}

func TestDo_PermanentStopsEarly(t *testing.T) {
	calls := 0
	delays := []time.Duration{time.Millisecond, time.Millisecond}
	err := Do(context.Background(), delays, func(ctx context.Context) error {
		calls++
		return Permanent(errors.New("bad request"))
	})
	if !errors.Is(err, ErrPermanent) {
		t.Fatalf("Do error = %v, want ErrPermanent", err)
	}
	if calls != 1 {
		t.Errorf("fn called %d times, want 1", calls)
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, []time.Duration{time.Second}, func(ctx context.Context) error {
		calls++
		return errors.New("fail")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Do error = %v, want context.Canceled", err)
	}
	if calls != 0 {
		t.Errorf("fn called %d times, want 0 with pre-cancelled context", calls)
	}
}

func TestDo_CancelDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, []time.Duration{time.Minute}, func(ctx context.Context) error {
			return errors.New("fail")
		})
	}()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Do error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return promptly after cancellation")
	}
}
