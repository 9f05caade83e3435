package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestGoWaitPropagatesError(t *testing.T) {
	s := New(context.Background())
	want := errors.New("boom")
	s.Go("worker", func(ctx context.Context) error { return want })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Wait(ctx); err == nil || !errors.Is(err, want) {
		t.Fatalf("Wait = %v, want wrapped %v", err, want)
	}
}

func TestCancelOnErrorCancelsContext(t *testing.T) {
	s := New(context.Background(), WithCancelOnError(true))
	s.Go("failing", func(ctx context.Context) error { return errors.New("fatal") })

	select {
	case <-s.Context().Done():
	case <-time.After(time.Second):
		t.Fatalf("context not canceled after goroutine error")
	}
}

func TestPanicIsRecovered(t *testing.T) {
	s := New(context.Background(), WithCancelOnError(true))
	s.Go0("panicking", func(ctx context.Context) { panic("oops") })

	select {
	case <-s.Context().Done():
	case <-time.After(time.Second):
		t.Fatalf("context not canceled after panic")
	}
	if s.Err() == nil {
		t.Fatalf("panic did not surface as an error")
	}
}

func TestStopWaitsForGoroutines(t *testing.T) {
	s := New(context.Background())
	finished := make(chan struct{})
	s.Go0("blocker", func(ctx context.Context) {
		<-ctx.Done()
		close(finished)
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-finished:
	default:
		t.Fatalf("Stop returned before the goroutine exited")
	}
}

func TestGoRestartRestartsAfterError(t *testing.T) {
	s := New(context.Background())

	var mu sync.Mutex
	runs := 0
	settled := make(chan struct{})
	s.GoRestart("flaky", func(ctx context.Context) error {
		mu.Lock()
		runs++
		n := runs
		mu.Unlock()
		if n < 3 {
			return errors.New("transient")
		}
		close(settled)
		<-ctx.Done()
		return ctx.Err()
	})

	select {
	case <-settled:
	case <-time.After(5 * time.Second):
		t.Fatalf("function was not restarted after transient errors")
	}

	s.Cancel()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait after cancel = %v, want nil", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if runs != 3 {
		t.Fatalf("runs = %d, want 3", runs)
	}
}

func TestGoRestartStopsOnCleanExit(t *testing.T) {
	s := New(context.Background())

	done := make(chan struct{})
	s.GoRestart("oneshot", func(ctx context.Context) error {
		close(done)
		return nil
	})

	<-done
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	// A nil return means finished, not failed: no restart, no error.
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop = %v, want nil", err)
	}
}

func TestContextCanceledIsNotAnError(t *testing.T) {
	s := New(context.Background())
	s.Go("clean", func(ctx context.Context) error { return context.Canceled })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait = %v, want nil", err)
	}
}
