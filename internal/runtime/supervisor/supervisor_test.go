package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestGoStopsOnCancel(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	s.Go0("loop", func(ctx context.Context) { <-ctx.Done() })

	if got := s.Active(); got != 1 {
		t.Fatalf("Active = %d, want 1", got)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := s.Active(); got != 0 {
		t.Fatalf("Active after stop = %d, want 0", got)
	}
}

func TestGoRecoversPanic(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), WithCancelOnError(true))
	s.Go0("boom", func(ctx context.Context) { panic("kaboom") })

	select {
	case <-s.Context().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("expected cancel on panic")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.Wait(ctx)
	if err == nil {
		t.Fatal("expected panic error")
	}
}

func TestGoIgnoresCanceledError(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	s.Go("quiet", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop returned %v, want nil", err)
	}
}

func TestGoRestartRestartsOnError(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	var runs atomic.Int32
	s.GoRestart("flaky", func(ctx context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("transient")
		}
		<-ctx.Done()
		return nil
	}, WithRestartBackoff(time.Millisecond, 5*time.Millisecond))

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("runs = %d, want >= 3", runs.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestGoAfterDoneIsIgnored(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	s.Cancel()
	<-s.Done()
	s.Go0("late", func(ctx context.Context) { t.Error("late goroutine must not run") })
	if got := s.Started(); got != 0 {
		t.Fatalf("Started = %d, want 0", got)
	}
}
