package lock

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type fakeSweepStore struct {
	calls   atomic.Int64
	cleared int
	err     error
}

func (f *fakeSweepStore) SweepStaleLocks(context.Context) (int, error) {
	f.calls.Add(1)
	return f.cleared, f.err
}

func TestSweeperRunsOnInterval(t *testing.T) {
	fs := &fakeSweepStore{cleared: 2}
	s := NewSweeper(fs, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	deadline := time.After(time.Second)
	for fs.calls.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("expected at least 3 sweeps, got %d", fs.calls.Load())
		case <-time.After(time.Millisecond):
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop on context cancel")
	}
}

func TestSweeperKeepsRunningAfterError(t *testing.T) {
	fs := &fakeSweepStore{err: errors.New("store unavailable")}
	s := NewSweeper(fs, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	deadline := time.After(time.Second)
	for fs.calls.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("expected sweep retries after an error, got %d call(s)", fs.calls.Load())
		case <-time.After(time.Millisecond):
		}
	}
}
