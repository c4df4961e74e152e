package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type blockingWorker struct {
	runFn func(ctx context.Context) error
}

func (w *blockingWorker) Run(ctx context.Context) error {
	if w.runFn != nil {
		return w.runFn(ctx)
	}
	<-ctx.Done()
	return nil
}

func TestRunner_StopOnCancel(t *testing.T) {
	t.Parallel()
	r := NewRunner(&blockingWorker{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop after cancel")
	}
}

func TestRunner_PropagateError(t *testing.T) {
	t.Parallel()
	testErr := errors.New("worker failed")
	r := NewRunner(
		&blockingWorker{runFn: func(context.Context) error { return testErr }},
		&blockingWorker{},
	)

	err := r.Run(t.Context())
	if !errors.Is(err, testErr) {
		t.Errorf("err = %v, want %v", err, testErr)
	}
}

func TestRunner_MultipleWorkers(t *testing.T) {
	t.Parallel()
	var started atomic.Int32
	mk := func() *blockingWorker {
		return &blockingWorker{runFn: func(ctx context.Context) error {
			started.Add(1)
			<-ctx.Done()
			return nil
		}}
	}
	r := NewRunner(mk(), mk())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if started.Load() != 2 {
			t.Errorf("started = %d, want 2", started.Load())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}
}
