package txqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestEnqueueRunsJob(t *testing.T) {
	q := New(context.Background(), 4, Hooks{})
	defer q.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	ran := false
	if err := q.Enqueue(func() error {
		ran = true
		wg.Done()
		return nil
	}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	wg.Wait()
	if !ran {
		t.Fatal("job did not run")
	}
}

func TestOnErrorHook(t *testing.T) {
	var gotErr error
	var wg sync.WaitGroup
	wg.Add(1)
	q := New(context.Background(), 4, Hooks{OnError: func(err error) { gotErr = err; wg.Done() }})
	defer q.Close()

	wantErr := errors.New("boom")
	if err := q.Enqueue(func() error { return wantErr }); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	wg.Wait()
	if gotErr != wantErr {
		t.Fatalf("gotErr = %v, want %v", gotErr, wantErr)
	}
}

func TestOnDropWhenFull(t *testing.T) {
	block := make(chan struct{})
	q := New(context.Background(), 1, Hooks{
		OnDrop: func() error { return errors.New("dropped") },
	})
	defer func() {
		close(block)
		q.Close()
	}()

	// First job blocks the worker so the buffer fills up.
	started := make(chan struct{})
	if err := q.Enqueue(func() error { close(started); <-block; return nil }); err != nil {
		t.Fatalf("Enqueue 1: %v", err)
	}
	// Wait until the worker has taken job 1 off the buffer.
	<-started
	// Fill the one-slot buffer.
	if err := q.Enqueue(func() error { return nil }); err != nil {
		t.Fatalf("Enqueue 2: %v", err)
	}
	// Third should observe a full buffer and drop.
	var dropErr error
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		dropErr = q.Enqueue(func() error { return nil })
		if dropErr != nil {
			break
		}
	}
	if dropErr == nil {
		t.Fatal("expected a drop once the buffer stayed full")
	}
}

func TestCloseRejectsFurtherEnqueue(t *testing.T) {
	q := New(context.Background(), 2, Hooks{})
	q.Close()
	if err := q.Enqueue(func() error { return nil }); err != ErrQueueClosed {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
}
