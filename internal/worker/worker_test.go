package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/rs/zerolog"

	"github.com/kojira/nostr-chan-go/internal/queue"
)

type fakeQueue struct {
	events      chan *nostr.Event
	completed   []int64
	resetCalled bool
	nextRowID   int64
}

func newFakeQueue(events ...*nostr.Event) *fakeQueue {
	ch := make(chan *nostr.Event, len(events))
	for _, e := range events {
		ch <- e
	}
	return &fakeQueue{events: ch}
}

func (f *fakeQueue) Lease() (*queue.Leased, error) {
	select {
	case e := <-f.events:
		f.nextRowID++
		return &queue.Leased{RowID: f.nextRowID, Event: e}, nil
	default:
		return nil, nil
	}
}

func (f *fakeQueue) Complete(rowID int64) error {
	f.completed = append(f.completed, rowID)
	return nil
}

func (f *fakeQueue) ResetInFlight() (int64, error) {
	f.resetCalled = true
	return 0, nil
}

func TestPoolProcessesEveryQueuedEvent(t *testing.T) {
	evt1 := &nostr.Event{ID: "a"}
	evt2 := &nostr.Event{ID: "b"}
	q := newFakeQueue(evt1, evt2)

	var processed int32
	runner := RunnerFunc(func(ctx context.Context, evt *nostr.Event) (any, error) {
		atomic.AddInt32(&processed, 1)
		return nil, nil
	})

	pool := New(q, runner, 2, 10*time.Millisecond, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = pool.Run(ctx)

	if atomic.LoadInt32(&processed) != 2 {
		t.Fatalf("expected 2 events processed, got %d", processed)
	}
	if len(q.completed) != 2 {
		t.Fatalf("expected 2 completions, got %d", len(q.completed))
	}
	if !q.resetCalled {
		t.Fatalf("expected ResetInFlight to be called on startup")
	}
}

func TestPoolCompletesEvenWhenRunnerErrors(t *testing.T) {
	q := newFakeQueue(&nostr.Event{ID: "a"})
	runner := RunnerFunc(func(ctx context.Context, evt *nostr.Event) (any, error) {
		return nil, errors.New("boom")
	})

	pool := New(q, runner, 1, 10*time.Millisecond, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_ = pool.Run(ctx)

	if len(q.completed) != 1 {
		t.Fatalf("expected the row to be completed even after a processing error, got %d completions", len(q.completed))
	}
}

func TestPoolStopsWhenContextCanceled(t *testing.T) {
	q := newFakeQueue()
	runner := RunnerFunc(func(ctx context.Context, evt *nostr.Event) (any, error) { return nil, nil })

	pool := New(q, runner, 1, 5*time.Millisecond, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		_ = pool.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pool did not stop after context cancellation")
	}
}
