package store

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/rs/zerolog"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "test.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenRunsMigrationsIdempotently(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")

	s, err := Open(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	s.Close()

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected db file to exist: %v", err)
	}

	s2, err := Open(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer s2.Close()
}

func TestPersonaLifecycle(t *testing.T) {
	s := newTestStore(t)

	if err := s.AddPersona("pub1", "sec1", "be nice", `{"name":"bot1"}`, 30); err != nil {
		t.Fatalf("add persona: %v", err)
	}

	p, err := s.GetPersona("pub1")
	if err != nil {
		t.Fatalf("get persona: %v", err)
	}
	if p == nil || p.Status != PersonaActive {
		t.Fatalf("expected active persona, got %+v", p)
	}

	if err := s.SetPersonaStatus("pub1", PersonaDisabled); err != nil {
		t.Fatalf("set status: %v", err)
	}
	active, err := s.ActivePersonas()
	if err != nil {
		t.Fatalf("active personas: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("expected no active personas after disable, got %d", len(active))
	}

	if err := s.DeletePersona("pub1"); err != nil {
		t.Fatalf("delete persona: %v", err)
	}
	gone, err := s.GetPersona("pub1")
	if err != nil {
		t.Fatalf("get deleted persona: %v", err)
	}
	if gone != nil {
		t.Fatalf("expected persona to be gone, got %+v", gone)
	}
}

func TestInsertEventDuplicateReturnsSentinel(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.InsertEvent("evt1", "{}", "pub1", 1, "hello", 1000, "en", "mention"); err != nil {
		t.Fatalf("insert event: %v", err)
	}
	_, err := s.InsertEvent("evt1", "{}", "pub1", 1, "hello", 1000, "en", "mention")
	if err == nil {
		t.Fatalf("expected duplicate insert to fail")
	}
}

// TestEnqueueEvictsExactlyOneOldestRowAtCapacity exercises spec §8's queue
// overflow scenario: at exactly maxQueueRows pending rows, one more Enqueue
// call must evict exactly the single oldest row, not more and not fewer.
func TestEnqueueEvictsExactlyOneOldestRowAtCapacity(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < maxQueueRows; i++ {
		if err := s.Enqueue(`{"n":` + strconv.Itoa(i) + `}`); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	depth, err := s.PendingQueueDepth()
	if err != nil {
		t.Fatalf("pending depth: %v", err)
	}
	if depth != maxQueueRows {
		t.Fatalf("expected %d pending rows, got %d", maxQueueRows, depth)
	}

	if err := s.Enqueue(`{"n":"overflow"}`); err != nil {
		t.Fatalf("enqueue overflow: %v", err)
	}

	depth, err = s.PendingQueueDepth()
	if err != nil {
		t.Fatalf("pending depth after overflow: %v", err)
	}
	if depth != maxQueueRows {
		t.Fatalf("expected depth to stay at cap %d, got %d", maxQueueRows, depth)
	}

	first, err := s.DequeueLease()
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if first == nil {
		t.Fatalf("expected a leased row")
	}
	if first.EventJSON == `{"n":0}` {
		t.Fatalf("expected oldest row (n=0) to have been evicted, but it was dequeued")
	}
}

func TestDequeueLeaseIsFIFOAndCompleteRemoves(t *testing.T) {
	s := newTestStore(t)

	if err := s.Enqueue(`{"n":1}`); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := s.Enqueue(`{"n":2}`); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	q, err := s.DequeueLease()
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if q == nil || q.EventJSON != `{"n":1}` {
		t.Fatalf("expected FIFO order to return n=1 first, got %+v", q)
	}
	if q.Status != "processing" {
		t.Fatalf("expected leased row to be processing, got %s", q.Status)
	}

	if err := s.Complete(q.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	depth, err := s.PendingQueueDepth()
	if err != nil {
		t.Fatalf("pending depth: %v", err)
	}
	if depth != 1 {
		t.Fatalf("expected 1 remaining pending row, got %d", depth)
	}
}

func TestResetInFlightRequeuesProcessingRows(t *testing.T) {
	s := newTestStore(t)

	if err := s.Enqueue(`{"n":1}`); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := s.DequeueLease(); err != nil {
		t.Fatalf("dequeue: %v", err)
	}

	depth, err := s.PendingQueueDepth()
	if err != nil {
		t.Fatalf("pending depth: %v", err)
	}
	if depth != 0 {
		t.Fatalf("expected leased row to no longer be pending, got depth %d", depth)
	}

	n, err := s.ResetInFlight()
	if err != nil {
		t.Fatalf("reset in-flight: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 row reset, got %d", n)
	}

	depth, err = s.PendingQueueDepth()
	if err != nil {
		t.Fatalf("pending depth after reset: %v", err)
	}
	if depth != 1 {
		t.Fatalf("expected row to be pending again after reset, got depth %d", depth)
	}
}
