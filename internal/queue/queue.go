// Package queue is a thin typed façade over the store's durable event_queue
// table (spec §4.E). It owns JSON marshaling of the raw relay event so
// callers work with typed *nostr.Event values instead of strings, while
// eviction, leasing and completion semantics stay entirely in
// internal/store, grounded on original_source/src/database/queue.rs.
// Styled on the teacher's pkg/aiqueue/notice.go small-façade-over-storage
// pattern.
package queue

import (
	"encoding/json"
	"fmt"

	"github.com/nbd-wtf/go-nostr"
	"github.com/rs/zerolog"

	"github.com/kojira/nostr-chan-go/internal/store"
)

// Store is the subset of *store.Store the queue depends on.
type Store interface {
	Enqueue(eventJSON string) error
	DequeueLease() (*store.QueuedEvent, error)
	Complete(id int64) error
	ResetInFlight() (int64, error)
	PendingQueueDepth() (int, error)
}

// Queue is the durable FIFO of incoming relay events awaiting pipeline
// processing.
type Queue struct {
	store Store
	log   zerolog.Logger
}

// New builds a Queue over the given storage backend.
func New(s Store, log zerolog.Logger) *Queue {
	return &Queue{store: s, log: log}
}

// Leased is a dequeued event paired with the queue row id needed to
// complete it.
type Leased struct {
	RowID int64
	Event *nostr.Event
}

// Push enqueues a relay event for later processing.
func (q *Queue) Push(evt *nostr.Event) error {
	b, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event %s for queue: %w", evt.ID, err)
	}
	return q.store.Enqueue(string(b))
}

// Lease dequeues the oldest pending event and marks it processing. Returns
// nil when the queue is empty.
func (q *Queue) Lease() (*Leased, error) {
	row, err := q.store.DequeueLease()
	if err != nil {
		return nil, fmt.Errorf("lease queue row: %w", err)
	}
	if row == nil {
		return nil, nil
	}
	var evt nostr.Event
	if err := json.Unmarshal([]byte(row.EventJSON), &evt); err != nil {
		// A malformed row can never be processed; drop it rather than
		// jamming the queue forever.
		q.log.Error().Err(err).Int64("row_id", row.ID).Msg("dropping unparseable queue row")
		_ = q.store.Complete(row.ID)
		return q.Lease()
	}
	return &Leased{RowID: row.ID, Event: &evt}, nil
}

// Complete removes a leased row once the pipeline has finished with it.
func (q *Queue) Complete(rowID int64) error {
	return q.store.Complete(rowID)
}

// ResetInFlight requeues any row left in "processing" from a prior crash.
// Called once at startup.
func (q *Queue) ResetInFlight() (int64, error) {
	return q.store.ResetInFlight()
}

// Depth reports the number of events awaiting processing.
func (q *Queue) Depth() (int, error) {
	return q.store.PendingQueueDepth()
}
