package store

import (
	"database/sql"
	"fmt"
	"time"
)

// maxQueueRows is the durable FIFO cap from spec §4.A/§8: once the pending
// backlog is at capacity, the oldest pending rows are evicted to make room
// for exactly one more. Grounded on
// original_source/src/database/queue.rs (queue_size/to_delete math).
const maxQueueRows = 30

// QueuedEvent is one row of event_queue.
type QueuedEvent struct {
	ID        int64
	EventJSON string
	AddedAt   int64
	Status    string
}

// Enqueue appends a raw event JSON blob as a pending row. If doing so would
// push the pending count over maxQueueRows, the oldest pending rows are
// deleted first so that exactly one slot remains (spec §4.A enqueue,
// §9 open question: eviction is silent, there is no poison/retry tracking
// here by design — see DESIGN.md).
func (s *Store) Enqueue(eventJSON string) error {
	return s.withWriteTx(func(tx *sql.Tx) error {
		var pending int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM event_queue WHERE status = 'pending'`).Scan(&pending); err != nil {
			return fmt.Errorf("count pending queue rows: %w", err)
		}
		if pending >= maxQueueRows {
			toDelete := pending - (maxQueueRows - 1)
			if _, err := tx.Exec(
				`DELETE FROM event_queue WHERE id IN (
					SELECT id FROM event_queue WHERE status = 'pending' ORDER BY added_at ASC LIMIT ?
				)`, toDelete,
			); err != nil {
				return fmt.Errorf("evict oldest queue rows: %w", err)
			}
		}
		if _, err := tx.Exec(
			`INSERT INTO event_queue (event_json, added_at, status) VALUES (?, ?, 'pending')`,
			eventJSON, time.Now().UTC().Unix(),
		); err != nil {
			return fmt.Errorf("enqueue event: %w", err)
		}
		return nil
	})
}

// DequeueLease atomically picks the oldest pending row, flips it to
// processing, and returns it. Returns (nil, nil) when the queue is empty
// (spec §4.A dequeue-lease).
func (s *Store) DequeueLease() (*QueuedEvent, error) {
	var q QueuedEvent
	err := s.withWriteTx(func(tx *sql.Tx) error {
		row := tx.QueryRow(
			`SELECT id, event_json, added_at, status FROM event_queue
			 WHERE status = 'pending' ORDER BY added_at ASC LIMIT 1`,
		)
		if err := row.Scan(&q.ID, &q.EventJSON, &q.AddedAt, &q.Status); err != nil {
			if err == sql.ErrNoRows {
				return sql.ErrNoRows
			}
			return fmt.Errorf("select next queue row: %w", err)
		}
		if _, err := tx.Exec(`UPDATE event_queue SET status = 'processing' WHERE id = ?`, q.ID); err != nil {
			return fmt.Errorf("lease queue row %d: %w", q.ID, err)
		}
		q.Status = "processing"
		return nil
	})
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// Complete removes a leased row once processing has finished, successfully
// or not; the queue keeps no record of failed attempts (spec §9 open
// question, preserved as-is).
func (s *Store) Complete(id int64) error {
	_, err := s.exec(`DELETE FROM event_queue WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("complete queue row %d: %w", id, err)
	}
	return nil
}

// ResetInFlight flips every processing row back to pending. Called once at
// startup so rows leased by a crashed process are retried (spec §4.A
// reset-in-flight, §8 crash-recovery scenario).
func (s *Store) ResetInFlight() (int64, error) {
	res, err := s.exec(`UPDATE event_queue SET status = 'pending' WHERE status = 'processing'`)
	if err != nil {
		return 0, fmt.Errorf("reset in-flight queue rows: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected reset in-flight: %w", err)
	}
	return n, nil
}

// PendingQueueDepth reports the current pending backlog size, used by
// admin/status reporting.
func (s *Store) PendingQueueDepth() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM event_queue WHERE status = 'pending'`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return n, nil
}
