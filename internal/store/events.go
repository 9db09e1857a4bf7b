package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/kojira/nostr-chan-go/internal/core"
	"github.com/kojira/nostr-chan-go/internal/vecbytes"
)

// EventRecord mirrors one row of the events table (spec §3). Embedding is
// the little-endian float32 byte layout of internal/vecbytes; nil when not
// yet computed.
type EventRecord struct {
	ID         int64
	EventID    string
	EventJSON  string
	Pubkey     string
	Kind       int
	Content    string
	CreatedAt  int64
	ReceivedAt int64
	Language   sql.NullString
	Embedding  []byte
	EventType  sql.NullString
}

// InsertEvent stores a new event row. A duplicate event_id is reported as
// core.ErrDuplicateEventID, which callers treat as success (spec §4.A).
func (s *Store) InsertEvent(eventID, eventJSON, pubkey string, kind int, content string, createdAt int64, language, eventType string) (int64, error) {
	var id int64
	err := s.withWriteTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(
			`INSERT INTO events (event_id, event_json, pubkey, kind, content, created_at, received_at, language, event_type)
			 VALUES (?, ?, ?, ?, ?, ?, ?, NULLIF(?, ''), NULLIF(?, ''))`,
			eventID, eventJSON, pubkey, kind, content, createdAt, time.Now().UTC().Unix(), language, eventType,
		)
		if err != nil {
			if isUniqueConstraintErr(err) {
				return core.ErrDuplicateEventID
			}
			return fmt.Errorf("insert event %s: %w", eventID, err)
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// GetEventByEventID looks up an event by its wire event-id.
func (s *Store) GetEventByEventID(eventID string) (*EventRecord, error) {
	row := s.db.QueryRow(
		`SELECT id, event_id, event_json, pubkey, kind, content, created_at, received_at, language, embedding, event_type
		 FROM events WHERE event_id = ?`, eventID,
	)
	var e EventRecord
	err := row.Scan(&e.ID, &e.EventID, &e.EventJSON, &e.Pubkey, &e.Kind, &e.Content, &e.CreatedAt, &e.ReceivedAt, &e.Language, &e.Embedding, &e.EventType)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get event %s: %w", eventID, err)
	}
	return &e, nil
}

// UpdateEventEmbedding overwrites the embedding bytes for an event. Last
// writer wins; idempotent (spec §4.A).
func (s *Store) UpdateEventEmbedding(eventDBID int64, vector []float32) error {
	_, err := s.exec(`UPDATE events SET embedding = ? WHERE id = ?`, vecbytes.Encode(vector), eventDBID)
	if err != nil {
		return fmt.Errorf("update embedding for event %d: %w", eventDBID, err)
	}
	return nil
}

// EventsWithoutEmbedding returns up to limit rows whose embedding is still
// NULL, for the background vectorizer (spec §4.A, §5).
func (s *Store) EventsWithoutEmbedding(limit int) ([]EventRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, event_id, event_json, pubkey, kind, content, created_at, received_at, language, embedding, event_type
		 FROM events WHERE embedding IS NULL ORDER BY created_at ASC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query events without embedding: %w", err)
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var e EventRecord
		if err := rows.Scan(&e.ID, &e.EventID, &e.EventJSON, &e.Pubkey, &e.Kind, &e.Content, &e.CreatedAt, &e.ReceivedAt, &e.Language, &e.Embedding, &e.EventType); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// JapaneseTimelineEvents returns the most recent limit text-note events
// tagged as Japanese, newest first, for air-reply context assembly (spec
// §4.F). event_type = 'air_reply' matches the marker the pipeline writes
// on ingest for Japanese text notes.
func (s *Store) JapaneseTimelineEvents(limit int) ([]EventRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, event_id, event_json, pubkey, kind, content, created_at, received_at, language, embedding, event_type
		 FROM events WHERE language = 'ja' AND event_type = 'air_reply'
		 ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query japanese timeline: %w", err)
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var e EventRecord
		if err := rows.Scan(&e.ID, &e.EventID, &e.EventJSON, &e.Pubkey, &e.Kind, &e.Content, &e.CreatedAt, &e.ReceivedAt, &e.Language, &e.Embedding, &e.EventType); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func isUniqueConstraintErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
