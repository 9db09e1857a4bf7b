package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// ConversationLogEntry is one append-only row linking a persona to an event
// it saw or sent (spec §3). Grounded on
// original_source/src/database/conversation.rs.
type ConversationLogEntry struct {
	ID               int64
	PersonaPubkey    string
	EventRefID       int64
	ThreadRootID     sql.NullString
	MentionedPubkeys []string
	IsBotUtterance   bool
	IsBotToBot       bool
	LoggedAt         int64
}

// TimelineEvent is the join of conversation_logs and events used to render
// context-engine timelines (spec §4.F).
type TimelineEvent struct {
	EventRecord
	ThreadRootID sql.NullString
}

// InsertConversationLog always appends a new row and returns its id (spec
// §4.A insert-conversation-log).
func (s *Store) InsertConversationLog(personaPubkey string, eventRefID int64, threadRootID string, mentionedPubkeys []string, isBotUtterance, isBotToBot bool) (int64, error) {
	var mentionedJSON sql.NullString
	if mentionedPubkeys != nil {
		b, err := json.Marshal(mentionedPubkeys)
		if err != nil {
			return 0, fmt.Errorf("marshal mentioned pubkeys: %w", err)
		}
		mentionedJSON = sql.NullString{String: string(b), Valid: true}
	}
	var threadRoot sql.NullString
	if threadRootID != "" {
		threadRoot = sql.NullString{String: threadRootID, Valid: true}
	}

	var id int64
	err := s.withWriteTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(
			`INSERT INTO conversation_logs (persona_pubkey, event_ref_id, thread_root_id, mentioned_pubkeys_json, is_bot_utterance, is_bot_to_bot, logged_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			personaPubkey, eventRefID, threadRoot, mentionedJSON, isBotUtterance, isBotToBot, time.Now().UTC().Unix(),
		)
		if err != nil {
			return fmt.Errorf("insert conversation log: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// PersonaTimeline returns the most recent events a persona has logged
// against any participant, chronological, capped at limit. Grounded on
// original_source/src/database/conversation.rs::get_conversation_timeline,
// the persona-wide variant TimelineWithUser/TimelineInThread narrow.
func (s *Store) PersonaTimeline(personaPubkey string, limit int) ([]TimelineEvent, error) {
	rows, err := s.db.Query(
		`SELECT e.id, e.event_id, e.event_json, e.pubkey, e.kind, e.content, e.created_at, e.received_at, e.language, e.embedding, e.event_type, cl.thread_root_id
		 FROM events e
		 INNER JOIN conversation_logs cl ON e.id = cl.event_ref_id
		 WHERE cl.persona_pubkey = ?
		 ORDER BY e.created_at DESC LIMIT ?`,
		personaPubkey, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query persona timeline: %w", err)
	}
	defer rows.Close()
	return reverseChronological(scanTimelineEvents(rows))
}

// TimelineWithUser returns events exchanged between persona and user,
// chronological, capped at limit (spec §4.A timeline-with-user).
func (s *Store) TimelineWithUser(personaPubkey, userPubkey string, limit int) ([]TimelineEvent, error) {
	rows, err := s.db.Query(
		`SELECT e.id, e.event_id, e.event_json, e.pubkey, e.kind, e.content, e.created_at, e.received_at, e.language, e.embedding, e.event_type, cl.thread_root_id
		 FROM events e
		 INNER JOIN conversation_logs cl ON e.id = cl.event_ref_id
		 WHERE cl.persona_pubkey = ? AND e.pubkey IN (?, ?)
		 ORDER BY e.created_at DESC LIMIT ?`,
		personaPubkey, userPubkey, personaPubkey, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query timeline with user: %w", err)
	}
	defer rows.Close()
	return reverseChronological(scanTimelineEvents(rows))
}

// TimelineInThread is TimelineWithUser further scoped to a thread root; a
// nil root matches rows whose thread_root_id is also NULL (spec §4.A
// timeline-in-thread).
func (s *Store) TimelineInThread(personaPubkey, userPubkey, threadRootID string, limit int) ([]TimelineEvent, error) {
	var rows *sql.Rows
	var err error
	if threadRootID != "" {
		rows, err = s.db.Query(
			`SELECT e.id, e.event_id, e.event_json, e.pubkey, e.kind, e.content, e.created_at, e.received_at, e.language, e.embedding, e.event_type, cl.thread_root_id
			 FROM events e
			 INNER JOIN conversation_logs cl ON e.id = cl.event_ref_id
			 WHERE cl.persona_pubkey = ? AND cl.thread_root_id = ? AND e.pubkey IN (?, ?)
			 ORDER BY e.created_at DESC LIMIT ?`,
			personaPubkey, threadRootID, userPubkey, personaPubkey, limit,
		)
	} else {
		rows, err = s.db.Query(
			`SELECT e.id, e.event_id, e.event_json, e.pubkey, e.kind, e.content, e.created_at, e.received_at, e.language, e.embedding, e.event_type, cl.thread_root_id
			 FROM events e
			 INNER JOIN conversation_logs cl ON e.id = cl.event_ref_id
			 WHERE cl.persona_pubkey = ? AND cl.thread_root_id IS NULL AND e.pubkey IN (?, ?)
			 ORDER BY e.created_at DESC LIMIT ?`,
			personaPubkey, userPubkey, personaPubkey, limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("query timeline in thread: %w", err)
	}
	defer rows.Close()
	return reverseChronological(scanTimelineEvents(rows))
}

// ConversationCount counts conversation-log rows for (persona, user) within
// the trailing window, counting rows whose event author is user or which
// are the bot's own utterance (spec §4.A conversation-count).
func (s *Store) ConversationCount(personaPubkey, userPubkey string, withinMinutes int64) (int, error) {
	cutoff := time.Now().UTC().Unix() - withinMinutes*60
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM conversation_logs cl
		 INNER JOIN events e ON cl.event_ref_id = e.id
		 WHERE cl.persona_pubkey = ? AND (e.pubkey = ? OR cl.is_bot_utterance = 1) AND cl.logged_at > ?`,
		personaPubkey, userPubkey, cutoff,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count conversation: %w", err)
	}
	return count, nil
}

func scanTimelineEvents(rows *sql.Rows) ([]TimelineEvent, error) {
	var out []TimelineEvent
	for rows.Next() {
		var t TimelineEvent
		if err := rows.Scan(&t.ID, &t.EventID, &t.EventJSON, &t.Pubkey, &t.Kind, &t.Content, &t.CreatedAt, &t.ReceivedAt, &t.Language, &t.Embedding, &t.EventType, &t.ThreadRootID); err != nil {
			return nil, fmt.Errorf("scan timeline event: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// reverseChronological flips a newest-first slice into chronological order,
// matching the "newest-first then reversed to chronological" phrasing of
// spec §4.F.
func reverseChronological(events []TimelineEvent, err error) ([]TimelineEvent, error) {
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}
