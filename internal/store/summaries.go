package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kojira/nostr-chan-go/internal/vecbytes"
)

// Summary is a compacted slice of timeline history kept so the context
// engine can reuse it instead of resummarizing overlapping spans (spec §4.F
// summarize-with-reuse). Grounded on
// original_source/src/conversation.rs (summarize_conversation_if_needed,
// search_most_similar_summary).
type Summary struct {
	ID                 int64
	PersonaPubkey      string
	Summary            string
	UserInput          string
	UserInputEmbedding []float32
	Participants       []string
	CoveredFrom        int64
	CoveredTo          int64
	CreatedAt          int64
}

// InsertSummary stores a new summary row.
func (s *Store) InsertSummary(personaPubkey, summary, userInput string, embedding []float32, participants []string, coveredFrom, coveredTo int64) (int64, error) {
	var participantsJSON sql.NullString
	if participants != nil {
		b, err := json.Marshal(participants)
		if err != nil {
			return 0, fmt.Errorf("marshal participants: %w", err)
		}
		participantsJSON = sql.NullString{String: string(b), Valid: true}
	}

	var id int64
	err := s.withWriteTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(
			`INSERT INTO conversation_summaries (persona_pubkey, summary, user_input, user_input_embedding, participants_json, covered_from, covered_to, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			personaPubkey, summary, userInput, vecbytes.Encode(embedding), participantsJSON, coveredFrom, coveredTo, time.Now().UTC().Unix(),
		)
		if err != nil {
			return fmt.Errorf("insert summary: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// RecentSummaries returns up to limit most recent summaries for a persona,
// newest first, as candidates for similarity-based reuse (spec §4.F: "up to
// 10 past summaries").
func (s *Store) RecentSummaries(personaPubkey string, limit int) ([]Summary, error) {
	rows, err := s.db.Query(
		`SELECT id, persona_pubkey, summary, user_input, user_input_embedding, participants_json, covered_from, covered_to, created_at
		 FROM conversation_summaries WHERE persona_pubkey = ? ORDER BY created_at DESC LIMIT ?`,
		personaPubkey, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent summaries: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sm Summary
		var embeddingBytes []byte
		var participantsJSON sql.NullString
		if err := rows.Scan(&sm.ID, &sm.PersonaPubkey, &sm.Summary, &sm.UserInput, &embeddingBytes, &participantsJSON, &sm.CoveredFrom, &sm.CoveredTo, &sm.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		sm.UserInputEmbedding = vecbytes.Decode(embeddingBytes)
		if participantsJSON.Valid {
			if err := json.Unmarshal([]byte(participantsJSON.String), &sm.Participants); err != nil {
				return nil, fmt.Errorf("unmarshal participants: %w", err)
			}
		}
		out = append(out, sm)
	}
	return out, rows.Err()
}
