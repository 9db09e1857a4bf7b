package store

import (
	"fmt"
	"time"

	"github.com/kojira/nostr-chan-go/internal/core"
)

// TokenUsageRecord is one accounting row, recorded by the reply pipeline
// after each reply completion so operators can audit spend per persona and
// per category; summary and embedding calls are not recorded (spec §4.A,
// §4.H). Grounded on original_source/src/database/schema.rs's
// token_usage/token_categories tables; the prompt/completion text columns
// mirror the original's practice of keeping a raw transcript alongside the
// token counts for later review.
type TokenUsageRecord struct {
	ID               int64
	PersonaPubkey    string
	Category         core.TokenCategory
	PromptTokens     int
	CompletionTokens int
	PromptText       string
	CompletionText   string
	CreatedAt        int64
}

// InsertTokenUsage appends a usage row.
func (s *Store) InsertTokenUsage(personaPubkey string, category core.TokenCategory, promptTokens, completionTokens int, promptText, completionText string) error {
	_, err := s.exec(
		`INSERT INTO token_usage (persona_pubkey, category, prompt_tokens, completion_tokens, prompt_text, completion_text, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		personaPubkey, string(category), promptTokens, completionTokens, promptText, completionText, time.Now().UTC().Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert token usage for %s/%s: %w", personaPubkey, category, err)
	}
	return nil
}

// TokenUsageTotals sums prompt/completion tokens per category for a persona,
// for admin reporting (spec §4.J).
func (s *Store) TokenUsageTotals(personaPubkey string) (map[core.TokenCategory]TokenUsageRecord, error) {
	rows, err := s.db.Query(
		`SELECT category, COALESCE(SUM(prompt_tokens),0), COALESCE(SUM(completion_tokens),0)
		 FROM token_usage WHERE persona_pubkey = ? GROUP BY category`,
		personaPubkey,
	)
	if err != nil {
		return nil, fmt.Errorf("sum token usage for %s: %w", personaPubkey, err)
	}
	defer rows.Close()

	out := make(map[core.TokenCategory]TokenUsageRecord)
	for rows.Next() {
		var category string
		var rec TokenUsageRecord
		if err := rows.Scan(&category, &rec.PromptTokens, &rec.CompletionTokens); err != nil {
			return nil, fmt.Errorf("scan token usage total: %w", err)
		}
		rec.PersonaPubkey = personaPubkey
		rec.Category = core.TokenCategory(category)
		out[rec.Category] = rec
	}
	return out, rows.Err()
}
