package store

import (
	"fmt"
	"time"
)

// UserImpression is a free-text note a persona records about a specific
// user after an interaction, supplementing the original Rust bot's
// persona/conversation tables (spec.md's distillation dropped this; kept
// here per process step 3's "supplement dropped features" instruction,
// since the original tracks per-user impressions as part of persona state).
type UserImpression struct {
	ID            int64
	PersonaPubkey string
	UserPubkey    string
	Note          string
	CreatedAt     int64
}

// AddUserImpression appends a new impression note; history is kept, never
// overwritten, so later prompt assembly can read a short recent window.
func (s *Store) AddUserImpression(personaPubkey, userPubkey, note string) error {
	_, err := s.exec(
		`INSERT INTO user_impressions (persona_pubkey, user_pubkey, note, created_at) VALUES (?, ?, ?, ?)`,
		personaPubkey, userPubkey, note, time.Now().UTC().Unix(),
	)
	if err != nil {
		return fmt.Errorf("add impression %s/%s: %w", personaPubkey, userPubkey, err)
	}
	return nil
}

// LatestUserImpressions returns up to limit most recent notes a persona has
// recorded about a user, newest first.
func (s *Store) LatestUserImpressions(personaPubkey, userPubkey string, limit int) ([]UserImpression, error) {
	rows, err := s.db.Query(
		`SELECT id, persona_pubkey, user_pubkey, note, created_at FROM user_impressions
		 WHERE persona_pubkey = ? AND user_pubkey = ? ORDER BY created_at DESC LIMIT ?`,
		personaPubkey, userPubkey, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query impressions %s/%s: %w", personaPubkey, userPubkey, err)
	}
	defer rows.Close()

	var out []UserImpression
	for rows.Next() {
		var imp UserImpression
		if err := rows.Scan(&imp.ID, &imp.PersonaPubkey, &imp.UserPubkey, &imp.Note, &imp.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan impression: %w", err)
		}
		out = append(out, imp)
	}
	return out, rows.Err()
}
