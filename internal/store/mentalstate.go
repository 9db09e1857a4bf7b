package store

import (
	"database/sql"
	"fmt"
	"time"
)

// MentalState is a free-text snapshot of a persona's current mood or stance,
// appended periodically so prompt assembly can inject "how the persona is
// feeling right now" (supplemented from original_source per process step 3;
// the distilled spec omits this but the original persona model carries an
// analogous mutable field).
type MentalState struct {
	ID            int64
	PersonaPubkey string
	State         string
	CreatedAt     int64
}

// AddMentalState appends a new snapshot; older ones are kept for history.
func (s *Store) AddMentalState(personaPubkey, state string) error {
	_, err := s.exec(
		`INSERT INTO persona_mental_states (persona_pubkey, state, created_at) VALUES (?, ?, ?)`,
		personaPubkey, state, time.Now().UTC().Unix(),
	)
	if err != nil {
		return fmt.Errorf("add mental state for %s: %w", personaPubkey, err)
	}
	return nil
}

// LatestMentalState returns the most recent snapshot for a persona, or nil
// if none has ever been recorded.
func (s *Store) LatestMentalState(personaPubkey string) (*MentalState, error) {
	row := s.db.QueryRow(
		`SELECT id, persona_pubkey, state, created_at FROM persona_mental_states
		 WHERE persona_pubkey = ? ORDER BY created_at DESC LIMIT 1`,
		personaPubkey,
	)
	var m MentalState
	err := row.Scan(&m.ID, &m.PersonaPubkey, &m.State, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest mental state for %s: %w", personaPubkey, err)
	}
	return &m, nil
}
