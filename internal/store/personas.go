package store

import (
	"database/sql"
	"fmt"
	"time"
)

// PersonaStatus is the lifecycle state of a persona (spec §3).
type PersonaStatus string

const (
	PersonaActive   PersonaStatus = "active"
	PersonaDisabled PersonaStatus = "disabled"
)

// Persona is one bot identity: a signing keypair, a system prompt, and a
// profile blob (typically kind-0 metadata JSON with name/display_name/
// picture/about). Grounded on original_source/src/database/person.rs.
type Persona struct {
	ID                  int64
	Pubkey              string
	SecretKey           string
	Prompt              string
	ProfileJSON         string
	Status              PersonaStatus
	AirReplySingleRatio int
	CreatedAt           int64
	UpdatedAt           int64
}

// AddPersona inserts a new persona. Pubkey must be globally unique (spec
// §3 invariant); a conflict surfaces as the driver's constraint error.
func (s *Store) AddPersona(pubkey, secretKey, prompt, profileJSON string, airReplySingleRatio int) error {
	now := time.Now().UTC().Unix()
	_, err := s.exec(
		`INSERT INTO personas (pubkey, secret_key, prompt, profile_json, status, air_reply_single_ratio, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 'active', ?, ?, ?)`,
		pubkey, secretKey, prompt, profileJSON, airReplySingleRatio, now, now,
	)
	if err != nil {
		return fmt.Errorf("add persona %s: %w", pubkey, err)
	}
	return nil
}

// UpdatePersona overwrites the mutable fields of an existing persona.
func (s *Store) UpdatePersona(pubkey, secretKey, prompt, profileJSON string, airReplySingleRatio int) error {
	_, err := s.exec(
		`UPDATE personas SET secret_key = ?, prompt = ?, profile_json = ?, air_reply_single_ratio = ?, updated_at = ?
		 WHERE pubkey = ?`,
		secretKey, prompt, profileJSON, airReplySingleRatio, time.Now().UTC().Unix(), pubkey,
	)
	if err != nil {
		return fmt.Errorf("update persona %s: %w", pubkey, err)
	}
	return nil
}

// SetPersonaStatus flips a persona active/disabled.
func (s *Store) SetPersonaStatus(pubkey string, status PersonaStatus) error {
	_, err := s.exec(`UPDATE personas SET status = ?, updated_at = ? WHERE pubkey = ?`,
		status, time.Now().UTC().Unix(), pubkey)
	if err != nil {
		return fmt.Errorf("set persona status %s: %w", pubkey, err)
	}
	return nil
}

// DeletePersona removes a persona permanently (spec §3: "deleted only on
// explicit request").
func (s *Store) DeletePersona(pubkey string) error {
	_, err := s.exec(`DELETE FROM personas WHERE pubkey = ?`, pubkey)
	if err != nil {
		return fmt.Errorf("delete persona %s: %w", pubkey, err)
	}
	return nil
}

// ActivePersonas returns every persona with status = active.
func (s *Store) ActivePersonas() ([]Persona, error) {
	rows, err := s.db.Query(
		`SELECT id, pubkey, secret_key, prompt, profile_json, status, air_reply_single_ratio, created_at, updated_at
		 FROM personas WHERE status = 'active'`,
	)
	if err != nil {
		return nil, fmt.Errorf("query active personas: %w", err)
	}
	defer rows.Close()
	return scanPersonas(rows)
}

// GetPersona looks up a single persona by pubkey.
func (s *Store) GetPersona(pubkey string) (*Persona, error) {
	row := s.db.QueryRow(
		`SELECT id, pubkey, secret_key, prompt, profile_json, status, air_reply_single_ratio, created_at, updated_at
		 FROM personas WHERE pubkey = ?`, pubkey,
	)
	var p Persona
	err := row.Scan(&p.ID, &p.Pubkey, &p.SecretKey, &p.Prompt, &p.ProfileJSON, &p.Status, &p.AirReplySingleRatio, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get persona %s: %w", pubkey, err)
	}
	return &p, nil
}

func scanPersonas(rows *sql.Rows) ([]Persona, error) {
	var out []Persona
	for rows.Next() {
		var p Persona
		if err := rows.Scan(&p.ID, &p.Pubkey, &p.SecretKey, &p.Prompt, &p.ProfileJSON, &p.Status, &p.AirReplySingleRatio, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan persona: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
