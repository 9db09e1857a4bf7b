package store

import (
	"database/sql"
	"fmt"
	"time"
)

// FollowerCacheEntry mirrors one row of follower_cache, a TTL-style cache
// over the relay-derived "does user follow persona" check (spec §4.A/§4.C).
// Grounded on original_source/src/util.rs (is_follower queries a ContactList
// kind-3 event and the original caches the result in SQLite).
type FollowerCacheEntry struct {
	UserPubkey    string
	PersonaPubkey string
	IsFollower    bool
	CachedAt      int64
}

// GetFollowerCache returns the cached entry, or nil if absent. The caller
// is responsible for treating entries older than its own TTL as a miss.
func (s *Store) GetFollowerCache(userPubkey, personaPubkey string) (*FollowerCacheEntry, error) {
	row := s.db.QueryRow(
		`SELECT user_pubkey, persona_pubkey, is_follower, cached_at FROM follower_cache WHERE user_pubkey = ? AND persona_pubkey = ?`,
		userPubkey, personaPubkey,
	)
	var e FollowerCacheEntry
	err := row.Scan(&e.UserPubkey, &e.PersonaPubkey, &e.IsFollower, &e.CachedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get follower cache %s/%s: %w", userPubkey, personaPubkey, err)
	}
	return &e, nil
}

// SetFollowerCache upserts the cached follow status with the current time.
func (s *Store) SetFollowerCache(userPubkey, personaPubkey string, isFollower bool) error {
	_, err := s.exec(
		`INSERT INTO follower_cache (user_pubkey, persona_pubkey, is_follower, cached_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_pubkey, persona_pubkey) DO UPDATE SET is_follower = excluded.is_follower, cached_at = excluded.cached_at`,
		userPubkey, personaPubkey, isFollower, time.Now().UTC().Unix(),
	)
	if err != nil {
		return fmt.Errorf("set follower cache %s/%s: %w", userPubkey, personaPubkey, err)
	}
	return nil
}

// ClearFollowerCache drops every cached entry for a persona, used when an
// operator forces a refresh (spec §4.J admin surface).
func (s *Store) ClearFollowerCache(personaPubkey string) error {
	_, err := s.exec(`DELETE FROM follower_cache WHERE persona_pubkey = ?`, personaPubkey)
	if err != nil {
		return fmt.Errorf("clear follower cache for %s: %w", personaPubkey, err)
	}
	return nil
}
