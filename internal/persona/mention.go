// Package persona resolves which configured persona, if any, an incoming
// event addresses — by leading name, by display-name substring, or by
// p-tag — grounded verbatim on
// original_source/src/util.rs::extract_mention.
package persona

import (
	"encoding/json"
	"strings"

	"github.com/kojira/nostr-chan-go/internal/store"
)

// Candidate is the subset of persona fields the matcher needs.
type Candidate struct {
	Pubkey      string
	ProfileJSON string
}

type profile struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
}

// FromPersonas adapts store.Persona rows into matcher candidates.
func FromPersonas(personas []store.Persona) []Candidate {
	out := make([]Candidate, len(personas))
	for i, p := range personas {
		out[i] = Candidate{Pubkey: p.Pubkey, ProfileJSON: p.ProfileJSON}
	}
	return out
}

// ExtractMention finds the persona an event addresses. It checks, in
// order: the first whitespace-delimited word of the content against each
// candidate's name and display_name, then a display_name substring match
// anywhere in the content, then falls back to scanning "p" tags for a
// pubkey match. The first candidate satisfying any rule wins — this
// mirrors the original's "first candidate in iteration order" behavior
// rather than picking the best match.
func ExtractMention(candidates []Candidate, content string, tags [][]string) *Candidate {
	words := strings.Fields(content)
	var firstWord string
	if len(words) > 0 {
		firstWord = words[0]
	}

	for i := range candidates {
		var p profile
		if err := json.Unmarshal([]byte(candidates[i].ProfileJSON), &p); err != nil {
			continue
		}
		if firstWord != "" && (firstWord == p.Name || firstWord == p.DisplayName) {
			return &candidates[i]
		}
		if p.DisplayName != "" && strings.Contains(content, p.DisplayName) {
			return &candidates[i]
		}
	}

	for _, tag := range tags {
		if len(tag) < 2 || tag[0] != "p" {
			continue
		}
		for i := range candidates {
			if candidates[i].Pubkey == tag[1] {
				return &candidates[i]
			}
		}
	}

	return nil
}
