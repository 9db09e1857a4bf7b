// Package contextengine assembles the text a persona's prompt is built
// from: a rendered conversation timeline, a summary when that timeline
// overflows, and an air-reply timeline for ambient (non-mention) posts.
// Grounded on original_source/src/conversation.rs.
package contextengine

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kojira/nostr-chan-go/internal/store"
)

// DisplayNameResolver maps an author pubkey to a human-friendly name, or
// "" if none is known. Implementations typically look up cached kind-0
// metadata.
type DisplayNameResolver func(pubkey string) string

// RenderTimeline numbers and formats timeline events the way the original
// bot's build_conversation_timeline does: "N. [MM/DD HH:MM] name: content"
// lines joined by newlines. A display name falls back to the pubkey's
// first 8 hex characters plus "...".
func RenderTimeline(events []store.TimelineEvent, resolveName DisplayNameResolver) string {
	if len(events) == 0 {
		return ""
	}
	lines := make([]string, 0, len(events))
	for i, e := range events {
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, formatTimelineLine(e, resolveName)))
	}
	return strings.Join(lines, "\n")
}

func formatTimelineLine(e store.TimelineEvent, resolveName DisplayNameResolver) string {
	return formatEventLine(e.Pubkey, e.CreatedAt, e.Content, resolveName)
}

// formatEventLine renders "[MM/DD HH:MM] name: content" for any event's
// raw fields, shared by the mention-mode timeline and the air-reply
// context builder.
func formatEventLine(pubkey string, createdAt int64, content string, resolveName DisplayNameResolver) string {
	t := time.Unix(createdAt, 0).Local()
	name := resolveName(pubkey)
	if name == "" {
		name = truncatedPubkey(pubkey)
	}
	return fmt.Sprintf("[%s] %s: %s", t.Format("01/02 15:04"), name, content)
}

func truncatedPubkey(pubkey string) string {
	if len(pubkey) > 8 {
		return pubkey[:8] + "..."
	}
	return pubkey
}

// Overflows reports whether a rendered timeline exceeds threshold
// characters, the length past which the original summarizes instead of
// rendering verbatim. threshold is the layered summary_threshold setting
// (spec §4.H), originally the hardcoded MAX_TIMELINE_LENGTH constant.
func Overflows(timelineText string, threshold int) bool {
	return utf8.RuneCountInString(timelineText) > threshold
}
