package contextengine

import (
	"fmt"
	"strings"

	"github.com/kojira/nostr-chan-go/internal/store"
)

const (
	airReplyMarkerSinglePost = "【投稿】"
	airReplyMarkerTimeline   = "【タイムライン】"
)

// AirReplyStore is the subset of *store.Store the air-reply context
// builder needs.
type AirReplyStore interface {
	JapaneseTimelineEvents(limit int) ([]store.EventRecord, error)
}

// BuildAirReplyContext assembles ambient (non-mention) context for a
// persona's unprompted reply: either one randomly chosen recent post, or
// the whole recent Japanese timeline, matching
// original_source/src/event_processor.rs's air-reply branch and
// original_source/src/conversation.rs::build_japanese_timeline_for_air_reply.
//
// singleRatio is the persona's AirReplySingleRatio (0-100, chance of the
// single-post mode). randomPercent and pickIndex are supplied by the
// caller rather than drawn internally so the branch and selection are
// deterministic in tests; the pipeline passes a roll in [0,100) and a
// roll in [0,timelineSize), and pickIndex is reduced modulo the number of
// events loaded.
func BuildAirReplyContext(s AirReplyStore, timelineSize, singleRatio, randomPercent, pickIndex int, resolveName DisplayNameResolver) (string, error) {
	events, err := s.JapaneseTimelineEvents(timelineSize)
	if err != nil {
		return "", fmt.Errorf("load air-reply timeline: %w", err)
	}
	if len(events) == 0 {
		return "", nil
	}

	if randomPercent < singleRatio {
		idx := pickIndex % len(events)
		if idx < 0 {
			idx += len(events)
		}
		e := events[idx]
		return fmt.Sprintf("%s%s", airReplyMarkerSinglePost, formatEventLine(e.Pubkey, e.CreatedAt, e.Content, resolveName)), nil
	}

	chronological := reverseEventRecords(events)
	lines := make([]string, 0, len(chronological))
	for i, e := range chronological {
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, formatEventLine(e.Pubkey, e.CreatedAt, e.Content, resolveName)))
	}
	return fmt.Sprintf("%s\n%s", airReplyMarkerTimeline, strings.Join(lines, "\n")), nil
}

func reverseEventRecords(events []store.EventRecord) []store.EventRecord {
	out := make([]store.EventRecord, len(events))
	for i, e := range events {
		out[len(events)-1-i] = e
	}
	return out
}
