package contextengine

import (
	"strings"
	"testing"

	"github.com/kojira/nostr-chan-go/internal/store"
)

func noNames(string) string { return "" }

func TestRenderTimelineNumbersAndFormatsLines(t *testing.T) {
	events := []store.TimelineEvent{
		{EventRecord: store.EventRecord{Pubkey: "abcdef1234567890", CreatedAt: 1700000000, Content: "hello"}},
		{EventRecord: store.EventRecord{Pubkey: "abcdef1234567890", CreatedAt: 1700000100, Content: "world"}},
	}
	got := RenderTimeline(events, noNames)
	lines := strings.Split(got, "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), got)
	}
	if !strings.HasPrefix(lines[0], "1. [") || !strings.Contains(lines[0], "abcdef12...: hello") {
		t.Fatalf("unexpected first line: %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "2. [") {
		t.Fatalf("unexpected second line: %q", lines[1])
	}
}

func TestRenderTimelineEmptyReturnsEmptyString(t *testing.T) {
	if got := RenderTimeline(nil, noNames); got != "" {
		t.Fatalf("expected empty string, got %q", got)
	}
}

func TestRenderTimelineUsesResolvedName(t *testing.T) {
	events := []store.TimelineEvent{
		{EventRecord: store.EventRecord{Pubkey: "abcdef1234567890", CreatedAt: 1700000000, Content: "hi"}},
	}
	got := RenderTimeline(events, func(string) string { return "Miku" })
	if !strings.Contains(got, "Miku: hi") {
		t.Fatalf("expected resolved name in output, got %q", got)
	}
}

func TestOverflowsThresholdIsExclusive(t *testing.T) {
	const threshold = 5000
	exact := strings.Repeat("a", threshold)
	if Overflows(exact, threshold) {
		t.Fatalf("expected exactly-at-limit text to not overflow")
	}
	if !Overflows(exact+"a", threshold) {
		t.Fatalf("expected one-over-limit text to overflow")
	}
}

func TestTruncatedPubkeyShortPubkeyUnchanged(t *testing.T) {
	if got := truncatedPubkey("short"); got != "short" {
		t.Fatalf("expected short pubkey unchanged, got %q", got)
	}
}
