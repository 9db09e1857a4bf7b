package contextengine

import (
	"errors"
	"strings"
	"testing"

	"github.com/kojira/nostr-chan-go/internal/store"
)

var errBoom = errors.New("boom")

type fakeAirReplyStore struct {
	events []store.EventRecord
	err    error
}

func (f *fakeAirReplyStore) JapaneseTimelineEvents(limit int) ([]store.EventRecord, error) {
	return f.events, f.err
}

func TestBuildAirReplyContextEmptyTimelineReturnsEmpty(t *testing.T) {
	s := &fakeAirReplyStore{}
	got, err := BuildAirReplyContext(s, 50, 30, 10, 0, noNames)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "" {
		t.Fatalf("expected empty context, got %q", got)
	}
}

func TestBuildAirReplyContextSinglePostModeWhenBelowRatio(t *testing.T) {
	s := &fakeAirReplyStore{events: []store.EventRecord{
		{Pubkey: "abcdef1234567890", CreatedAt: 1700000000, Content: "newest"},
		{Pubkey: "abcdef1234567890", CreatedAt: 1699999900, Content: "older"},
	}}
	got, err := BuildAirReplyContext(s, 50, 30, 10, 0, noNames)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(got, airReplyMarkerSinglePost) {
		t.Fatalf("expected single-post marker, got %q", got)
	}
	if !strings.Contains(got, "newest") {
		t.Fatalf("expected the selected index's event content, got %q", got)
	}
}

func TestBuildAirReplyContextTimelineModeWhenAtOrAboveRatio(t *testing.T) {
	s := &fakeAirReplyStore{events: []store.EventRecord{
		{Pubkey: "abcdef1234567890", CreatedAt: 1700000100, Content: "second"},
		{Pubkey: "abcdef1234567890", CreatedAt: 1700000000, Content: "first"},
	}}
	got, err := BuildAirReplyContext(s, 50, 30, 30, 0, noNames)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(got, airReplyMarkerTimeline) {
		t.Fatalf("expected timeline marker, got %q", got)
	}
	firstIdx := strings.Index(got, "first")
	secondIdx := strings.Index(got, "second")
	if firstIdx == -1 || secondIdx == -1 || firstIdx > secondIdx {
		t.Fatalf("expected chronological ordering (first before second), got %q", got)
	}
	if !strings.Contains(got, "1. [") {
		t.Fatalf("expected numbered lines, got %q", got)
	}
}

func TestBuildAirReplyContextPickIndexWraps(t *testing.T) {
	s := &fakeAirReplyStore{events: []store.EventRecord{
		{Pubkey: "a", CreatedAt: 1, Content: "one"},
		{Pubkey: "b", CreatedAt: 2, Content: "two"},
	}}
	got, err := BuildAirReplyContext(s, 50, 100, 0, 5, noNames)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(got, "two") {
		t.Fatalf("expected wrapped index 5%%2=1 to select \"two\", got %q", got)
	}
}

func TestBuildAirReplyContextPropagatesStoreError(t *testing.T) {
	s := &fakeAirReplyStore{err: errBoom}
	if _, err := BuildAirReplyContext(s, 50, 30, 10, 0, noNames); err == nil {
		t.Fatalf("expected error to propagate")
	}
}
