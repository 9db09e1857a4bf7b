package nip10

import "testing"

func TestMentionedPubkeysCollectsPTags(t *testing.T) {
	tags := [][]string{{"e", "event1"}, {"p", "pub1"}, {"p", "pub2"}}
	got := MentionedPubkeys(tags)
	if len(got) != 2 || got[0] != "pub1" || got[1] != "pub2" {
		t.Fatalf("unexpected pubkeys: %v", got)
	}
}

func TestThreadRootIDFindsRootMarker(t *testing.T) {
	tags := [][]string{
		{"e", "reply-id", "", "reply"},
		{"e", "root-id", "", "root"},
	}
	if got := ThreadRootID(tags); got != "root-id" {
		t.Fatalf("expected root-id, got %q", got)
	}
}

func TestThreadRootIDNoneReturnsEmpty(t *testing.T) {
	tags := [][]string{{"e", "reply-id", "", "reply"}}
	if got := ThreadRootID(tags); got != "" {
		t.Fatalf("expected empty string, got %q", got)
	}
}

func TestIsBotConversationTrueWhenMentionOverlapsBots(t *testing.T) {
	if !IsBotConversation([]string{"userpk", "botpk"}, []string{"botpk", "otherbot"}) {
		t.Fatalf("expected bot conversation to be detected")
	}
}

func TestIsBotConversationFalseWhenNoOverlap(t *testing.T) {
	if IsBotConversation([]string{"userpk"}, []string{"botpk"}) {
		t.Fatalf("expected no bot conversation")
	}
}
