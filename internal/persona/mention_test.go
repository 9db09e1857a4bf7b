package persona

import "testing"

func TestExtractMentionByFirstWordName(t *testing.T) {
	candidates := []Candidate{
		{Pubkey: "pub1", ProfileJSON: `{"name":"Miku","display_name":"Miku Chan"}`},
	}
	got := ExtractMention(candidates, "Miku hello there", nil)
	if got == nil || got.Pubkey != "pub1" {
		t.Fatalf("expected match on leading name, got %+v", got)
	}
}

func TestExtractMentionByDisplayNameSubstring(t *testing.T) {
	candidates := []Candidate{
		{Pubkey: "pub1", ProfileJSON: `{"name":"Miku","display_name":"Miku Chan"}`},
	}
	got := ExtractMention(candidates, "hey, is Miku Chan around?", nil)
	if got == nil || got.Pubkey != "pub1" {
		t.Fatalf("expected substring match on display_name, got %+v", got)
	}
}

func TestExtractMentionByPTag(t *testing.T) {
	candidates := []Candidate{
		{Pubkey: "pub1", ProfileJSON: `{"name":"Miku"}`},
		{Pubkey: "pub2", ProfileJSON: `{"name":"Rin"}`},
	}
	tags := [][]string{{"e", "someevent"}, {"p", "pub2"}}
	got := ExtractMention(candidates, "no name mentioned here", tags)
	if got == nil || got.Pubkey != "pub2" {
		t.Fatalf("expected p-tag match on pub2, got %+v", got)
	}
}

func TestExtractMentionNoMatch(t *testing.T) {
	candidates := []Candidate{
		{Pubkey: "pub1", ProfileJSON: `{"name":"Miku"}`},
	}
	got := ExtractMention(candidates, "nothing relevant", nil)
	if got != nil {
		t.Fatalf("expected no match, got %+v", got)
	}
}

func TestExtractMentionFirstCandidateWinsOnTie(t *testing.T) {
	candidates := []Candidate{
		{Pubkey: "pub1", ProfileJSON: `{"name":"Bot"}`},
		{Pubkey: "pub2", ProfileJSON: `{"name":"Bot"}`},
	}
	got := ExtractMention(candidates, "Bot say hi", nil)
	if got == nil || got.Pubkey != "pub1" {
		t.Fatalf("expected first candidate pub1 to win, got %+v", got)
	}
}
