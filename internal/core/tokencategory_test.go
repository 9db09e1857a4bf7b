package core

import "testing"

func TestAllTokenCategoriesIncludesEveryDeclaredCategory(t *testing.T) {
	want := []TokenCategory{
		CategoryMentionReply,
		CategoryAirReply,
		CategorySummary,
		CategorySearchInitial,
		CategorySearchExtract,
		CategorySearchFinal,
	}
	got := AllTokenCategories()
	if len(got) != len(want) {
		t.Fatalf("expected %d categories, got %d", len(want), len(got))
	}
	for i, c := range want {
		if got[i] != c {
			t.Errorf("category %d: expected %q, got %q", i, c, got[i])
		}
	}
}

func TestTokenCategoriesAreDistinct(t *testing.T) {
	seen := map[TokenCategory]bool{}
	for _, c := range AllTokenCategories() {
		if seen[c] {
			t.Fatalf("duplicate token category %q", c)
		}
		seen[c] = true
	}
}
