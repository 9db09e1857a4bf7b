package embedding

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/kojira/nostr-chan-go/internal/core"
)

type fakeProvider struct {
	dim   int
	calls int
}

func (f *fakeProvider) EmbedRaw(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	v := make([]float32, f.dim)
	// Deterministic pseudo-embedding derived from text length and content,
	// just needs to be non-zero and stable across calls with equal text.
	for i := range v {
		v[i] = float32(len(text)%7+1) + float32(i)*0.001
	}
	return v, nil
}

func TestEmbedEmptyInput(t *testing.T) {
	svc, err := NewService(&fakeProvider{dim: 8})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Embed(context.Background(), "   "); err != core.ErrEmptyInput {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
}

func TestEmbedShortInputIsUnitNorm(t *testing.T) {
	svc, err := NewService(&fakeProvider{dim: 16})
	if err != nil {
		t.Fatal(err)
	}
	v, err := svc.Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatal(err)
	}
	assertUnitNorm(t, v)
}

func TestEmbedLongInputChunksAndAverages(t *testing.T) {
	fp := &fakeProvider{dim: 16}
	svc, err := NewService(fp)
	if err != nil {
		t.Fatal(err)
	}
	long := strings.Repeat("word ", 2000)
	v, err := svc.Embed(context.Background(), long)
	if err != nil {
		t.Fatal(err)
	}
	if fp.calls < 2 {
		t.Fatalf("expected multiple chunk calls for long input, got %d", fp.calls)
	}
	assertUnitNorm(t, v)
}

func TestCosineDimensionMismatch(t *testing.T) {
	_, err := Cosine([]float32{1, 2}, []float32{1, 2, 3})
	if err != core.ErrDimensionMismatch {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestCosineZeroVector(t *testing.T) {
	v, err := Cosine([]float32{0, 0}, []float32{1, 1})
	if err != nil {
		t.Fatal(err)
	}
	if v != 0 {
		t.Fatalf("expected 0, got %v", v)
	}
}

func TestCosineSelfIsOne(t *testing.T) {
	v := []float32{0.3, -0.1, 0.8, 0.5}
	c, err := Cosine(v, v)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(float64(c)-1) > 1e-6 {
		t.Fatalf("expected ~1, got %v", c)
	}
}

func assertUnitNorm(t *testing.T, v []float32) {
	t.Helper()
	var sumSq float64
	for _, f := range v {
		sumSq += float64(f) * float64(f)
	}
	norm := math.Sqrt(sumSq)
	if math.Abs(norm-1) > 1e-4 {
		t.Fatalf("expected unit norm, got %v", norm)
	}
}
