// Package embedding turns text into fixed-dimension, unit-norm vectors and
// compares them by cosine similarity (spec §4.B). The chunk-and-average
// algorithm for long inputs is grounded on
// _examples/original_source/src/embedding.rs; the HTTP transport to an
// OpenAI-compatible endpoint is grounded on the teacher's
// pkg/memory/embedding/local.go.
package embedding

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/kojira/nostr-chan-go/internal/core"
)

// Dimension is the fixed output width of the configured model. The
// reference implementation uses intfloat/multilingual-e5-small, D=384.
const Dimension = 384

// MaxTokens is the model's usable context after reserving two control
// tokens ([CLS]/[SEP]), matching original_source/src/embedding.rs.
const MaxTokens = 510

// Provider embeds text via a remote model. Grounded on the teacher's
// pkg/memory/types.go EmbeddingProvider interface, narrowed to the single
// operation the context engine and vectorizer need.
type Provider interface {
	// EmbedRaw returns the raw, non-normalized vector for a single chunk
	// of text that is already within the model's token limit.
	EmbedRaw(ctx context.Context, text string) ([]float32, error)
}

// Service wraps a Provider with the chunk/average/normalize algorithm so
// callers never have to think about the model's token limit.
type Service struct {
	provider Provider
	enc      *tiktoken.Tiktoken
}

// NewService builds a Service. The tokenizer is used only to find safe
// chunk boundaries; it need not match the embedding model's own tokenizer
// exactly, it only has to produce conservative split points.
func NewService(provider Provider) (*Service, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}
	return &Service{provider: provider, enc: enc}, nil
}

// Embed turns text into a unit-norm vector of length Dimension. Fails with
// core.ErrEmptyInput for blank input, and returns an error if no chunk
// could be embedded.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, core.ErrEmptyInput
	}

	tokens := s.enc.Encode(text, nil, nil)
	if len(tokens) <= MaxTokens {
		v, err := s.provider.EmbedRaw(ctx, text)
		if err != nil {
			return nil, err
		}
		return normalize(v), nil
	}

	var chunkVecs [][]float32
	stride := MaxTokens / 2
	for start := 0; start < len(tokens); start += stride {
		end := start + MaxTokens
		if end > len(tokens) {
			end = len(tokens)
		}
		chunkText := s.enc.Decode(tokens[start:end])
		if strings.TrimSpace(chunkText) == "" {
			if end >= len(tokens) {
				break
			}
			continue
		}
		v, err := s.provider.EmbedRaw(ctx, chunkText)
		if err == nil {
			chunkVecs = append(chunkVecs, v)
		}
		if end >= len(tokens) {
			break
		}
	}

	if len(chunkVecs) == 0 {
		return nil, fmt.Errorf("embed: no chunk produced a vector")
	}

	avg := make([]float32, len(chunkVecs[0]))
	for _, v := range chunkVecs {
		for i, f := range v {
			avg[i] += f
		}
	}
	n := float32(len(chunkVecs))
	for i := range avg {
		avg[i] /= n
	}
	out := normalize(avg)
	if out == nil {
		return nil, fmt.Errorf("embed: chunk average produced a zero vector")
	}
	return out, nil
}

func normalize(v []float32) []float32 {
	var sumSq float64
	for _, f := range v {
		sumSq += float64(f) * float64(f)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return nil
	}
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(float64(f) / norm)
	}
	return out
}

// Cosine returns the cosine similarity of a and b, in [-1, 1]. Returns 0 if
// either vector has zero norm. Fails with core.ErrDimensionMismatch if the
// vectors differ in length.
func Cosine(a, b []float32) (float32, error) {
	if len(a) != len(b) {
		return 0, core.ErrDimensionMismatch
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB))), nil
}
