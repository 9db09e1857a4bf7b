package contextengine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/kojira/nostr-chan-go/internal/embedding"
	"github.com/kojira/nostr-chan-go/internal/llmclient"
	"github.com/kojira/nostr-chan-go/internal/store"
)

// Store is the subset of *store.Store the summarizer depends on.
type Store interface {
	PersonaTimeline(personaPubkey string, limit int) ([]store.TimelineEvent, error)
	RecentSummaries(personaPubkey string, limit int) ([]store.Summary, error)
	InsertSummary(personaPubkey, summary, userInput string, embedding []float32, participants []string, coveredFrom, coveredTo int64) (int64, error)
}

// Embedder is the subset of *embedding.Service the summarizer depends on.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Completer is the subset of *llmclient.Client the summarizer depends on.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userContent string) (*llmclient.Reply, error)
}

const recentSummaryCandidates = 10

// Summarizer reuses or generates persona conversation summaries (spec §4.F
// summarize-with-reuse), grounded on
// original_source/src/conversation.rs::summarize_conversation_if_needed and
// ::search_most_similar_summary.
type Summarizer struct {
	store     Store
	embedder  Embedder
	completer Completer
	threshold float32
}

// NewSummarizer builds a Summarizer. threshold is the minimum cosine
// similarity required to reuse a prior summary instead of generating a new
// one (spec §4.H SummaryReuseThreshold).
func NewSummarizer(store Store, embedder Embedder, completer Completer, threshold float32) *Summarizer {
	return &Summarizer{store: store, embedder: embedder, completer: completer, threshold: threshold}
}

// SummarizeIfNeeded returns a summary for personaPubkey's conversation,
// reusing a similar past summary's continuation when one scores at or above
// the threshold, or generating a fresh one otherwise. Returns ("", nil) when
// the timeline does not exceed overflowThreshold characters.
// overflowThreshold and maxSummaryLength are the layered settings
// summary_threshold and max_summary_tokens (spec §4.H), read once per
// event by the caller rather than baked into the Summarizer at
// construction time.
func (s *Summarizer) SummarizeIfNeeded(ctx context.Context, personaPubkey, userInput, timelineText string, overflowThreshold, maxSummaryLength int) (string, error) {
	if !Overflows(timelineText, overflowThreshold) {
		return "", nil
	}

	userEmbedding, err := s.embedder.Embed(ctx, userInput)
	if err != nil {
		return "", fmt.Errorf("embed user input: %w", err)
	}

	events, err := s.store.PersonaTimeline(personaPubkey, 100)
	if err != nil {
		return "", fmt.Errorf("load persona timeline for summary: %w", err)
	}
	if len(events) == 0 {
		return "", nil
	}

	prior, err := s.mostSimilarSummary(ctx, personaPubkey, userEmbedding)
	if err != nil {
		return "", fmt.Errorf("search similar summary: %w", err)
	}

	var contentToSummarize string
	if prior != nil {
		recent := eventsAfter(events, prior.CoveredTo)
		if len(recent) == 0 {
			return prior.Summary, nil
		}
		contentToSummarize = composeWithPriorSummary(prior.Summary, recent)
	} else {
		contentToSummarize = timelineText
	}

	prompt := fmt.Sprintf("以下の会話履歴を%d文字以内で要約してください。重要なポイントと文脈を保持してください。", maxSummaryLength)
	result, err := s.completer.Complete(ctx, prompt, contentToSummarize)
	if err != nil {
		return "", fmt.Errorf("generate summary: %w", err)
	}

	participants := distinctPubkeys(events)
	from := events[0].CreatedAt
	to := events[len(events)-1].CreatedAt
	if _, err := s.store.InsertSummary(personaPubkey, result.Content, userInput, userEmbedding, participants, from, to); err != nil {
		return "", fmt.Errorf("store summary: %w", err)
	}

	return result.Content, nil
}

func (s *Summarizer) mostSimilarSummary(ctx context.Context, personaPubkey string, userEmbedding []float32) (*store.Summary, error) {
	candidates, err := s.store.RecentSummaries(personaPubkey, recentSummaryCandidates)
	if err != nil {
		return nil, err
	}
	var best *store.Summary
	var bestScore float32
	for i := range candidates {
		score, err := embedding.Cosine(userEmbedding, candidates[i].UserInputEmbedding)
		if err != nil {
			continue
		}
		if score >= s.threshold && (best == nil || score > bestScore) {
			bestScore = score
			best = &candidates[i]
		}
	}
	return best, nil
}

func eventsAfter(events []store.TimelineEvent, cutoff int64) []store.TimelineEvent {
	var out []store.TimelineEvent
	for _, e := range events {
		if e.CreatedAt > cutoff {
			out = append(out, e)
		}
	}
	return out
}

func composeWithPriorSummary(priorSummary string, recent []store.TimelineEvent) string {
	lines := make([]string, 0, len(recent)+1)
	lines = append(lines, fmt.Sprintf("【過去の要約】\n%s", priorSummary))
	for _, e := range recent {
		lines = append(lines, formatTimelineLine(e, func(string) string { return "" }))
	}
	return strings.Join(lines, "\n")
}

func distinctPubkeys(events []store.TimelineEvent) []string {
	seen := make(map[string]bool, len(events))
	var out []string
	for _, e := range events {
		if !seen[e.Pubkey] {
			seen[e.Pubkey] = true
			out = append(out, e.Pubkey)
		}
	}
	sort.Strings(out)
	return out
}
