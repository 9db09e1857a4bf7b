package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/kojira/nostr-chan-go/internal/store"
)

// VectorStore is the subset of *store.Store the vectorizer depends on.
type VectorStore interface {
	EventsWithoutEmbedding(limit int) ([]store.EventRecord, error)
	UpdateEventEmbedding(eventDBID int64, vector []float32) error
}

// Embedder is the subset of *embedding.Service the vectorizer depends on.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Vectorizer periodically backfills the embedding column for events the
// ingest path left NULL (spec §4.A/§5) on a time.Ticker; one batch is
// exposed as Tick so tests drive it directly instead of waiting on the
// timer.
type Vectorizer struct {
	store    VectorStore
	embedder Embedder
	batch    int
	interval time.Duration
	log      zerolog.Logger
}

// NewVectorizer builds a Vectorizer. batch bounds how many rows one tick
// processes; interval is the tick period.
func NewVectorizer(st VectorStore, embedder Embedder, batch int, interval time.Duration, log zerolog.Logger) *Vectorizer {
	if batch <= 0 {
		batch = 20
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Vectorizer{
		store:    st,
		embedder: embedder,
		batch:    batch,
		interval: interval,
		log:      log.With().Str("component", "vectorizer").Logger(),
	}
}

// Run ticks until ctx is canceled, embedding one batch per tick.
func (v *Vectorizer) Run(ctx context.Context) {
	ticker := time.NewTicker(v.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := v.Tick(ctx); err != nil {
				v.log.Warn().Err(err).Msg("vectorizer tick failed")
			}
		}
	}
}

// Tick embeds up to batch events missing an embedding. Individual embed
// failures are logged and skipped rather than aborting the whole batch.
func (v *Vectorizer) Tick(ctx context.Context) error {
	events, err := v.store.EventsWithoutEmbedding(v.batch)
	if err != nil {
		return err
	}
	for _, e := range events {
		vec, err := v.embedder.Embed(ctx, e.Content)
		if err != nil {
			v.log.Warn().Err(err).Int64("event_id", e.ID).Msg("failed to embed event")
			continue
		}
		if err := v.store.UpdateEventEmbedding(e.ID, vec); err != nil {
			v.log.Warn().Err(err).Int64("event_id", e.ID).Msg("failed to store embedding")
		}
	}
	return nil
}
