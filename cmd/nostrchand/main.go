// Command nostrchand is the daemon entrypoint: it loads configuration,
// opens storage, wires every internal component, and runs until it
// receives an interrupt. Grounded on original_source/src/main.rs's
// connect/subscribe/consume loop, restructured around a durable queue and
// worker pool instead of processing each notification inline.
package main

import (
	"context"
	"flag"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/rs/zerolog"

	"github.com/kojira/nostr-chan-go/internal/admincmd"
	"github.com/kojira/nostr-chan-go/internal/config"
	"github.com/kojira/nostr-chan-go/internal/contextengine"
	"github.com/kojira/nostr-chan-go/internal/embedding"
	"github.com/kojira/nostr-chan-go/internal/llmclient"
	"github.com/kojira/nostr-chan-go/internal/persona"
	"github.com/kojira/nostr-chan-go/internal/pipeline"
	"github.com/kojira/nostr-chan-go/internal/queue"
	"github.com/kojira/nostr-chan-go/internal/relay"
	"github.com/kojira/nostr-chan-go/internal/settings"
	"github.com/kojira/nostr-chan-go/internal/store"
	"github.com/kojira/nostr-chan-go/internal/worker"
)

func main() {
	configPath := flag.String("config", "config.yml", "path to the YAML configuration file")
	workerCount := flag.Int("workers", 4, "number of reply-pipeline worker goroutines")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	db, err := store.Open(cfg.Database.Path, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open storage")
	}
	defer db.Close()

	settingsResolver := settings.New(db, cfg)

	relayClient := relay.New(cfg.RelayServers.Read, cfg.RelayServers.Write, log)

	llm := llmclient.New(cfg.GPT.APIKey, cfg.GPT.BaseURL, cfg.GPT.Model, cfg.GPTTimeout(), log)

	embedProvider := embedding.NewHTTPProvider(cfg.GPT.EmbeddingBaseURL, cfg.GPT.APIKey, cfg.GPT.EmbeddingModel)
	embedder, err := embedding.NewService(embedProvider)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build embedding service")
	}

	summaryThreshold, err := settingsResolver.SummaryReuseThreshold()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to resolve summary reuse threshold")
	}
	summarizer := contextengine.NewSummarizer(db, embedder, llm, summaryThreshold)

	q := queue.New(db, log)

	pl := pipeline.New(
		db, settingsResolver, relayClient, llm, summarizer, db,
		rand.New(rand.NewSource(time.Now().UnixNano())),
		log,
	)

	adminHandler := admincmd.New(db, settingsResolver, relayClient, db, cfg.GPT.Model, cfg.Bot.AdminPubkeys, nil, log)

	pool := worker.New(q, worker.RunnerFunc(func(ctx context.Context, evt *nostr.Event) (any, error) {
		return pl.Run(ctx, evt)
	}), *workerCount, time.Second, log)

	vectorizer := worker.NewVectorizer(db, embedder, 20, 30*time.Second, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := pool.Run(ctx); err != nil {
			log.Error().Err(err).Msg("worker pool exited with error")
		}
	}()
	go func() {
		defer wg.Done()
		vectorizer.Run(ctx)
	}()

	runIngest(ctx, relayClient, db, q, adminHandler, log)
	wg.Wait()
}

// runIngest subscribes to text notes across the configured read relays and
// pushes every one onto the durable queue for a worker to pick up, filtering
// out admin commands (handled inline, since they bypass the ordinary
// persona-mention pipeline) and events this bot itself authored.
func runIngest(ctx context.Context, relayClient *relay.Client, db *store.Store, q *queue.Queue, admin *admincmd.Handler, log zerolog.Logger) {
	sub := relayClient.Subscribe(ctx, nostr.Filter{
		Kinds: []int{nostr.KindTextNote},
		Since: nowTimestamp(),
	})

	for evt := range sub {
		personas, err := db.ActivePersonas()
		if err != nil {
			log.Error().Err(err).Msg("failed to load active personas for admin dispatch")
		} else if isOwnEvent(evt, personas) {
			continue
		} else {
			candidates := persona.FromPersonas(personas)
			mentioned := persona.ExtractMention(candidates, evt.Content, tagsToSlices(evt.Tags))
			var acting *store.Persona
			if mentioned != nil {
				acting, _ = db.GetPersona(mentioned.Pubkey)
			}
			handled, err := admin.Handle(ctx, evt, acting)
			if err != nil {
				log.Warn().Err(err).Str("event_id", evt.ID).Msg("admin command failed")
			}
			if handled {
				continue
			}
		}

		if err := q.Push(evt); err != nil {
			log.Error().Err(err).Str("event_id", evt.ID).Msg("failed to enqueue event")
		}
	}
}

func isOwnEvent(evt *nostr.Event, personas []store.Persona) bool {
	for _, p := range personas {
		if p.Pubkey == evt.PubKey {
			return true
		}
	}
	return false
}

func tagsToSlices(tags nostr.Tags) [][]string {
	out := make([][]string, len(tags))
	for i, t := range tags {
		out[i] = []string(t)
	}
	return out
}

func nowTimestamp() *nostr.Timestamp {
	t := nostr.Now()
	return &t
}
