// Package worker runs the fixed-size pool of goroutines that drain the
// durable queue (spec §5: "{dequeue; process; complete}" per worker),
// grounded on the sync-engine reference's worker-pool shape and the
// teacher's ticker/select loop style (pkg/connector/cron_runtime.go).
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/rs/zerolog"

	"github.com/kojira/nostr-chan-go/internal/queue"
)

// Runner processes one leased event. *pipeline.Pipeline satisfies this via
// its Run method; Result is ignored by the pool, which completes the
// leased row whether or not Run returns an error and only logs the error.
type Runner interface {
	Run(ctx context.Context, evt *nostr.Event) (any, error)
}

// RunnerFunc adapts a plain function to Runner.
type RunnerFunc func(ctx context.Context, evt *nostr.Event) (any, error)

func (f RunnerFunc) Run(ctx context.Context, evt *nostr.Event) (any, error) { return f(ctx, evt) }

// Queue is the subset of *queue.Queue the pool depends on.
type Queue interface {
	Lease() (*queue.Leased, error)
	Complete(rowID int64) error
	ResetInFlight() (int64, error)
}

// Pool runs Count goroutines, each looping {lease; process; complete}. A
// lease miss (empty queue) backs off by pollInterval before trying again.
type Pool struct {
	q            Queue
	run          Runner
	count        int
	pollInterval time.Duration
	log          zerolog.Logger
}

// New builds a Pool. count defaults to 4 if <= 0 (spec §5 WorkerCount).
func New(q Queue, run Runner, count int, pollInterval time.Duration, log zerolog.Logger) *Pool {
	if count <= 0 {
		count = 4
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Pool{q: q, run: run, count: count, pollInterval: pollInterval, log: log.With().Str("component", "worker").Logger()}
}

// Run resets any rows left in-flight from a prior crash, then blocks
// running the pool's goroutines until ctx is canceled.
func (p *Pool) Run(ctx context.Context) error {
	if n, err := p.q.ResetInFlight(); err != nil {
		p.log.Error().Err(err).Msg("failed to reset in-flight queue rows")
	} else if n > 0 {
		p.log.Info().Int64("count", n).Msg("requeued rows left processing from a prior run")
	}

	var wg sync.WaitGroup
	for i := 0; i < p.count; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.loop(ctx, id)
		}(i)
	}
	wg.Wait()
	return nil
}

func (p *Pool) loop(ctx context.Context, id int) {
	log := p.log.With().Int("worker", id).Logger()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		leased, err := p.q.Lease()
		if err != nil {
			log.Error().Err(err).Msg("lease failed")
			sleepOrDone(ctx, p.pollInterval)
			continue
		}
		if leased == nil {
			sleepOrDone(ctx, p.pollInterval)
			continue
		}

		if _, err := p.run.Run(ctx, leased.Event); err != nil {
			log.Warn().Err(err).Str("event_id", leased.Event.ID).Msg("event processing returned an error")
		}
		if err := p.q.Complete(leased.RowID); err != nil {
			log.Error().Err(err).Int64("row_id", leased.RowID).Msg("failed to complete queue row")
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
