// Package discovery fans search queries out over the registered job
// board adapters, filters the results through the deduplication index,
// and persists whatever is novel.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/applyforge/applyforge/internal/circuitbreaker"
	"github.com/applyforge/applyforge/internal/domain"
	"github.com/applyforge/applyforge/internal/metrics"
)

type Adapter interface {
	Name() string
	Search(ctx context.Context, query domain.SearchCriteria) ([]domain.RawPosting, error)
}

type Deduper interface {
	Record(ctx context.Context, raw domain.RawPosting) (bool, error)
}

type Breaker interface {
	Allow(source string) error
	RecordSuccess(source string)
	RecordFailure(source string)
}

type StatsStore interface {
	CountPostings(ctx context.Context) (int64, error)
	CountPostingsSince(ctx context.Context, since time.Time) (int64, error)
	CountPostingsBySource(ctx context.Context) (map[string]int64, error)
}

type Stats struct {
	TotalPostings int64            `json:"total_postings"`
	Last24h       int64            `json:"last_24h"`
	BySource      map[string]int64 `json:"by_source"`
	Running       bool             `json:"running"`
}

type Engine struct {
	adapters []Adapter
	dedup    Deduper
	breaker  Breaker
	stats    StatsStore
	sink     metrics.Sink
	logger   *slog.Logger
	timeout  time.Duration
	clock    func() time.Time

	running atomic.Bool
}

func NewEngine(adapters []Adapter, dedup Deduper, breaker Breaker, stats StatsStore, sink metrics.Sink, timeout time.Duration, logger *slog.Logger) *Engine {
	return &Engine{
		adapters: adapters,
		dedup:    dedup,
		breaker:  breaker,
		stats:    stats,
		sink:     sink,
		logger:   logger,
		timeout:  timeout,
		clock:    time.Now,
	}
}

// Run executes the query set against every adapter in parallel and
// returns the number of novel postings persisted. A failing adapter is
// logged and skipped; it never aborts the others. The error return is
// reserved for context cancellation.
func (e *Engine) Run(ctx context.Context, queries []domain.SearchCriteria) (int, error) {
	start := e.clock()
	e.running.Store(true)
	defer e.running.Store(false)

	var novel atomic.Int64
	var mu sync.Mutex // serializes dedup writes across adapters

	g, gctx := errgroup.WithContext(ctx)
	for _, adapter := range e.adapters {
		adapter := adapter
		g.Go(func() error {
			e.runAdapter(gctx, adapter, queries, &novel, &mu)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		e.sink.DiscoveryCompleted(e.clock().Sub(start), int(novel.Load()), err)
		return int(novel.Load()), err
	}

	e.sink.DiscoveryCompleted(e.clock().Sub(start), int(novel.Load()), nil)
	e.logger.Info("discovery cycle complete",
		"queries", len(queries),
		"novel", novel.Load(),
		"duration", e.clock().Sub(start))
	return int(novel.Load()), nil
}

func (e *Engine) runAdapter(ctx context.Context, adapter Adapter, queries []domain.SearchCriteria, novel *atomic.Int64, mu *sync.Mutex) {
	name := adapter.Name()

	for _, query := range queries {
		if err := e.breaker.Allow(name); err != nil {
			if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
				e.logger.Warn("source circuit open, skipping", "source", name)
				return
			}
			e.logger.Error("breaker check failed", "source", name, "error", err)
			return
		}

		sctx, cancel := context.WithTimeout(ctx, e.timeout)
		postings, err := adapter.Search(sctx, query)
		cancel()

		e.sink.SourceSearchCompleted(name, err)
		if err != nil {
			e.breaker.RecordFailure(name)
			e.logger.Error("source search failed",
				"source", name,
				"title", query.Title,
				"error", err)
			continue
		}
		e.breaker.RecordSuccess(name)

		mu.Lock()
		for _, raw := range postings {
			isNovel, rerr := e.dedup.Record(ctx, raw)
			if rerr != nil {
				e.logger.Error("record posting failed", "source", name, "error", rerr)
				continue
			}
			if isNovel {
				novel.Add(1)
			}
		}
		mu.Unlock()
	}
}

// Stats reports posting totals and whether a cycle is in flight.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	total, err := e.stats.CountPostings(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("count postings: %w", err)
	}
	recent, err := e.stats.CountPostingsSince(ctx, e.clock().UTC().Add(-24*time.Hour))
	if err != nil {
		return Stats{}, fmt.Errorf("count recent postings: %w", err)
	}
	bySource, err := e.stats.CountPostingsBySource(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("count postings by source: %w", err)
	}

	return Stats{
		TotalPostings: total,
		Last24h:       recent,
		BySource:      bySource,
		Running:       e.running.Load(),
	}, nil
}

// ParseQuery splits a "title@location" config string into criteria.
// The location part is optional.
func ParseQuery(s string) domain.SearchCriteria {
	parts := strings.SplitN(s, "@", 2)
	q := domain.SearchCriteria{Title: strings.TrimSpace(parts[0])}
	if len(parts) == 2 {
		q.Location = strings.TrimSpace(parts[1])
	}
	return q
}
