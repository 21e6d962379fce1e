package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/applyforge/applyforge/internal/domain"
)

// Refresher runs discovery for the configured standing queries on a
// cron schedule so the posting pool is warm before campaigns fire.
type Refresher struct {
	cron    *cron.Cron
	engine  *Engine
	queries []domain.SearchCriteria
	spec    string
	logger  *slog.Logger

	mu         sync.Mutex
	registered bool
	ctx        context.Context
}

func NewRefresher(engine *Engine, queries []domain.SearchCriteria, spec string, logger *slog.Logger) *Refresher {
	return &Refresher{
		cron:    cron.New(),
		engine:  engine,
		queries: queries,
		spec:    spec,
		logger:  logger,
	}
}

// Start registers the job and starts the schedule. One cycle runs
// immediately so a fresh deployment does not wait for the first tick.
// Safe to call again after Stop: the job is registered exactly once
// and picks up the newest context, so leadership churn does not stack
// refresh cycles.
func (r *Refresher) Start(ctx context.Context) error {
	if len(r.queries) == 0 {
		r.logger.Info("no standing queries configured, refresher idle")
		return nil
	}

	r.mu.Lock()
	r.ctx = ctx
	if !r.registered {
		if _, err := r.cron.AddFunc(r.spec, r.runCycle); err != nil {
			r.mu.Unlock()
			return fmt.Errorf("register refresh job: %w", err)
		}
		r.registered = true
	}
	r.mu.Unlock()

	r.cron.Start()
	r.logger.Info("discovery refresher started", "spec", r.spec, "queries", len(r.queries))

	go r.runCycle()
	return nil
}

// Stop halts the schedule and waits for a running cycle to finish.
func (r *Refresher) Stop() {
	<-r.cron.Stop().Done()
	r.logger.Info("discovery refresher stopped")
}

func (r *Refresher) runCycle() {
	r.mu.Lock()
	ctx := r.ctx
	r.mu.Unlock()

	if _, err := r.engine.Run(ctx, r.queries); err != nil {
		r.logger.Error("background discovery failed", "error", err)
	}
}
