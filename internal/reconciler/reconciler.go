// Package reconciler recovers campaigns stuck in the running state.
//
// A campaign gets stuck when its run request never reached an executor
// (buffer overflow, broker outage, process crash) or the executor died
// mid-run. The reconciler periodically resets such campaigns back to
// scheduled; the scheduler then claims and dispatches them again. The
// executor's guarded finalize tolerates the reset, so a slow run that
// finishes after the reset is ignored rather than double-applied.
package reconciler

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/applyforge/applyforge/internal/metrics"
)

type Store interface {
	// ResetStuckCampaigns moves running campaigns last touched before
	// olderThan back to scheduled and returns their ids.
	ResetStuckCampaigns(ctx context.Context, olderThan time.Time, limit int) ([]uuid.UUID, error)
}

type Config struct {
	// Interval is how often the reconciler scans. Default: 5 minutes.
	Interval time.Duration

	// Threshold is the age after which a running campaign is considered
	// stuck. Must exceed the longest plausible run, including all
	// collaborator timeouts. Default: 30 minutes.
	Threshold time.Duration

	// BatchSize caps resets per cycle. Default: 100.
	BatchSize int
}

func DefaultConfig() Config {
	return Config{
		Interval:  5 * time.Minute,
		Threshold: 30 * time.Minute,
		BatchSize: 100,
	}
}

type Reconciler struct {
	config Config
	store  Store
	sink   metrics.Sink
	logger *slog.Logger
	clock  func() time.Time
}

func New(config Config, store Store, logger *slog.Logger) *Reconciler {
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	if config.Threshold <= 0 {
		config.Threshold = DefaultConfig().Threshold
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultConfig().BatchSize
	}
	return &Reconciler{
		config: config,
		store:  store,
		sink:   metrics.NewNoopSink(),
		logger: logger,
		clock:  time.Now,
	}
}

// WithMetrics replaces the no-op sink. Returns the reconciler for chaining.
func (r *Reconciler) WithMetrics(sink metrics.Sink) *Reconciler {
	r.sink = sink
	return r
}

// Run starts the reconciliation loop. Blocks until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	r.logger.Info("reconciler started",
		"interval", r.config.Interval,
		"threshold", r.config.Threshold)

	r.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopped")
			return
		case <-ticker.C:
			r.runCycle(ctx)
		}
	}
}

func (r *Reconciler) runCycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	olderThan := r.clock().UTC().Add(-r.config.Threshold)

	ids, err := r.store.ResetStuckCampaigns(ctx, olderThan, r.config.BatchSize)
	if err != nil {
		// Retry next interval.
		r.logger.Error("failed to reset stuck campaigns", "error", err)
		return
	}

	r.sink.StuckCampaignsUpdate(len(ids))
	if len(ids) == 0 {
		return
	}

	for _, id := range ids {
		r.logger.Warn("reset stuck campaign", "campaign_id", id)
	}
	r.logger.Info("reconcile cycle complete", "reset", len(ids))
}
