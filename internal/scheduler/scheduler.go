// Package scheduler drives the campaign tick loop: find due campaigns,
// claim them, and hand run requests to the trigger bus.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/applyforge/applyforge/internal/domain"
	"github.com/applyforge/applyforge/internal/metrics"
)

// ErrNotSchedulable is returned by the store when the claim UPDATE
// matched no row, meaning the campaign is no longer in scheduled state.
var ErrNotSchedulable = errors.New("campaign not in schedulable state")

type Store interface {
	// GetDueCampaigns returns scheduled campaigns with next_run <= now,
	// ordered by (next_run, id) ascending.
	GetDueCampaigns(ctx context.Context, now time.Time, limit int) ([]domain.Campaign, error)
	// MarkRunning transitions scheduled -> running with a guarded
	// UPDATE. ErrNotSchedulable when the campaign was claimed elsewhere
	// or left the scheduled state.
	MarkRunning(ctx context.Context, id uuid.UUID, now time.Time) error
}

type Emitter interface {
	Emit(ctx context.Context, req domain.RunRequest) error
}

type Config struct {
	TickInterval time.Duration
	BatchSize    int
}

type Scheduler struct {
	config  Config
	store   Store
	emitter Emitter
	sink    metrics.Sink
	logger  *slog.Logger
	clock   func() time.Time
}

func New(config Config, store Store, emitter Emitter, logger *slog.Logger) *Scheduler {
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	return &Scheduler{
		config:  config,
		store:   store,
		emitter: emitter,
		sink:    metrics.NewNoopSink(),
		logger:  logger,
		clock:   time.Now,
	}
}

// WithMetrics replaces the no-op sink. Returns the scheduler for chaining.
func (s *Scheduler) WithMetrics(sink metrics.Sink) *Scheduler {
	s.sink = sink
	return s
}

func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	s.logger.Info("scheduler started", "tick", s.config.TickInterval)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.processTick(ctx); err != nil {
				s.logger.Error("tick failed", "error", err)
			}
		}
	}
}

func (s *Scheduler) processTick(ctx context.Context) error {
	start := s.clock()
	now := start.UTC()
	s.sink.TickStarted()

	due, err := s.store.GetDueCampaigns(ctx, now, s.config.BatchSize)
	if err != nil {
		s.sink.TickCompleted(s.clock().Sub(start), 0, err)
		return fmt.Errorf("get due campaigns: %w", err)
	}

	dispatched := 0
	for _, campaign := range due {
		ok, err := s.dispatch(ctx, campaign, now)
		if err != nil {
			s.logger.Error("dispatch failed", "campaign_id", campaign.ID, "error", err)
			continue
		}
		if ok {
			dispatched++
		}
	}

	s.sink.TickCompleted(s.clock().Sub(start), dispatched, nil)
	if dispatched > 0 {
		s.logger.Info("tick complete", "due", len(due), "dispatched", dispatched)
	}
	return nil
}

// dispatch claims one due campaign and emits its run request. The
// claim is a store-side compare-and-set, so two instances never
// dispatch the same campaign.
func (s *Scheduler) dispatch(ctx context.Context, campaign domain.Campaign, now time.Time) (bool, error) {
	if err := s.store.MarkRunning(ctx, campaign.ID, now); err != nil {
		if errors.Is(err, ErrNotSchedulable) {
			return false, nil // claimed elsewhere
		}
		return false, fmt.Errorf("mark running: %w", err)
	}

	req := domain.RunRequest{
		CampaignID: campaign.ID,
		Identity:   campaign.Identity,
		DueAt:      campaign.NextRunAt,
		EmittedAt:  now,
	}

	if err := s.emitter.Emit(ctx, req); err != nil {
		// The campaign stays running; the reconciler resets and
		// re-emits it once it exceeds the stuck threshold.
		return false, fmt.Errorf("emit: %w", err)
	}

	s.logger.Debug("campaign dispatched", "campaign_id", campaign.ID, "due_at", campaign.NextRunAt)
	return true, nil
}
