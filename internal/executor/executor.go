// Package executor consumes run requests from the trigger bus and
// performs campaign runs: refresh discovery, walk candidate postings,
// apply under quota, and finalize the campaign's state transition.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/applyforge/applyforge/internal/domain"
	"github.com/applyforge/applyforge/internal/metrics"
	"github.com/applyforge/applyforge/internal/quota"
)

// ErrNotRunning is returned by the store when a finalize UPDATE matched
// no row, meaning the campaign already left the running state.
var ErrNotRunning = errors.New("campaign not in running state")

// candidateFetchLimit bounds how many matching postings one run loads.
const candidateFetchLimit = 200

type Store interface {
	GetCampaignByID(ctx context.Context, id uuid.UUID) (domain.Campaign, error)
	// MatchPostings returns postings matching the criteria, newest first.
	MatchPostings(ctx context.Context, criteria domain.SearchCriteria, limit int) ([]domain.JobPosting, error)
	HasApplication(ctx context.Context, campaignID uuid.UUID, fingerprint string) (bool, error)
	InsertApplication(ctx context.Context, rec domain.ApplicationRecord) error
	InsertRun(ctx context.Context, run domain.CampaignRun) error
	// FinalizeRun applies the post-run transition with a guarded UPDATE
	// (WHERE status = 'running'). A cancel_requested flag set at any
	// point before the finalize overrides the intended status with
	// cancelled and is cleared atomically in the same statement. Returns
	// the status actually applied, or ErrNotRunning when the guard fails.
	FinalizeRun(ctx context.Context, id uuid.UUID, fin Finalization) (domain.CampaignStatus, error)
}

// Finalization is the post-run campaign update.
type Finalization struct {
	Status        domain.CampaignStatus
	IncrementRuns bool
	LastRunAt     time.Time
	NextRunAt     time.Time // meaningful only when Status is scheduled
	LastError     string
}

type Discoverer interface {
	Run(ctx context.Context, queries []domain.SearchCriteria) (int, error)
}

type QuotaTracker interface {
	Reserve(ctx context.Context, identity string) (quota.Reservation, error)
	Commit(ctx context.Context, res quota.Reservation) error
	Release(ctx context.Context, res quota.Reservation) error
}

type Generator interface {
	Generate(ctx context.Context, campaign domain.Campaign, posting domain.JobPosting) (string, error)
}

type Submission struct {
	CampaignID  string `json:"campaign_id"`
	Identity    string `json:"identity"`
	Fingerprint string `json:"fingerprint"`
	ContentRef  string `json:"content_ref"`
	PostingURL  string `json:"posting_url"`
}

type Submitter interface {
	Submit(ctx context.Context, sub Submission) error
}

// Notifier delivers campaign events best-effort. Implementations must
// not block the run or propagate errors.
type Notifier interface {
	RunFinished(campaign domain.Campaign, run domain.CampaignRun)
}

type Config struct {
	DrainTimeout time.Duration
}

type Executor struct {
	config    Config
	store     Store
	discover  Discoverer
	quota     QuotaTracker
	generator Generator
	submitter Submitter
	notifier  Notifier // optional, nil = disabled
	sink      metrics.Sink
	logger    *slog.Logger
	clock     func() time.Time
}

func New(config Config, store Store, discover Discoverer, tracker QuotaTracker, generator Generator, submitter Submitter, logger *slog.Logger) *Executor {
	if config.DrainTimeout <= 0 {
		config.DrainTimeout = 60 * time.Second
	}
	return &Executor{
		config:    config,
		store:     store,
		discover:  discover,
		quota:     tracker,
		generator: generator,
		submitter: submitter,
		sink:      metrics.NewNoopSink(),
		logger:    logger,
		clock:     time.Now,
	}
}

// WithMetrics replaces the no-op sink. Returns the executor for chaining.
func (e *Executor) WithMetrics(sink metrics.Sink) *Executor {
	e.sink = sink
	return e
}

// WithNotifier attaches a campaign event notifier.
func (e *Executor) WithNotifier(n Notifier) *Executor {
	e.notifier = n
	return e
}

// Run processes requests from the channel until the context is
// cancelled, then drains remaining buffered requests with a timeout.
func (e *Executor) Run(ctx context.Context, ch <-chan domain.RunRequest) {
	for {
		select {
		case <-ctx.Done():
			e.drain(ch)
			return
		case req := <-ch:
			if err := e.Execute(ctx, req); err != nil {
				e.logger.Error("run failed", "campaign_id", req.CampaignID, "error", err)
			}
		}
	}
}

// drain finishes buffered requests after the shutdown signal. Uses a
// background context since the main context is already cancelled.
func (e *Executor) drain(ch <-chan domain.RunRequest) {
	drainCtx, cancel := context.WithTimeout(context.Background(), e.config.DrainTimeout)
	defer cancel()

	count := 0
	for {
		select {
		case <-drainCtx.Done():
			e.logger.Warn("drain timeout", "processed", count)
			return
		case req, ok := <-ch:
			if !ok {
				e.logger.Info("drain complete", "processed", count)
				return
			}
			if err := e.Execute(drainCtx, req); err != nil {
				e.logger.Error("drain run failed", "campaign_id", req.CampaignID, "error", err)
			}
			count++
		default:
			if count > 0 {
				e.logger.Info("drain complete", "processed", count)
			}
			return
		}
	}
}

// Execute performs one campaign run. Per-candidate failures never fail
// the run; the error return is reserved for systemic failures that
// leave the campaign running for the reconciler to recover.
func (e *Executor) Execute(ctx context.Context, req domain.RunRequest) error {
	e.sink.RunsInFlightIncr()
	defer e.sink.RunsInFlightDecr()

	start := e.clock().UTC()

	campaign, err := e.store.GetCampaignByID(ctx, req.CampaignID)
	if err != nil {
		return fmt.Errorf("get campaign: %w", err)
	}
	if campaign.Status != domain.CampaignStatusRunning {
		// Stale request: the reconciler reset the campaign or a cancel
		// landed first. The next dispatch will claim it again.
		e.logger.Warn("skipping stale run request",
			"campaign_id", campaign.ID,
			"status", campaign.Status)
		return nil
	}

	// Refresh the pool for this campaign's query. Discovery failures
	// degrade to whatever the store already holds.
	if _, derr := e.discover.Run(ctx, []domain.SearchCriteria{campaign.Criteria}); derr != nil {
		e.logger.Warn("discovery refresh failed, using stored postings",
			"campaign_id", campaign.ID,
			"error", derr)
	}

	postings, err := e.store.MatchPostings(ctx, campaign.Criteria, candidateFetchLimit)
	if err != nil {
		ferr := e.finalizeError(ctx, campaign, start, fmt.Errorf("match postings: %w", err))
		if ferr != nil {
			return ferr
		}
		return nil
	}

	outcome := e.processCandidates(ctx, campaign, postings)
	finish := e.clock().UTC()

	run := domain.CampaignRun{
		ID:         uuid.New(),
		CampaignID: campaign.ID,
		StartedAt:  start,
		FinishedAt: finish,
		Submitted:  outcome.submitted,
		Skipped:    outcome.skipped,
		Failed:     outcome.failed,
	}
	if err := e.store.InsertRun(ctx, run); err != nil {
		e.logger.Error("failed to record run history", "campaign_id", campaign.ID, "error", err)
	}

	fin := e.buildFinalization(campaign, outcome, finish)
	applied, err := e.applyFinalization(ctx, campaign, fin)
	if err != nil {
		return err
	}

	e.sink.RunCompleted(runOutcomeLabel(applied), finish.Sub(start))
	e.logger.Info("run complete",
		"campaign_id", campaign.ID,
		"submitted", outcome.submitted,
		"skipped", outcome.skipped,
		"failed", outcome.failed,
		"next_status", applied)

	if e.notifier != nil {
		e.notifier.RunFinished(campaign, run)
	}
	return nil
}

type runOutcome struct {
	submitted int
	skipped   int
	failed    int
	cancelled bool
}

// processCandidates walks the candidate postings in discovery order.
// The cancel flag is checked before every candidate, including the
// first. Candidates beyond the campaign's per-run cap are counted
// skipped without records. Once quota is denied, this and every
// remaining in-cap candidate gets a skipped_quota record and no
// further reservations are attempted.
func (e *Executor) processCandidates(ctx context.Context, campaign domain.Campaign, postings []domain.JobPosting) runOutcome {
	var out runOutcome
	quotaDenied := false

	limit := len(postings)
	if campaign.MaxPerRun > 0 && campaign.MaxPerRun < limit {
		limit = campaign.MaxPerRun
		out.skipped += len(postings) - limit
	}

	for i := 0; i < limit; i++ {
		cancelled := campaign.CancelRequested
		if i > 0 {
			var err error
			cancelled, err = e.cancelRequested(ctx, campaign.ID)
			if err != nil {
				e.logger.Error("cancel check failed", "campaign_id", campaign.ID, "error", err)
				cancelled = false
			}
		}
		if cancelled {
			out.cancelled = true
			return out
		}

		e.applyToPosting(ctx, campaign, postings[i], &quotaDenied, &out)
	}
	return out
}

func (e *Executor) applyToPosting(ctx context.Context, campaign domain.Campaign, posting domain.JobPosting, quotaDenied *bool, out *runOutcome) {
	seen, err := e.store.HasApplication(ctx, campaign.ID, posting.Fingerprint)
	if err != nil {
		e.logger.Error("application lookup failed", "campaign_id", campaign.ID, "error", err)
		out.failed++
		return
	}
	if seen {
		out.skipped++
		return
	}

	if *quotaDenied {
		e.recordApplication(ctx, campaign, posting, domain.OutcomeSkippedQuota, "")
		out.skipped++
		return
	}

	res, err := e.quota.Reserve(ctx, campaign.Identity)
	if err != nil {
		if errors.Is(err, quota.ErrExhausted) {
			e.sink.QuotaDenied()
			*quotaDenied = true
			e.recordApplication(ctx, campaign, posting, domain.OutcomeSkippedQuota, "")
			out.skipped++
			return
		}
		e.logger.Error("quota reserve failed", "campaign_id", campaign.ID, "error", err)
		out.failed++
		return
	}

	contentRef, err := e.generator.Generate(ctx, campaign, posting)
	if err != nil {
		e.releaseQuota(ctx, campaign, res)
		e.logger.Warn("content generation failed",
			"campaign_id", campaign.ID,
			"fingerprint", posting.Fingerprint,
			"error", err)
		e.recordApplication(ctx, campaign, posting, domain.OutcomeFailed, "")
		out.failed++
		return
	}

	sub := Submission{
		CampaignID:  campaign.ID.String(),
		Identity:    campaign.Identity,
		Fingerprint: posting.Fingerprint,
		ContentRef:  contentRef,
		PostingURL:  posting.URL,
	}
	if err := e.submitter.Submit(ctx, sub); err != nil {
		e.releaseQuota(ctx, campaign, res)
		e.logger.Warn("submission failed",
			"campaign_id", campaign.ID,
			"fingerprint", posting.Fingerprint,
			"error", err)
		e.recordApplication(ctx, campaign, posting, domain.OutcomeFailed, contentRef)
		out.failed++
		return
	}

	if err := e.quota.Commit(ctx, res); err != nil {
		e.logger.Error("quota commit failed", "campaign_id", campaign.ID, "error", err)
	}
	e.recordApplication(ctx, campaign, posting, domain.OutcomeSubmitted, contentRef)
	out.submitted++
}

func (e *Executor) recordApplication(ctx context.Context, campaign domain.Campaign, posting domain.JobPosting, outcome domain.ApplicationOutcome, contentRef string) {
	rec := domain.ApplicationRecord{
		ID:          uuid.New(),
		CampaignID:  campaign.ID,
		Fingerprint: posting.Fingerprint,
		Identity:    campaign.Identity,
		ContentRef:  contentRef,
		Outcome:     outcome,
		CreatedAt:   e.clock().UTC(),
	}
	if err := e.store.InsertApplication(ctx, rec); err != nil {
		e.logger.Error("failed to record application",
			"campaign_id", campaign.ID,
			"fingerprint", posting.Fingerprint,
			"outcome", outcome,
			"error", err)
		return
	}
	e.sink.ApplicationRecorded(string(outcome))
}

func (e *Executor) releaseQuota(ctx context.Context, campaign domain.Campaign, res quota.Reservation) {
	if err := e.quota.Release(ctx, res); err != nil {
		e.logger.Error("quota release failed", "campaign_id", campaign.ID, "error", err)
	}
}

func (e *Executor) cancelRequested(ctx context.Context, id uuid.UUID) (bool, error) {
	c, err := e.store.GetCampaignByID(ctx, id)
	if err != nil {
		return false, err
	}
	return c.CancelRequested, nil
}

// buildFinalization decides the post-run transition. A cancel observed
// during the run wins over everything else; a cancel that lands after
// the last between-candidate check is caught by the finalize UPDATE
// itself, so no final re-read is needed here.
func (e *Executor) buildFinalization(campaign domain.Campaign, out runOutcome, finish time.Time) Finalization {
	if out.cancelled {
		return Finalization{
			Status:    domain.CampaignStatusCancelled,
			LastRunAt: finish,
		}
	}

	after := campaign
	after.RunsCompleted++
	if after.Exhausted() {
		return Finalization{
			Status:        domain.CampaignStatusCompleted,
			IncrementRuns: true,
			LastRunAt:     finish,
		}
	}
	return Finalization{
		Status:        domain.CampaignStatusScheduled,
		IncrementRuns: true,
		LastRunAt:     finish,
		NextRunAt:     campaign.NextRunAfter(finish),
	}
}

// finalizeError handles a systemic run failure: once campaigns land in
// error, recurring ones go back on the schedule for the next cycle.
func (e *Executor) finalizeError(ctx context.Context, campaign domain.Campaign, start time.Time, cause error) error {
	finish := e.clock().UTC()

	run := domain.CampaignRun{
		ID:         uuid.New(),
		CampaignID: campaign.ID,
		StartedAt:  start,
		FinishedAt: finish,
		Error:      cause.Error(),
	}
	if err := e.store.InsertRun(ctx, run); err != nil {
		e.logger.Error("failed to record run history", "campaign_id", campaign.ID, "error", err)
	}

	fin := Finalization{
		Status:    domain.CampaignStatusError,
		LastRunAt: finish,
		LastError: cause.Error(),
	}
	if campaign.Schedule.Type == domain.ScheduleRecurring {
		fin.Status = domain.CampaignStatusScheduled
		fin.NextRunAt = campaign.NextRunAfter(finish)
	}

	if _, err := e.applyFinalization(ctx, campaign, fin); err != nil {
		return err
	}

	e.sink.RunCompleted(metrics.RunOutcomeError, finish.Sub(start))
	e.logger.Error("run failed",
		"campaign_id", campaign.ID,
		"error", cause,
		"next_status", fin.Status)
	return nil
}

func (e *Executor) applyFinalization(ctx context.Context, campaign domain.Campaign, fin Finalization) (domain.CampaignStatus, error) {
	applied, err := e.store.FinalizeRun(ctx, campaign.ID, fin)
	if err != nil {
		if errors.Is(err, ErrNotRunning) {
			// Reconciler already moved the campaign on. Safe to ignore.
			e.logger.Warn("campaign left running state during run", "campaign_id", campaign.ID)
			return fin.Status, nil
		}
		return "", fmt.Errorf("finalize run: %w", err)
	}
	return applied, nil
}

func runOutcomeLabel(status domain.CampaignStatus) string {
	switch status {
	case domain.CampaignStatusCancelled:
		return metrics.RunOutcomeCancelled
	case domain.CampaignStatusError:
		return metrics.RunOutcomeError
	default:
		return metrics.RunOutcomeSuccess
	}
}
