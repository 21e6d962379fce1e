// Package postgres persists campaigns, postings, applications, and run
// history. It backs every store interface in the system; state machine
// guards live in the SQL, not in application-side reads.
package postgres

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/applyforge/applyforge/internal/api"
	"github.com/applyforge/applyforge/internal/dedup"
	"github.com/applyforge/applyforge/internal/discovery"
	"github.com/applyforge/applyforge/internal/domain"
	"github.com/applyforge/applyforge/internal/executor"
	"github.com/applyforge/applyforge/internal/reconciler"
	"github.com/applyforge/applyforge/internal/scheduler"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Ping reports database reachability for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateCampaign inserts a new campaign row.
func (s *Store) CreateCampaign(ctx context.Context, c domain.Campaign) error {
	_, err := s.db.ExecContext(ctx, queryInsertCampaign,
		c.ID,
		c.Identity,
		c.Criteria.Title,
		c.Criteria.Location,
		c.MaxPerRun,
		string(c.Schedule.Type),
		c.Schedule.IntervalDays,
		c.Schedule.MaxRuns,
		string(c.Status),
		c.CancelRequested,
		c.RunsCompleted,
		c.NextRunAt,
		c.LastError,
		c.CreatedAt,
		c.UpdatedAt,
	)
	return err
}

func (s *Store) GetCampaignByID(ctx context.Context, id uuid.UUID) (domain.Campaign, error) {
	row := s.db.QueryRowContext(ctx, queryGetCampaignByID, id)
	return scanCampaign(row)
}

func (s *Store) ListCampaigns(ctx context.Context, identity string, limit, offset int) ([]domain.Campaign, error) {
	rows, err := s.db.QueryContext(ctx, queryListCampaigns, identity, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

// GetDueCampaigns returns scheduled campaigns whose next_run is at or
// before now, ordered by (next_run, id) ascending.
func (s *Store) GetDueCampaigns(ctx context.Context, now time.Time, limit int) ([]domain.Campaign, error) {
	rows, err := s.db.QueryContext(ctx, queryGetDueCampaigns, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

// MarkRunning claims a scheduled campaign. The WHERE clause is the
// claim: PostgreSQL locks the row before evaluating it, so exactly one
// concurrent caller wins.
func (s *Store) MarkRunning(ctx context.Context, id uuid.UUID, now time.Time) error {
	result, err := s.db.ExecContext(ctx, queryMarkRunning, id, now)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return scheduler.ErrNotSchedulable
	}
	return nil
}

// FinalizeRun applies the post-run transition, guarded on the campaign
// still being in the running state. The UPDATE itself resolves the
// cancel race: a cancel_requested flag committed at any point before
// the finalize wins over the executor's intended status, and the flag
// is cleared in the same statement. Returns the status that was
// actually applied.
func (s *Store) FinalizeRun(ctx context.Context, id uuid.UUID, fin executor.Finalization) (domain.CampaignStatus, error) {
	inc := 0
	if fin.IncrementRuns {
		inc = 1
	}
	var nextRun any
	if !fin.NextRunAt.IsZero() {
		nextRun = fin.NextRunAt
	}

	var applied string
	err := s.db.QueryRowContext(ctx, queryFinalizeRun,
		id,
		string(fin.Status),
		inc,
		fin.LastRunAt,
		nextRun,
		fin.LastError,
	).Scan(&applied)
	if err == sql.ErrNoRows {
		return "", executor.ErrNotRunning
	}
	if err != nil {
		return "", err
	}
	return domain.CampaignStatus(applied), nil
}

// RequestCancel cancels a campaign. Scheduled campaigns cancel
// immediately; running ones get the cooperative flag and finish their
// in-flight run first. Terminal campaigns return api.ErrAlreadyTerminal.
func (s *Store) RequestCancel(ctx context.Context, id uuid.UUID, now time.Time) error {
	result, err := s.db.ExecContext(ctx, queryCancelScheduled, id, now)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err != nil {
		return err
	} else if n > 0 {
		return nil
	}

	result, err = s.db.ExecContext(ctx, queryRequestCancelRunning, id, now)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err != nil {
		return err
	} else if n > 0 {
		return nil
	}

	// Neither guard matched: the campaign is terminal or missing.
	var status string
	err = s.db.QueryRowContext(ctx, queryGetCampaignStatus, id).Scan(&status)
	if err != nil {
		return err // sql.ErrNoRows for unknown ids
	}
	return api.ErrAlreadyTerminal
}

// ResetStuckCampaigns moves running campaigns last touched before
// olderThan back to scheduled.
func (s *Store) ResetStuckCampaigns(ctx context.Context, olderThan time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, queryResetStuckCampaigns, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// InsertPosting stores a newly discovered posting. Returns
// dedup.ErrDuplicatePosting when the fingerprint already exists.
func (s *Store) InsertPosting(ctx context.Context, p domain.JobPosting) error {
	_, err := s.db.ExecContext(ctx, queryInsertPosting,
		p.Fingerprint,
		p.Source,
		p.ExternalID,
		p.Title,
		p.Company,
		p.Location,
		p.Description,
		p.URL,
		p.DiscoveredAt,
		p.LastSeenAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return dedup.ErrDuplicatePosting
		}
		return err
	}
	return nil
}

func (s *Store) TouchPosting(ctx context.Context, fingerprint string, seenAt time.Time) error {
	_, err := s.db.ExecContext(ctx, queryTouchPosting, fingerprint, seenAt)
	return err
}

// MatchPostings returns postings matching the criteria, newest first.
func (s *Store) MatchPostings(ctx context.Context, criteria domain.SearchCriteria, limit int) ([]domain.JobPosting, error) {
	rows, err := s.db.QueryContext(ctx, queryMatchPostings, criteria.Title, criteria.Location, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.JobPosting
	for rows.Next() {
		var p domain.JobPosting
		err := rows.Scan(
			&p.Fingerprint,
			&p.Source,
			&p.ExternalID,
			&p.Title,
			&p.Company,
			&p.Location,
			&p.Description,
			&p.URL,
			&p.DiscoveredAt,
			&p.LastSeenAt,
		)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (s *Store) CountPostings(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, queryCountPostings).Scan(&n)
	return n, err
}

func (s *Store) CountPostingsSince(ctx context.Context, since time.Time) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, queryCountPostingsSince, since).Scan(&n)
	return n, err
}

func (s *Store) CountPostingsBySource(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, queryCountPostingsBySource)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var source string
		var n int64
		if err := rows.Scan(&source, &n); err != nil {
			return nil, err
		}
		counts[source] = n
	}
	return counts, rows.Err()
}

func (s *Store) InsertApplication(ctx context.Context, rec domain.ApplicationRecord) error {
	_, err := s.db.ExecContext(ctx, queryInsertApplication,
		rec.ID,
		rec.CampaignID,
		rec.Fingerprint,
		rec.Identity,
		rec.ContentRef,
		string(rec.Outcome),
		rec.CreatedAt,
	)
	return err
}

func (s *Store) HasApplication(ctx context.Context, campaignID uuid.UUID, fingerprint string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, queryHasApplication, campaignID, fingerprint).Scan(&exists)
	return exists, err
}

func (s *Store) InsertRun(ctx context.Context, run domain.CampaignRun) error {
	_, err := s.db.ExecContext(ctx, queryInsertRun,
		run.ID,
		run.CampaignID,
		run.StartedAt,
		run.FinishedAt,
		run.Submitted,
		run.Skipped,
		run.Failed,
		run.Error,
	)
	return err
}

func (s *Store) ListRuns(ctx context.Context, campaignID uuid.UUID, limit, offset int) ([]domain.CampaignRun, error) {
	rows, err := s.db.QueryContext(ctx, queryListRuns, campaignID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.CampaignRun
	for rows.Next() {
		var run domain.CampaignRun
		err := rows.Scan(
			&run.ID,
			&run.CampaignID,
			&run.StartedAt,
			&run.FinishedAt,
			&run.Submitted,
			&run.Skipped,
			&run.Failed,
			&run.Error,
		)
		if err != nil {
			return nil, err
		}
		result = append(result, run)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row scanner) (domain.Campaign, error) {
	var c domain.Campaign
	var scheduleType, status string
	var lastRunAt sql.NullTime

	err := row.Scan(
		&c.ID,
		&c.Identity,
		&c.Criteria.Title,
		&c.Criteria.Location,
		&c.MaxPerRun,
		&scheduleType,
		&c.Schedule.IntervalDays,
		&c.Schedule.MaxRuns,
		&status,
		&c.CancelRequested,
		&c.RunsCompleted,
		&lastRunAt,
		&c.NextRunAt,
		&c.LastError,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return domain.Campaign{}, err
	}
	c.Schedule.Type = domain.ScheduleType(scheduleType)
	c.Status = domain.CampaignStatus(status)
	if lastRunAt.Valid {
		t := lastRunAt.Time
		c.LastRunAt = &t
	}
	return c, nil
}

// isDuplicateKeyError checks for a PostgreSQL unique violation
// (SQLSTATE 23505) by message, which covers both lib/pq and pgx.
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "23505") ||
		strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key")
}

// Compile-time interface assertions
var (
	_ scheduler.Store      = (*Store)(nil)
	_ executor.Store       = (*Store)(nil)
	_ dedup.PostingStore   = (*Store)(nil)
	_ discovery.StatsStore = (*Store)(nil)
	_ reconciler.Store     = (*Store)(nil)
	_ api.Store            = (*Store)(nil)
)
