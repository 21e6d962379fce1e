package domain

import (
	"time"

	"github.com/google/uuid"
)

type CampaignStatus string

const (
	CampaignStatusScheduled CampaignStatus = "scheduled"
	CampaignStatusRunning   CampaignStatus = "running"
	CampaignStatusCompleted CampaignStatus = "completed"
	CampaignStatusCancelled CampaignStatus = "cancelled"
	CampaignStatusError     CampaignStatus = "error"
)

// IsTerminal reports whether the status admits no further transitions.
func (s CampaignStatus) IsTerminal() bool {
	switch s {
	case CampaignStatusCompleted, CampaignStatusCancelled, CampaignStatusError:
		return true
	}
	return false
}

type ScheduleType string

const (
	ScheduleOnce      ScheduleType = "once"
	ScheduleRecurring ScheduleType = "recurring"
)

// ScheduleSpec describes when a campaign runs. MaxRuns of zero on a
// recurring schedule means unlimited.
type ScheduleSpec struct {
	Type         ScheduleType
	IntervalDays int
	MaxRuns      int
}

// SearchCriteria is the posting query a campaign applies against.
type SearchCriteria struct {
	Title    string
	Location string
}

// Campaign is a user-defined application campaign. Rows are never
// deleted; terminal statuses are final.
type Campaign struct {
	ID       uuid.UUID
	Identity string

	Criteria  SearchCriteria
	MaxPerRun int
	Schedule  ScheduleSpec

	Status          CampaignStatus
	CancelRequested bool

	RunsCompleted int
	LastRunAt     *time.Time
	NextRunAt     time.Time
	LastError     string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Exhausted reports whether another successful run would exceed the
// schedule's run allowance.
func (c Campaign) Exhausted() bool {
	if c.Schedule.Type == ScheduleOnce {
		return c.RunsCompleted >= 1
	}
	return c.Schedule.MaxRuns > 0 && c.RunsCompleted >= c.Schedule.MaxRuns
}

// NextRunAfter computes the follow-up run time for a recurring campaign
// relative to the moment the previous run finished.
func (c Campaign) NextRunAfter(finishedAt time.Time) time.Time {
	return finishedAt.Add(time.Duration(c.Schedule.IntervalDays) * 24 * time.Hour)
}
