package domain

import (
	"time"

	"github.com/google/uuid"
)

// RunRequest is emitted by the scheduler when a campaign comes due.
type RunRequest struct {
	CampaignID uuid.UUID
	Identity   string

	DueAt     time.Time // the next_run that made the campaign due (UTC)
	EmittedAt time.Time
}

// CampaignRun is one completed executor pass, kept as history.
type CampaignRun struct {
	ID         uuid.UUID
	CampaignID uuid.UUID

	StartedAt  time.Time
	FinishedAt time.Time

	Submitted int
	Skipped   int
	Failed    int

	Error string
}
