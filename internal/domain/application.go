package domain

import (
	"time"

	"github.com/google/uuid"
)

type ApplicationOutcome string

const (
	OutcomeSubmitted        ApplicationOutcome = "submitted"
	OutcomeSkippedDuplicate ApplicationOutcome = "skipped_duplicate"
	OutcomeSkippedQuota     ApplicationOutcome = "skipped_quota"
	OutcomeFailed           ApplicationOutcome = "failed"
)

// ApplicationRecord captures one attempt of a campaign against a
// posting. Unique on (campaign, fingerprint); at most one submitted
// record per pair ever exists.
type ApplicationRecord struct {
	ID         uuid.UUID
	CampaignID uuid.UUID

	Fingerprint string
	Identity    string

	ContentRef string
	Outcome    ApplicationOutcome

	CreatedAt time.Time
}
