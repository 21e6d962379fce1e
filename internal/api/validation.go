package api

import (
	"fmt"
	"net/mail"
	"time"

	"github.com/applyforge/applyforge/internal/domain"
)

const maxPerRunCeiling = 50

func validateCreateCampaign(req CreateCampaignRequest) error {
	if req.Identity == "" {
		return fmt.Errorf("identity is required")
	}
	if _, err := mail.ParseAddress(req.Identity); err != nil {
		return fmt.Errorf("identity must be an email address")
	}

	if req.Title == "" {
		return fmt.Errorf("title is required")
	}

	if req.MaxPerRun < 0 {
		return fmt.Errorf("max_per_run must not be negative")
	}
	if req.MaxPerRun > maxPerRunCeiling {
		return fmt.Errorf("max_per_run exceeds maximum of %d", maxPerRunCeiling)
	}

	switch domain.ScheduleType(req.Schedule.Type) {
	case domain.ScheduleOnce:
		if req.Schedule.IntervalDays != 0 || req.Schedule.MaxRuns != 0 {
			return fmt.Errorf("once schedules take no interval_days or max_runs")
		}
	case domain.ScheduleRecurring:
		if req.Schedule.IntervalDays < 1 {
			return fmt.Errorf("recurring schedules require interval_days >= 1")
		}
		if req.Schedule.MaxRuns < 0 {
			return fmt.Errorf("max_runs must not be negative")
		}
	default:
		return fmt.Errorf("schedule type must be once or recurring")
	}

	if req.StartAt != "" {
		if _, err := time.Parse(time.RFC3339, req.StartAt); err != nil {
			return fmt.Errorf("invalid start_at: %w", err)
		}
	}

	return nil
}
