package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/applyforge/applyforge/internal/cron"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors

	if cfg.DatabaseURL == "" {
		errs = append(errs, ValidationError{
			Field:   "DATABASE_URL",
			Message: "required",
		})
	}

	errs = appendDurationErrs(errs, "TICK_INTERVAL", cfg.TickIntervalStr)
	errs = appendDurationErrs(errs, "SOURCE_TIMEOUT", cfg.SourceTimeoutStr)
	errs = appendDurationErrs(errs, "COLLAB_TIMEOUT", cfg.CollabTimeoutStr)
	errs = appendDurationErrs(errs, "RECONCILE_THRESHOLD", cfg.ReconcileThresholdStr)

	if cfg.DispatchMode != "" && cfg.DispatchMode != "channel" && cfg.DispatchMode != "amqp" {
		errs = append(errs, ValidationError{
			Field:   "DISPATCH_MODE",
			Message: fmt.Sprintf("must be 'channel' or 'amqp', got %q", cfg.DispatchMode),
		})
	}
	if cfg.DispatchMode == "amqp" && cfg.AMQPURL == "" {
		errs = append(errs, ValidationError{
			Field:   "AMQP_URL",
			Message: "required when DISPATCH_MODE=amqp",
		})
	}

	if cfg.QuotaDailyLimit <= 0 {
		errs = append(errs, ValidationError{
			Field:   "QUOTA_DAILY_LIMIT",
			Message: "must be positive",
		})
	}
	if cfg.QuotaWeeklyLimit < cfg.QuotaDailyLimit {
		errs = append(errs, ValidationError{
			Field:   "QUOTA_WEEKLY_LIMIT",
			Message: "must be at least the daily limit",
		})
	}

	if cfg.DiscoverySchedule != "" {
		if err := cron.ValidateSpec(cfg.DiscoverySchedule); err != nil {
			errs = append(errs, ValidationError{
				Field:   "DISCOVERY_SCHEDULE",
				Message: err.Error(),
			})
		}
	}

	for _, q := range cfg.DiscoveryQueries {
		if strings.TrimSpace(strings.SplitN(q, "@", 2)[0]) == "" {
			errs = append(errs, ValidationError{
				Field:   "DISCOVERY_QUERIES",
				Message: fmt.Sprintf("query %q has no title", q),
			})
		}
	}

	if cfg.GeneratorURL == "" {
		errs = append(errs, ValidationError{
			Field:   "GENERATOR_URL",
			Message: "required",
		})
	}
	if cfg.SubmitURL == "" {
		errs = append(errs, ValidationError{
			Field:   "SUBMIT_URL",
			Message: "required",
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func appendDurationErrs(errs ValidationErrors, field, value string) ValidationErrors {
	if value == "" {
		return errs
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return append(errs, ValidationError{
			Field:   field,
			Message: fmt.Sprintf("invalid duration: %v", err),
		})
	}
	if d <= 0 {
		return append(errs, ValidationError{
			Field:   field,
			Message: "must be positive",
		})
	}
	return errs
}
