// Package cron validates schedule specs before they reach the
// discovery refresher, so a typo fails at startup instead of at the
// first registration attempt.
package cron

import (
	"fmt"

	"github.com/robfig/cron/v3"
)

// specParser accepts the same grammar the refresher's scheduler does:
// five-field cron expressions plus descriptors like "@every 6h".
var specParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateSpec reports whether spec is a parseable schedule.
func ValidateSpec(spec string) error {
	if _, err := specParser.Parse(spec); err != nil {
		return fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	return nil
}
