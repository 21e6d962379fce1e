package domain

import (
	"testing"
	"time"
)

func TestCampaignStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status CampaignStatus
		want   bool
	}{
		{CampaignStatusScheduled, false},
		{CampaignStatusRunning, false},
		{CampaignStatusCompleted, true},
		{CampaignStatusCancelled, true},
		{CampaignStatusError, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.IsTerminal(); got != tt.want {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCampaign_Exhausted(t *testing.T) {
	tests := []struct {
		name          string
		schedule      ScheduleSpec
		runsCompleted int
		want          bool
	}{
		{"once not run", ScheduleSpec{Type: ScheduleOnce}, 0, false},
		{"once run", ScheduleSpec{Type: ScheduleOnce}, 1, true},
		{"recurring unlimited", ScheduleSpec{Type: ScheduleRecurring, IntervalDays: 1}, 100, false},
		{"recurring under cap", ScheduleSpec{Type: ScheduleRecurring, IntervalDays: 1, MaxRuns: 3}, 2, false},
		{"recurring at cap", ScheduleSpec{Type: ScheduleRecurring, IntervalDays: 1, MaxRuns: 3}, 3, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Campaign{Schedule: tt.schedule, RunsCompleted: tt.runsCompleted}
			if got := c.Exhausted(); got != tt.want {
				t.Errorf("Exhausted() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCampaign_NextRunAfter(t *testing.T) {
	c := Campaign{Schedule: ScheduleSpec{Type: ScheduleRecurring, IntervalDays: 3}}
	finished := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	got := c.NextRunAfter(finished)
	want := time.Date(2025, 6, 4, 12, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("NextRunAfter() = %s, want %s", got, want)
	}
}
