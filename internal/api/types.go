package api

import (
	"time"

	"github.com/applyforge/applyforge/internal/domain"
)

type CreateCampaignRequest struct {
	Identity  string `json:"identity"`
	Title     string `json:"title"`
	Location  string `json:"location,omitempty"`
	MaxPerRun int    `json:"max_per_run,omitempty"` // default 3

	Schedule ScheduleRequest `json:"schedule"`
	StartAt  string          `json:"start_at,omitempty"` // RFC3339, default now
}

type ScheduleRequest struct {
	Type         string `json:"type"` // once | recurring
	IntervalDays int    `json:"interval_days,omitempty"`
	MaxRuns      int    `json:"max_runs,omitempty"` // 0 = unlimited
}

type CampaignResponse struct {
	ID              string `json:"id"`
	Identity        string `json:"identity"`
	Title           string `json:"title"`
	Location        string `json:"location,omitempty"`
	MaxPerRun       int    `json:"max_per_run"`
	ScheduleType    string `json:"schedule_type"`
	IntervalDays    int    `json:"interval_days,omitempty"`
	MaxRuns         int    `json:"max_runs,omitempty"`
	Status          string `json:"status"`
	CancelRequested bool   `json:"cancel_requested,omitempty"`
	RunsCompleted   int    `json:"runs_completed"`
	LastRunAt       string `json:"last_run_at,omitempty"`
	NextRunAt       string `json:"next_run_at,omitempty"`
	LastError       string `json:"last_error,omitempty"`
	CreatedAt       string `json:"created_at"`
}

type RunResponse struct {
	ID         string `json:"id"`
	CampaignID string `json:"campaign_id"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at"`
	Submitted  int    `json:"submitted"`
	Skipped    int    `json:"skipped"`
	Failed     int    `json:"failed"`
	Error      string `json:"error,omitempty"`
}

type ListCampaignsResponse struct {
	Campaigns []CampaignResponse `json:"campaigns"`
}

type ListRunsResponse struct {
	Runs []RunResponse `json:"runs"`
}

type TriggerDiscoveryRequest struct {
	Queries []string `json:"queries"` // "title@location" form
}

type TriggerDiscoveryResponse struct {
	NewPostings int `json:"new_postings"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func campaignResponse(c domain.Campaign) CampaignResponse {
	resp := CampaignResponse{
		ID:              c.ID.String(),
		Identity:        c.Identity,
		Title:           c.Criteria.Title,
		Location:        c.Criteria.Location,
		MaxPerRun:       c.MaxPerRun,
		ScheduleType:    string(c.Schedule.Type),
		IntervalDays:    c.Schedule.IntervalDays,
		MaxRuns:         c.Schedule.MaxRuns,
		Status:          string(c.Status),
		CancelRequested: c.CancelRequested,
		RunsCompleted:   c.RunsCompleted,
		LastError:       c.LastError,
		CreatedAt:       formatTime(c.CreatedAt),
	}
	if c.LastRunAt != nil {
		resp.LastRunAt = formatTime(*c.LastRunAt)
	}
	if !c.Status.IsTerminal() {
		resp.NextRunAt = formatTime(c.NextRunAt)
	}
	return resp
}

func runResponse(run domain.CampaignRun) RunResponse {
	return RunResponse{
		ID:         run.ID.String(),
		CampaignID: run.CampaignID.String(),
		StartedAt:  formatTime(run.StartedAt),
		FinishedAt: formatTime(run.FinishedAt),
		Submitted:  run.Submitted,
		Skipped:    run.Skipped,
		Failed:     run.Failed,
		Error:      run.Error,
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
