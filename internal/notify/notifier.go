// Package notify delivers campaign lifecycle events to an external
// webhook. Delivery is best-effort: failures are logged and never
// reach the caller.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/applyforge/applyforge/internal/domain"
)

type HTTPNotifier struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

func NewHTTPNotifier(url string, timeout time.Duration, logger *slog.Logger) *HTTPNotifier {
	return &HTTPNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

type runFinishedEvent struct {
	Event      string    `json:"event"`
	CampaignID string    `json:"campaign_id"`
	Identity   string    `json:"identity"`
	Submitted  int       `json:"submitted"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
	FinishedAt time.Time `json:"finished_at"`
}

// RunFinished posts the run summary in a detached goroutine so the
// executor never blocks on a slow webhook.
func (n *HTTPNotifier) RunFinished(campaign domain.Campaign, run domain.CampaignRun) {
	event := runFinishedEvent{
		Event:      "campaign.run_finished",
		CampaignID: campaign.ID.String(),
		Identity:   campaign.Identity,
		Submitted:  run.Submitted,
		Skipped:    run.Skipped,
		Failed:     run.Failed,
		FinishedAt: run.FinishedAt,
	}
	go n.deliver(event)
}

func (n *HTTPNotifier) deliver(event runFinishedEvent) {
	body, err := json.Marshal(event)
	if err != nil {
		n.logger.Error("failed to marshal notification", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.client.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		n.logger.Error("failed to build notification request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn("notification delivery failed",
			"campaign_id", event.CampaignID,
			"error", err)
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		n.logger.Warn("notification rejected",
			"campaign_id", event.CampaignID,
			"status", resp.StatusCode)
	}
}
