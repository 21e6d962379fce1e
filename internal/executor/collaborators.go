package executor

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/applyforge/applyforge/internal/domain"
)

// HTTPGenerator asks the content service to produce application
// material (cover letter, tailored resume) for one posting.
type HTTPGenerator struct {
	url    string
	client *http.Client
}

func NewHTTPGenerator(url string, timeout time.Duration) *HTTPGenerator {
	return &HTTPGenerator{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

var _ Generator = (*HTTPGenerator)(nil)

type generateRequest struct {
	CampaignID string `json:"campaign_id"`
	Identity   string `json:"identity"`
	Title      string `json:"title"`
	Company    string `json:"company"`
	Location   string `json:"location"`
	PostingURL string `json:"posting_url"`
}

type generateResponse struct {
	ContentRef string `json:"content_ref"`
}

func (g *HTTPGenerator) Generate(ctx context.Context, campaign domain.Campaign, posting domain.JobPosting) (string, error) {
	body, err := json.Marshal(generateRequest{
		CampaignID: campaign.ID.String(),
		Identity:   campaign.Identity,
		Title:      posting.Title,
		Company:    posting.Company,
		Location:   posting.Location,
		PostingURL: posting.URL,
	})
	if err != nil {
		return "", fmt.Errorf("marshal generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("generator request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("generator returned status %d", resp.StatusCode)
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode generator response: %w", err)
	}
	if out.ContentRef == "" {
		return "", fmt.Errorf("generator returned empty content_ref")
	}
	return out.ContentRef, nil
}

// HTTPSubmitter delivers signed submissions to the submission gateway.
type HTTPSubmitter struct {
	url    string
	secret string
	client *http.Client
}

func NewHTTPSubmitter(url, secret string, timeout time.Duration) *HTTPSubmitter {
	return &HTTPSubmitter{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: timeout},
	}
}

var _ Submitter = (*HTTPSubmitter)(nil)

func (s *HTTPSubmitter) Submit(ctx context.Context, sub Submission) error {
	body, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("marshal submission: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-ApplyForge-Campaign-ID", sub.CampaignID)
	req.Header.Set("X-ApplyForge-Timestamp", strconv.FormatInt(time.Now().Unix(), 10))
	if s.secret != "" {
		req.Header.Set("X-ApplyForge-Signature", computeSignature(s.secret, body))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("submit request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}
	return nil
}

// computeSignature returns the hex-encoded HMAC-SHA256 of the body.
func computeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a submission signature. Exported for gateway
// implementations that share the secret.
func VerifySignature(secret string, body []byte, signature string) bool {
	expected := computeSignature(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// LoggingNotifier logs run summaries when no notification endpoint is
// configured.
type LoggingNotifier struct {
	logger *slog.Logger
}

func NewLoggingNotifier(logger *slog.Logger) *LoggingNotifier {
	return &LoggingNotifier{logger: logger}
}

var _ Notifier = (*LoggingNotifier)(nil)

func (n *LoggingNotifier) RunFinished(campaign domain.Campaign, run domain.CampaignRun) {
	n.logger.Info("campaign run finished",
		"campaign_id", campaign.ID,
		"identity", campaign.Identity,
		"submitted", run.Submitted,
		"skipped", run.Skipped,
		"failed", run.Failed)
}
