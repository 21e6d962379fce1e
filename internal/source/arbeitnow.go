package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/applyforge/applyforge/internal/domain"
)

// Arbeitnow reads the public Arbeitnow job board feed. The feed has no
// search parameters, so title and location filtering happens here.
type Arbeitnow struct {
	baseURL string
	client  *http.Client
}

func NewArbeitnow(timeout time.Duration) *Arbeitnow {
	return &Arbeitnow{
		baseURL: "https://www.arbeitnow.com/api/job-board-api",
		client:  &http.Client{Timeout: timeout},
	}
}

func (a *Arbeitnow) Name() string { return "arbeitnow" }

type arbeitnowResponse struct {
	Data []arbeitnowJob `json:"data"`
}

type arbeitnowJob struct {
	Slug        string `json:"slug"`
	CompanyName string `json:"company_name"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Location    string `json:"location"`
	URL         string `json:"url"`
}

func (a *Arbeitnow) Search(ctx context.Context, query domain.SearchCriteria) ([]domain.RawPosting, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http GET: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("arbeitnow returned %d: %s", resp.StatusCode, string(body))
	}

	var apiResp arbeitnowResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("json unmarshal: %w", err)
	}

	var postings []domain.RawPosting
	for _, j := range apiResp.Data {
		if !matches(j, query) {
			continue
		}
		postings = append(postings, domain.RawPosting{
			Source:      a.Name(),
			ExternalID:  j.Slug,
			Title:       j.Title,
			Company:     j.CompanyName,
			Location:    j.Location,
			Description: j.Description,
			URL:         j.URL,
		})
	}
	return postings, nil
}

func matches(j arbeitnowJob, query domain.SearchCriteria) bool {
	if query.Title != "" && !containsFold(j.Title, query.Title) {
		return false
	}
	if query.Location != "" && !containsFold(j.Location, query.Location) {
		return false
	}
	return true
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
