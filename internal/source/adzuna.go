// Package source implements the job board adapters the discovery
// engine fans out over. Every adapter speaks plain HTTP JSON and maps
// board payloads into domain.RawPosting.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/applyforge/applyforge/internal/domain"
)

const (
	adzunaPageSize = 50
	adzunaMaxPages = 3 // max 150 results per query
)

// Adzuna searches the Adzuna jobs API. Missing credentials make Search
// return empty without error so an unconfigured deployment degrades to
// the public boards.
type Adzuna struct {
	appID   string
	appKey  string
	country string
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

func NewAdzuna(appID, appKey, country string, timeout time.Duration, logger *slog.Logger) *Adzuna {
	return &Adzuna{
		appID:   appID,
		appKey:  appKey,
		country: country,
		baseURL: "https://api.adzuna.com/v1/api/jobs",
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

func (a *Adzuna) Name() string { return "adzuna" }

type adzunaResponse struct {
	Results []adzunaResult `json:"results"`
}

type adzunaResult struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Company     adzunaCompany  `json:"company"`
	Location    adzunaLocation `json:"location"`
	RedirectURL string         `json:"redirect_url"`
}

type adzunaCompany struct {
	DisplayName string `json:"display_name"`
}

type adzunaLocation struct {
	DisplayName string `json:"display_name"`
}

// Search pages through results until a short page, an empty page, or
// the page cap.
func (a *Adzuna) Search(ctx context.Context, query domain.SearchCriteria) ([]domain.RawPosting, error) {
	if a.appID == "" || a.appKey == "" {
		a.logger.Warn("adzuna credentials not set, skipping", "source", a.Name())
		return nil, nil
	}

	var postings []domain.RawPosting
	for page := 1; page <= adzunaMaxPages; page++ {
		batch, err := a.searchPage(ctx, query, page)
		if err != nil {
			return postings, fmt.Errorf("page %d: %w", page, err)
		}
		if len(batch) == 0 {
			break
		}
		postings = append(postings, batch...)
		if len(batch) < adzunaPageSize {
			break
		}
	}
	return postings, nil
}

func (a *Adzuna) searchPage(ctx context.Context, query domain.SearchCriteria, page int) ([]domain.RawPosting, error) {
	endpoint := fmt.Sprintf("%s/%s/search/%d", a.baseURL, a.country, page)

	params := url.Values{}
	params.Set("app_id", a.appID)
	params.Set("app_key", a.appKey)
	params.Set("results_per_page", strconv.Itoa(adzunaPageSize))
	params.Set("what", query.Title)
	params.Set("where", query.Location)
	params.Set("sort_by", "date")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
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
		return nil, fmt.Errorf("adzuna returned %d: %s", resp.StatusCode, string(body))
	}

	var apiResp adzunaResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("json unmarshal: %w", err)
	}

	postings := make([]domain.RawPosting, 0, len(apiResp.Results))
	for _, r := range apiResp.Results {
		postings = append(postings, domain.RawPosting{
			Source:      a.Name(),
			ExternalID:  r.ID,
			Title:       r.Title,
			Company:     r.Company.DisplayName,
			Location:    r.Location.DisplayName,
			Description: r.Description,
			URL:         r.RedirectURL,
		})
	}
	return postings, nil
}
