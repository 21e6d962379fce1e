package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/applyforge/applyforge/internal/domain"
)

// Remotive searches the public Remotive remote-jobs API. The API takes
// a search term only; remote-first boards carry no location facet, so
// the location criterion is ignored here.
type Remotive struct {
	baseURL string
	client  *http.Client
}

func NewRemotive(timeout time.Duration) *Remotive {
	return &Remotive{
		baseURL: "https://remotive.com/api/remote-jobs",
		client:  &http.Client{Timeout: timeout},
	}
}

func (r *Remotive) Name() string { return "remotive" }

type remotiveResponse struct {
	Jobs []remotiveJob `json:"jobs"`
}

type remotiveJob struct {
	ID          int64  `json:"id"`
	URL         string `json:"url"`
	Title       string `json:"title"`
	CompanyName string `json:"company_name"`
	Location    string `json:"candidate_required_location"`
	Description string `json:"description"`
}

func (r *Remotive) Search(ctx context.Context, query domain.SearchCriteria) ([]domain.RawPosting, error) {
	params := url.Values{}
	params.Set("search", query.Title)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http GET: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("remotive returned %d: %s", resp.StatusCode, string(body))
	}

	var apiResp remotiveResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("json unmarshal: %w", err)
	}

	postings := make([]domain.RawPosting, 0, len(apiResp.Jobs))
	for _, j := range apiResp.Jobs {
		postings = append(postings, domain.RawPosting{
			Source:      r.Name(),
			ExternalID:  strconv.FormatInt(j.ID, 10),
			Title:       j.Title,
			Company:     j.CompanyName,
			Location:    j.Location,
			Description: j.Description,
			URL:         j.URL,
		})
	}
	return postings, nil
}
