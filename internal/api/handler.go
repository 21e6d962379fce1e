// Package api exposes the campaign and discovery surface over HTTP.
package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/applyforge/applyforge/internal/discovery"
	"github.com/applyforge/applyforge/internal/domain"
)

// Pagination defaults and limits.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// ErrAlreadyTerminal is returned by the store when a cancel targets a
// campaign in a terminal state.
var ErrAlreadyTerminal = errors.New("campaign already in terminal state")

type Store interface {
	CreateCampaign(ctx context.Context, c domain.Campaign) error
	GetCampaignByID(ctx context.Context, id uuid.UUID) (domain.Campaign, error)
	ListCampaigns(ctx context.Context, identity string, limit, offset int) ([]domain.Campaign, error)
	ListRuns(ctx context.Context, campaignID uuid.UUID, limit, offset int) ([]domain.CampaignRun, error)
	// RequestCancel cancels a scheduled campaign outright and flags a
	// running one for cooperative cancellation. sql.ErrNoRows for
	// unknown ids, ErrAlreadyTerminal for finished campaigns.
	RequestCancel(ctx context.Context, id uuid.UUID, now time.Time) error
}

type Discoverer interface {
	Run(ctx context.Context, queries []domain.SearchCriteria) (int, error)
	Stats(ctx context.Context) (discovery.Stats, error)
}

// HealthChecker provides database health status for the /health endpoint.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	store     Store
	discover  Discoverer
	logger    *slog.Logger
	db        HealthChecker
	maxPerRun int // default when the request omits max_per_run
	clock     func() time.Time
}

func NewHandler(store Store, discover Discoverer, defaultMaxPerRun int, logger *slog.Logger) *Handler {
	if defaultMaxPerRun <= 0 {
		defaultMaxPerRun = 3
	}
	return &Handler{
		store:     store,
		discover:  discover,
		logger:    logger,
		maxPerRun: defaultMaxPerRun,
		clock:     time.Now,
	}
}

// WithHealthChecker sets the database health checker for verbose /health responses.
func (h *Handler) WithHealthChecker(db HealthChecker) *Handler {
	h.db = db
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case path == "/health" && r.Method == http.MethodGet:
		h.health(w, r)

	case path == "/campaigns" && r.Method == http.MethodPost:
		h.createCampaign(w, r)

	case path == "/campaigns" && r.Method == http.MethodGet:
		h.listCampaigns(w, r)

	case strings.HasSuffix(path, "/cancel") && r.Method == http.MethodPost:
		h.cancelCampaign(w, r)

	case strings.HasSuffix(path, "/runs") && r.Method == http.MethodGet:
		h.listRuns(w, r)

	case strings.HasPrefix(path, "/campaigns/") && r.Method == http.MethodGet:
		h.getCampaign(w, r)

	case path == "/discovery/run" && r.Method == http.MethodPost:
		h.triggerDiscovery(w, r)

	case path == "/discovery/stats" && r.Method == http.MethodGet:
		h.discoveryStats(w, r)

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose || h.db == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		resp.Status = "degraded"
		resp.Components["database"] = "unhealthy: " + err.Error()
	} else {
		resp.Components["database"] = "healthy"
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, resp)
}

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

func (h *Handler) createCampaign(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req CreateCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err.Error() == "http: request body too large" {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := validateCreateCampaign(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := h.clock().UTC()
	nextRun := now
	if req.StartAt != "" {
		// Already validated.
		nextRun, _ = time.Parse(time.RFC3339, req.StartAt)
		nextRun = nextRun.UTC()
	}

	maxPerRun := req.MaxPerRun
	if maxPerRun == 0 {
		maxPerRun = h.maxPerRun
	}

	campaign := domain.Campaign{
		ID:       uuid.New(),
		Identity: req.Identity,
		Criteria: domain.SearchCriteria{
			Title:    req.Title,
			Location: req.Location,
		},
		MaxPerRun: maxPerRun,
		Schedule: domain.ScheduleSpec{
			Type:         domain.ScheduleType(req.Schedule.Type),
			IntervalDays: req.Schedule.IntervalDays,
			MaxRuns:      req.Schedule.MaxRuns,
		},
		Status:    domain.CampaignStatusScheduled,
		NextRunAt: nextRun,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := h.store.CreateCampaign(r.Context(), campaign); err != nil {
		h.logger.Error("create campaign failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create campaign")
		return
	}

	writeJSON(w, http.StatusCreated, campaignResponse(campaign))
}

func (h *Handler) getCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignIDFromPath(w, r.URL.Path, 2)
	if !ok {
		return
	}

	campaign, err := h.store.GetCampaignByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "campaign not found")
			return
		}
		h.logger.Error("get campaign failed", "campaign_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get campaign")
		return
	}

	writeJSON(w, http.StatusOK, campaignResponse(campaign))
}

func (h *Handler) listCampaigns(w http.ResponseWriter, r *http.Request) {
	identity := r.URL.Query().Get("identity")
	if identity == "" {
		writeError(w, http.StatusBadRequest, "identity query parameter is required")
		return
	}

	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	campaigns, err := h.store.ListCampaigns(r.Context(), identity, limit, offset)
	if err != nil {
		h.logger.Error("list campaigns failed", "identity", identity, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list campaigns")
		return
	}

	resp := ListCampaignsResponse{Campaigns: make([]CampaignResponse, len(campaigns))}
	for i, c := range campaigns {
		resp.Campaigns[i] = campaignResponse(c)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) cancelCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignIDFromPath(w, r.URL.Path, 3)
	if !ok {
		return
	}

	err := h.store.RequestCancel(r.Context(), id, h.clock().UTC())
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, sql.ErrNoRows):
		writeError(w, http.StatusNotFound, "campaign not found")
	case errors.Is(err, ErrAlreadyTerminal):
		writeError(w, http.StatusConflict, "campaign already in terminal state")
	default:
		h.logger.Error("cancel campaign failed", "campaign_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to cancel campaign")
	}
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignIDFromPath(w, r.URL.Path, 3)
	if !ok {
		return
	}

	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	runs, err := h.store.ListRuns(r.Context(), id, limit, offset)
	if err != nil {
		h.logger.Error("list runs failed", "campaign_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	resp := ListRunsResponse{Runs: make([]RunResponse, len(runs))}
	for i, run := range runs {
		resp.Runs[i] = runResponse(run)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) triggerDiscovery(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req TriggerDiscoveryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if len(req.Queries) == 0 {
		writeError(w, http.StatusBadRequest, "at least one query is required")
		return
	}

	queries := make([]domain.SearchCriteria, 0, len(req.Queries))
	for _, q := range req.Queries {
		criteria := discovery.ParseQuery(q)
		if criteria.Title == "" {
			writeError(w, http.StatusBadRequest, "query title must not be empty")
			return
		}
		queries = append(queries, criteria)
	}

	novel, err := h.discover.Run(r.Context(), queries)
	if err != nil {
		h.logger.Error("discovery trigger failed", "error", err)
		writeError(w, http.StatusInternalServerError, "discovery failed")
		return
	}

	writeJSON(w, http.StatusOK, TriggerDiscoveryResponse{NewPostings: novel})
}

func (h *Handler) discoveryStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.discover.Stats(r.Context())
	if err != nil {
		h.logger.Error("discovery stats failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get discovery stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// campaignIDFromPath extracts the campaign id from paths of the form
// /campaigns/{id} or /campaigns/{id}/action. wantParts is the expected
// segment count after trimming.
func campaignIDFromPath(w http.ResponseWriter, path string, wantParts int) (uuid.UUID, bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != wantParts || parts[0] != "campaigns" {
		writeError(w, http.StatusNotFound, "not found")
		return uuid.UUID{}, false
	}

	id, err := uuid.Parse(parts[1])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid campaign id")
		return uuid.UUID{}, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// parsePagination extracts and validates limit/offset query parameters.
func parsePagination(r *http.Request) (limit, offset int, err error) {
	limit = DefaultLimit
	offset = 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			return 0, 0, err
		}
		if limit < 0 {
			return 0, 0, strconv.ErrRange
		}
		if limit > MaxLimit {
			return 0, 0, &limitExceededError{max: MaxLimit}
		}
		if limit == 0 {
			limit = DefaultLimit
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		offset, err = strconv.Atoi(offsetStr)
		if err != nil {
			return 0, 0, err
		}
		if offset < 0 {
			return 0, 0, strconv.ErrRange
		}
	}

	return limit, offset, nil
}

type limitExceededError struct {
	max int
}

func (e *limitExceededError) Error() string {
	return "limit exceeds maximum of " + strconv.Itoa(e.max)
}
