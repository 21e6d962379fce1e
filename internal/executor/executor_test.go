package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/applyforge/applyforge/internal/domain"
	"github.com/applyforge/applyforge/internal/quota"
)

type mockStore struct {
	mu           sync.Mutex
	campaigns    map[uuid.UUID]domain.Campaign
	postings     []domain.JobPosting
	matchErr     error
	applications []domain.ApplicationRecord
	runs         []domain.CampaignRun
	fins         map[uuid.UUID]Finalization
}

func newMockStore(campaigns ...domain.Campaign) *mockStore {
	s := &mockStore{
		campaigns: make(map[uuid.UUID]domain.Campaign),
		fins:      make(map[uuid.UUID]Finalization),
	}
	for _, c := range campaigns {
		s.campaigns[c.ID] = c
	}
	return s
}

func (m *mockStore) GetCampaignByID(ctx context.Context, id uuid.UUID) (domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return domain.Campaign{}, errors.New("not found")
	}
	return c, nil
}

func (m *mockStore) MatchPostings(ctx context.Context, criteria domain.SearchCriteria, limit int) ([]domain.JobPosting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.matchErr != nil {
		return nil, m.matchErr
	}
	if len(m.postings) > limit {
		return m.postings[:limit], nil
	}
	return m.postings, nil
}

func (m *mockStore) HasApplication(ctx context.Context, campaignID uuid.UUID, fingerprint string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.applications {
		if rec.CampaignID == campaignID && rec.Fingerprint == fingerprint {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockStore) InsertApplication(ctx context.Context, rec domain.ApplicationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applications = append(m.applications, rec)
	return nil
}

func (m *mockStore) InsertRun(ctx context.Context, run domain.CampaignRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return nil
}

// FinalizeRun mirrors the store's UPDATE: a pending cancel flag
// overrides the requested status and is cleared in the same step.
func (m *mockStore) FinalizeRun(ctx context.Context, id uuid.UUID, fin Finalization) (domain.CampaignStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok || c.Status != domain.CampaignStatusRunning {
		return "", ErrNotRunning
	}
	applied := fin.Status
	if c.CancelRequested {
		applied = domain.CampaignStatusCancelled
	}
	m.fins[id] = fin
	c.Status = applied
	if fin.IncrementRuns {
		c.RunsCompleted++
	}
	c.CancelRequested = false
	c.NextRunAt = fin.NextRunAt
	c.LastError = fin.LastError
	m.campaigns[id] = c
	return applied, nil
}

func (m *mockStore) setCancelRequested(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.campaigns[id]
	c.CancelRequested = true
	m.campaigns[id] = c
}

func (m *mockStore) outcomes() map[domain.ApplicationOutcome]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[domain.ApplicationOutcome]int)
	for _, rec := range m.applications {
		counts[rec.Outcome]++
	}
	return counts
}

type mockDiscoverer struct {
	mu    sync.Mutex
	calls int
	err   error
	onRun func()
}

func (m *mockDiscoverer) Run(ctx context.Context, queries []domain.SearchCriteria) (int, error) {
	m.mu.Lock()
	m.calls++
	hook := m.onRun
	m.mu.Unlock()
	if hook != nil {
		hook()
	}
	return 0, m.err
}

// mockQuota grants up to limit concurrent-plus-committed reservations.
type mockQuota struct {
	mu       sync.Mutex
	limit    int
	held     int
	reserves int
	releases int
	commits  int
}

func (m *mockQuota) Reserve(ctx context.Context, identity string) (quota.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reserves++
	if m.held >= m.limit {
		return quota.Reservation{}, quota.ErrExhausted
	}
	m.held++
	return quota.Reservation{}, nil
}

func (m *mockQuota) Commit(ctx context.Context, res quota.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commits++
	return nil
}

func (m *mockQuota) Release(ctx context.Context, res quota.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releases++
	m.held--
	return nil
}

type mockGenerator struct {
	mu    sync.Mutex
	calls int
	errOn map[string]error // keyed by fingerprint
}

func (m *mockGenerator) Generate(ctx context.Context, campaign domain.Campaign, posting domain.JobPosting) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if err := m.errOn[posting.Fingerprint]; err != nil {
		return "", err
	}
	return "content/" + posting.Fingerprint, nil
}

type mockSubmitter struct {
	mu          sync.Mutex
	submissions []Submission
	errOn       map[string]error
	onSubmit    func()
}

func (m *mockSubmitter) Submit(ctx context.Context, sub Submission) error {
	m.mu.Lock()
	hook := m.onSubmit
	if err := m.errOn[sub.Fingerprint]; err != nil {
		m.mu.Unlock()
		return err
	}
	m.submissions = append(m.submissions, sub)
	m.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func runningCampaign(schedule domain.ScheduleSpec, maxPerRun int) domain.Campaign {
	return domain.Campaign{
		ID:        uuid.New(),
		Identity:  "user@example.com",
		Criteria:  domain.SearchCriteria{Title: "backend engineer", Location: "berlin"},
		MaxPerRun: maxPerRun,
		Schedule:  schedule,
		Status:    domain.CampaignStatusRunning,
	}
}

func postings(n int) []domain.JobPosting {
	out := make([]domain.JobPosting, n)
	for i := range out {
		out[i] = domain.JobPosting{
			Fingerprint: fmt.Sprintf("fp-%02d", i),
			Source:      "remotive",
			Title:       "Backend Engineer",
			Company:     fmt.Sprintf("Company %d", i),
			URL:         fmt.Sprintf("https://example.com/jobs/%d", i),
		}
	}
	return out
}

type fixture struct {
	store     *mockStore
	discover  *mockDiscoverer
	quota     *mockQuota
	generator *mockGenerator
	submitter *mockSubmitter
	executor  *Executor
}

func newFixture(campaign domain.Campaign, quotaLimit int, jobs []domain.JobPosting) *fixture {
	f := &fixture{
		store:     newMockStore(campaign),
		discover:  &mockDiscoverer{},
		quota:     &mockQuota{limit: quotaLimit},
		generator: &mockGenerator{errOn: map[string]error{}},
		submitter: &mockSubmitter{errOn: map[string]error{}},
	}
	f.store.postings = jobs
	f.executor = New(Config{}, f.store, f.discover, f.quota, f.generator, f.submitter, testLogger())
	return f
}

func TestExecute_SubmitsAndCompletesOnceCampaign(t *testing.T) {
	c := runningCampaign(domain.ScheduleSpec{Type: domain.ScheduleOnce}, 10)
	f := newFixture(c, 10, postings(2))

	if err := f.executor.Execute(context.Background(), domain.RunRequest{CampaignID: c.ID}); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if got := f.store.outcomes()[domain.OutcomeSubmitted]; got != 2 {
		t.Errorf("submitted records = %d, want 2", got)
	}
	if f.quota.commits != 2 {
		t.Errorf("quota commits = %d, want 2", f.quota.commits)
	}
	fin := f.store.fins[c.ID]
	if fin.Status != domain.CampaignStatusCompleted {
		t.Errorf("status = %s, want completed", fin.Status)
	}
	if !fin.IncrementRuns {
		t.Error("successful run must increment runs_completed")
	}
	if len(f.store.runs) != 1 {
		t.Fatalf("expected 1 run history row, got %d", len(f.store.runs))
	}
	if run := f.store.runs[0]; run.Submitted != 2 || run.Skipped != 0 || run.Failed != 0 {
		t.Errorf("run counts = %d/%d/%d, want 2/0/0", run.Submitted, run.Skipped, run.Failed)
	}
	if f.discover.calls != 1 {
		t.Errorf("discovery refreshes = %d, want 1", f.discover.calls)
	}
}

func TestExecute_CapBeforeQuota(t *testing.T) {
	// 5 matches, cap 3, quota 4: exactly 3 submitted, 2 counted skipped
	// without records.
	c := runningCampaign(domain.ScheduleSpec{Type: domain.ScheduleOnce}, 3)
	f := newFixture(c, 4, postings(5))

	if err := f.executor.Execute(context.Background(), domain.RunRequest{CampaignID: c.ID}); err != nil {
		t.Fatalf("execute: %v", err)
	}

	counts := f.store.outcomes()
	if counts[domain.OutcomeSubmitted] != 3 {
		t.Errorf("submitted = %d, want 3", counts[domain.OutcomeSubmitted])
	}
	if len(f.store.applications) != 3 {
		t.Errorf("records = %d, want 3 (over-cap candidates get none)", len(f.store.applications))
	}
	run := f.store.runs[0]
	if run.Submitted != 3 || run.Skipped != 2 {
		t.Errorf("run counts = %d submitted / %d skipped, want 3/2", run.Submitted, run.Skipped)
	}
	if f.store.fins[c.ID].Status != domain.CampaignStatusCompleted {
		t.Errorf("status = %s, want completed", f.store.fins[c.ID].Status)
	}
}

func TestExecute_QuotaExhaustedMarksRemainingAndCompletes(t *testing.T) {
	// Identity already at its ceiling: both candidates record
	// skipped_quota and the once campaign still completes.
	c := runningCampaign(domain.ScheduleSpec{Type: domain.ScheduleOnce}, 10)
	f := newFixture(c, 0, postings(2))

	if err := f.executor.Execute(context.Background(), domain.RunRequest{CampaignID: c.ID}); err != nil {
		t.Fatalf("execute: %v", err)
	}

	counts := f.store.outcomes()
	if counts[domain.OutcomeSkippedQuota] != 2 {
		t.Errorf("skipped_quota = %d, want 2", counts[domain.OutcomeSkippedQuota])
	}
	if f.quota.reserves != 1 {
		t.Errorf("reserve attempts = %d, want 1 (stop after first denial)", f.quota.reserves)
	}
	if f.store.fins[c.ID].Status != domain.CampaignStatusCompleted {
		t.Errorf("status = %s, want completed (quota exhaustion is not systemic)", f.store.fins[c.ID].Status)
	}
}

func TestExecute_QuotaDeniedMidRun(t *testing.T) {
	c := runningCampaign(domain.ScheduleSpec{Type: domain.ScheduleOnce}, 10)
	f := newFixture(c, 1, postings(3))

	f.executor.Execute(context.Background(), domain.RunRequest{CampaignID: c.ID})

	counts := f.store.outcomes()
	if counts[domain.OutcomeSubmitted] != 1 {
		t.Errorf("submitted = %d, want 1", counts[domain.OutcomeSubmitted])
	}
	if counts[domain.OutcomeSkippedQuota] != 2 {
		t.Errorf("skipped_quota = %d, want 2", counts[domain.OutcomeSkippedQuota])
	}
	if f.quota.reserves != 2 {
		t.Errorf("reserve attempts = %d, want 2 (no reserving after denial)", f.quota.reserves)
	}
}

func TestExecute_CollaboratorFailureReleasesQuota(t *testing.T) {
	c := runningCampaign(domain.ScheduleSpec{Type: domain.ScheduleOnce}, 10)
	jobs := postings(2)
	f := newFixture(c, 10, jobs)
	f.generator.errOn[jobs[0].Fingerprint] = errors.New("generator down")

	if err := f.executor.Execute(context.Background(), domain.RunRequest{CampaignID: c.ID}); err != nil {
		t.Fatalf("per-candidate failure must not fail the run: %v", err)
	}

	counts := f.store.outcomes()
	if counts[domain.OutcomeFailed] != 1 {
		t.Errorf("failed = %d, want 1", counts[domain.OutcomeFailed])
	}
	if counts[domain.OutcomeSubmitted] != 1 {
		t.Errorf("submitted = %d, want 1 (run continues past the failure)", counts[domain.OutcomeSubmitted])
	}
	if f.quota.releases != 1 {
		t.Errorf("quota releases = %d, want 1", f.quota.releases)
	}
}

func TestExecute_SubmitFailureReleasesQuota(t *testing.T) {
	c := runningCampaign(domain.ScheduleSpec{Type: domain.ScheduleOnce}, 10)
	jobs := postings(1)
	f := newFixture(c, 10, jobs)
	f.submitter.errOn[jobs[0].Fingerprint] = errors.New("gateway 502")

	f.executor.Execute(context.Background(), domain.RunRequest{CampaignID: c.ID})

	if f.quota.releases != 1 {
		t.Errorf("quota releases = %d, want 1", f.quota.releases)
	}
	if got := f.store.outcomes()[domain.OutcomeFailed]; got != 1 {
		t.Errorf("failed = %d, want 1", got)
	}
}

func TestExecute_ExistingApplicationSkippedWithoutRecord(t *testing.T) {
	c := runningCampaign(domain.ScheduleSpec{Type: domain.ScheduleOnce}, 10)
	jobs := postings(2)
	f := newFixture(c, 10, jobs)
	f.store.applications = append(f.store.applications, domain.ApplicationRecord{
		ID:          uuid.New(),
		CampaignID:  c.ID,
		Fingerprint: jobs[0].Fingerprint,
		Outcome:     domain.OutcomeSubmitted,
	})

	f.executor.Execute(context.Background(), domain.RunRequest{CampaignID: c.ID})

	if len(f.store.applications) != 2 {
		t.Errorf("records = %d, want 2 (one pre-existing, one new)", len(f.store.applications))
	}
	if f.quota.reserves != 1 {
		t.Errorf("reserve attempts = %d, want 1 (seen posting costs no quota)", f.quota.reserves)
	}
	run := f.store.runs[0]
	if run.Submitted != 1 || run.Skipped != 1 {
		t.Errorf("run counts = %d submitted / %d skipped, want 1/1", run.Submitted, run.Skipped)
	}
}

func TestExecute_RerunProducesNoNewSubmissions(t *testing.T) {
	c := runningCampaign(domain.ScheduleSpec{Type: domain.ScheduleRecurring, IntervalDays: 7}, 10)
	f := newFixture(c, 10, postings(2))

	ctx := context.Background()
	f.executor.Execute(ctx, domain.RunRequest{CampaignID: c.ID})

	// Second trigger of the same campaign against the same pool.
	f.store.mu.Lock()
	cur := f.store.campaigns[c.ID]
	cur.Status = domain.CampaignStatusRunning
	f.store.campaigns[c.ID] = cur
	f.store.mu.Unlock()

	f.executor.Execute(ctx, domain.RunRequest{CampaignID: c.ID})

	if got := f.store.outcomes()[domain.OutcomeSubmitted]; got != 2 {
		t.Errorf("submitted = %d after rerun, want 2 (at-most-once per posting)", got)
	}
}

func TestExecute_RecurringReschedulesWithInterval(t *testing.T) {
	c := runningCampaign(domain.ScheduleSpec{Type: domain.ScheduleRecurring, IntervalDays: 7, MaxRuns: 4}, 10)
	f := newFixture(c, 10, postings(1))

	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	f.executor.clock = func() time.Time { return now }

	f.executor.Execute(context.Background(), domain.RunRequest{CampaignID: c.ID})

	fin := f.store.fins[c.ID]
	if fin.Status != domain.CampaignStatusScheduled {
		t.Fatalf("status = %s, want scheduled", fin.Status)
	}
	want := now.Add(7 * 24 * time.Hour)
	if !fin.NextRunAt.Equal(want) {
		t.Errorf("next_run = %v, want %v", fin.NextRunAt, want)
	}
}

func TestExecute_RecurringLastRunCompletes(t *testing.T) {
	c := runningCampaign(domain.ScheduleSpec{Type: domain.ScheduleRecurring, IntervalDays: 7, MaxRuns: 4}, 10)
	c.RunsCompleted = 3
	f := newFixture(c, 10, postings(1))

	f.executor.Execute(context.Background(), domain.RunRequest{CampaignID: c.ID})

	if f.store.fins[c.ID].Status != domain.CampaignStatusCompleted {
		t.Errorf("status = %s, want completed after final allowed run", f.store.fins[c.ID].Status)
	}
}

func TestExecute_CancelObservedBetweenCandidates(t *testing.T) {
	c := runningCampaign(domain.ScheduleSpec{Type: domain.ScheduleRecurring, IntervalDays: 7}, 10)
	f := newFixture(c, 10, postings(3))

	// Cancel lands while the first candidate is in flight.
	f.discover.onRun = func() { f.store.setCancelRequested(c.ID) }

	f.executor.Execute(context.Background(), domain.RunRequest{CampaignID: c.ID})

	after, _ := f.store.GetCampaignByID(context.Background(), c.ID)
	if after.Status != domain.CampaignStatusCancelled {
		t.Fatalf("status = %s, want cancelled", after.Status)
	}
	if after.CancelRequested {
		t.Error("finalization must clear the cancel flag")
	}
	if got := f.store.outcomes()[domain.OutcomeSubmitted]; got != 1 {
		t.Errorf("submitted = %d, want 1 (first candidate finishes, rest abandoned)", got)
	}
}

func TestExecute_CancelBeforeFirstCandidate(t *testing.T) {
	c := runningCampaign(domain.ScheduleSpec{Type: domain.ScheduleRecurring, IntervalDays: 7}, 10)
	c.CancelRequested = true
	f := newFixture(c, 10, postings(3))

	f.executor.Execute(context.Background(), domain.RunRequest{CampaignID: c.ID})

	if got := f.store.outcomes()[domain.OutcomeSubmitted]; got != 0 {
		t.Errorf("submitted = %d, want 0 (cancel observed before candidate 0)", got)
	}
	after, _ := f.store.GetCampaignByID(context.Background(), c.ID)
	if after.Status != domain.CampaignStatusCancelled {
		t.Errorf("status = %s, want cancelled", after.Status)
	}
	if after.CancelRequested {
		t.Error("finalization must clear the cancel flag")
	}
}

func TestExecute_CancelDuringLastCandidateWinsFinalization(t *testing.T) {
	// The cancel lands after the final between-candidate check and
	// before the finalize write. The finalize itself must observe the
	// flag: the campaign may never return to scheduled with it set.
	c := runningCampaign(domain.ScheduleSpec{Type: domain.ScheduleRecurring, IntervalDays: 7}, 10)
	f := newFixture(c, 10, postings(1))
	f.submitter.onSubmit = func() { f.store.setCancelRequested(c.ID) }

	f.executor.Execute(context.Background(), domain.RunRequest{CampaignID: c.ID})

	after, _ := f.store.GetCampaignByID(context.Background(), c.ID)
	if after.Status != domain.CampaignStatusCancelled {
		t.Fatalf("status = %s, want cancelled (late cancel must not be lost)", after.Status)
	}
	if after.CancelRequested {
		t.Error("finalization must clear the cancel flag")
	}
	if got := f.store.outcomes()[domain.OutcomeSubmitted]; got != 1 {
		t.Errorf("submitted = %d, want 1 (in-flight candidate completes)", got)
	}
}

func TestExecute_SystemicFailureOnceCampaignErrors(t *testing.T) {
	c := runningCampaign(domain.ScheduleSpec{Type: domain.ScheduleOnce}, 10)
	f := newFixture(c, 10, nil)
	f.store.matchErr = errors.New("db down")

	if err := f.executor.Execute(context.Background(), domain.RunRequest{CampaignID: c.ID}); err != nil {
		t.Fatalf("systemic failure is encoded into campaign state, not returned: %v", err)
	}

	fin := f.store.fins[c.ID]
	if fin.Status != domain.CampaignStatusError {
		t.Errorf("status = %s, want error", fin.Status)
	}
	if fin.LastError == "" {
		t.Error("last_error should carry the cause")
	}
	if fin.IncrementRuns {
		t.Error("failed run must not count toward max_runs")
	}
	if len(f.store.runs) != 1 || f.store.runs[0].Error == "" {
		t.Error("run history should record the failure")
	}
}

func TestExecute_SystemicFailureRecurringReschedules(t *testing.T) {
	c := runningCampaign(domain.ScheduleSpec{Type: domain.ScheduleRecurring, IntervalDays: 1}, 10)
	f := newFixture(c, 10, nil)
	f.store.matchErr = errors.New("db down")

	f.executor.Execute(context.Background(), domain.RunRequest{CampaignID: c.ID})

	fin := f.store.fins[c.ID]
	if fin.Status != domain.CampaignStatusScheduled {
		t.Errorf("status = %s, want scheduled (retry on next cycle)", fin.Status)
	}
	if fin.NextRunAt.IsZero() {
		t.Error("rescheduled campaign needs a next_run")
	}
}

func TestExecute_StaleRequestIgnored(t *testing.T) {
	c := runningCampaign(domain.ScheduleSpec{Type: domain.ScheduleOnce}, 10)
	c.Status = domain.CampaignStatusCancelled
	f := newFixture(c, 10, postings(2))

	if err := f.executor.Execute(context.Background(), domain.RunRequest{CampaignID: c.ID}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if f.discover.calls != 0 {
		t.Error("stale request must not trigger discovery")
	}
	if len(f.store.runs) != 0 {
		t.Error("stale request must not produce a run")
	}
}

func TestExecute_DiscoveryFailureDegradesToStoredPostings(t *testing.T) {
	c := runningCampaign(domain.ScheduleSpec{Type: domain.ScheduleOnce}, 10)
	f := newFixture(c, 10, postings(1))
	f.discover.err = errors.New("all sources down")

	f.executor.Execute(context.Background(), domain.RunRequest{CampaignID: c.ID})

	if got := f.store.outcomes()[domain.OutcomeSubmitted]; got != 1 {
		t.Errorf("submitted = %d, want 1 (stored postings still used)", got)
	}
}

func TestRun_DrainsBufferedRequestsOnShutdown(t *testing.T) {
	a := runningCampaign(domain.ScheduleSpec{Type: domain.ScheduleOnce}, 10)
	b := runningCampaign(domain.ScheduleSpec{Type: domain.ScheduleOnce}, 10)
	f := newFixture(a, 10, postings(1))
	f.store.mu.Lock()
	f.store.campaigns[b.ID] = b
	f.store.mu.Unlock()

	ch := make(chan domain.RunRequest, 4)
	ch <- domain.RunRequest{CampaignID: a.ID}
	ch <- domain.RunRequest{CampaignID: b.ID}

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // shutdown before the loop starts; drain must still process

	done := make(chan struct{})
	go func() {
		f.executor.Run(ctx, ch)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("executor did not stop")
	}
	if len(f.store.runs) != 2 {
		t.Errorf("runs = %d, want 2 (buffered requests drained)", len(f.store.runs))
	}
}
