package discovery

import (
	"context"
	"testing"

	"github.com/applyforge/applyforge/internal/domain"
)

func newTestRefresher(engine *Engine) *Refresher {
	queries := []domain.SearchCriteria{{Title: "go developer"}}
	return NewRefresher(engine, queries, "@every 1h", testLogger())
}

func TestRefresher_RestartRegistersJobOnce(t *testing.T) {
	engine := newTestEngine([]Adapter{&mockAdapter{name: "remotive"}}, newMockDeduper())
	r := newTestRefresher(engine)
	ctx := context.Background()

	if err := r.Start(ctx); err != nil {
		t.Fatalf("first start: %v", err)
	}
	r.Stop()
	if err := r.Start(ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}
	r.Stop()

	if got := len(r.cron.Entries()); got != 1 {
		t.Errorf("cron entries after restart = %d, want 1", got)
	}
}

func TestRefresher_BadSpecRejected(t *testing.T) {
	engine := newTestEngine([]Adapter{&mockAdapter{name: "remotive"}}, newMockDeduper())
	queries := []domain.SearchCriteria{{Title: "go developer"}}
	r := NewRefresher(engine, queries, "not a schedule", testLogger())

	if err := r.Start(context.Background()); err == nil {
		t.Error("expected error for unparseable schedule")
	}
}

func TestRefresher_NoQueriesStaysIdle(t *testing.T) {
	engine := newTestEngine([]Adapter{&mockAdapter{name: "remotive"}}, newMockDeduper())
	r := NewRefresher(engine, nil, "@every 1h", testLogger())

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("start with no queries: %v", err)
	}
	if got := len(r.cron.Entries()); got != 0 {
		t.Errorf("cron entries = %d, want 0 (nothing to refresh)", got)
	}
}
