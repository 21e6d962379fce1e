// Package quota enforces per-identity application limits over rolling
// day and week windows. Reservations are two-phase: a reserve bumps the
// counters up front, a release hands the slot back when the application
// never went out.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrExhausted = errors.New("quota exhausted")

// Store is a TTL'd counter store. Incr creates the key with the given
// TTL when absent and returns the post-increment value.
type Store interface {
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Decr(ctx context.Context, key string) error
}

type Limits struct {
	Daily  int
	Weekly int
}

// Reservation holds the counter keys bumped by a successful Reserve.
type Reservation struct {
	dayKey  string
	weekKey string
}

type Tracker struct {
	store  Store
	limits Limits
	clock  func() time.Time
}

func NewTracker(store Store, limits Limits) *Tracker {
	return &Tracker{
		store:  store,
		limits: limits,
		clock:  time.Now,
	}
}

// Window TTLs outlive the window itself so a counter read late in the
// window is still backed by a live key.
const (
	dayTTL  = 48 * time.Hour
	weekTTL = 8 * 24 * time.Hour
)

// Reserve claims one application slot in both windows. Returns
// ErrExhausted with no counters left modified when either window has
// no headroom.
func (t *Tracker) Reserve(ctx context.Context, identity string) (Reservation, error) {
	now := t.clock().UTC()
	res := Reservation{
		dayKey:  dayKey(identity, now),
		weekKey: weekKey(identity, now),
	}

	n, err := t.store.Incr(ctx, res.dayKey, dayTTL)
	if err != nil {
		return Reservation{}, fmt.Errorf("incr day counter: %w", err)
	}
	if n > int64(t.limits.Daily) {
		if derr := t.store.Decr(ctx, res.dayKey); derr != nil {
			return Reservation{}, fmt.Errorf("undo day counter: %w", derr)
		}
		return Reservation{}, ErrExhausted
	}

	m, err := t.store.Incr(ctx, res.weekKey, weekTTL)
	if err != nil {
		return Reservation{}, fmt.Errorf("incr week counter: %w", err)
	}
	if m > int64(t.limits.Weekly) {
		if derr := t.store.Decr(ctx, res.weekKey); derr != nil {
			return Reservation{}, fmt.Errorf("undo week counter: %w", derr)
		}
		if derr := t.store.Decr(ctx, res.dayKey); derr != nil {
			return Reservation{}, fmt.Errorf("undo day counter: %w", derr)
		}
		return Reservation{}, ErrExhausted
	}

	return res, nil
}

// Commit finalizes a reservation. The counters were claimed at reserve
// time, so there is nothing left to do; the method exists to make the
// protocol explicit at call sites.
func (t *Tracker) Commit(ctx context.Context, res Reservation) error {
	return nil
}

// Release hands a reserved slot back after a failed submission.
func (t *Tracker) Release(ctx context.Context, res Reservation) error {
	if err := t.store.Decr(ctx, res.dayKey); err != nil {
		return fmt.Errorf("release day counter: %w", err)
	}
	if err := t.store.Decr(ctx, res.weekKey); err != nil {
		return fmt.Errorf("release week counter: %w", err)
	}
	return nil
}

func dayKey(identity string, now time.Time) string {
	return fmt.Sprintf("quota:%s:day:%s", identity, now.Format("2006-01-02"))
}

// weekKey buckets by the Monday that starts the ISO week.
func weekKey(identity string, now time.Time) string {
	weekday := int(now.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	monday := now.AddDate(0, 0, -(weekday - 1))
	return fmt.Sprintf("quota:%s:week:%s", identity, monday.Format("2006-01-02"))
}
