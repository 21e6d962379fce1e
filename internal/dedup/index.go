// Package dedup decides whether a discovered posting has been seen
// before. Novelty is enforced by the store's unique fingerprint key,
// not by a racy read-then-write.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/applyforge/applyforge/internal/domain"
)

var ErrDuplicatePosting = errors.New("posting already exists")

type PostingStore interface {
	InsertPosting(ctx context.Context, p domain.JobPosting) error
	TouchPosting(ctx context.Context, fingerprint string, seenAt time.Time) error
}

type Index struct {
	store PostingStore
	clock func() time.Time
}

func NewIndex(store PostingStore) *Index {
	return &Index{
		store: store,
		clock: time.Now,
	}
}

// Record persists a raw posting if its fingerprint is novel. A known
// fingerprint only refreshes last-seen; the stored posting keeps the
// content it was first discovered with.
func (i *Index) Record(ctx context.Context, raw domain.RawPosting) (bool, error) {
	now := i.clock().UTC()

	posting := domain.JobPosting{
		Fingerprint:  raw.Fingerprint(),
		Source:       raw.Source,
		ExternalID:   raw.ExternalID,
		Title:        raw.Title,
		Company:      raw.Company,
		Location:     raw.Location,
		Description:  raw.Description,
		URL:          raw.URL,
		DiscoveredAt: now,
		LastSeenAt:   now,
	}

	if err := i.store.InsertPosting(ctx, posting); err != nil {
		if errors.Is(err, ErrDuplicatePosting) {
			if terr := i.store.TouchPosting(ctx, posting.Fingerprint, now); terr != nil {
				return false, fmt.Errorf("touch posting: %w", terr)
			}
			return false, nil
		}
		return false, fmt.Errorf("insert posting: %w", err)
	}

	return true, nil
}
