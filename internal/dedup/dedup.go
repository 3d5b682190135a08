// Package dedup decides, per logical entity, whether a freshly scraped
// payload needs to be written at all. It never scans the store: every
// decision is a single point lookup by natural key followed by at most one
// write.
package dedup

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/AdrianLuk12/sociarch-scraper/internal/domain"
	"github.com/AdrianLuk12/sociarch-scraper/internal/fingerprint"
)

// StoredRecord is the persisted state of one logical entity. The
// fingerprint always reflects the payload currently stored.
type StoredRecord struct {
	Kind        domain.ItemKind
	EntityKey   string
	Fingerprint string
	Payload     map[string]string
	LastUpdated time.Time
	IsActive    bool
}

// Store is the persistence boundary for deduplicated records. Get returns
// nil (and no error) when the entity does not exist yet.
type Store interface {
	Get(ctx context.Context, kind domain.ItemKind, key string) (*StoredRecord, error)
	Insert(ctx context.Context, rec *StoredRecord) error
	Update(ctx context.Context, rec *StoredRecord) error
}

// Deduplicator performs insert/update/skip decisions based on content
// fingerprints. The scraper is single-writer (one process, sequential
// items), so no locking discipline guards the read-then-write; that is a
// documented assumption, not an enforced guarantee.
type Deduplicator struct {
	store Store
	now   func() time.Time
	log   *zap.Logger
}

// New creates a Deduplicator over the given store.
func New(store Store, log *zap.Logger) *Deduplicator {
	return &Deduplicator{store: store, now: time.Now, log: log}
}

// WithClock overrides the wall clock, for tests.
func (d *Deduplicator) WithClock(now func() time.Time) *Deduplicator {
	d.now = now
	return d
}

// Upsert compares the payload fingerprint against the last known one and
// writes only when something actually changed. Exactly one read and at most
// one write per call.
func (d *Deduplicator) Upsert(ctx context.Context, kind domain.ItemKind, key string, payload map[string]string) (domain.Outcome, error) {
	fp := fingerprint.New(payload)

	existing, err := d.store.Get(ctx, kind, key)
	if err != nil {
		return "", fmt.Errorf("lookup %s %q: %w", kind, key, err)
	}

	rec := &StoredRecord{
		Kind:        kind,
		EntityKey:   key,
		Fingerprint: fp,
		Payload:     payload,
		LastUpdated: d.now(),
		IsActive:    true,
	}

	switch {
	case existing == nil:
		if err := d.store.Insert(ctx, rec); err != nil {
			return "", fmt.Errorf("insert %s %q: %w", kind, key, err)
		}
		d.log.Info("entity inserted", zap.String("kind", string(kind)), zap.String("key", key))
		return domain.OutcomeInserted, nil

	case existing.Fingerprint != fp:
		if err := d.store.Update(ctx, rec); err != nil {
			return "", fmt.Errorf("update %s %q: %w", kind, key, err)
		}
		d.log.Info("entity updated", zap.String("kind", string(kind)), zap.String("key", key))
		return domain.OutcomeUpdated, nil

	default:
		d.log.Debug("entity unchanged", zap.String("kind", string(kind)), zap.String("key", key))
		return domain.OutcomeSkipped, nil
	}
}
