package crawler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/AdrianLuk12/sociarch-scraper/internal/domain"
	"github.com/AdrianLuk12/sociarch-scraper/internal/fingerprint"
	"github.com/AdrianLuk12/sociarch-scraper/internal/monitoring"
)

// Executor runs one work item to a terminal result and exposes raw page
// fetches for listing discovery. Satisfied by *Manager.
type Executor interface {
	Execute(ctx context.Context, item domain.WorkItem) domain.ExtractionResult
	FetchPage(ctx context.Context, item domain.WorkItem) (Page, *domain.Failure)
}

// Upserter performs the insert/update/skip decision for one entity.
type Upserter interface {
	Upsert(ctx context.Context, kind domain.ItemKind, key string, payload map[string]string) (domain.Outcome, error)
}

// RecordStore covers the persistence operations the runner needs beyond
// entity upserts: showtime replacement and soft deactivation.
type RecordStore interface {
	ShowtimesFingerprint(ctx context.Context, movieKey string) (string, error)
	ReplaceShowtimes(ctx context.Context, movieKey, fp string, rows []domain.Showtime) error
	MarkActiveSet(ctx context.Context, kind domain.ItemKind, activeKeys []string) error
}

// VisitedStore short-circuits items scraped within the dedup window.
type VisitedStore interface {
	IsRecentlyScraped(ctx context.Context, kind domain.ItemKind, key string) (bool, error)
	MarkScraped(ctx context.Context, kind domain.ItemKind, key string, ttl time.Duration) error
}

// Exporter writes a flat-file mirror of one run's successfully scraped
// entities.
type Exporter interface {
	Export(ctx context.Context, movies []domain.Movie, cinemas []domain.Cinema, showtimes []domain.Showtime) error
}

// RunnerConfig holds the runner's externally supplied settings.
type RunnerConfig struct {
	BaseURL      string
	RequestDelay time.Duration
	DedupTTL     time.Duration
	ForceRefresh bool // bypass the recently-scraped guard
}

// Runner drives one full batch: discover work items from the listing pages,
// execute them sequentially through the session manager, persist changed
// entities, and report a summary. Items are processed one at a time; a
// failed item never aborts the batch.
type Runner struct {
	exec    Executor
	upsert  Upserter
	records RecordStore
	visited VisitedStore // optional
	export  Exporter     // optional
	cfg     RunnerConfig
	clock   Clock
	metrics *monitoring.Metrics
	log     *zap.Logger
}

// NewRunner wires a batch runner. visited and export may be nil.
func NewRunner(exec Executor, upsert Upserter, records RecordStore, visited VisitedStore, export Exporter,
	cfg RunnerConfig, m *monitoring.Metrics, log *zap.Logger) *Runner {
	return &Runner{
		exec:    exec,
		upsert:  upsert,
		records: records,
		visited: visited,
		export:  export,
		cfg:     cfg,
		clock:   realClock{},
		metrics: m,
		log:     log,
	}
}

// WithClock overrides the inter-item delay clock, for tests.
func (r *Runner) WithClock(c Clock) *Runner {
	r.clock = c
	return r
}

// Run performs one complete scrape: movie and cinema discovery, batch
// processing, soft deactivation of entities that disappeared from the
// source, and optional CSV export.
func (r *Runner) Run(ctx context.Context) (*domain.RunSummary, error) {
	movieItems, err := r.discover(ctx, domain.KindMovie, r.cfg.BaseURL+"/showing")
	if err != nil {
		return nil, fmt.Errorf("discover movies: %w", err)
	}
	cinemaItems, err := r.discover(ctx, domain.KindCinema, r.cfg.BaseURL+"/cinema")
	if err != nil {
		return nil, fmt.Errorf("discover cinemas: %w", err)
	}

	items := append(movieItems, cinemaItems...)
	r.log.Info("discovered work items",
		zap.Int("movies", len(movieItems)), zap.Int("cinemas", len(cinemaItems)))

	summary, collected := r.ProcessBatch(ctx, items)

	// Entities absent from the listing pages have disappeared from the
	// source; deactivate them rather than deleting anything.
	if err := r.records.MarkActiveSet(ctx, domain.KindMovie, keys(movieItems)); err != nil {
		r.log.Error("failed to update movie active status", zap.Error(err))
	}
	if err := r.records.MarkActiveSet(ctx, domain.KindCinema, keys(cinemaItems)); err != nil {
		r.log.Error("failed to update cinema active status", zap.Error(err))
	}

	if r.export != nil {
		if err := r.export.Export(ctx, collected.movies, collected.cinemas, collected.showtimes); err != nil {
			r.log.Error("csv export failed", zap.Error(err))
		}
	}

	return summary, nil
}

// collectedRows accumulates one run's successful extractions for export.
type collectedRows struct {
	movies    []domain.Movie
	cinemas   []domain.Cinema
	showtimes []domain.Showtime
}

// ProcessBatch executes the items sequentially and returns the run summary
// alongside the rows collected for export. Every failure is recorded in the
// summary with its classification; none aborts the loop.
func (r *Runner) ProcessBatch(ctx context.Context, items []domain.WorkItem) (*domain.RunSummary, collectedRows) {
	summary := &domain.RunSummary{
		RunID:     uuid.New().String(),
		StartedAt: time.Now(),
	}
	var rows collectedRows

	for i, item := range items {
		if ctx.Err() != nil {
			r.log.Warn("batch interrupted", zap.Int("remaining", len(items)-i))
			break
		}

		r.processItem(ctx, item, summary, &rows)

		if i < len(items)-1 && r.cfg.RequestDelay > 0 {
			if err := r.clock.Sleep(ctx, r.cfg.RequestDelay); err != nil {
				break
			}
		}
	}

	summary.FinishedAt = time.Now()
	r.log.Info("batch finished",
		zap.String("run_id", summary.RunID),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed))
	return summary, rows
}

func (r *Runner) processItem(ctx context.Context, item domain.WorkItem, summary *domain.RunSummary, rows *collectedRows) {
	if r.visited != nil && !r.cfg.ForceRefresh {
		recent, err := r.visited.IsRecentlyScraped(ctx, item.Kind, item.Key)
		if err != nil {
			r.log.Warn("recently-scraped lookup failed", zap.String("key", item.Key), zap.Error(err))
		} else if recent {
			summary.Skipped++
			r.metrics.IncProcessed(string(item.Kind), "skipped")
			r.log.Debug("skipping recently scraped item", zap.String("key", item.Key))
			return
		}
	}

	res := r.exec.Execute(ctx, item)
	if !res.OK() {
		summary.Failed++
		summary.Failures = append(summary.Failures, domain.ItemFailure{
			Key:     item.Key,
			Kind:    res.Failure.Kind,
			Message: res.Failure.Message,
		})
		r.metrics.IncProcessed(string(item.Kind), "failed")
		r.log.Error("work item failed",
			zap.String("key", item.Key),
			zap.String("failure_kind", string(res.Failure.Kind)),
			zap.String("message", res.Failure.Message))
		return
	}

	outcome, err := r.upsert.Upsert(ctx, item.Kind, item.Key, res.Fields)
	if err != nil {
		summary.Failed++
		summary.Failures = append(summary.Failures, domain.ItemFailure{
			Key:     item.Key,
			Kind:    domain.FailureUnknown,
			Message: err.Error(),
		})
		r.metrics.IncProcessed(string(item.Kind), "failed")
		r.log.Error("upsert failed", zap.String("key", item.Key), zap.Error(err))
		return
	}

	if item.Kind == domain.KindMovie {
		if err := r.syncShowtimes(ctx, item.Key, res.Showtimes); err != nil {
			r.log.Error("showtime sync failed", zap.String("key", item.Key), zap.Error(err))
		} else {
			rows.showtimes = append(rows.showtimes, res.Showtimes...)
		}
	}

	if r.visited != nil {
		if err := r.visited.MarkScraped(ctx, item.Kind, item.Key, r.cfg.DedupTTL); err != nil {
			r.log.Warn("failed to mark item as scraped", zap.String("key", item.Key), zap.Error(err))
		}
	}

	r.metrics.IncProcessed(string(item.Kind), string(outcome))
	if outcome == domain.OutcomeSkipped {
		summary.Skipped++
	} else {
		summary.Succeeded++
	}

	switch item.Kind {
	case domain.KindMovie:
		rows.movies = append(rows.movies, domain.Movie{
			Name:        res.Fields["name"],
			Category:    res.Fields["category"],
			Description: res.Fields["description"],
			Rating:      res.Fields["rating"],
		})
	case domain.KindCinema:
		rows.cinemas = append(rows.cinemas, domain.Cinema{
			Name:     res.Fields["name"],
			Address:  res.Fields["address"],
			District: res.Fields["district"],
		})
	}
}

// syncShowtimes replaces a movie's showtime set only when its fingerprint
// changed. Showtimes are too volatile to diff row by row.
func (r *Runner) syncShowtimes(ctx context.Context, movieKey string, showtimes []domain.Showtime) error {
	fp := fingerprint.Showtimes(showtimes)

	stored, err := r.records.ShowtimesFingerprint(ctx, movieKey)
	if err != nil {
		return fmt.Errorf("showtimes fingerprint lookup: %w", err)
	}
	if stored == fp {
		return nil
	}
	return r.records.ReplaceShowtimes(ctx, movieKey, fp, showtimes)
}

// discover fetches a listing page through the full retry machinery and
// turns its entity links into work items.
func (r *Runner) discover(ctx context.Context, kind domain.ItemKind, listURL string) ([]domain.WorkItem, error) {
	page, fail := r.exec.FetchPage(ctx, domain.WorkItem{Kind: domain.KindListing, Key: string(kind) + "-listing", URL: listURL})
	if fail != nil {
		return nil, fmt.Errorf("fetch %s listing: %s (%s)", kind, fail.Message, fail.Kind)
	}
	return ExtractWorkItems(kind, r.cfg.BaseURL, page.HTML)
}

func keys(items []domain.WorkItem) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Key)
	}
	return out
}
