package crawler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/AdrianLuk12/sociarch-scraper/internal/domain"
	"github.com/AdrianLuk12/sociarch-scraper/internal/fingerprint"
)

// fakeExecutor resolves each work item from a scripted result table instead
// of a browser.
type fakeExecutor struct {
	results  map[string]domain.ExtractionResult
	listings map[string]string // listing URL -> HTML
	executed []string
}

func (e *fakeExecutor) Execute(_ context.Context, item domain.WorkItem) domain.ExtractionResult {
	e.executed = append(e.executed, item.Key)
	if res, ok := e.results[item.Key]; ok {
		return res
	}
	return domain.ExtractionResult{Fields: map[string]string{"name": item.Key}}
}

func (e *fakeExecutor) FetchPage(_ context.Context, item domain.WorkItem) (Page, *domain.Failure) {
	html, ok := e.listings[item.URL]
	if !ok {
		return Page{}, &domain.Failure{Kind: domain.FailureConnection, Message: "no listing for " + item.URL}
	}
	return Page{HTML: html, Status: 200}, nil
}

type fakeUpserter struct {
	outcome  domain.Outcome
	err      error
	upserted []string
}

func (u *fakeUpserter) Upsert(_ context.Context, _ domain.ItemKind, key string, _ map[string]string) (domain.Outcome, error) {
	if u.err != nil {
		return "", u.err
	}
	u.upserted = append(u.upserted, key)
	if u.outcome == "" {
		return domain.OutcomeInserted, nil
	}
	return u.outcome, nil
}

type fakeRecords struct {
	fingerprints map[string]string
	replaced     []string
	activeSets   map[domain.ItemKind][]string
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{
		fingerprints: map[string]string{},
		activeSets:   map[domain.ItemKind][]string{},
	}
}

func (r *fakeRecords) ShowtimesFingerprint(_ context.Context, movieKey string) (string, error) {
	return r.fingerprints[movieKey], nil
}

func (r *fakeRecords) ReplaceShowtimes(_ context.Context, movieKey, fp string, _ []domain.Showtime) error {
	r.replaced = append(r.replaced, movieKey)
	r.fingerprints[movieKey] = fp
	return nil
}

func (r *fakeRecords) MarkActiveSet(_ context.Context, kind domain.ItemKind, activeKeys []string) error {
	r.activeSets[kind] = activeKeys
	return nil
}

type fakeVisited struct {
	recent map[string]bool
	marked []string
}

func (v *fakeVisited) IsRecentlyScraped(_ context.Context, kind domain.ItemKind, key string) (bool, error) {
	return v.recent[fmt.Sprintf("%s:%s", kind, key)], nil
}

func (v *fakeVisited) MarkScraped(_ context.Context, kind domain.ItemKind, key string, _ time.Duration) error {
	v.marked = append(v.marked, fmt.Sprintf("%s:%s", kind, key))
	return nil
}

func newTestRunner(exec Executor, upsert Upserter, records RecordStore, visited VisitedStore) *Runner {
	return NewRunner(exec, upsert, records, visited, nil,
		RunnerConfig{BaseURL: "https://wmoov.com"}, nil, zap.NewNop()).
		WithClock(&fakeClock{})
}

func movieItems(keys ...string) []domain.WorkItem {
	items := make([]domain.WorkItem, 0, len(keys))
	for _, k := range keys {
		items = append(items, domain.WorkItem{
			Kind: domain.KindMovie,
			Key:  k,
			URL:  "https://wmoov.com/movie/" + k,
		})
	}
	return items
}

func TestProcessBatch_FailureDoesNotAbortBatch(t *testing.T) {
	exec := &fakeExecutor{results: map[string]domain.ExtractionResult{
		"m3": {Failure: &domain.Failure{Kind: domain.FailureTimeout, Message: "retries exhausted"}},
	}}
	upsert := &fakeUpserter{}
	runner := newTestRunner(exec, upsert, newFakeRecords(), nil)

	summary, _ := runner.ProcessBatch(context.Background(), movieItems("m1", "m2", "m3", "m4", "m5"))

	assert.Equal(t, 4, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 0, summary.Skipped)
	assert.Equal(t, []string{"m1", "m2", "m3", "m4", "m5"}, exec.executed,
		"items after the failed one are still processed")

	require.Len(t, summary.Failures, 1)
	assert.Equal(t, "m3", summary.Failures[0].Key)
	assert.Equal(t, domain.FailureTimeout, summary.Failures[0].Kind)
	assert.NotEmpty(t, summary.RunID)
}

func TestProcessBatch_RecentlyScrapedGuard(t *testing.T) {
	exec := &fakeExecutor{}
	visited := &fakeVisited{recent: map[string]bool{"movie:m1": true}}
	runner := newTestRunner(exec, &fakeUpserter{}, newFakeRecords(), visited)

	summary, _ := runner.ProcessBatch(context.Background(), movieItems("m1", "m2"))

	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, []string{"m2"}, exec.executed, "guarded items never reach the browser")
	assert.Equal(t, []string{"movie:m2"}, visited.marked)
}

func TestProcessBatch_ForceRefreshBypassesGuard(t *testing.T) {
	exec := &fakeExecutor{}
	visited := &fakeVisited{recent: map[string]bool{"movie:m1": true}}
	runner := NewRunner(exec, &fakeUpserter{}, newFakeRecords(), visited, nil,
		RunnerConfig{ForceRefresh: true}, nil, zap.NewNop()).WithClock(&fakeClock{})

	summary, _ := runner.ProcessBatch(context.Background(), movieItems("m1"))

	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, []string{"m1"}, exec.executed)
}

func TestProcessBatch_DedupSkipCountsAsSkipped(t *testing.T) {
	runner := newTestRunner(&fakeExecutor{}, &fakeUpserter{outcome: domain.OutcomeSkipped}, newFakeRecords(), nil)

	summary, _ := runner.ProcessBatch(context.Background(), movieItems("m1"))

	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 0, summary.Succeeded)
}

func TestProcessBatch_UpsertErrorCountsAsFailed(t *testing.T) {
	runner := newTestRunner(&fakeExecutor{}, &fakeUpserter{err: errors.New("connection pool closed")}, newFakeRecords(), nil)

	summary, _ := runner.ProcessBatch(context.Background(), movieItems("m1"))

	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, domain.FailureUnknown, summary.Failures[0].Kind)
}

func TestProcessBatch_ShowtimeSyncIsFingerprintGated(t *testing.T) {
	showtimes := []domain.Showtime{{
		MovieKey:  "m1",
		CinemaKey: "AMC Pacific Place",
		StartsAt:  time.Date(2026, 8, 24, 14, 30, 0, 0, time.UTC),
		Language:  "English",
	}}
	exec := &fakeExecutor{results: map[string]domain.ExtractionResult{
		"m1": {Fields: map[string]string{"name": "m1"}, Showtimes: showtimes},
	}}
	records := newFakeRecords()
	runner := newTestRunner(exec, &fakeUpserter{}, records, nil)

	runner.ProcessBatch(context.Background(), movieItems("m1"))
	require.Equal(t, []string{"m1"}, records.replaced, "first run writes the showtime set")

	// Same showtimes again: the stored fingerprint matches, nothing is rewritten.
	runner.ProcessBatch(context.Background(), movieItems("m1"))
	assert.Equal(t, []string{"m1"}, records.replaced)
	assert.Equal(t, fingerprint.Showtimes(showtimes), records.fingerprints["m1"])
}

func TestRun_DiscoversAndDeactivates(t *testing.T) {
	exec := &fakeExecutor{
		listings: map[string]string{
			"https://wmoov.com/showing": `<a href="/movie/a">Movie A</a><a href="/movie/b">Movie B</a>`,
			"https://wmoov.com/cinema":  `<a href="/cinema/bc">Broadway Cinematheque</a>`,
		},
	}
	records := newFakeRecords()
	runner := newTestRunner(exec, &fakeUpserter{}, records, nil)

	summary, err := runner.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, summary.Succeeded)
	assert.Equal(t, []string{"Movie A", "Movie B"}, records.activeSets[domain.KindMovie])
	assert.Equal(t, []string{"Broadway Cinematheque"}, records.activeSets[domain.KindCinema])
}

func TestRun_ListingFailureAbortsRun(t *testing.T) {
	exec := &fakeExecutor{listings: map[string]string{}}
	runner := newTestRunner(exec, &fakeUpserter{}, newFakeRecords(), nil)

	_, err := runner.Run(context.Background())
	assert.Error(t, err)
}
