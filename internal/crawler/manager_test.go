package crawler

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/AdrianLuk12/sociarch-scraper/internal/domain"
)

const moviePageHTML = `<html><body>
<h1 class="movie-title">Inception</h1>
<div class="movie-info"><span class="category">Sci-Fi</span><span class="rating">IIA</span></div>
<p class="movie-synopsis">A thief who steals corporate secrets.</p>
<div class="cinema-showtimes" data-date="2026-08-24">
	<div class="cinema-name">AMC Pacific Place</div>
	<span class="showtime">14:30 English</span>
	<span class="showtime">19:45 English</span>
</div>
</body></html>`

const challengePageHTML = `<html><body>
<div id="cf-browser-verification">Checking your browser before accessing wmoov.com</div>
</body></html>`

// fakeClock records requested delays without sleeping.
type fakeClock struct {
	slept []time.Duration
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.slept = append(c.slept, d)
	return nil
}

// scriptedFetcher plays back one response per fetch attempt.
type scriptedFetcher struct {
	script     func(attempt int) (Page, error)
	fetches    int
	reloads    int
	restarts   int
	restartErr error
}

func (f *scriptedFetcher) Fetch(_ context.Context, _ domain.WorkItem) (Page, error) {
	f.fetches++
	return f.script(f.fetches)
}

func (f *scriptedFetcher) Reload(_ context.Context) error {
	f.reloads++
	return nil
}

func (f *scriptedFetcher) Restart(_ context.Context) error {
	f.restarts++
	return f.restartErr
}

func newTestManager(f Fetcher) *Manager {
	return NewManager(f, Options{Clock: &fakeClock{}}, nil, zap.NewNop())
}

func movieItem() domain.WorkItem {
	return domain.WorkItem{Kind: domain.KindMovie, Key: "Inception", URL: "https://wmoov.com/movie/inception"}
}

func TestExecute_Success(t *testing.T) {
	fetcher := &scriptedFetcher{script: func(int) (Page, error) {
		return Page{HTML: moviePageHTML, Status: 200}, nil
	}}

	res := newTestManager(fetcher).Execute(context.Background(), movieItem())

	require.True(t, res.OK())
	assert.Equal(t, "Inception", res.Fields["name"])
	assert.Equal(t, "Sci-Fi", res.Fields["category"])
	assert.Equal(t, "A thief who steals corporate secrets.", res.Fields["description"])
	assert.Len(t, res.Showtimes, 2)
	assert.Equal(t, 1, fetcher.fetches)
	assert.Equal(t, 0, fetcher.restarts)
}

func TestExecute_TimeoutFailsAfterTwoRestarts(t *testing.T) {
	fetcher := &scriptedFetcher{script: func(int) (Page, error) {
		return Page{}, context.DeadlineExceeded
	}}

	res := newTestManager(fetcher).Execute(context.Background(), movieItem())

	require.False(t, res.OK())
	assert.Equal(t, domain.FailureTimeout, res.Failure.Kind)
	assert.Equal(t, 3, fetcher.fetches, "one initial attempt plus two retries")
	assert.Equal(t, 2, fetcher.restarts)
}

func TestExecute_ConnectionErrorRecovers(t *testing.T) {
	fetcher := &scriptedFetcher{script: func(attempt int) (Page, error) {
		if attempt == 1 {
			return Page{}, syscall.ECONNRESET
		}
		return Page{HTML: moviePageHTML, Status: 200}, nil
	}}

	res := newTestManager(fetcher).Execute(context.Background(), movieItem())

	require.True(t, res.OK())
	assert.Equal(t, 2, fetcher.fetches)
	assert.Equal(t, 1, fetcher.restarts)
}

func TestExecute_ChallengeClearsAfterReloads(t *testing.T) {
	fetcher := &scriptedFetcher{script: func(attempt int) (Page, error) {
		if attempt <= 2 {
			return Page{HTML: challengePageHTML, Status: 403}, nil
		}
		return Page{HTML: moviePageHTML, Status: 200}, nil
	}}

	res := newTestManager(fetcher).Execute(context.Background(), movieItem())

	require.True(t, res.OK())
	assert.Equal(t, 3, fetcher.fetches)
	assert.Equal(t, 2, fetcher.reloads, "challenges are cleared by page reloads")
	assert.Equal(t, 0, fetcher.restarts, "no full restart within the reload budget")
}

func TestExecute_ChallengeEscalatesToRestart(t *testing.T) {
	fetcher := &scriptedFetcher{script: func(attempt int) (Page, error) {
		if attempt <= 2 {
			return Page{HTML: challengePageHTML, Status: 403}, nil
		}
		return Page{HTML: moviePageHTML, Status: 200}, nil
	}}
	mgr := NewManager(fetcher, Options{ChallengeReloads: 1, Clock: &fakeClock{}}, nil, zap.NewNop())

	res := mgr.Execute(context.Background(), movieItem())

	require.True(t, res.OK())
	assert.Equal(t, 1, fetcher.reloads)
	assert.Equal(t, 1, fetcher.restarts, "reload budget exhausted escalates to a restart")
}

func TestExecute_UnknownSurfacesImmediately(t *testing.T) {
	fetcher := &scriptedFetcher{script: func(int) (Page, error) {
		return Page{}, errors.New("protocol violation")
	}}

	res := newTestManager(fetcher).Execute(context.Background(), movieItem())

	require.False(t, res.OK())
	assert.Equal(t, domain.FailureUnknown, res.Failure.Kind)
	assert.Equal(t, 1, fetcher.fetches, "unknown failures are not retried")
	assert.Equal(t, 0, fetcher.restarts)
}

func TestExecute_FailedRestartAbandonsItem(t *testing.T) {
	fetcher := &scriptedFetcher{
		script:     func(int) (Page, error) { return Page{}, context.DeadlineExceeded },
		restartErr: errors.New("chrome failed to launch"),
	}

	res := newTestManager(fetcher).Execute(context.Background(), movieItem())

	require.False(t, res.OK())
	assert.Equal(t, domain.FailureUnknown, res.Failure.Kind)
	assert.Contains(t, res.Failure.Message, "restart failed")
	assert.Equal(t, 1, fetcher.fetches)
	assert.Equal(t, 1, fetcher.restarts)
}

func TestExecute_BackoffGrowsAcrossRestarts(t *testing.T) {
	clock := &fakeClock{}
	fetcher := &scriptedFetcher{script: func(int) (Page, error) {
		return Page{}, context.DeadlineExceeded
	}}
	mgr := NewManager(fetcher, Options{Clock: clock}, nil, zap.NewNop())

	mgr.Execute(context.Background(), movieItem())

	require.Len(t, clock.slept, 2)
	assert.Equal(t, 2*time.Second, clock.slept[0])
	assert.Equal(t, 4*time.Second, clock.slept[1])
}

func TestExecute_ExtractionErrorIsUnknown(t *testing.T) {
	fetcher := &scriptedFetcher{script: func(int) (Page, error) {
		return Page{HTML: moviePageHTML, Status: 200}, nil
	}}
	item := domain.WorkItem{Kind: "poster", Key: "Inception"}

	res := newTestManager(fetcher).Execute(context.Background(), item)

	require.False(t, res.OK())
	assert.Equal(t, domain.FailureUnknown, res.Failure.Kind)
}
