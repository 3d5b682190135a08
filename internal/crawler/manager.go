package crawler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/AdrianLuk12/sociarch-scraper/internal/domain"
	"github.com/AdrianLuk12/sociarch-scraper/internal/monitoring"
)

// Page is the raw outcome of one browser navigation.
type Page struct {
	HTML   string
	Status int // main document HTTP status, 0 if it never arrived
}

// Fetcher is the browser-facing collaborator of the session manager.
// Restart replaces the browser session wholesale; no tab or cookie state
// survives it. Reload re-navigates the current page without a restart.
type Fetcher interface {
	Fetch(ctx context.Context, item domain.WorkItem) (Page, error)
	Reload(ctx context.Context) error
	Restart(ctx context.Context) error
}

// Clock abstracts sleeping so retry delays are deterministic in tests.
type Clock interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Backoff returns the delay before retry number attempt (1-based).
type Backoff func(attempt int) time.Duration

// DefaultBackoff doubles a two second base per retry.
func DefaultBackoff(attempt int) time.Duration {
	return 2 * time.Second << (attempt - 1)
}

type state int

const (
	stateAttempting state = iota
	stateRecovering
)

// Options tune the manager's retry policy. Zero values select the defaults.
type Options struct {
	MaxRestarts      int // restart-and-retry cycles per work item
	ChallengeReloads int // page reloads before a challenge escalates to a restart
	Backoff          Backoff
	Clock            Clock
	Predicates       []Predicate
}

// Manager executes work items against a browser session, classifying
// failures and recovering with bounded retries. It implements the state
// machine Idle -> Attempting -> {Success, Recovering -> Attempting, Failed}:
// Recovering re-enters Attempting at most MaxRestarts times before forcing
// Failed. Failure is isolated per item; the caller continues with the next
// one.
type Manager struct {
	fetcher Fetcher
	opts    Options
	metrics *monitoring.Metrics
	log     *zap.Logger
}

// NewManager creates a session manager over the given fetcher.
func NewManager(fetcher Fetcher, opts Options, m *monitoring.Metrics, log *zap.Logger) *Manager {
	if opts.MaxRestarts == 0 {
		opts.MaxRestarts = 2
	}
	if opts.ChallengeReloads == 0 {
		opts.ChallengeReloads = 3
	}
	if opts.Backoff == nil {
		opts.Backoff = DefaultBackoff
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	if opts.Predicates == nil {
		opts.Predicates = DefaultPredicates()
	}
	return &Manager{fetcher: fetcher, opts: opts, metrics: m, log: log}
}

// Execute runs one work item to a terminal result: the extracted fields or
// a classified failure.
func (m *Manager) Execute(ctx context.Context, item domain.WorkItem) domain.ExtractionResult {
	page, fail := m.FetchPage(ctx, item)
	if fail != nil {
		return domain.ExtractionResult{Failure: fail}
	}

	fields, showtimes, err := Extract(item, page.HTML)
	if err != nil {
		m.metrics.IncFailure(string(domain.FailureUnknown))
		m.log.Error("extraction failed", zap.String("key", item.Key), zap.Error(err))
		return failed(domain.FailureUnknown, err.Error())
	}
	return domain.ExtractionResult{Fields: fields, Showtimes: showtimes}
}

// FetchPage runs the retry state machine for one page load. Transient
// failures (timeout, connection, challenge) are retried within the
// documented bounds; Unknown failures surface immediately without retry.
func (m *Manager) FetchPage(ctx context.Context, item domain.WorkItem) (Page, *domain.Failure) {
	var (
		st       = stateAttempting
		restarts = 0
		reloads  = 0
	)

	for {
		switch st {
		case stateAttempting:
			start := time.Now()
			page, err := m.fetcher.Fetch(ctx, item)
			m.metrics.ObserveFetch(string(item.Kind), time.Since(start).Seconds())

			info := FailureInfo{Err: err, Status: page.Status, Body: page.HTML}
			if err == nil && !IsChallenge(info) {
				return page, nil
			}

			kind := Classify(info, m.opts.Predicates)
			m.metrics.IncFailure(string(kind))
			m.log.Warn("fetch attempt failed",
				zap.String("key", item.Key),
				zap.String("failure_kind", string(kind)),
				zap.Int("restarts", restarts),
				zap.Error(err))

			switch kind {
			case domain.FailureUnknown:
				// No recovery strategy is defined for unclassified errors.
				return Page{}, &domain.Failure{Kind: kind, Message: message(err, "unclassified failure")}

			case domain.FailureChallenge:
				if reloads < m.opts.ChallengeReloads {
					reloads++
					m.metrics.IncChallengeReload()
					if rerr := m.fetcher.Reload(ctx); rerr != nil {
						m.log.Warn("page reload failed", zap.String("key", item.Key), zap.Error(rerr))
					}
					if serr := m.opts.Clock.Sleep(ctx, m.opts.Backoff(reloads)); serr != nil {
						return Page{}, &domain.Failure{Kind: domain.FailureUnknown, Message: serr.Error()}
					}
					continue
				}
				// Reload budget exhausted: escalate to a full restart.
				fallthrough

			default:
				if restarts >= m.opts.MaxRestarts {
					return Page{}, &domain.Failure{Kind: kind, Message: message(err, "retries exhausted")}
				}
				restarts++
				st = stateRecovering
			}

		case stateRecovering:
			m.metrics.IncRestart()
			m.log.Info("restarting browser session",
				zap.String("key", item.Key), zap.Int("restart", restarts))
			if err := m.fetcher.Restart(ctx); err != nil {
				// A restart that cannot establish a working session abandons
				// the item rather than retrying blind.
				return Page{}, &domain.Failure{Kind: domain.FailureUnknown, Message: "browser restart failed: " + err.Error()}
			}
			if serr := m.opts.Clock.Sleep(ctx, m.opts.Backoff(restarts)); serr != nil {
				return Page{}, &domain.Failure{Kind: domain.FailureUnknown, Message: serr.Error()}
			}
			st = stateAttempting
		}
	}
}

func failed(kind domain.FailureKind, msg string) domain.ExtractionResult {
	return domain.ExtractionResult{Failure: &domain.Failure{Kind: kind, Message: msg}}
}

func message(err error, fallback string) string {
	if err != nil {
		return err.Error()
	}
	return fallback
}
