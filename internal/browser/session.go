// Package browser owns the headless Chrome process behind the session
// manager. The session handle is exclusively owned here and replaced, never
// mutated in place, on restart.
package browser

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/AdrianLuk12/sociarch-scraper/internal/crawler"
	"github.com/AdrianLuk12/sociarch-scraper/internal/domain"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Hide the webdriver property so the site scripts see a regular browser.
const stealthScript = `Object.defineProperty(navigator, 'webdriver', {get: () => undefined})`

// Options configure the Chrome process and per-page waits.
type Options struct {
	Headless    bool
	NoSandbox   bool
	PageTimeout time.Duration
	UserAgent   string
}

// Session wraps one headless Chrome instance. It is not safe for concurrent
// fetches; the scraper processes work items sequentially against a single
// session.
type Session struct {
	opts Options
	log  *zap.Logger

	mu            sync.Mutex
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

var _ crawler.Fetcher = (*Session)(nil)

// New creates an unstarted session. Call Start before Fetch.
func New(opts Options, log *zap.Logger) *Session {
	if opts.PageTimeout == 0 {
		opts.PageTimeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	return &Session{opts: opts, log: log}
}

// Start launches a fresh Chrome process. Any previous session state is
// discarded first.
func (s *Session) Start(ctx context.Context) error {
	s.Close()

	execOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", s.opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(1920, 1080),
		chromedp.UserAgent(s.opts.UserAgent),
	)
	if s.opts.NoSandbox {
		execOpts = append(execOpts, chromedp.NoSandbox)
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), execOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	launchCtx, cancel := context.WithTimeout(browserCtx, s.opts.PageTimeout)
	defer cancel()

	err := chromedp.Run(launchCtx,
		network.Enable(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx)
			return err
		}),
	)
	if err != nil {
		browserCancel()
		allocCancel()
		return err
	}

	s.mu.Lock()
	s.allocCancel = allocCancel
	s.browserCtx = browserCtx
	s.browserCancel = browserCancel
	s.mu.Unlock()

	s.log.Info("browser session started", zap.Bool("headless", s.opts.Headless))
	return nil
}

// Restart replaces the browser session wholesale. No tabs, cookies or
// in-flight state carry over.
func (s *Session) Restart(ctx context.Context) error {
	return s.Start(ctx)
}

// Close tears the browser process down. Safe to call on an unstarted or
// already closed session.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.browserCancel != nil {
		s.browserCancel()
		s.browserCancel = nil
	}
	if s.allocCancel != nil {
		s.allocCancel()
		s.allocCancel = nil
	}
	s.browserCtx = nil
}

// Fetch navigates to the work item's URL, waits for the body to render and
// returns the page HTML along with the main document's HTTP status captured
// from the network events.
func (s *Session) Fetch(ctx context.Context, item domain.WorkItem) (crawler.Page, error) {
	browserCtx := s.current()
	if browserCtx == nil {
		return crawler.Page{}, errors.New("browser session not started")
	}

	taskCtx, cancel := context.WithTimeout(browserCtx, s.opts.PageTimeout)
	defer cancel()

	var status atomic.Int64
	chromedp.ListenTarget(taskCtx, func(ev interface{}) {
		if resp, ok := ev.(*network.EventResponseReceived); ok {
			if resp.Type == network.ResourceTypeDocument {
				status.CompareAndSwap(0, resp.Response.Status)
			}
		}
	})

	var html string
	err := chromedp.Run(taskCtx,
		chromedp.Navigate(item.URL),
		chromedp.WaitVisible("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html),
	)

	return crawler.Page{HTML: html, Status: int(status.Load())}, err
}

// Reload re-navigates the current page without replacing the session. Used
// to clear anti-bot interstitials.
func (s *Session) Reload(ctx context.Context) error {
	browserCtx := s.current()
	if browserCtx == nil {
		return errors.New("browser session not started")
	}

	taskCtx, cancel := context.WithTimeout(browserCtx, s.opts.PageTimeout)
	defer cancel()
	return chromedp.Run(taskCtx, chromedp.Reload())
}

func (s *Session) current() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.browserCtx
}
