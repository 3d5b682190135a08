package crawler

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"

	"github.com/AdrianLuk12/sociarch-scraper/internal/domain"
)

// FailureInfo is the structured description of a failed (or suspect) fetch
// attempt. Classification runs over this struct rather than over raw error
// message text.
type FailureInfo struct {
	Err    error
	Status int    // HTTP status of the main document, 0 if none arrived
	Body   string // rendered page content, empty on transport errors
}

// Predicate maps a FailureInfo onto a failure kind. Predicates are checked
// in order; the first match wins.
type Predicate struct {
	Kind  domain.FailureKind
	Match func(info FailureInfo) bool
}

// challengeMarkers are content signatures of known anti-bot interstitials.
// They are matched against the page body, not against error strings.
var challengeMarkers = []string{
	"cf-browser-verification",
	"cf-turnstile",
	"Attention Required! | Cloudflare",
	"Checking your browser before accessing",
	"captcha-delivery.com",
	"px-captcha",
	"Access Denied",
}

// DefaultPredicates returns the standard classification chain: timeout,
// connection failure, challenge page, in that order. Anything unmatched is
// Unknown and gets no recovery strategy.
func DefaultPredicates() []Predicate {
	return []Predicate{
		{Kind: domain.FailureTimeout, Match: isTimeout},
		{Kind: domain.FailureConnection, Match: isConnectionError},
		{Kind: domain.FailureChallenge, Match: IsChallenge},
	}
}

// Classify runs the info through the predicate chain.
func Classify(info FailureInfo, predicates []Predicate) domain.FailureKind {
	for _, p := range predicates {
		if p.Match(info) {
			return p.Kind
		}
	}
	return domain.FailureUnknown
}

func isTimeout(info FailureInfo) bool {
	if errors.Is(info.Err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(info.Err, &netErr) && netErr.Timeout()
}

func isConnectionError(info FailureInfo) bool {
	if errors.Is(info.Err, syscall.ECONNRESET) ||
		errors.Is(info.Err, syscall.ECONNREFUSED) ||
		errors.Is(info.Err, syscall.EPIPE) {
		return true
	}
	// The DevTools websocket going away surfaces as a closed connection or a
	// truncated read, depending on where the browser process died.
	return errors.Is(info.Err, net.ErrClosed) ||
		errors.Is(info.Err, io.ErrUnexpectedEOF) ||
		errors.Is(info.Err, io.ErrClosedPipe)
}

// IsChallenge reports whether the page content is an anti-bot interstitial
// rather than real content. Challenge pages typically arrive as a
// successful navigation, so this also runs on "successful" fetches.
func IsChallenge(info FailureInfo) bool {
	if info.Body == "" {
		return false
	}
	if info.Status != 0 && info.Status != http.StatusForbidden &&
		info.Status != http.StatusServiceUnavailable && info.Status != http.StatusTooManyRequests {
		return false
	}
	for _, marker := range challengeMarkers {
		if strings.Contains(info.Body, marker) {
			return true
		}
	}
	return false
}
