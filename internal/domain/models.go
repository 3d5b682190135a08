package domain

import "time"

// ItemKind identifies the logical entity a work item targets.
type ItemKind string

const (
	KindMovie  ItemKind = "movie"
	KindCinema ItemKind = "cinema"

	// KindListing is used internally for index pages that only yield links,
	// never a persisted entity.
	KindListing ItemKind = "listing"
)

// WorkItem is one discrete fetch task. It is immutable once created and
// consumed exactly once by the session manager.
type WorkItem struct {
	Kind ItemKind
	Key  string // natural key of the entity, e.g. the movie name
	URL  string
}

// FailureKind classifies why a fetch attempt failed. The kind determines
// the recovery action taken by the session manager.
type FailureKind string

const (
	FailureTimeout    FailureKind = "timeout"
	FailureConnection FailureKind = "connection"
	FailureChallenge  FailureKind = "challenge"
	FailureUnknown    FailureKind = "unknown"
)

// Failure describes a classified, terminal failure for one work item.
type Failure struct {
	Kind    FailureKind
	Message string
}

// ExtractionResult is produced once per executed work item: either the
// extracted semantic fields (plus showtime rows for movie pages) or a
// classified failure. Exactly one of Fields/Failure is set.
type ExtractionResult struct {
	Fields    map[string]string
	Showtimes []Showtime
	Failure   *Failure
}

// OK reports whether the extraction succeeded.
func (r ExtractionResult) OK() bool { return r.Failure == nil }

// Movie holds the semantic fields of one movie listing.
type Movie struct {
	Name        string
	Category    string
	Description string
	Rating      string
}

// Cinema holds the semantic fields of one cinema.
type Cinema struct {
	Name     string
	Address  string
	District string
}

// Showtime is one screening of a movie at a cinema. Showtimes are volatile
// and replaced wholesale per movie rather than diffed row by row.
type Showtime struct {
	MovieKey  string
	CinemaKey string
	StartsAt  time.Time
	Language  string
}

// Outcome is the result of an idempotent upsert.
type Outcome string

const (
	OutcomeInserted Outcome = "inserted"
	OutcomeUpdated  Outcome = "updated"
	OutcomeSkipped  Outcome = "skipped"
)

// ItemFailure records one work item that exhausted its retries.
type ItemFailure struct {
	Key     string      `json:"key"`
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
}

// RunSummary is the user-visible result of one batch run. Individual
// failures are carried so they are never silently dropped.
type RunSummary struct {
	RunID      string        `json:"run_id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Succeeded  int           `json:"succeeded"`
	Skipped    int           `json:"skipped"`
	Failed     int           `json:"failed"`
	Failures   []ItemFailure `json:"failures,omitempty"`
}
