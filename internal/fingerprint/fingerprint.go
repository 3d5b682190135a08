// Package fingerprint computes stable content digests used to detect
// changes in scraped entities without comparing full payloads.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/AdrianLuk12/sociarch-scraper/internal/domain"
)

// Field separators keep the canonical serialization unambiguous even when
// values contain '=' or newlines.
const (
	unitSep   = "\x1f"
	recordSep = "\x1e"
)

// New computes the fingerprint of an entity payload. Keys are sorted and
// values whitespace-trimmed so that field order and incidental spacing
// never affect the digest. Callers must pass semantic fields only; volatile
// fields (timestamps, ids, is_active) are excluded upstream.
func New(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte(unitSep))
		h.Write([]byte(strings.TrimSpace(fields[k])))
		h.Write([]byte(recordSep))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Showtimes computes a digest over a movie's full showtime set. Rows are
// sorted by cinema, start time and language before hashing so that source
// ordering never produces a spurious change.
func Showtimes(rows []domain.Showtime) string {
	sorted := make([]domain.Showtime, len(rows))
	copy(sorted, rows)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].CinemaKey != sorted[j].CinemaKey {
			return sorted[i].CinemaKey < sorted[j].CinemaKey
		}
		if !sorted[i].StartsAt.Equal(sorted[j].StartsAt) {
			return sorted[i].StartsAt.Before(sorted[j].StartsAt)
		}
		return sorted[i].Language < sorted[j].Language
	})

	h := sha256.New()
	for _, st := range sorted {
		h.Write([]byte(strings.TrimSpace(st.CinemaKey)))
		h.Write([]byte(unitSep))
		h.Write([]byte(st.StartsAt.UTC().Format("2006-01-02T15:04")))
		h.Write([]byte(unitSep))
		h.Write([]byte(strings.TrimSpace(st.Language)))
		h.Write([]byte(recordSep))
	}
	return hex.EncodeToString(h.Sum(nil))
}
