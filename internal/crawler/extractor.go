package crawler

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/AdrianLuk12/sociarch-scraper/internal/domain"
)

// Selectors for the listings site. Kept together so a site markup change
// is a one-file fix.
const (
	selMovieLink        = "a[href*='/movie/']"
	selCinemaLink       = "a[href*='/cinema/']"
	selMovieName        = "h1.movie-title"
	selMovieCategory    = ".movie-info .category"
	selMovieDescription = ".movie-synopsis"
	selMovieRating      = ".movie-info .rating"
	selCinemaName       = "h1.cinema-title"
	selCinemaAddress    = ".cinema-info .address"
	selCinemaDistrict   = ".cinema-info .district"
	selShowtimeSection  = ".cinema-showtimes"
	selShowtimeCinema   = ".cinema-name"
	selShowtimeSlot     = ".showtime"
)

var clockPattern = regexp.MustCompile(`(\d{1,2}):(\d{2})`)

// Extract parses the rendered page for a work item into the semantic fields
// of its entity. Movie pages additionally yield the showtime rows found on
// the page.
func Extract(item domain.WorkItem, html string) (map[string]string, []domain.Showtime, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, nil, fmt.Errorf("parse page for %q: %w", item.Key, err)
	}

	switch item.Kind {
	case domain.KindMovie:
		fields := extractMovie(doc, item.Key)
		showtimes := extractShowtimes(doc, item.Key, time.Now())
		return fields, showtimes, nil
	case domain.KindCinema:
		return extractCinema(doc, item.Key), nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported work item kind %q", item.Kind)
	}
}

func extractMovie(doc *goquery.Document, key string) map[string]string {
	name := text(doc, selMovieName)
	if name == "" {
		name = key
	}
	return map[string]string{
		"name":        name,
		"category":    text(doc, selMovieCategory),
		"description": text(doc, selMovieDescription),
		"rating":      text(doc, selMovieRating),
	}
}

func extractCinema(doc *goquery.Document, key string) map[string]string {
	name := text(doc, selCinemaName)
	if name == "" {
		name = key
	}
	return map[string]string{
		"name":     name,
		"address":  text(doc, selCinemaAddress),
		"district": text(doc, selCinemaDistrict),
	}
}

func extractShowtimes(doc *goquery.Document, movieKey string, ref time.Time) []domain.Showtime {
	var rows []domain.Showtime

	doc.Find(selShowtimeSection).Each(func(_ int, section *goquery.Selection) {
		cinema := strings.TrimSpace(section.Find(selShowtimeCinema).First().Text())
		if cinema == "" {
			return
		}

		day := ref
		if d, ok := section.Attr("data-date"); ok {
			if parsed, err := time.ParseInLocation("2006-01-02", d, ref.Location()); err == nil {
				day = parsed
			}
		}

		section.Find(selShowtimeSlot).Each(func(_ int, slot *goquery.Selection) {
			startsAt, language, ok := parseShowtimeText(slot.Text(), day)
			if !ok {
				return
			}
			if lang, found := slot.Attr("data-language"); found {
				language = strings.TrimSpace(lang)
			}
			rows = append(rows, domain.Showtime{
				MovieKey:  movieKey,
				CinemaKey: cinema,
				StartsAt:  startsAt,
				Language:  language,
			})
		})
	})

	return rows
}

// parseShowtimeText extracts an "HH:MM" clock time from a slot's text and
// anchors it on the given day. Any text around the clock is treated as the
// language label.
func parseShowtimeText(raw string, day time.Time) (time.Time, string, bool) {
	raw = strings.TrimSpace(raw)
	loc := clockPattern.FindStringSubmatchIndex(raw)
	if loc == nil {
		return time.Time{}, "", false
	}

	match := clockPattern.FindStringSubmatch(raw)
	hour := atoiClamped(match[1], 23)
	minute := atoiClamped(match[2], 59)

	startsAt := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, day.Location())
	language := strings.TrimSpace(raw[:loc[0]] + raw[loc[1]:])
	return startsAt, language, true
}

func atoiClamped(s string, max int) int {
	n := 0
	for _, c := range s {
		n = n*10 + int(c-'0')
	}
	if n > max {
		return max
	}
	return n
}

// ExtractWorkItems collects the entity links of the given kind from the
// listing page and turns them into work items. Relative URLs are resolved
// against the base.
func ExtractWorkItems(kind domain.ItemKind, baseURL, html string) ([]domain.WorkItem, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse listing page: %w", err)
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url %q: %w", baseURL, err)
	}

	selector := selMovieLink
	if kind == domain.KindCinema {
		selector = selCinemaLink
	}

	seen := map[string]bool{}
	var items []domain.WorkItem

	doc.Find(selector).Each(func(_ int, link *goquery.Selection) {
		name := strings.TrimSpace(link.Text())
		href, _ := link.Attr("href")
		if name == "" || href == "" {
			return
		}

		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref).String()

		if seen[name] {
			return
		}
		seen[name] = true
		items = append(items, domain.WorkItem{Kind: kind, Key: name, URL: abs})
	})

	return items, nil
}

func text(doc *goquery.Document, selector string) string {
	return strings.TrimSpace(doc.Find(selector).First().Text())
}
