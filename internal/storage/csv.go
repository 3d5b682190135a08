package storage

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/AdrianLuk12/sociarch-scraper/internal/domain"
)

// CSVExporter writes flat delimited mirrors of one run's scraped entities.
// Files are rewritten per run; the database remains the source of truth.
type CSVExporter struct {
	dir string
}

func NewCSVExporter(dir string) (*CSVExporter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir %q: %w", dir, err)
	}
	return &CSVExporter{dir: dir}, nil
}

// Export writes movies.csv, cinemas.csv and showtimes.csv into the export
// directory.
func (e *CSVExporter) Export(ctx context.Context, movies []domain.Movie, cinemas []domain.Cinema, showtimes []domain.Showtime) error {
	movieRows := make([][]string, 0, len(movies))
	for _, m := range movies {
		movieRows = append(movieRows, []string{m.Name, m.Category, m.Description, m.Rating})
	}
	if err := e.writeFile(ctx, "movies.csv",
		[]string{"name", "category", "description", "rating"}, movieRows); err != nil {
		return err
	}

	cinemaRows := make([][]string, 0, len(cinemas))
	for _, c := range cinemas {
		cinemaRows = append(cinemaRows, []string{c.Name, c.Address, c.District})
	}
	if err := e.writeFile(ctx, "cinemas.csv",
		[]string{"name", "address", "district"}, cinemaRows); err != nil {
		return err
	}

	showtimeRows := make([][]string, 0, len(showtimes))
	for _, st := range showtimes {
		showtimeRows = append(showtimeRows, []string{
			st.MovieKey, st.CinemaKey, st.StartsAt.Format(time.RFC3339), st.Language,
		})
	}
	return e.writeFile(ctx, "showtimes.csv",
		[]string{"movie", "cinema", "starts_at", "language"}, showtimeRows)
}

func (e *CSVExporter) writeFile(ctx context.Context, name string, header []string, rows [][]string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	path := filepath.Join(e.dir, name)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %q: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("write header to %q: %w", path, err)
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write row to %q: %w", path, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush %q: %w", path, err)
	}
	return nil
}
