package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/AdrianLuk12/sociarch-scraper/internal/dedup"
	"github.com/AdrianLuk12/sociarch-scraper/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS movies (
	id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	category TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	rating TEXT NOT NULL DEFAULT '',
	content_hash TEXT NOT NULL,
	showtimes_hash TEXT NOT NULL DEFAULT '',
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	last_updated TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS cinemas (
	id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	address TEXT NOT NULL DEFAULT '',
	district TEXT NOT NULL DEFAULT '',
	content_hash TEXT NOT NULL,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	last_updated TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS showtimes (
	id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	movie_id BIGINT NOT NULL REFERENCES movies(id) ON DELETE CASCADE,
	cinema_id BIGINT NOT NULL REFERENCES cinemas(id) ON DELETE CASCADE,
	starts_at TIMESTAMPTZ NOT NULL,
	language TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS showtimes_movie_idx ON showtimes (movie_id);
`

// Postgres persists movies, cinemas and showtimes. It implements
// dedup.Store for entity upserts plus the showtime-replacement and
// soft-deactivation operations the runner needs.
type Postgres struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

var _ dedup.Store = (*Postgres)(nil)

// NewPostgres connects a pool, pins the target schema on every connection
// and ensures the tables exist.
func NewPostgres(ctx context.Context, dsn, targetSchema string, log *zap.Logger) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if targetSchema != "" && targetSchema != "public" {
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, "SET search_path TO "+pgx.Identifier{targetSchema}.Sanitize())
			return err
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	return &Postgres{pool: pool, log: log}, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) Close() {
	p.pool.Close()
}

// Get is a single point lookup by natural key. A missing entity returns
// (nil, nil).
func (p *Postgres) Get(ctx context.Context, kind domain.ItemKind, key string) (*dedup.StoredRecord, error) {
	rec := &dedup.StoredRecord{Kind: kind, EntityKey: key}

	switch kind {
	case domain.KindMovie:
		var m domain.Movie
		err := p.pool.QueryRow(ctx,
			`SELECT name, category, description, rating, content_hash, is_active, last_updated
			 FROM movies WHERE name = $1`, key,
		).Scan(&m.Name, &m.Category, &m.Description, &m.Rating, &rec.Fingerprint, &rec.IsActive, &rec.LastUpdated)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		rec.Payload = map[string]string{
			"name": m.Name, "category": m.Category, "description": m.Description, "rating": m.Rating,
		}
		return rec, nil

	case domain.KindCinema:
		var c domain.Cinema
		err := p.pool.QueryRow(ctx,
			`SELECT name, address, district, content_hash, is_active, last_updated
			 FROM cinemas WHERE name = $1`, key,
		).Scan(&c.Name, &c.Address, &c.District, &rec.Fingerprint, &rec.IsActive, &rec.LastUpdated)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		rec.Payload = map[string]string{
			"name": c.Name, "address": c.Address, "district": c.District,
		}
		return rec, nil

	default:
		return nil, fmt.Errorf("unsupported entity kind %q", kind)
	}
}

func (p *Postgres) Insert(ctx context.Context, rec *dedup.StoredRecord) error {
	switch rec.Kind {
	case domain.KindMovie:
		_, err := p.pool.Exec(ctx,
			`INSERT INTO movies (name, category, description, rating, content_hash, is_active, last_updated)
			 VALUES ($1, $2, $3, $4, $5, TRUE, $6)`,
			rec.EntityKey, rec.Payload["category"], rec.Payload["description"], rec.Payload["rating"],
			rec.Fingerprint, rec.LastUpdated)
		return err
	case domain.KindCinema:
		_, err := p.pool.Exec(ctx,
			`INSERT INTO cinemas (name, address, district, content_hash, is_active, last_updated)
			 VALUES ($1, $2, $3, $4, TRUE, $5)`,
			rec.EntityKey, rec.Payload["address"], rec.Payload["district"],
			rec.Fingerprint, rec.LastUpdated)
		return err
	default:
		return fmt.Errorf("unsupported entity kind %q", rec.Kind)
	}
}

func (p *Postgres) Update(ctx context.Context, rec *dedup.StoredRecord) error {
	switch rec.Kind {
	case domain.KindMovie:
		_, err := p.pool.Exec(ctx,
			`UPDATE movies SET category = $2, description = $3, rating = $4,
			 content_hash = $5, is_active = TRUE, last_updated = $6
			 WHERE name = $1`,
			rec.EntityKey, rec.Payload["category"], rec.Payload["description"], rec.Payload["rating"],
			rec.Fingerprint, rec.LastUpdated)
		return err
	case domain.KindCinema:
		_, err := p.pool.Exec(ctx,
			`UPDATE cinemas SET address = $2, district = $3,
			 content_hash = $4, is_active = TRUE, last_updated = $5
			 WHERE name = $1`,
			rec.EntityKey, rec.Payload["address"], rec.Payload["district"],
			rec.Fingerprint, rec.LastUpdated)
		return err
	default:
		return fmt.Errorf("unsupported entity kind %q", rec.Kind)
	}
}

// ShowtimesFingerprint returns the digest of the movie's stored showtime
// set, or "" when the movie has none (or does not exist yet).
func (p *Postgres) ShowtimesFingerprint(ctx context.Context, movieKey string) (string, error) {
	var fp string
	err := p.pool.QueryRow(ctx,
		`SELECT showtimes_hash FROM movies WHERE name = $1`, movieKey).Scan(&fp)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return fp, err
}

// ReplaceShowtimes clears and re-inserts a movie's showtimes in one
// transaction. Cinemas referenced only from showtime rows get a minimal row
// so the foreign key holds; the cinema work item fills the details later.
func (p *Postgres) ReplaceShowtimes(ctx context.Context, movieKey, fp string, rows []domain.Showtime) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var movieID int64
	err = tx.QueryRow(ctx, `SELECT id FROM movies WHERE name = $1`, movieKey).Scan(&movieID)
	if err != nil {
		return fmt.Errorf("resolve movie %q: %w", movieKey, err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM showtimes WHERE movie_id = $1`, movieID); err != nil {
		return fmt.Errorf("clear showtimes: %w", err)
	}

	cinemaIDs := map[string]int64{}
	for _, row := range rows {
		if _, ok := cinemaIDs[row.CinemaKey]; ok {
			continue
		}
		var id int64
		err := tx.QueryRow(ctx,
			`INSERT INTO cinemas (name, content_hash) VALUES ($1, '')
			 ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
			 RETURNING id`, row.CinemaKey).Scan(&id)
		if err != nil {
			return fmt.Errorf("resolve cinema %q: %w", row.CinemaKey, err)
		}
		cinemaIDs[row.CinemaKey] = id
	}

	if len(rows) > 0 {
		batch := &pgx.Batch{}
		for _, row := range rows {
			batch.Queue(
				`INSERT INTO showtimes (movie_id, cinema_id, starts_at, language) VALUES ($1, $2, $3, $4)`,
				movieID, cinemaIDs[row.CinemaKey], row.StartsAt, row.Language)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert showtimes: %w", err)
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE movies SET showtimes_hash = $2 WHERE id = $1`, movieID, fp); err != nil {
		return fmt.Errorf("store showtimes fingerprint: %w", err)
	}

	return tx.Commit(ctx)
}

// MarkActiveSet flips is_active so it is true exactly for the keys present
// in the latest scrape. Nothing is ever deleted.
func (p *Postgres) MarkActiveSet(ctx context.Context, kind domain.ItemKind, activeKeys []string) error {
	table, err := tableFor(kind)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx,
		`UPDATE `+table+` SET is_active = (name = ANY($1))`, activeKeys)
	return err
}

// EntityStatus is the API-facing view of one stored record.
type EntityStatus struct {
	Kind        domain.ItemKind   `json:"kind"`
	Key         string            `json:"key"`
	Fingerprint string            `json:"fingerprint"`
	Payload     map[string]string `json:"payload"`
	IsActive    bool              `json:"is_active"`
	LastUpdated time.Time         `json:"last_updated"`
}

// GetEntityStatus serves the ops API point lookup. Returns (nil, nil) when
// the entity is unknown.
func (p *Postgres) GetEntityStatus(ctx context.Context, kind domain.ItemKind, key string) (*EntityStatus, error) {
	rec, err := p.Get(ctx, kind, key)
	if err != nil || rec == nil {
		return nil, err
	}
	return &EntityStatus{
		Kind:        rec.Kind,
		Key:         rec.EntityKey,
		Fingerprint: rec.Fingerprint,
		Payload:     rec.Payload,
		IsActive:    rec.IsActive,
		LastUpdated: rec.LastUpdated,
	}, nil
}

func tableFor(kind domain.ItemKind) (string, error) {
	switch kind {
	case domain.KindMovie:
		return "movies", nil
	case domain.KindCinema:
		return "cinemas", nil
	default:
		return "", fmt.Errorf("unsupported entity kind %q", kind)
	}
}
