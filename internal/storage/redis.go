package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AdrianLuk12/sociarch-scraper/internal/domain"
)

// Redis tracks which entities were scraped recently so a rerun inside the
// dedup window skips them without touching the browser.
type Redis struct {
	client *redis.Client
}

func NewRedis(addr string) *Redis {
	return &Redis{client: redis.NewClient(&redis.Options{Addr: addr})}
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func scrapedKey(kind domain.ItemKind, key string) string {
	return fmt.Sprintf("scraped:%s:%s", kind, key)
}

// MarkScraped sets a key with a TTL to suppress re-scraping the entity
// within the dedup window.
func (r *Redis) MarkScraped(ctx context.Context, kind domain.ItemKind, key string, ttl time.Duration) error {
	return r.client.Set(ctx, scrapedKey(kind, key), "1", ttl).Err()
}

// IsRecentlyScraped checks whether the entity was scraped within the TTL.
func (r *Redis) IsRecentlyScraped(ctx context.Context, kind domain.ItemKind, key string) (bool, error) {
	n, err := r.client.Exists(ctx, scrapedKey(kind, key)).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
