package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/common-ad-network/internal/config"
	"github.com/redis/go-redis/v9"
)

// RedisCache wraps the Redis client. It backs the click-dedup fast path;
// the Postgres uniqueness constraint remains the authoritative guard, so
// every operation here is best-effort.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new Redis cache connection
func NewRedisCache(cfg *config.RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.MaxConnections,
		MinIdleConns: 5,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// NewRedisCacheFromClient wraps an existing client (used by tests)
func NewRedisCacheFromClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Close closes the Redis connection
func (r *RedisCache) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Client returns the underlying Redis client
func (r *RedisCache) Client() *redis.Client {
	return r.client
}

// Ping checks if Redis is reachable
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// dedupKey buckets a click by (ad, address, UTC calendar day)
func dedupKey(adID, ip string, day time.Time) string {
	return fmt.Sprintf("dedup:%s:%s:%s", adID, ip, day.UTC().Format("2006-01-02"))
}

// WasClickedToday reports whether the (ad, address) pair already has a
// counted click today according to the fast-path cache. A miss is not
// conclusive; the storage-level constraint decides.
func (r *RedisCache) WasClickedToday(ctx context.Context, adID, ip string, now time.Time) (bool, error) {
	count, err := r.client.Exists(ctx, dedupKey(adID, ip, now)).Result()
	if err != nil {
		return false, fmt.Errorf("dedup lookup failed: %w", err)
	}
	return count > 0, nil
}

// MarkClickedToday records a counted click in the fast-path cache. The key
// expires at the next UTC midnight so the daily bucket resets itself.
func (r *RedisCache) MarkClickedToday(ctx context.Context, adID, ip string, now time.Time) error {
	ttl := untilNextUTCMidnight(now)
	if err := r.client.Set(ctx, dedupKey(adID, ip, now), "1", ttl).Err(); err != nil {
		return fmt.Errorf("dedup mark failed: %w", err)
	}
	return nil
}

// untilNextUTCMidnight returns the remaining duration of the UTC day
func untilNextUTCMidnight(now time.Time) time.Duration {
	now = now.UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	return midnight.Sub(now)
}
