// Package redis implements storage.Store on Redis. Each record lives under
// its own key with a native expiry, so any number of server instances can
// share one store.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/extendhq/extend-mcp-server-go/storage"
	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces every key written by the store.
const DefaultKeyPrefix = "extend-mcp:"

// minTTL is the shortest native expiry Redis is asked to apply. Records whose
// remaining lifetime is shorter (or already negative) still get a key so the
// read path can observe and remove them.
const minTTL = time.Second

const scanBatch = 100

// Config contains configuration options for the Redis store.
type Config struct {
	// Client is the Redis client. It is not closed by the store.
	Client redis.UniversalClient

	// KeyPrefix is prepended to every record key.
	// Default: "extend-mcp:"
	KeyPrefix string
}

// Store keeps JSON-encoded records of type R in Redis.
type Store[R storage.Record] struct {
	client    redis.UniversalClient
	keyPrefix string
	opts      storage.Options
}

// New creates a Redis-backed store.
func New[R storage.Record](config Config, opts ...storage.Option) (*Store[R], error) {
	if config.Client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = DefaultKeyPrefix
	}
	return &Store[R]{
		client:    config.Client,
		keyPrefix: config.KeyPrefix,
		opts:      storage.ApplyOptions(opts...),
	}, nil
}

// Store writes rec with a native expiry equal to its remaining lifetime.
func (s *Store[R]) Store(ctx context.Context, rec R) error {
	key := rec.StoreKey()
	data, err := json.Marshal(rec)
	if err != nil {
		return &storage.Error{Op: "store", Key: key, Err: err}
	}

	var ttl time.Duration
	if exp := rec.Expiry(); !exp.IsZero() {
		ttl = exp.Sub(s.opts.Clock())
		if ttl < minTTL {
			ttl = minTTL
		}
	}

	// Writes complete even if the caller goes away mid-request.
	ctx = context.WithoutCancel(ctx)
	if err := s.client.Set(ctx, s.buildKey(key), data, ttl).Err(); err != nil {
		return &storage.Error{Op: "store", Key: key, Err: err}
	}
	return nil
}

// Get returns the record under key, deleting it if it has expired.
func (s *Store[R]) Get(ctx context.Context, key string) (R, bool, error) {
	return storage.GetFromLookup(s.Lookup(ctx, key))
}

// Lookup fetches key and deletes it when the record has expired. Native
// expiry usually removes such keys first, in which case it reports Absent.
func (s *Store[R]) Lookup(ctx context.Context, key string) (R, storage.Status, error) {
	var zero R

	data, err := s.client.Get(ctx, s.buildKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return zero, storage.Absent, nil
	}
	if err != nil {
		return zero, storage.Absent, &storage.Error{Op: "get", Key: key, Err: err}
	}

	rec := storage.NewRecord[R]()
	if err := json.Unmarshal(data, rec); err != nil {
		return zero, storage.Absent, &storage.Error{Op: "get", Key: key, Err: err}
	}
	if storage.IsExpired(rec, s.opts.Clock()) {
		if err := s.client.Del(context.WithoutCancel(ctx), s.buildKey(key)).Err(); err != nil {
			return zero, storage.Absent, &storage.Error{Op: "get", Key: key, Err: err}
		}
		return rec, storage.Expired, nil
	}
	return rec, storage.Present, nil
}

// Delete removes key. DEL is atomic per key, so among concurrent callers
// exactly one observes the record as existing.
func (s *Store[R]) Delete(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Del(context.WithoutCancel(ctx), s.buildKey(key)).Result()
	if err != nil {
		return false, &storage.Error{Op: "delete", Key: key, Err: err}
	}
	return n > 0, nil
}

// CleanupExpired scans the key prefix and removes records whose expiry has
// passed. Native expiry normally handles this; the sweep covers servers with
// eviction disabled and records written with a long TTL floor.
func (s *Store[R]) CleanupExpired(ctx context.Context) (int, error) {
	keys, err := s.scanKeys(ctx, s.keyPrefix+"*")
	if err != nil {
		return 0, &storage.Error{Op: "cleanup", Err: err}
	}

	now := s.opts.Clock()
	removed := 0
	for _, redisKey := range keys {
		data, err := s.client.Get(ctx, redisKey).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return removed, &storage.Error{Op: "cleanup", Err: err}
		}

		rec := storage.NewRecord[R]()
		if err := json.Unmarshal(data, rec); err != nil {
			s.opts.Logger.Warn("storage.redis.cleanup.undecodable",
				slog.String("key", storage.Redact(redisKey[len(s.keyPrefix):])),
				slog.String("err", err.Error()),
			)
		} else if !storage.IsExpired(rec, now) {
			continue
		}

		n, err := s.client.Del(ctx, redisKey).Result()
		if err != nil {
			return removed, &storage.Error{Op: "cleanup", Err: err}
		}
		removed += int(n)
	}
	return removed, nil
}

// Close is a no-op. The client is owned by the caller and may be shared by
// several stores.
func (s *Store[R]) Close() error { return nil }

func (s *Store[R]) buildKey(key string) string {
	return s.keyPrefix + key
}

// scanKeys uses Redis SCAN to find all keys matching a pattern
func (s *Store[R]) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64

	for {
		batch, next, err := s.client.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}
