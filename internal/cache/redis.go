package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"bbcompare/internal/domain"
)

// RedisStore shares the cache between server instances. Entries are stored
// without a Redis TTL: the freshness policy above decides what is servable,
// and stale entries must stay readable for cached-only lookups.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(addr string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("unable to connect to redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

func outcomeKey(key Key) string {
	return fmt.Sprintf("outcome:%s:%s", key.Postcode, key.Provider)
}

func (s *RedisStore) Get(ctx context.Context, key Key) (domain.CacheEntry, bool, error) {
	val, err := s.client.Get(ctx, outcomeKey(normalizeKey(key))).Result()
	if errors.Is(err, redis.Nil) {
		return domain.CacheEntry{}, false, nil
	}
	if err != nil {
		return domain.CacheEntry{}, false, err
	}
	var entry domain.CacheEntry
	if err := json.Unmarshal([]byte(val), &entry); err != nil {
		return domain.CacheEntry{}, false, fmt.Errorf("corrupt cache entry %s: %w", outcomeKey(key), err)
	}
	return entry, true, nil
}

func (s *RedisStore) Put(ctx context.Context, entry domain.CacheEntry) error {
	key := normalizeKey(Key{Postcode: entry.Postcode, Provider: entry.Provider})
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, outcomeKey(key), payload, 0).Err()
}

func (s *RedisStore) List(ctx context.Context, postcode string) ([]domain.CacheEntry, error) {
	pattern := outcomeKey(normalizeKey(Key{Postcode: postcode, Provider: "*"}))
	var out []domain.CacheEntry
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		val, err := s.client.Get(ctx, iter.Val()).Result()
		if errors.Is(err, redis.Nil) {
			continue // deleted between scan and get
		}
		if err != nil {
			return nil, err
		}
		var entry domain.CacheEntry
		if err := json.Unmarshal([]byte(val), &entry); err != nil {
			continue // one corrupt value should not hide the rest
		}
		out = append(out, entry)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
