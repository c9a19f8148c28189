package resolutioncache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang/snappy"
	"github.com/redis/go-redis/v9"
)

// RedisStore shares the cache between nodes. Payloads are snappy
// compressed; tag versions live in plain counters without expiry.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) entryKey(key string) string {
	return r.prefix + ":entry:" + key
}

func (r *RedisStore) versionKey(tag string) string {
	return r.prefix + ":tagv:" + tag
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := r.client.Get(ctx, r.entryKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	value, err := snappy.Decode(nil, raw)
	if err != nil {
		return nil, false, fmt.Errorf("decode cached payload: %w", err)
	}
	return value, true, nil
}

func (r *RedisStore) GetMulti(ctx context.Context, keys []string) ([][]byte, error) {
	out := make([][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	entryKeys := make([]string, len(keys))
	for i, key := range keys {
		entryKeys[i] = r.entryKey(key)
	}
	values, err := r.client.MGet(ctx, entryKeys...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		decoded, err := snappy.Decode(nil, []byte(s))
		if err != nil {
			return nil, fmt.Errorf("decode cached payload: %w", err)
		}
		out[i] = decoded
	}
	return out, nil
}

func (r *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, r.entryKey(key), snappy.Encode(nil, value), ttl).Err()
}

func (r *RedisStore) Versions(ctx context.Context, tags []string) ([]int64, error) {
	out := make([]int64, len(tags))
	if len(tags) == 0 {
		return out, nil
	}

	keys := make([]string, len(tags))
	for i, tag := range tags {
		keys[i] = r.versionKey(tag)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse version of tag %s: %w", tags[i], err)
		}
		out[i] = n
	}
	return out, nil
}

func (r *RedisStore) Bump(ctx context.Context, tags []string) error {
	if len(tags) == 0 {
		return nil
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, tag := range tags {
			pipe.Incr(ctx, r.versionKey(tag))
		}
		return nil
	})
	return err
}
