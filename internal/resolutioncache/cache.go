// Package resolutioncache memoizes price resolutions.
//
// Every tag has a monotonically increasing version. A reader loads the
// versions of its key's tags before computing and stores the result under a
// key that embeds them; a writer bumps the versions of the affected tags once
// its transaction has committed. A value computed from data older than a
// bump is therefore filed under a key no later reader asks for.
package resolutioncache

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/railzwaylabs/pricing/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Key identifies a cached value. Tags name the scopes it depends on.
type Key struct {
	Base string
	Tags []string
}

// Slot is a versioned storage location for a Key. The zero Slot is not
// writable.
type Slot struct {
	key string
}

func (s Slot) Valid() bool { return s.key != "" }

type Cache struct {
	store   Store
	ttl     atomic.Int64
	log     *zap.Logger
	metrics *metrics.Metrics
	group   singleflight.Group
}

// New returns a cache over store. A nil store disables caching: every call
// computes.
func New(store Store, ttl time.Duration, log *zap.Logger, m *metrics.Metrics) *Cache {
	if m == nil {
		m = metrics.NewNop()
	}
	c := &Cache{
		store:   store,
		log:     log.Named("resolutioncache"),
		metrics: m,
	}
	c.SetTTL(ttl)
	return c
}

func (c *Cache) Enabled() bool { return c != nil && c.store != nil }

// SetTTL changes the default entry lifetime for subsequent writes.
func (c *Cache) SetTTL(ttl time.Duration) {
	c.ttl.Store(int64(ttl))
}

func (c *Cache) TTL() time.Duration {
	return time.Duration(c.ttl.Load())
}

// GetOrCompute returns the cached value for key, or runs compute and caches
// its result. Concurrent misses on the same versioned key share one compute.
// Store failures fall back to computing without caching.
func (c *Cache) GetOrCompute(ctx context.Context, key Key, ttl time.Duration, compute func(context.Context) ([]byte, error)) ([]byte, error) {
	if !c.Enabled() {
		return compute(ctx)
	}

	slots, values := c.PeekMany(ctx, []Key{key})
	if values[0] != nil {
		return values[0], nil
	}
	slot := slots[0]
	if !slot.Valid() {
		return compute(ctx)
	}

	v, err, _ := c.group.Do(slot.key, func() (any, error) {
		value, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		c.Fill(ctx, slot, value, ttl)
		return value, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// PeekMany looks up several keys with one version read and one value read.
// values[i] is nil on a miss; slots[i] is invalid when the store failed.
func (c *Cache) PeekMany(ctx context.Context, keys []Key) ([]Slot, [][]byte) {
	slots := make([]Slot, len(keys))
	values := make([][]byte, len(keys))
	if !c.Enabled() || len(keys) == 0 {
		return slots, values
	}

	tagIndex := map[string]int{}
	var tags []string
	normalized := make([][]string, len(keys))
	for i, key := range keys {
		normalized[i] = normalizeTags(key.Tags)
		for _, tag := range normalized[i] {
			if _, ok := tagIndex[tag]; !ok {
				tagIndex[tag] = len(tags)
				tags = append(tags, tag)
			}
		}
	}

	versions, err := c.store.Versions(ctx, tags)
	if err != nil {
		c.metrics.CacheRequests.WithLabelValues("error").Add(float64(len(keys)))
		c.log.Warn("cache tag versions unavailable, computing directly", zap.Error(err))
		return slots, values
	}

	storageKeys := make([]string, len(keys))
	for i, key := range keys {
		tagVersions := make([]int64, len(normalized[i]))
		for j, tag := range normalized[i] {
			tagVersions[j] = versions[tagIndex[tag]]
		}
		storageKeys[i] = versionedKey(key.Base, tagVersions)
	}

	found, err := c.store.GetMulti(ctx, storageKeys)
	if err != nil {
		c.metrics.CacheRequests.WithLabelValues("error").Add(float64(len(keys)))
		c.log.Warn("cache read failed, computing directly", zap.Error(err))
		return slots, values
	}

	for i := range keys {
		slots[i] = Slot{key: storageKeys[i]}
		if found[i] != nil {
			values[i] = found[i]
			c.metrics.CacheRequests.WithLabelValues("hit").Inc()
		} else {
			c.metrics.CacheRequests.WithLabelValues("miss").Inc()
		}
	}
	return slots, values
}

// Fill stores value in slot. A ttl of zero uses the cache default.
func (c *Cache) Fill(ctx context.Context, slot Slot, value []byte, ttl time.Duration) {
	if !c.Enabled() || !slot.Valid() {
		return
	}
	if ttl <= 0 {
		ttl = c.TTL()
	}
	if err := c.store.Set(ctx, slot.key, value, ttl); err != nil {
		c.log.Warn("cache write failed", zap.String("key", slot.key), zap.Error(err))
	}
}

// Invalidate bumps the version of each tag. Call it after the change that
// affects those tags has committed.
func (c *Cache) Invalidate(ctx context.Context, tags ...string) error {
	if !c.Enabled() {
		return nil
	}
	tags = normalizeTags(tags)
	if len(tags) == 0 {
		return nil
	}
	if err := c.store.Bump(ctx, tags); err != nil {
		return err
	}
	c.metrics.CacheInvalidations.Add(float64(len(tags)))
	return nil
}

// GetOrComputeJSON is GetOrCompute for JSON encodable values.
func GetOrComputeJSON[T any](ctx context.Context, c *Cache, key Key, ttl time.Duration, compute func(context.Context) (T, error)) (T, error) {
	var zero T
	raw, err := c.GetOrCompute(ctx, key, ttl, func(ctx context.Context) ([]byte, error) {
		v, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil {
		return zero, err
	}

	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, err
	}
	return out, nil
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

func versionedKey(base string, versions []int64) string {
	var sb strings.Builder
	sb.WriteString(base)
	sb.WriteString("#v")
	for i, v := range versions {
		if i > 0 {
			sb.WriteByte('.')
		}
		sb.WriteString(strconv.FormatInt(v, 10))
	}
	return sb.String()
}
