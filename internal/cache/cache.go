// Package cache provides a two-tier lookup cache for expensive
// computations: an in-memory Ristretto tier backed by an optional
// shared Redis tier. Embedding vectors and synthesized answers are the
// two users; both treat cache failures as misses, never as errors.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// TwoTier couples the fast local tier with the shared tier.
type TwoTier struct {
	l1     *ristretto.Cache[string, []byte]
	l2     *redis.Client
	ttl    time.Duration
	logger *zap.Logger

	metricsMu sync.Mutex
	metrics   Metrics
}

// Metrics tracks tier hit rates.
type Metrics struct {
	L1Hits   int64
	L1Misses int64
	L2Hits   int64
	L2Misses int64
}

// New creates a two-tier cache. redisClient may be nil, which disables
// the shared tier. maxCost bounds the local tier (item count costing).
func New(maxCost int64, ttl time.Duration, redisClient *redis.Client, logger *zap.Logger) (*TwoTier, error) {
	if maxCost <= 0 {
		maxCost = 10000
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	l1, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: maxCost * 10,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ristretto cache: %w", err)
	}

	return &TwoTier{
		l1:     l1,
		l2:     redisClient,
		ttl:    ttl,
		logger: logger.Named("cache"),
	}, nil
}

// Get checks the local tier, then the shared tier, promoting shared
// hits into the local tier.
func (c *TwoTier) Get(ctx context.Context, key string) ([]byte, bool) {
	if val, found := c.l1.Get(key); found {
		c.record(func(m *Metrics) { m.L1Hits++ })
		return val, true
	}
	c.record(func(m *Metrics) { m.L1Misses++ })

	if c.l2 != nil {
		data, err := c.l2.Get(ctx, key).Bytes()
		if err == nil && len(data) > 0 {
			c.record(func(m *Metrics) { m.L2Hits++ })
			c.l1.SetWithTTL(key, data, 1, c.ttl)
			return data, true
		}
		c.record(func(m *Metrics) { m.L2Misses++ })
	}
	return nil, false
}

// Set stores in the local tier and, asynchronously, the shared tier.
func (c *TwoTier) Set(ctx context.Context, key string, data []byte) {
	c.l1.SetWithTTL(key, data, 1, c.ttl)

	if c.l2 != nil {
		go func() {
			setCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := c.l2.Set(setCtx, key, data, c.ttl).Err(); err != nil {
				c.logger.Warn("Failed to set shared cache tier",
					zap.String("key", key),
					zap.Error(err))
			}
		}()
	}
}

// GetOrCompute returns the cached value for key or computes, caches and
// returns it. Compute errors pass through; cache writes never fail the
// call.
func (c *TwoTier) GetOrCompute(ctx context.Context, key string, fn func() ([]byte, error)) ([]byte, error) {
	if data, found := c.Get(ctx, key); found {
		return data, nil
	}

	data, err := fn()
	if err != nil {
		return nil, err
	}
	c.Set(ctx, key, data)
	return data, nil
}

// Delete removes a key from both tiers.
func (c *TwoTier) Delete(ctx context.Context, key string) {
	c.l1.Del(key)
	if c.l2 != nil {
		if err := c.l2.Del(ctx, key).Err(); err != nil {
			c.logger.Warn("Failed to delete from shared cache tier",
				zap.String("key", key),
				zap.Error(err))
		}
	}
}

// Stats returns a snapshot of tier metrics.
func (c *TwoTier) Stats() Metrics {
	c.metricsMu.Lock()
	defer c.metricsMu.Unlock()
	return c.metrics
}

// HitRate is the local-tier hit fraction.
func (c *TwoTier) HitRate() float64 {
	c.metricsMu.Lock()
	defer c.metricsMu.Unlock()
	total := c.metrics.L1Hits + c.metrics.L1Misses
	if total == 0 {
		return 0
	}
	return float64(c.metrics.L1Hits) / float64(total)
}

// Wait blocks until pending local-tier writes are applied. Test helper;
// Ristretto applies Sets asynchronously.
func (c *TwoTier) Wait() {
	c.l1.Wait()
}

// Close releases local tier resources.
func (c *TwoTier) Close() error {
	c.l1.Close()
	return nil
}

func (c *TwoTier) record(update func(*Metrics)) {
	c.metricsMu.Lock()
	update(&c.metrics)
	c.metricsMu.Unlock()
}

// Key builds a namespaced cache key from the SHA-256 of its parts.
// Embeddings key on model+text, answers on strategy+collection+query.
func Key(namespace string, parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return namespace + ":" + hex.EncodeToString(h.Sum(nil))
}
