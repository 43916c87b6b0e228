package storage

import (
	"context"
	"sync"
	"time"

	"github.com/rl1809/bookstore/internal/core/domain"
)

type cachedSummary struct {
	summary   domain.RatingSummary
	expiresAt time.Time
}

// MemoryCache is a process-local CacheRepository for runs without Redis.
type MemoryCache struct {
	mu             sync.Mutex
	claims         map[string]time.Time
	ratings        map[string]cachedSummary
	generations    map[string]int64
	idempotencyTTL time.Duration
	ratingTTL      time.Duration
	now            func() time.Time
}

func NewMemoryCache(idempotencyTTL, ratingTTL time.Duration) *MemoryCache {
	if idempotencyTTL <= 0 {
		idempotencyTTL = defaultIdempotencyTTL
	}
	if ratingTTL <= 0 {
		ratingTTL = defaultRatingTTL
	}
	return &MemoryCache{
		claims:         make(map[string]time.Time),
		ratings:        make(map[string]cachedSummary),
		generations:    make(map[string]int64),
		idempotencyTTL: idempotencyTTL,
		ratingTTL:      ratingTTL,
		now:            time.Now,
	}
}

func (c *MemoryCache) SetIdempotency(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if exp, ok := c.claims[key]; ok && now.Before(exp) {
		return false, nil
	}
	c.claims[key] = now.Add(c.idempotencyTTL)
	return true, nil
}

func (c *MemoryCache) ReleaseIdempotency(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.claims, key)
	return nil
}

func (c *MemoryCache) GetRatingSummary(ctx context.Context, itemKey string) (domain.RatingSummary, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.ratings[itemKey]
	if !ok || !c.now().Before(entry.expiresAt) {
		return domain.RatingSummary{}, false, nil
	}
	return entry.summary, true, nil
}

func (c *MemoryCache) RatingGeneration(ctx context.Context, itemKey string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[itemKey], nil
}

func (c *MemoryCache) SetRatingSummary(ctx context.Context, itemKey string, gen int64, summary domain.RatingSummary) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generations[itemKey] != gen {
		return false, nil
	}
	c.ratings[itemKey] = cachedSummary{summary: summary, expiresAt: c.now().Add(c.ratingTTL)}
	return true, nil
}

func (c *MemoryCache) InvalidateRatingSummary(ctx context.Context, itemKey string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generations[itemKey]++
	delete(c.ratings, itemKey)
	return nil
}
