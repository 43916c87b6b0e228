package port

import (
	"context"

	"github.com/rl1809/bookstore/internal/core/domain"
)

type CacheRepository interface {
	// SetIdempotency claims key, returns false if already claimed
	SetIdempotency(ctx context.Context, key string) (bool, error)

	// ReleaseIdempotency frees a claimed key so the request can be retried
	ReleaseIdempotency(ctx context.Context, key string) error

	// GetRatingSummary returns ok=false on a cache miss
	GetRatingSummary(ctx context.Context, itemKey string) (domain.RatingSummary, bool, error)

	// RatingGeneration returns the item's summary generation. A summary
	// computed after reading it is stored under that generation.
	RatingGeneration(ctx context.Context, itemKey string) (int64, error)

	// SetRatingSummary stores summary only if the generation is still gen,
	// and reports whether it did.
	SetRatingSummary(ctx context.Context, itemKey string, gen int64, summary domain.RatingSummary) (bool, error)

	// InvalidateRatingSummary drops the summary and advances the generation.
	InvalidateRatingSummary(ctx context.Context, itemKey string) error
}
