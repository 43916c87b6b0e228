package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/bookstore/internal/adapter/storage"
	"github.com/rl1809/bookstore/internal/core/domain"
	"github.com/rl1809/bookstore/internal/port"
)

func TestReviews_AddAndAggregate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.customer(t, "alice", domain.RoleCustomer)
	bob := f.customer(t, "bob", domain.RoleCustomer)
	f.item(t, "a", "1.00", 1)

	avg, err := f.reviews.AverageRating(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 0.0, avg)

	_, err = f.reviews.AddReview(ctx, alice, "a", 5, "great")
	require.NoError(t, err)
	_, err = f.reviews.AddReview(ctx, bob, "a", 2, "meh")
	require.NoError(t, err)

	avg, err = f.reviews.AverageRating(ctx, "a")
	require.NoError(t, err)
	assert.InDelta(t, 3.5, avg, 1e-9)

	n, err := f.reviews.ReviewCount(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestReviews_OnePerCustomerPerItem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.customer(t, "alice", domain.RoleCustomer)
	f.item(t, "a", "1.00", 1)

	_, err := f.reviews.AddReview(ctx, alice, "a", 4, "good")
	require.NoError(t, err)
	_, err = f.reviews.AddReview(ctx, alice, "a", 1, "changed my mind")
	assert.ErrorIs(t, err, ErrDuplicateReview)

	mine, err := f.reviews.CustomerReview(ctx, alice, "a")
	require.NoError(t, err)
	assert.Equal(t, 4, mine.Rating)
}

func TestReviews_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.customer(t, "alice", domain.RoleCustomer)
	f.item(t, "a", "1.00", 1)

	_, err := f.reviews.AddReview(ctx, alice, "a", 0, "x")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = f.reviews.AddReview(ctx, alice, "a", 6, "x")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = f.reviews.AddReview(ctx, alice, "a", 3, "  ")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = f.reviews.AddReview(ctx, alice, "missing", 3, "x")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = f.reviews.AddReview(ctx, 999, "a", 3, "x")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestReviews_OnlyAuthorMayMutate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.customer(t, "alice", domain.RoleCustomer)
	bob := f.customer(t, "bob", domain.RoleCustomer)
	f.item(t, "a", "1.00", 1)

	r, err := f.reviews.AddReview(ctx, alice, "a", 3, "ok")
	require.NoError(t, err)

	_, err = f.reviews.UpdateReview(ctx, bob, r.ID, 1, "hijack")
	assert.ErrorIs(t, err, ErrForbidden)
	assert.ErrorIs(t, f.reviews.DeleteReview(ctx, bob, r.ID), ErrForbidden)

	updated, err := f.reviews.UpdateReview(ctx, alice, r.ID, 5, "better on reread")
	require.NoError(t, err)
	assert.Equal(t, 5, updated.Rating)
	assert.Equal(t, "alice", updated.CustomerName)

	require.NoError(t, f.reviews.DeleteReview(ctx, alice, r.ID))
	assert.ErrorIs(t, f.reviews.DeleteReview(ctx, alice, r.ID), ErrNotFound)
}

func TestReviews_SummaryCacheInvalidated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.customer(t, "alice", domain.RoleCustomer)
	f.item(t, "a", "1.00", 1)

	r, err := f.reviews.AddReview(ctx, alice, "a", 2, "fine")
	require.NoError(t, err)

	sum, err := f.reviews.Summary(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, domain.RatingSummary{Average: 2, Count: 1}, sum)

	cached, ok, err := f.cache.GetRatingSummary(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, sum, cached)

	_, err = f.reviews.UpdateReview(ctx, alice, r.ID, 4, "grew on me")
	require.NoError(t, err)
	_, ok, err = f.cache.GetRatingSummary(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	sum, err = f.reviews.Summary(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 4.0, sum.Average)
}

func TestReviews_ListNewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.customer(t, "alice", domain.RoleCustomer)
	bob := f.customer(t, "bob", domain.RoleCustomer)
	f.item(t, "a", "1.00", 1)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	f.reviews.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Hour)
	}

	_, err := f.reviews.AddReview(ctx, alice, "a", 3, "first")
	require.NoError(t, err)
	_, err = f.reviews.AddReview(ctx, bob, "a", 4, "second")
	require.NoError(t, err)

	list, err := f.reviews.ListReviews(ctx, "a")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "bob", list[0].CustomerName)
	assert.Equal(t, "alice", list[1].CustomerName)
}

func TestReviews_RequirePurchase(t *testing.T) {
	f := newFixture(t)
	f.reviews.requirePurchase = true
	ctx := context.Background()
	alice := f.customer(t, "alice", domain.RoleCustomer)
	f.item(t, "a", "1.00", 2)

	_, err := f.reviews.AddReview(ctx, alice, "a", 5, "haven't read it")
	assert.ErrorIs(t, err, ErrNotPurchased)

	f.add(t, alice, "a", "1.00", 1)
	bought, err := f.reviews.HasPurchased(ctx, alice, "a")
	require.NoError(t, err)
	assert.False(t, bought, "an open cart is not a purchase")

	_, err = f.checkout.Checkout(ctx, cartOf(t, f, alice).ID)
	require.NoError(t, err)

	bought, err = f.reviews.HasPurchased(ctx, alice, "a")
	require.NoError(t, err)
	assert.True(t, bought)
	_, err = f.reviews.AddReview(ctx, alice, "a", 5, "loved it")
	require.NoError(t, err)
}

// blindReviewStore hides existing reviews from FindReview, as when two
// submissions both pass the lookup before either commits.
type blindReviewStore struct {
	port.Store
}

func (s blindReviewStore) WithinTx(ctx context.Context, fn func(ctx context.Context, q port.Queries) error) error {
	return s.Store.WithinTx(ctx, func(ctx context.Context, q port.Queries) error {
		return fn(ctx, blindReviewQueries{Queries: q})
	})
}

type blindReviewQueries struct {
	port.Queries
}

func (blindReviewQueries) FindReview(context.Context, int64, string) (*domain.Review, error) {
	return nil, nil
}

func TestReviews_DuplicateRejectedByStore(t *testing.T) {
	f := newFixtureWithStore(t, storage.NewMemoryAdapter(), func(s port.Store) port.Store {
		return blindReviewStore{Store: s}
	})
	ctx := context.Background()
	alice := f.customer(t, "alice", domain.RoleCustomer)
	f.item(t, "a", "1.00", 1)

	_, err := f.reviews.AddReview(ctx, alice, "a", 4, "good")
	require.NoError(t, err)
	_, err = f.reviews.AddReview(ctx, alice, "a", 1, "double submit")
	assert.ErrorIs(t, err, ErrDuplicateReview)

	n, err := f.reviews.ReviewCount(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// racingSummaryStore invalidates the item's cached summary right after the
// store read, as a review write committing during the read would.
type racingSummaryStore struct {
	port.Store
	cache port.CacheRepository
}

func (s *racingSummaryStore) View(ctx context.Context, fn func(ctx context.Context, q port.Queries) error) error {
	return s.Store.View(ctx, func(ctx context.Context, q port.Queries) error {
		return fn(ctx, racingSummaryQueries{Queries: q, cache: s.cache})
	})
}

type racingSummaryQueries struct {
	port.Queries
	cache port.CacheRepository
}

func (q racingSummaryQueries) RatingSummary(ctx context.Context, itemKey string) (domain.RatingSummary, error) {
	sum, err := q.Queries.RatingSummary(ctx, itemKey)
	if err != nil {
		return sum, err
	}
	return sum, q.cache.InvalidateRatingSummary(ctx, itemKey)
}

func TestReviews_SummaryNotCachedAfterConcurrentWrite(t *testing.T) {
	racing := &racingSummaryStore{}
	f := newFixtureWithStore(t, storage.NewMemoryAdapter(), func(s port.Store) port.Store {
		racing.Store = s
		return racing
	})
	racing.cache = f.cache
	ctx := context.Background()
	alice := f.customer(t, "alice", domain.RoleCustomer)
	f.item(t, "a", "1.00", 1)

	_, err := f.reviews.AddReview(ctx, alice, "a", 3, "ok")
	require.NoError(t, err)

	sum, err := f.reviews.Summary(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Count)

	_, ok, err := f.cache.GetRatingSummary(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok, "a summary read before an invalidation must not be cached")
}
