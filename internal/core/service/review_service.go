package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/bookstore/internal/core/domain"
	"github.com/rl1809/bookstore/internal/port"
)

type ReviewService struct {
	store           port.Store
	cache           port.CacheRepository
	log             *zap.Logger
	requirePurchase bool
	now             func() time.Time
}

// NewReviewService builds the service. With requirePurchase set, only
// customers with a placed order containing the item may review it.
func NewReviewService(store port.Store, cache port.CacheRepository, log *zap.Logger, requirePurchase bool) *ReviewService {
	return &ReviewService{
		store:           store,
		cache:           cache,
		log:             log,
		requirePurchase: requirePurchase,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

func validateReview(rating int, content string) error {
	if !domain.ValidRating(rating) {
		return validationf("rating must be between %d and %d, got %d", domain.MinRating, domain.MaxRating, rating)
	}
	if strings.TrimSpace(content) == "" {
		return validationf("review content is required")
	}
	return nil
}

func (s *ReviewService) AddReview(ctx context.Context, customerID int64, itemKey string, rating int, content string) (domain.Review, error) {
	if itemKey == "" {
		return domain.Review{}, validationf("item key is required")
	}
	if err := validateReview(rating, content); err != nil {
		return domain.Review{}, err
	}

	var out *domain.Review
	err := s.store.WithinTx(ctx, func(ctx context.Context, q port.Queries) error {
		if err := requireCustomer(ctx, q, customerID); err != nil {
			return err
		}
		item, err := q.GetItem(ctx, itemKey)
		if err != nil {
			return err
		}
		if item == nil {
			return validationf("unknown item %s", itemKey)
		}

		existing, err := q.FindReview(ctx, customerID, itemKey)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: review %d", ErrDuplicateReview, existing.ID)
		}
		if s.requirePurchase {
			bought, err := q.HasPurchased(ctx, customerID, itemKey)
			if err != nil {
				return err
			}
			if !bought {
				return fmt.Errorf("%w: %s", ErrNotPurchased, itemKey)
			}
		}

		id, err := q.InsertReview(ctx, domain.Review{
			ItemKey:    itemKey,
			CustomerID: customerID,
			Rating:     rating,
			Content:    content,
			CreatedAt:  s.now(),
		})
		if errors.Is(err, port.ErrDuplicate) {
			return fmt.Errorf("%w: %s", ErrDuplicateReview, itemKey)
		}
		if err != nil {
			return err
		}
		out, err = q.GetReview(ctx, id)
		return err
	})
	if err != nil {
		return domain.Review{}, storeErr(err)
	}

	s.invalidate(ctx, itemKey)
	return *out, nil
}

// UpdateReview changes rating and content. Only the author may update.
func (s *ReviewService) UpdateReview(ctx context.Context, actorID, reviewID int64, rating int, content string) (domain.Review, error) {
	if err := validateReview(rating, content); err != nil {
		return domain.Review{}, err
	}

	var out *domain.Review
	err := s.store.WithinTx(ctx, func(ctx context.Context, q port.Queries) error {
		r, err := ownedReview(ctx, q, actorID, reviewID)
		if err != nil {
			return err
		}
		r.Rating = rating
		r.Content = content
		if err := q.UpdateReview(ctx, *r); err != nil {
			return err
		}
		out, err = q.GetReview(ctx, reviewID)
		return err
	})
	if err != nil {
		return domain.Review{}, storeErr(err)
	}

	s.invalidate(ctx, out.ItemKey)
	return *out, nil
}

// DeleteReview removes a review. Only the author may delete.
func (s *ReviewService) DeleteReview(ctx context.Context, actorID, reviewID int64) error {
	var itemKey string
	err := s.store.WithinTx(ctx, func(ctx context.Context, q port.Queries) error {
		r, err := ownedReview(ctx, q, actorID, reviewID)
		if err != nil {
			return err
		}
		itemKey = r.ItemKey
		_, err = q.DeleteReview(ctx, reviewID)
		return err
	})
	if err != nil {
		return storeErr(err)
	}

	s.invalidate(ctx, itemKey)
	return nil
}

func ownedReview(ctx context.Context, q port.Queries, actorID, reviewID int64) (*domain.Review, error) {
	r, err := q.GetReview(ctx, reviewID)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, fmt.Errorf("%w: review %d", ErrNotFound, reviewID)
	}
	if r.CustomerID != actorID {
		return nil, fmt.Errorf("%w: review %d belongs to another customer", ErrForbidden, reviewID)
	}
	return r, nil
}

// Summary returns the rating average and count for an item, served from
// cache when present. A summary read from the store is cached only if no
// review write invalidated the item in the meantime.
func (s *ReviewService) Summary(ctx context.Context, itemKey string) (domain.RatingSummary, error) {
	if sum, ok, err := s.cache.GetRatingSummary(ctx, itemKey); err != nil {
		s.log.Warn("rating cache read", zap.String("item_key", itemKey), zap.Error(err))
	} else if ok {
		return sum, nil
	}

	gen, genErr := s.cache.RatingGeneration(ctx, itemKey)
	if genErr != nil {
		s.log.Warn("rating cache generation", zap.String("item_key", itemKey), zap.Error(genErr))
	}

	var sum domain.RatingSummary
	err := s.store.View(ctx, func(ctx context.Context, q port.Queries) error {
		var err error
		sum, err = q.RatingSummary(ctx, itemKey)
		return err
	})
	if err != nil {
		return domain.RatingSummary{}, storeErr(err)
	}

	if genErr == nil {
		if _, err := s.cache.SetRatingSummary(ctx, itemKey, gen, sum); err != nil {
			s.log.Warn("rating cache write", zap.String("item_key", itemKey), zap.Error(err))
		}
	}
	return sum, nil
}

// AverageRating is the mean rating, 0 when the item has no reviews.
func (s *ReviewService) AverageRating(ctx context.Context, itemKey string) (float64, error) {
	sum, err := s.Summary(ctx, itemKey)
	return sum.Average, err
}

func (s *ReviewService) ReviewCount(ctx context.Context, itemKey string) (int, error) {
	sum, err := s.Summary(ctx, itemKey)
	return sum.Count, err
}

func (s *ReviewService) ListReviews(ctx context.Context, itemKey string) ([]domain.Review, error) {
	var out []domain.Review
	err := s.store.View(ctx, func(ctx context.Context, q port.Queries) error {
		var err error
		out, err = q.ListReviews(ctx, itemKey)
		return err
	})
	if err != nil {
		return nil, storeErr(err)
	}
	return out, nil
}

// CustomerReview returns the customer's own review of an item.
func (s *ReviewService) CustomerReview(ctx context.Context, customerID int64, itemKey string) (domain.Review, error) {
	var r *domain.Review
	err := s.store.View(ctx, func(ctx context.Context, q port.Queries) error {
		var err error
		r, err = q.FindReview(ctx, customerID, itemKey)
		return err
	})
	if err != nil {
		return domain.Review{}, storeErr(err)
	}
	if r == nil {
		return domain.Review{}, fmt.Errorf("%w: no review by %d for %s", ErrNotFound, customerID, itemKey)
	}
	return *r, nil
}

func (s *ReviewService) HasPurchased(ctx context.Context, customerID int64, itemKey string) (bool, error) {
	var ok bool
	err := s.store.View(ctx, func(ctx context.Context, q port.Queries) error {
		var err error
		ok, err = q.HasPurchased(ctx, customerID, itemKey)
		return err
	})
	if err != nil {
		return false, storeErr(err)
	}
	return ok, nil
}

func (s *ReviewService) invalidate(ctx context.Context, itemKey string) {
	if err := s.cache.InvalidateRatingSummary(ctx, itemKey); err != nil {
		s.log.Warn("rating cache invalidate", zap.String("item_key", itemKey), zap.Error(err))
	}
}
