package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/bookstore/internal/core/domain"
	"github.com/rl1809/bookstore/internal/outbox"
	"github.com/rl1809/bookstore/internal/port"
)

// CheckoutService seals an open cart into a placed order.
type CheckoutService struct {
	store  port.Store
	cache  port.CacheRepository
	ledger *InventoryLedger
	log    *zap.Logger
	now    func() time.Time
}

func NewCheckoutService(store port.Store, cache port.CacheRepository, ledger *InventoryLedger, log *zap.Logger) *CheckoutService {
	return &CheckoutService{
		store:  store,
		cache:  cache,
		ledger: ledger,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Checkout verifies and debits stock for every line, then flips the order
// to placed, all in one transaction. On any failure nothing changes and the
// order stays open.
func (s *CheckoutService) Checkout(ctx context.Context, orderID int64) (domain.Order, error) {
	var placed domain.Order
	err := s.store.WithinTx(ctx, func(ctx context.Context, q port.Queries) error {
		order, err := q.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order == nil {
			return fmt.Errorf("%w: order %d", ErrNotFound, orderID)
		}
		if !order.IsOpen() {
			return fmt.Errorf("%w: order %d is %s", ErrOrderNotOpen, orderID, order.Status)
		}

		lines, err := q.ListLineItems(ctx, orderID)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return fmt.Errorf("%w: order %d", ErrEmptyCart, orderID)
		}

		// Item rows are locked in key order so concurrent checkouts sharing
		// items cannot deadlock each other.
		sorted := slices.Clone(lines)
		slices.SortFunc(sorted, func(a, b domain.LineItem) int { return strings.Compare(a.ItemKey, b.ItemKey) })

		for _, li := range sorted {
			item, err := q.LockItem(ctx, li.ItemKey)
			if err != nil {
				return err
			}
			if item == nil || !item.CanSupply(li.Quantity) {
				return fmt.Errorf("%w: %w: item %s", ErrCheckoutFailed, ErrInsufficientStock, li.ItemKey)
			}
		}
		for _, li := range sorted {
			if err := s.ledger.DebitStock(ctx, q, li.ItemKey, li.Quantity); err != nil {
				if errors.Is(err, ErrInsufficientStock) || errors.Is(err, ErrNotFound) {
					return fmt.Errorf("%w: %w", ErrCheckoutFailed, err)
				}
				return err
			}
		}

		total, err := recomputeTotal(ctx, q, orderID)
		if err != nil {
			return err
		}
		placedAt := s.now()
		ok, err := q.MarkOrderPlaced(ctx, orderID, placedAt)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: order %d", ErrOrderNotOpen, orderID)
		}

		placed = *order
		placed.Status = domain.OrderStatusPlaced
		placed.Total = total
		placed.PlacedAt = &placedAt

		return appendOrderPlaced(ctx, q, placed, lines)
	})
	if err != nil {
		s.log.Warn("checkout failed", zap.Int64("order_id", orderID), zap.Error(err))
		return domain.Order{}, storeErr(err)
	}

	s.log.Info("order placed",
		zap.Int64("order_id", placed.ID),
		zap.Int64("customer_id", placed.CustomerID),
		zap.String("total", placed.Total.StringFixed(2)),
	)
	return placed, nil
}

// CheckoutOnce runs Checkout at most once per requestID. A failed checkout
// releases the claim so the client can retry with the same id.
func (s *CheckoutService) CheckoutOnce(ctx context.Context, requestID string, orderID int64) (domain.Order, error) {
	if requestID == "" {
		return domain.Order{}, validationf("request id is required")
	}
	key := fmt.Sprintf("%s:%d", requestID, orderID)

	ok, err := s.cache.SetIdempotency(ctx, key)
	if err != nil {
		return domain.Order{}, fmt.Errorf("%w: idempotency check: %v", ErrTransaction, err)
	}
	if !ok {
		return domain.Order{}, ErrDuplicateRequest
	}

	placed, err := s.Checkout(ctx, orderID)
	if err != nil {
		if relErr := s.cache.ReleaseIdempotency(context.WithoutCancel(ctx), key); relErr != nil {
			s.log.Error("release idempotency key", zap.String("key", key), zap.Error(relErr))
		}
		return domain.Order{}, err
	}
	return placed, nil
}

func appendOrderPlaced(ctx context.Context, q port.Queries, o domain.Order, lines []domain.LineItem) error {
	payload, err := json.Marshal(domain.NewOrderPlaced(o, lines))
	if err != nil {
		return fmt.Errorf("encode order placed: %w", err)
	}
	return q.AppendEvent(ctx, outbox.Event{
		AggregateType: "order",
		AggregateID:   strconv.FormatInt(o.ID, 10),
		Type:          domain.EventOrderPlaced,
		Payload:       payload,
		Headers:       outbox.TraceHeaders(ctx),
		CreatedAt:     *o.PlacedAt,
	})
}
