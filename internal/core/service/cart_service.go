package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/bookstore/internal/core/domain"
	"github.com/rl1809/bookstore/internal/port"
)

type CartService struct {
	store port.Store
	log   *zap.Logger
	now   func() time.Time
}

func NewCartService(store port.Store, log *zap.Logger) *CartService {
	return &CartService{store: store, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// GetOrCreateCart returns the customer's open order, creating it on first use.
func (s *CartService) GetOrCreateCart(ctx context.Context, customerID int64) (domain.Order, error) {
	if customerID <= 0 {
		return domain.Order{}, validationf("customer id must be positive")
	}

	var cart *domain.Order
	err := s.store.WithinTx(ctx, func(ctx context.Context, q port.Queries) error {
		if err := requireCustomer(ctx, q, customerID); err != nil {
			return err
		}
		var err error
		cart, err = findOrCreateOpenCart(ctx, q, customerID, s.now())
		return err
	})
	if err != nil {
		return domain.Order{}, storeErr(err)
	}
	return *cart, nil
}

// findOrCreateOpenCart relies on the store's one-open-order-per-customer
// constraint: losing a creation race surfaces as ErrDuplicate and the
// winner's cart is read back.
func findOrCreateOpenCart(ctx context.Context, q port.Queries, customerID int64, now time.Time) (*domain.Order, error) {
	cart, err := q.FindOpenOrder(ctx, customerID)
	if err != nil || cart != nil {
		return cart, err
	}

	cart, err = q.CreateOpenOrder(ctx, customerID, now)
	if errors.Is(err, port.ErrDuplicate) {
		cart, err = q.FindOpenOrder(ctx, customerID)
		if err == nil && cart == nil {
			err = fmt.Errorf("open cart for customer %d disappeared", customerID)
		}
	}
	return cart, err
}

func (s *CartService) ListCartItems(ctx context.Context, orderID int64) ([]domain.LineItem, error) {
	var lines []domain.LineItem
	err := s.store.View(ctx, func(ctx context.Context, q port.Queries) error {
		o, err := q.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o == nil {
			return fmt.Errorf("%w: order %d", ErrNotFound, orderID)
		}
		lines, err = q.ListLineItems(ctx, orderID)
		return err
	})
	if err != nil {
		return nil, storeErr(err)
	}
	return lines, nil
}

// AddToCart puts one unit of itemKey into the customer's cart at unitPrice.
// Units already held by other open carts count against stock, so a cart
// never holds more than is left for it.
func (s *CartService) AddToCart(ctx context.Context, customerID int64, itemKey string, unitPrice decimal.Decimal) (domain.LineItem, error) {
	switch {
	case customerID <= 0:
		return domain.LineItem{}, validationf("customer id must be positive")
	case itemKey == "":
		return domain.LineItem{}, validationf("item key is required")
	case unitPrice.IsNegative():
		return domain.LineItem{}, validationf("unit price must not be negative")
	}

	var line *domain.LineItem
	err := s.store.WithinTx(ctx, func(ctx context.Context, q port.Queries) error {
		if err := requireCustomer(ctx, q, customerID); err != nil {
			return err
		}
		cart, err := findOrCreateOpenCart(ctx, q, customerID, s.now())
		if err != nil {
			return err
		}

		item, err := q.LockItem(ctx, itemKey)
		if err != nil {
			return err
		}
		if item == nil {
			return validationf("unknown item %s", itemKey)
		}

		existing, err := q.FindLineItem(ctx, cart.ID, itemKey)
		if err != nil {
			return err
		}
		inCart := 0
		if existing != nil {
			inCart = existing.Quantity
		}
		reserved, err := q.ReservedQuantity(ctx, itemKey, cart.ID)
		if err != nil {
			return err
		}
		if inCart+1 > item.Stock-reserved {
			return fmt.Errorf("%w: item %s has %d available, cart holds %d",
				ErrInsufficientStock, itemKey, item.Stock-reserved, inCart)
		}

		if existing != nil {
			if err := q.IncrementLineItem(ctx, existing.ID, 1); err != nil {
				return err
			}
		} else {
			if _, err := q.InsertLineItem(ctx, domain.LineItem{
				OrderID:    cart.ID,
				ItemKey:    itemKey,
				Quantity:   1,
				PriceAtAdd: unitPrice,
			}); err != nil {
				return err
			}
		}

		if _, err := recomputeTotal(ctx, q, cart.ID); err != nil {
			return err
		}
		line, err = q.FindLineItem(ctx, cart.ID, itemKey)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientStock) {
			s.log.Info("add to cart refused",
				zap.Int64("customer_id", customerID),
				zap.String("item_key", itemKey),
				zap.Error(err),
			)
		}
		return domain.LineItem{}, storeErr(err)
	}
	return *line, nil
}

// RemoveFromCart deletes a line and recomputes its order's total. A missing
// line is a no-op.
func (s *CartService) RemoveFromCart(ctx context.Context, lineItemID int64) error {
	err := s.store.WithinTx(ctx, func(ctx context.Context, q port.Queries) error {
		line, err := q.GetLineItem(ctx, lineItemID)
		if err != nil || line == nil {
			return err
		}
		order, err := q.LockOrder(ctx, line.OrderID)
		if err != nil {
			return err
		}
		if order == nil {
			return fmt.Errorf("%w: order %d", ErrNotFound, line.OrderID)
		}
		if !order.IsOpen() {
			return fmt.Errorf("%w: order %d", ErrOrderNotOpen, order.ID)
		}
		if _, err := q.DeleteLineItem(ctx, lineItemID); err != nil {
			return err
		}
		_, err = recomputeTotal(ctx, q, order.ID)
		return err
	})
	return storeErr(err)
}

// RecomputeTotal resets an order's stored total from its line items.
func (s *CartService) RecomputeTotal(ctx context.Context, orderID int64) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := s.store.WithinTx(ctx, func(ctx context.Context, q port.Queries) error {
		o, err := q.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o == nil {
			return fmt.Errorf("%w: order %d", ErrNotFound, orderID)
		}
		total, err = recomputeTotal(ctx, q, orderID)
		return err
	})
	if err != nil {
		return decimal.Zero, storeErr(err)
	}
	return total, nil
}

func recomputeTotal(ctx context.Context, q port.Queries, orderID int64) (decimal.Decimal, error) {
	total, err := q.SumLineItems(ctx, orderID)
	if err != nil {
		return decimal.Zero, err
	}
	if err := q.SetOrderTotal(ctx, orderID, total); err != nil {
		return decimal.Zero, err
	}
	return total, nil
}

func (s *CartService) GetOrder(ctx context.Context, orderID int64) (domain.Order, error) {
	var o *domain.Order
	err := s.store.View(ctx, func(ctx context.Context, q port.Queries) error {
		var err error
		o, err = q.GetOrder(ctx, orderID)
		return err
	})
	if err != nil {
		return domain.Order{}, storeErr(err)
	}
	if o == nil {
		return domain.Order{}, fmt.Errorf("%w: order %d", ErrNotFound, orderID)
	}
	return *o, nil
}

// ListOrders returns the customer's orders, newest first, open cart included.
func (s *CartService) ListOrders(ctx context.Context, customerID int64) ([]domain.Order, error) {
	if customerID <= 0 {
		return nil, validationf("customer id must be positive")
	}
	var orders []domain.Order
	err := s.store.View(ctx, func(ctx context.Context, q port.Queries) error {
		var err error
		orders, err = q.ListOrders(ctx, customerID)
		return err
	})
	if err != nil {
		return nil, storeErr(err)
	}
	return orders, nil
}
