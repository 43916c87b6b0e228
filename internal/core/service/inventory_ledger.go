package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/rl1809/bookstore/internal/core/domain"
	"github.com/rl1809/bookstore/internal/port"
)

// InventoryLedger is the only writer of item stock.
type InventoryLedger struct {
	store port.Store
	log   *zap.Logger
}

func NewInventoryLedger(store port.Store, log *zap.Logger) *InventoryLedger {
	return &InventoryLedger{store: store, log: log}
}

// DebitStock must run inside the caller's transaction. It re-reads the item
// under a row lock and debits only when quantity fits in current stock.
func (l *InventoryLedger) DebitStock(ctx context.Context, q port.Queries, itemKey string, quantity int) error {
	if quantity <= 0 {
		return validationf("quantity must be positive, got %d", quantity)
	}

	item, err := q.LockItem(ctx, itemKey)
	if err != nil {
		return err
	}
	if item == nil {
		return fmt.Errorf("%w: item %s", ErrNotFound, itemKey)
	}
	if !item.CanSupply(quantity) {
		return fmt.Errorf("%w: item %s has %d, need %d", ErrInsufficientStock, itemKey, item.Stock, quantity)
	}

	ok, err := q.DebitStock(ctx, itemKey, quantity)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: item %s", ErrInsufficientStock, itemKey)
	}
	return nil
}

// Restock adds quantity units. Only admins may restock.
func (l *InventoryLedger) Restock(ctx context.Context, actorID int64, itemKey string, quantity int) (domain.Item, error) {
	if quantity <= 0 {
		return domain.Item{}, validationf("quantity must be positive, got %d", quantity)
	}

	var out domain.Item
	err := l.store.WithinTx(ctx, func(ctx context.Context, q port.Queries) error {
		if err := requireAdmin(ctx, q, actorID); err != nil {
			return err
		}
		ok, err := q.RestockItem(ctx, itemKey, quantity)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: item %s", ErrNotFound, itemKey)
		}
		item, err := q.GetItem(ctx, itemKey)
		if err != nil {
			return err
		}
		out = *item
		return nil
	})
	if err != nil {
		return domain.Item{}, storeErr(err)
	}

	l.log.Info("item restocked",
		zap.String("item_key", itemKey),
		zap.Int("quantity", quantity),
		zap.Int("stock", out.Stock),
		zap.Int64("actor_id", actorID),
	)
	return out, nil
}

// PutItem creates or replaces a catalog entry. Only admins may call it.
func (l *InventoryLedger) PutItem(ctx context.Context, actorID int64, item domain.Item) (domain.Item, error) {
	switch {
	case item.Key == "":
		return domain.Item{}, validationf("item key is required")
	case item.Title == "":
		return domain.Item{}, validationf("title is required")
	case item.Price.IsNegative():
		return domain.Item{}, validationf("price must not be negative")
	case item.Stock < 0:
		return domain.Item{}, validationf("stock must not be negative")
	}

	var out domain.Item
	err := l.store.WithinTx(ctx, func(ctx context.Context, q port.Queries) error {
		if err := requireAdmin(ctx, q, actorID); err != nil {
			return err
		}
		if err := q.PutItem(ctx, item); err != nil {
			return err
		}
		saved, err := q.GetItem(ctx, item.Key)
		if err != nil {
			return err
		}
		out = *saved
		return nil
	})
	if err != nil {
		return domain.Item{}, storeErr(err)
	}
	return out, nil
}

func (l *InventoryLedger) Item(ctx context.Context, itemKey string) (domain.Item, error) {
	var out *domain.Item
	err := l.store.View(ctx, func(ctx context.Context, q port.Queries) error {
		var err error
		out, err = q.GetItem(ctx, itemKey)
		return err
	})
	if err != nil {
		return domain.Item{}, storeErr(err)
	}
	if out == nil {
		return domain.Item{}, fmt.Errorf("%w: item %s", ErrNotFound, itemKey)
	}
	return *out, nil
}

func requireAdmin(ctx context.Context, q port.Queries, actorID int64) error {
	c, err := q.GetCustomer(ctx, actorID)
	if err != nil {
		return err
	}
	if c == nil || !c.IsAdmin() {
		return fmt.Errorf("%w: customer %d is not an admin", ErrForbidden, actorID)
	}
	return nil
}

func requireCustomer(ctx context.Context, q port.Queries, customerID int64) error {
	if customerID <= 0 {
		return validationf("customer id must be positive")
	}
	c, err := q.GetCustomer(ctx, customerID)
	if err != nil {
		return err
	}
	if c == nil {
		return validationf("unknown customer %d", customerID)
	}
	return nil
}
