package port

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/bookstore/internal/core/domain"
	"github.com/rl1809/bookstore/internal/outbox"
)

// ErrDuplicate is returned when a write violates a uniqueness constraint,
// such as a second open order for one customer.
var ErrDuplicate = errors.New("duplicate key")

// Lookups return (nil, nil) when the row does not exist.

type ItemRepository interface {
	GetItem(ctx context.Context, key string) (*domain.Item, error)
	// LockItem reads the current row and, inside a transaction, holds it
	// until commit or rollback.
	LockItem(ctx context.Context, key string) (*domain.Item, error)
	PutItem(ctx context.Context, item domain.Item) error
	// DebitStock decrements stock by quantity only if at least quantity is
	// available. It reports whether the row changed.
	DebitStock(ctx context.Context, key string, quantity int) (bool, error)
	RestockItem(ctx context.Context, key string, quantity int) (bool, error)
}

type CustomerRepository interface {
	GetCustomer(ctx context.Context, id int64) (*domain.Customer, error)
	CreateCustomer(ctx context.Context, c domain.Customer) (int64, error)
}

type OrderRepository interface {
	// FindOpenOrder is a locking read inside a transaction.
	FindOpenOrder(ctx context.Context, customerID int64) (*domain.Order, error)
	// CreateOpenOrder returns ErrDuplicate when the customer already has one.
	CreateOpenOrder(ctx context.Context, customerID int64, createdAt time.Time) (*domain.Order, error)
	GetOrder(ctx context.Context, orderID int64) (*domain.Order, error)
	LockOrder(ctx context.Context, orderID int64) (*domain.Order, error)
	ListOrders(ctx context.Context, customerID int64) ([]domain.Order, error)
	SetOrderTotal(ctx context.Context, orderID int64, total decimal.Decimal) error
	// MarkOrderPlaced flips an open order to placed. It reports false when
	// the order was not open.
	MarkOrderPlaced(ctx context.Context, orderID int64, placedAt time.Time) (bool, error)

	GetLineItem(ctx context.Context, lineItemID int64) (*domain.LineItem, error)
	FindLineItem(ctx context.Context, orderID int64, itemKey string) (*domain.LineItem, error)
	InsertLineItem(ctx context.Context, li domain.LineItem) (int64, error)
	IncrementLineItem(ctx context.Context, lineItemID int64, delta int) error
	DeleteLineItem(ctx context.Context, lineItemID int64) (bool, error)
	// ListLineItems returns lines ordered by id, with item titles.
	ListLineItems(ctx context.Context, orderID int64) ([]domain.LineItem, error)
	SumLineItems(ctx context.Context, orderID int64) (decimal.Decimal, error)
	// ReservedQuantity sums the units of itemKey held by open orders other
	// than excludeOrderID.
	ReservedQuantity(ctx context.Context, itemKey string, excludeOrderID int64) (int, error)
}

type ReviewRepository interface {
	// InsertReview returns ErrDuplicate when the customer already reviewed the item.
	InsertReview(ctx context.Context, r domain.Review) (int64, error)
	GetReview(ctx context.Context, reviewID int64) (*domain.Review, error)
	FindReview(ctx context.Context, customerID int64, itemKey string) (*domain.Review, error)
	UpdateReview(ctx context.Context, r domain.Review) error
	DeleteReview(ctx context.Context, reviewID int64) (bool, error)
	// ListReviews returns newest first, with author names.
	ListReviews(ctx context.Context, itemKey string) ([]domain.Review, error)
	RatingSummary(ctx context.Context, itemKey string) (domain.RatingSummary, error)
	// HasPurchased reports whether the customer has a placed order containing the item.
	HasPurchased(ctx context.Context, customerID int64, itemKey string) (bool, error)
}

type OutboxRepository interface {
	AppendEvent(ctx context.Context, ev outbox.Event) error
}

type Queries interface {
	ItemRepository
	CustomerRepository
	OrderRepository
	ReviewRepository
	OutboxRepository
}

// Store is the transactional boundary.
type Store interface {
	// WithinTx runs fn in one transaction. It commits when fn returns nil
	// and rolls back on error or panic.
	WithinTx(ctx context.Context, fn func(ctx context.Context, q Queries) error) error

	// View runs fn without a transaction.
	View(ctx context.Context, fn func(ctx context.Context, q Queries) error) error
}
