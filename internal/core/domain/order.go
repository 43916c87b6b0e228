package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusOpen   OrderStatus = "open"
	OrderStatusPlaced OrderStatus = "placed"
)

// Order is a customer's cart while open and an immutable record once placed.
type Order struct {
	ID         int64
	CustomerID int64
	Status     OrderStatus
	Total      decimal.Decimal
	CreatedAt  time.Time
	PlacedAt   *time.Time
}

func (o Order) IsOpen() bool {
	return o.Status == OrderStatusOpen
}

// LineItem is one (order, item) pair. PriceAtAdd is the unit price captured
// when the item first entered the cart.
type LineItem struct {
	ID         int64
	OrderID    int64
	ItemKey    string
	Title      string
	Quantity   int
	PriceAtAdd decimal.Decimal
}

func (l LineItem) Subtotal() decimal.Decimal {
	return l.PriceAtAdd.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// SumLineItems returns the order total for the given lines.
func SumLineItems(lines []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Subtotal())
	}
	return total
}
