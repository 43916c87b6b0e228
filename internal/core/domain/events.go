package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const EventOrderPlaced = "OrderPlaced"

type OrderPlacedLine struct {
	ItemKey    string          `json:"item_key"`
	Quantity   int             `json:"quantity"`
	PriceAtAdd decimal.Decimal `json:"price_at_add"`
}

type OrderPlaced struct {
	OrderID    int64             `json:"order_id"`
	CustomerID int64             `json:"customer_id"`
	Total      decimal.Decimal   `json:"total"`
	Lines      []OrderPlacedLine `json:"lines"`
	PlacedAt   time.Time         `json:"placed_at"`
}

func NewOrderPlaced(o Order, lines []LineItem) OrderPlaced {
	ev := OrderPlaced{
		OrderID:    o.ID,
		CustomerID: o.CustomerID,
		Total:      o.Total,
		Lines:      make([]OrderPlacedLine, 0, len(lines)),
	}
	if o.PlacedAt != nil {
		ev.PlacedAt = *o.PlacedAt
	}
	for _, l := range lines {
		ev.Lines = append(ev.Lines, OrderPlacedLine{ItemKey: l.ItemKey, Quantity: l.Quantity, PriceAtAdd: l.PriceAtAdd})
	}
	return ev
}
