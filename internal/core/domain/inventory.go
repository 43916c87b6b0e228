package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Item is a catalog entry keyed by ISBN. Stock is only changed by the
// inventory ledger.
type Item struct {
	Key       string
	Title     string
	Price     decimal.Decimal
	Stock     int
	Version   int64 // bumped on every stock change
	UpdatedAt time.Time
}

// CanSupply reports whether the item has at least quantity units in stock.
func (i Item) CanSupply(quantity int) bool {
	return quantity > 0 && quantity <= i.Stock
}
