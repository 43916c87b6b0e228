package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/bookstore/internal/core/domain"
)

// Wire shapes shared by the HTTP and gRPC adapters. Money is encoded as a
// decimal string.

type Cart struct {
	OrderID    int64           `json:"order_id"`
	CustomerID int64           `json:"customer_id"`
	Status     string          `json:"status"`
	Total      decimal.Decimal `json:"total"`
	CreatedAt  time.Time       `json:"created_at"`
	PlacedAt   *time.Time      `json:"placed_at,omitempty"`
}

type LineItem struct {
	ID       int64           `json:"id"`
	ItemKey  string          `json:"item_key"`
	Title    string          `json:"title"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

type Item struct {
	Key   string          `json:"key"`
	Title string          `json:"title"`
	Price decimal.Decimal `json:"price"`
	Stock int             `json:"stock"`
}

type Review struct {
	ID           int64     `json:"id"`
	ItemKey      string    `json:"item_key"`
	CustomerID   int64     `json:"customer_id"`
	CustomerName string    `json:"customer_name"`
	Rating       int       `json:"rating"`
	Content      string    `json:"content"`
	CreatedAt    time.Time `json:"created_at"`
}

type ReviewList struct {
	Average float64  `json:"average"`
	Count   int      `json:"count"`
	Reviews []Review `json:"reviews"`
}

func toCart(o domain.Order) Cart {
	return Cart{
		OrderID:    o.ID,
		CustomerID: o.CustomerID,
		Status:     string(o.Status),
		Total:      o.Total,
		CreatedAt:  o.CreatedAt,
		PlacedAt:   o.PlacedAt,
	}
}

func toLineItem(l domain.LineItem) LineItem {
	return LineItem{ID: l.ID, ItemKey: l.ItemKey, Title: l.Title, Quantity: l.Quantity, Price: l.PriceAtAdd}
}

func toLineItems(lines []domain.LineItem) []LineItem {
	out := make([]LineItem, 0, len(lines))
	for _, l := range lines {
		out = append(out, toLineItem(l))
	}
	return out
}

func toItem(i domain.Item) Item {
	return Item{Key: i.Key, Title: i.Title, Price: i.Price, Stock: i.Stock}
}

func toReview(r domain.Review) Review {
	return Review{
		ID:           r.ID,
		ItemKey:      r.ItemKey,
		CustomerID:   r.CustomerID,
		CustomerName: r.CustomerName,
		Rating:       r.Rating,
		Content:      r.Content,
		CreatedAt:    r.CreatedAt,
	}
}

// gRPC request and response messages.

type GetOrCreateCartRequest struct {
	CustomerID int64 `json:"customer_id"`
}

type CartResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Cart    *Cart  `json:"cart,omitempty"`
}

type ListCartItemsRequest struct {
	OrderID int64 `json:"order_id"`
}

type LineItemsResponse struct {
	Success bool       `json:"success"`
	Message string     `json:"message"`
	Items   []LineItem `json:"items,omitempty"`
}

type AddToCartRequest struct {
	CustomerID int64            `json:"customer_id"`
	ItemKey    string           `json:"item_key"`
	UnitPrice  *decimal.Decimal `json:"unit_price,omitempty"`
}

type AddToCartResponse struct {
	Success bool      `json:"success"`
	Message string    `json:"message"`
	Item    *LineItem `json:"item,omitempty"`
}

type RemoveFromCartRequest struct {
	LineItemID int64 `json:"line_item_id"`
}

type StatusResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type CheckoutRequest struct {
	RequestID string `json:"request_id,omitempty"`
	OrderID   int64  `json:"order_id"`
}
