package domain

import "time"

const (
	MinRating = 1
	MaxRating = 5
)

type Review struct {
	ID           int64
	ItemKey      string
	CustomerID   int64
	CustomerName string // filled on listing
	Rating       int
	Content      string
	CreatedAt    time.Time
}

func ValidRating(rating int) bool {
	return rating >= MinRating && rating <= MaxRating
}

// RatingSummary aggregates the ratings of one item. Average is 0 when
// Count is 0.
type RatingSummary struct {
	Average float64
	Count   int
}
