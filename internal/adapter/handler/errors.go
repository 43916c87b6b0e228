package handler

import (
	"errors"
	"net/http"

	"github.com/rl1809/bookstore/internal/core/service"
)

type failure struct {
	target  error
	status  int
	message string
}

// failures is checked in order; checkout errors wrap ErrInsufficientStock
// so ErrCheckoutFailed must come first.
var failures = []failure{
	{service.ErrValidation, http.StatusBadRequest, "invalid request"},
	{service.ErrDuplicateRequest, http.StatusConflict, "duplicate request"},
	{service.ErrCheckoutFailed, http.StatusConflict, "out of stock"},
	{service.ErrInsufficientStock, http.StatusGone, "sold out"},
	{service.ErrNotFound, http.StatusNotFound, "not found"},
	{service.ErrOrderNotOpen, http.StatusConflict, "order already placed"},
	{service.ErrEmptyCart, http.StatusUnprocessableEntity, "cart is empty"},
	{service.ErrForbidden, http.StatusForbidden, "forbidden"},
	{service.ErrDuplicateReview, http.StatusConflict, "already reviewed"},
	{service.ErrNotPurchased, http.StatusForbidden, "purchase required"},
}

// classify maps a service error to an HTTP status and a client-safe message.
func classify(err error) (int, string) {
	for _, f := range failures {
		if errors.Is(err, f.target) {
			if f.target == service.ErrValidation {
				return f.status, err.Error()
			}
			return f.status, f.message
		}
	}
	return http.StatusInternalServerError, "internal error"
}
