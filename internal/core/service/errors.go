package service

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrCheckoutFailed    = errors.New("checkout failed")
	ErrNotFound          = errors.New("not found")
	ErrOrderNotOpen      = errors.New("order is not open")
	ErrEmptyCart         = errors.New("cart is empty")
	ErrTransaction       = errors.New("transaction failed")
	ErrForbidden         = errors.New("forbidden")
	ErrDuplicateReview   = errors.New("customer already reviewed this item")
	ErrNotPurchased      = errors.New("customer has not purchased this item")
	ErrDuplicateRequest  = errors.New("duplicate request")
)

var taxonomy = []error{
	ErrValidation,
	ErrInsufficientStock,
	ErrCheckoutFailed,
	ErrNotFound,
	ErrOrderNotOpen,
	ErrEmptyCart,
	ErrTransaction,
	ErrForbidden,
	ErrDuplicateReview,
	ErrNotPurchased,
	ErrDuplicateRequest,
}

// storeErr passes typed failures through unchanged and folds anything else
// into ErrTransaction. Only the message of a store error is kept.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range taxonomy {
		if errors.Is(err, known) {
			return err
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTransaction, err)
	}
	return fmt.Errorf("%w: %v", ErrTransaction, err)
}

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
