package order

import (
	"errors"

	"github.com/vasiliy-maslov/bookstore-microservices/internal/apperr"
)

var (
	ErrOrderNotFound     = apperr.NotFound("order not found")
	ErrBookNotFound      = apperr.NotFound("book not found")
	ErrEmptyCart         = apperr.BusinessRule("cart is empty")
	ErrInsufficientStock = apperr.BusinessRule("insufficient stock")
	ErrInvalidTransition = apperr.BusinessRule("invalid order status transition")
	ErrUnknownStatus     = apperr.Validation("unknown order status")
	ErrInvalidCheckout   = apperr.Validation("invalid checkout request")

	ErrTrackingNumberRequired = apperr.Validation("tracking number is required")

	// ErrDuplicateOrderNumber is returned by the repository when the
	// generated order number is already taken.
	ErrDuplicateOrderNumber = errors.New("order number already exists")
)
