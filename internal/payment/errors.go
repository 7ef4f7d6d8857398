package payment

import (
	"errors"

	"github.com/vasiliy-maslov/bookstore-microservices/internal/apperr"
)

var (
	ErrPaymentNotFound    = apperr.NotFound("payment not found")
	ErrInvalidRequest     = apperr.Validation("invalid payment request")
	ErrInvalidAmount      = apperr.Validation("amount must be positive")
	ErrUnsupportedMethod  = apperr.Validation("unsupported payment method")
	ErrUnknownStatus      = apperr.Validation("unknown payment status")
	ErrMissingCardInfo    = apperr.Validation("card details are required")
	ErrMissingPaypalEmail = apperr.Validation("paypal email is required")
	ErrNotRefundable      = apperr.BusinessRule("only succeeded payments can be refunded")
	ErrMissingTransaction = apperr.BusinessRule("payment has no gateway transaction id")
	ErrNotCancellable     = apperr.BusinessRule("only pending or processing payments can be cancelled")
	ErrInvalidTransition  = apperr.BusinessRule("invalid payment status transition")
	ErrAlreadyPaid        = apperr.BusinessRule("order is already paid")
	ErrPaymentInProgress  = apperr.BusinessRule("order already has a payment in progress")
	ErrRefundRejected     = apperr.Gateway("refund rejected by gateway")

	// ErrStaleStatus is returned by Repository.Update when the stored status
	// no longer matches the expected one.
	ErrStaleStatus = errors.New("payment status changed concurrently")

	// ErrDuplicateReference is returned by Repository.Create when the payment
	// reference is already taken.
	ErrDuplicateReference = errors.New("payment reference already exists")
)

// Reasons a card is declined before reaching the gateway.
var (
	errCardNumber = errors.New("invalid card number")
	errCardMonth  = errors.New("invalid expiry month")
	errCardYear   = errors.New("invalid expiry year")
	errCardExpiry = errors.New("card expired")
)
