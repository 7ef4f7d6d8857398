// Package events defines the payloads exchanged between the order and payment
// services. Each topic carries exactly one event type.
package events

import (
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

const (
	TopicOrderPayment   = "order.payment"
	TopicOrderClearCart = "order.clear-cart"
	TopicOrderStatus    = "order.status"
	TopicPaymentStatus  = "payment.status"
	TopicPaymentRefund  = "payment.refund"
)

// OrderPayment asks the payment service to collect the order amount.
type OrderPayment struct {
	OrderID       uuid.UUID       `json:"order_id"`
	OrderNumber   string          `json:"order_number"`
	UserID        uuid.UUID       `json:"user_id"`
	UserEmail     string          `json:"user_email"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"payment_method"`
	Timestamp     time.Time       `json:"timestamp"`
}

type OrderClearCart struct {
	UserID    uuid.UUID `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}

type OrderStatus struct {
	OrderID     uuid.UUID `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	UserID      uuid.UUID `json:"user_id"`
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
}

type PaymentStatus struct {
	PaymentID        uuid.UUID       `json:"payment_id"`
	PaymentReference string          `json:"payment_reference"`
	OrderID          uuid.UUID       `json:"order_id"`
	OrderNumber      string          `json:"order_number"`
	UserID           uuid.UUID       `json:"user_id"`
	Amount           decimal.Decimal `json:"amount"`
	Status           string          `json:"status"`
	TransactionID    string          `json:"transaction_id,omitempty"`
	Timestamp        time.Time       `json:"timestamp"`
}

type PaymentRefund struct {
	PaymentID        uuid.UUID       `json:"payment_id"`
	PaymentReference string          `json:"payment_reference"`
	OrderID          uuid.UUID       `json:"order_id"`
	Amount           decimal.Decimal `json:"amount"`
	RefundReference  string          `json:"refund_reference"`
	Timestamp        time.Time       `json:"timestamp"`
}
