package payment

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

const DefaultCurrency = "EUR"

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusSucceeded  Status = "SUCCEEDED"
	StatusFailed     Status = "FAILED"
	StatusRefunded   Status = "REFUNDED"
	StatusCancelled  Status = "CANCELLED"
)

func (s Status) String() string {
	return string(s)
}

var allowedTransitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusSucceeded, StatusFailed, StatusCancelled},
	StatusSucceeded:  {StatusRefunded},
}

func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range allowedTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Settled reports whether no further charge can happen for this payment's
// order without a new payment.
func (s Status) Settled() bool {
	return s == StatusFailed || s == StatusCancelled
}

// ParseStatus accepts any letter case and rejects unknown values with
// ErrUnknownStatus.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(raw)))
	switch s {
	case StatusPending, StatusProcessing, StatusSucceeded, StatusFailed, StatusRefunded, StatusCancelled:
		return s, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, raw)
	}
}

type Method string

const (
	MethodCreditCard   Method = "CREDIT_CARD"
	MethodDebitCard    Method = "DEBIT_CARD"
	MethodPaypal       Method = "PAYPAL"
	MethodBankTransfer Method = "BANK_TRANSFER"
)

func (m Method) String() string {
	return string(m)
}

func (m Method) IsCard() bool {
	return m == MethodCreditCard || m == MethodDebitCard
}

func ParseMethod(raw string) (Method, error) {
	m := Method(strings.ToUpper(strings.TrimSpace(raw)))
	switch m {
	case MethodCreditCard, MethodDebitCard, MethodPaypal, MethodBankTransfer:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedMethod, raw)
	}
}

// Payment is one attempt to collect an order amount. Card payments keep only
// the last four digits and the brand of the card.
type Payment struct {
	ID                   uuid.UUID       `db:"id" json:"id"`
	PaymentReference     string          `db:"payment_reference" json:"payment_reference"`
	OrderID              uuid.UUID       `db:"order_id" json:"order_id"`
	OrderNumber          string          `db:"order_number" json:"order_number"`
	UserID               uuid.UUID       `db:"user_id" json:"user_id"`
	UserEmail            string          `db:"user_email" json:"user_email"`
	Amount               decimal.Decimal `db:"amount" json:"amount"`
	Currency             string          `db:"currency" json:"currency"`
	Status               Status          `db:"status" json:"status"`
	PaymentMethod        Method          `db:"payment_method" json:"payment_method"`
	CardLastFour         string          `db:"card_last_four" json:"card_last_four,omitempty"`
	CardBrand            string          `db:"card_brand" json:"card_brand,omitempty"`
	GatewayTransactionID string          `db:"gateway_transaction_id" json:"gateway_transaction_id,omitempty"`
	GatewayResponse      string          `db:"gateway_response" json:"gateway_response,omitempty"`
	Description          string          `db:"description" json:"description,omitempty"`
	CreatedAt            time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time       `db:"updated_at" json:"updated_at"`
	PaidAt               *time.Time      `db:"paid_at" json:"paid_at,omitempty"`
}

type CardDetails struct {
	Number      string
	HolderName  string
	ExpiryMonth string
	ExpiryYear  string
	CVV         string
}

type Request struct {
	OrderID       uuid.UUID
	OrderNumber   string
	UserID        uuid.UUID
	UserEmail     string
	Amount        decimal.Decimal
	PaymentMethod string
	Card          *CardDetails
	PaypalEmail   string
	Description   string
}

// Stats covers succeeded payments only.
type Stats struct {
	TotalRevenueLast30Days decimal.Decimal  `json:"total_revenue_last_30_days"`
	SucceededCount         int64            `json:"successful_payments_count"`
	PaymentsByMethod       map[string]int64 `json:"payments_by_method"`
}
