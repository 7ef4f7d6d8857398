package order

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	StatusPending    OrderStatus = "PENDING"
	StatusConfirmed  OrderStatus = "CONFIRMED"
	StatusProcessing OrderStatus = "PROCESSING"
	StatusShipped    OrderStatus = "SHIPPED"
	StatusDelivered  OrderStatus = "DELIVERED"
	StatusCancelled  OrderStatus = "CANCELLED"
	StatusRefunded   OrderStatus = "REFUNDED"
)

func (s OrderStatus) String() string {
	return string(s)
}

var orderStatuses = map[OrderStatus]struct{}{
	StatusPending:    {},
	StatusConfirmed:  {},
	StatusProcessing: {},
	StatusShipped:    {},
	StatusDelivered:  {},
	StatusCancelled:  {},
	StatusRefunded:   {},
}

// ParseOrderStatus accepts any letter case and rejects unknown values with
// ErrUnknownStatus.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	s := OrderStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if _, ok := orderStatuses[s]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, raw)
	}
	return s, nil
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentPaid      PaymentStatus = "PAID"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentRefunded  PaymentStatus = "REFUNDED"
	PaymentCancelled PaymentStatus = "CANCELLED"
)

func (s PaymentStatus) String() string {
	return string(s)
}

var (
	TaxRate      = decimal.RequireFromString("0.20")
	ShippingCost = decimal.RequireFromString("4.99")
)

type ShippingAddress struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Phone      string `json:"phone"`
}

type OrderItem struct {
	ID         uuid.UUID       `json:"id"`
	OrderID    uuid.UUID       `json:"order_id"`
	BookID     int64           `json:"book_id"`
	Title      string          `json:"title"`
	Author     string          `json:"author"`
	ISBN       string          `json:"isbn"`
	Price      decimal.Decimal `json:"price"`
	Quantity   int             `json:"quantity"`
	TotalPrice decimal.Decimal `json:"total_price"`
}

// recalculate keeps every amount at cents, the precision the store holds.
func (i *OrderItem) recalculate() {
	i.Price = i.Price.Round(2)
	i.TotalPrice = i.Price.Mul(decimal.NewFromInt(int64(i.Quantity))).Round(2)
}

type Order struct {
	ID               uuid.UUID       `json:"id"`
	OrderNumber      string          `json:"order_number"`
	UserID           uuid.UUID       `json:"user_id"`
	UserEmail        string          `json:"user_email"`
	UserName         string          `json:"user_name"`
	Items            []OrderItem     `json:"items"`
	ShippingAddress  ShippingAddress `json:"shipping_address"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	TaxAmount        decimal.Decimal `json:"tax_amount"`
	ShippingCost     decimal.Decimal `json:"shipping_cost"`
	FinalAmount      decimal.Decimal `json:"final_amount"`
	Status           OrderStatus     `json:"status"`
	PaymentStatus    PaymentStatus   `json:"payment_status"`
	PaymentMethod    string          `json:"payment_method"`
	PaymentReference string          `json:"payment_reference,omitempty"`
	TrackingNumber   string          `json:"tracking_number,omitempty"`
	Notes            string          `json:"notes,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	PaidAt           *time.Time      `json:"paid_at,omitempty"`
	ShippedAt        *time.Time      `json:"shipped_at,omitempty"`
	DeliveredAt      *time.Time      `json:"delivered_at,omitempty"`
}

// Recalculate refreshes every line total and the order amounts from the
// current items. Call it after any mutation before persisting.
func (o *Order) Recalculate() {
	total := decimal.Zero
	for i := range o.Items {
		o.Items[i].recalculate()
		total = total.Add(o.Items[i].TotalPrice)
	}

	o.TotalAmount = total.Round(2)
	o.TaxAmount = o.TotalAmount.Mul(TaxRate).Round(2)
	o.ShippingCost = ShippingCost
	o.FinalAmount = o.TotalAmount.Add(o.TaxAmount).Add(o.ShippingCost).Round(2)
}

// UserStats summarises the non-cancelled orders of one user.
type UserStats struct {
	UserID     uuid.UUID       `json:"user_id"`
	OrderCount int             `json:"order_count"`
	TotalSpent decimal.Decimal `json:"total_spent"`
}
