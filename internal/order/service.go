package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/vasiliy-maslov/bookstore-microservices/internal/cart"
	"github.com/vasiliy-maslov/bookstore-microservices/internal/catalog"
	"github.com/vasiliy-maslov/bookstore-microservices/internal/events"
	"github.com/vasiliy-maslov/bookstore-microservices/internal/messaging"
	"github.com/vasiliy-maslov/bookstore-microservices/internal/reference"
	"github.com/vasiliy-maslov/bookstore-microservices/internal/sagalog"
)

// Checkout steps as written to the saga log.
const (
	StepValidated          = "REQUEST_VALIDATED"
	StepCartLoaded         = "CART_LOADED"
	StepStockValidated     = "STOCK_VALIDATED"
	StepOrderPersisted     = "ORDER_PERSISTED"
	StepStockReserved      = "STOCK_RESERVED"
	StepPaymentRequested   = "PAYMENT_REQUESTED"
	StepCartClearRequested = "CART_CLEAR_REQUESTED"
)

const maxOrderNumberAttempts = 3

var paymentMethods = map[string]struct{}{
	"CREDIT_CARD":   {},
	"DEBIT_CARD":    {},
	"PAYPAL":        {},
	"BANK_TRANSFER": {},
}

type CatalogClient interface {
	GetBook(ctx context.Context, bookID int64) (*catalog.Book, error)
	AdjustStock(ctx context.Context, bookID int64, delta int) error
}

type CartClient interface {
	GetCart(ctx context.Context, userID uuid.UUID) (*cart.Cart, error)
}

type CheckoutRequest struct {
	UserID          uuid.UUID
	UserEmail       string
	UserName        string
	ShippingAddress ShippingAddress
	PaymentMethod   string
	Notes           string
}

// PaymentOutcome is the part of a payment.status event the order cares about.
type PaymentOutcome struct {
	PaymentID        uuid.UUID
	OrderID          uuid.UUID
	Status           string
	PaymentReference string
	TransactionID    string
}

// IdempotencyKey identifies one status transition of one payment. Status
// letter case does not matter.
func (p PaymentOutcome) IdempotencyKey() string {
	return p.PaymentID.String() + ":" + strings.ToUpper(p.Status)
}

type Service interface {
	CreateOrder(ctx context.Context, req CheckoutRequest) (*Order, error)
	GetOrderByID(ctx context.Context, id uuid.UUID) (*Order, error)
	GetOrderByNumber(ctx context.Context, orderNumber string) (*Order, error)
	GetOrdersByUserID(ctx context.Context, userID uuid.UUID) ([]Order, error)
	GetOrdersByStatus(ctx context.Context, status string) ([]Order, error)
	GetAllOrders(ctx context.Context) ([]Order, error)
	GetUserStats(ctx context.Context, userID uuid.UUID) (*UserStats, error)
	GetCheckoutLog(ctx context.Context, id uuid.UUID) ([]sagalog.Entry, error)
	UpdateOrderStatus(ctx context.Context, id uuid.UUID, status string) (*Order, error)
	UpdateTrackingNumber(ctx context.Context, id uuid.UUID, trackingNumber string) (*Order, error)
	CancelOrder(ctx context.Context, id uuid.UUID) (*Order, error)
	ApplyPaymentOutcome(ctx context.Context, outcome PaymentOutcome) (*Order, error)
}

type service struct {
	orderRepo Repository
	catalog   CatalogClient
	carts     CartClient
	publisher messaging.Publisher
	journal   sagalog.Repository
	numbers   *reference.Generator
	now       func() time.Time
}

// NewService wires the orchestrator. journal may be nil, in which case
// checkouts are not journaled.
func NewService(orderRepo Repository, catalog CatalogClient, carts CartClient, publisher messaging.Publisher, journal sagalog.Repository) Service {
	return &service{
		orderRepo: orderRepo,
		catalog:   catalog,
		carts:     carts,
		publisher: publisher,
		journal:   journal,
		numbers:   reference.NewOrderNumbers(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *service) CreateOrder(ctx context.Context, req CheckoutRequest) (*Order, error) {
	saga := sagalog.Start(ctx, s.journal)

	if err := validateCheckout(req); err != nil {
		saga.Fail(ctx, StepValidated, err)
		return nil, err
	}

	userCart, err := s.carts.GetCart(ctx, req.UserID)
	if err != nil {
		saga.Fail(ctx, StepCartLoaded, err)
		log.Error().Err(err).Stringer("user_id", req.UserID).Msg("service: failed to fetch cart")
		return nil, fmt.Errorf("service: failed to fetch cart: %w", err)
	}
	if userCart.IsEmpty() {
		saga.Fail(ctx, StepCartLoaded, ErrEmptyCart)
		log.Warn().Stringer("user_id", req.UserID).Msg("service: checkout with empty cart")
		return nil, ErrEmptyCart
	}
	saga.StepDone(ctx, StepCartLoaded)

	books, err := s.checkStock(ctx, userCart.Items)
	if err != nil {
		saga.Fail(ctx, StepStockValidated, err)
		return nil, err
	}
	saga.StepDone(ctx, StepStockValidated)

	o := &Order{
		UserID:          req.UserID,
		UserEmail:       req.UserEmail,
		UserName:        req.UserName,
		ShippingAddress: req.ShippingAddress,
		Status:          StatusPending,
		PaymentStatus:   PaymentPending,
		PaymentMethod:   strings.ToUpper(req.PaymentMethod),
		Notes:           req.Notes,
	}
	for _, line := range userCart.Items {
		o.Items = append(o.Items, OrderItem{
			BookID:   line.BookID,
			Title:    line.Title,
			Author:   line.Author,
			ISBN:     books[line.BookID].ISBN,
			Price:    line.Price,
			Quantity: line.Quantity,
		})
	}
	o.Recalculate()

	if err := s.persistNew(ctx, o); err != nil {
		saga.Fail(ctx, StepOrderPersisted, err)
		return nil, err
	}
	saga.BindOrder(o.ID.String())
	saga.StepDone(ctx, StepOrderPersisted)

	if failed := s.adjustStock(ctx, o, -1); failed > 0 {
		saga.StepFailed(ctx, StepStockReserved, fmt.Errorf("%d of %d lines not reserved", failed, len(o.Items)))
	} else {
		saga.StepDone(ctx, StepStockReserved)
	}

	paymentEvent := events.OrderPayment{
		OrderID:       o.ID,
		OrderNumber:   o.OrderNumber,
		UserID:        o.UserID,
		UserEmail:     o.UserEmail,
		Amount:        o.FinalAmount,
		PaymentMethod: o.PaymentMethod,
		Timestamp:     s.now(),
	}
	if err := s.publish(ctx, events.TopicOrderPayment, o.ID.String(), paymentEvent); err != nil {
		saga.StepFailed(ctx, StepPaymentRequested, err)
	} else {
		saga.StepDone(ctx, StepPaymentRequested)
	}

	clearEvent := events.OrderClearCart{UserID: o.UserID, Timestamp: s.now()}
	if err := s.publish(ctx, events.TopicOrderClearCart, o.UserID.String(), clearEvent); err != nil {
		saga.StepFailed(ctx, StepCartClearRequested, err)
	} else {
		saga.StepDone(ctx, StepCartClearRequested)
	}

	saga.Complete(ctx)
	log.Info().Stringer("order_id", o.ID).Str("order_number", o.OrderNumber).Stringer("user_id", o.UserID).
		Str("final_amount", o.FinalAmount.StringFixed(2)).Msg("service: order created")

	return o, nil
}

// checkStock validates every cart line against the catalog before anything
// is reserved. Lines for the same book are checked against their combined
// quantity.
func (s *service) checkStock(ctx context.Context, lines []cart.Item) (map[int64]*catalog.Book, error) {
	demand := make(map[int64]int, len(lines))
	for _, line := range lines {
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity of book %d must be positive", ErrInvalidCheckout, line.BookID)
		}
		demand[line.BookID] += line.Quantity
	}

	books := make(map[int64]*catalog.Book, len(demand))
	for _, line := range lines {
		if _, seen := books[line.BookID]; seen {
			continue
		}

		book, err := s.catalog.GetBook(ctx, line.BookID)
		if err != nil {
			if errors.Is(err, catalog.ErrBookNotFound) {
				log.Warn().Int64("book_id", line.BookID).Msg("service: book in cart not found in catalog")
				return nil, fmt.Errorf("%w: %d", ErrBookNotFound, line.BookID)
			}
			return nil, fmt.Errorf("service: failed to fetch book %d: %w", line.BookID, err)
		}

		if book.Stock < demand[line.BookID] {
			log.Warn().Int64("book_id", line.BookID).Int("available", book.Stock).Int("requested", demand[line.BookID]).
				Msg("service: insufficient stock")
			return nil, fmt.Errorf("%w: %q has %d, requested %d", ErrInsufficientStock, book.Title, book.Stock, demand[line.BookID])
		}
		books[line.BookID] = book
	}
	return books, nil
}

func (s *service) persistNew(ctx context.Context, o *Order) error {
	var err error
	for attempt := 1; attempt <= maxOrderNumberAttempts; attempt++ {
		o.OrderNumber = s.numbers.Next()
		err = s.orderRepo.CreateOrder(ctx, o)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrDuplicateOrderNumber) {
			break
		}
		log.Warn().Str("order_number", o.OrderNumber).Int("attempt", attempt).Msg("service: order number taken, retrying")
		o.ID = uuid.Nil
	}

	log.Error().Err(err).Stringer("user_id", o.UserID).Msg("service: failed to create order in repository")
	return fmt.Errorf("service: failed to create order: %w", err)
}

// adjustStock moves each line's quantity in the catalog, sign -1 to reserve
// and +1 to restore. Failures are logged per line and counted.
func (s *service) adjustStock(ctx context.Context, o *Order, sign int) int {
	failed := 0
	for _, item := range o.Items {
		if err := s.catalog.AdjustStock(ctx, item.BookID, sign*item.Quantity); err != nil {
			failed++
			log.Error().Err(err).Stringer("order_id", o.ID).Int64("book_id", item.BookID).Int("delta", sign*item.Quantity).
				Msg("service: failed to adjust stock")
		}
	}
	return failed
}

func (s *service) publish(ctx context.Context, topic, key string, event any) error {
	if err := s.publisher.Publish(ctx, topic, key, event); err != nil {
		log.Error().Err(err).Str("topic", topic).Str("key", key).Msg("service: failed to publish event")
		return err
	}
	return nil
}

func (s *service) publishStatus(ctx context.Context, o *Order) {
	_ = s.publish(ctx, events.TopicOrderStatus, o.ID.String(), events.OrderStatus{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		UserID:      o.UserID,
		Status:      o.Status.String(),
		Timestamp:   s.now(),
	})
}

func (s *service) GetOrderByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	o, err := s.orderRepo.GetOrderByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			log.Warn().Stringer("order_id", id).Msg("service: order not found by id")
			return nil, ErrOrderNotFound
		}
		log.Error().Err(err).Stringer("order_id", id).Msg("service: failed to fetch order by id")
		return nil, fmt.Errorf("service: failed to fetch order by id: %w", err)
	}
	return o, nil
}

func (s *service) GetOrderByNumber(ctx context.Context, orderNumber string) (*Order, error) {
	o, err := s.orderRepo.GetOrderByNumber(ctx, orderNumber)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		log.Error().Err(err).Str("order_number", orderNumber).Msg("service: failed to fetch order by number")
		return nil, fmt.Errorf("service: failed to fetch order by number: %w", err)
	}
	return o, nil
}

func (s *service) GetOrdersByUserID(ctx context.Context, userID uuid.UUID) ([]Order, error) {
	orders, err := s.orderRepo.GetOrdersByUserID(ctx, userID)
	if err != nil {
		log.Error().Err(err).Stringer("user_id", userID).Msg("service: failed to fetch user orders")
		return nil, fmt.Errorf("service: failed to fetch user orders: %w", err)
	}
	return orders, nil
}

func (s *service) GetOrdersByStatus(ctx context.Context, raw string) ([]Order, error) {
	status, err := ParseOrderStatus(raw)
	if err != nil {
		return nil, err
	}

	orders, err := s.orderRepo.GetOrdersByStatus(ctx, status)
	if err != nil {
		log.Error().Err(err).Stringer("status", status).Msg("service: failed to fetch orders by status")
		return nil, fmt.Errorf("service: failed to fetch orders by status: %w", err)
	}
	return orders, nil
}

func (s *service) GetAllOrders(ctx context.Context) ([]Order, error) {
	orders, err := s.orderRepo.GetAllOrders(ctx)
	if err != nil {
		log.Error().Err(err).Msg("service: failed to fetch orders")
		return nil, fmt.Errorf("service: failed to fetch orders: %w", err)
	}
	return orders, nil
}

func (s *service) GetUserStats(ctx context.Context, userID uuid.UUID) (*UserStats, error) {
	stats, err := s.orderRepo.GetUserStats(ctx, userID)
	if err != nil {
		log.Error().Err(err).Stringer("user_id", userID).Msg("service: failed to compute user stats")
		return nil, fmt.Errorf("service: failed to compute user stats: %w", err)
	}
	return stats, nil
}

func (s *service) GetCheckoutLog(ctx context.Context, id uuid.UUID) ([]sagalog.Entry, error) {
	if _, err := s.GetOrderByID(ctx, id); err != nil {
		return nil, err
	}
	if s.journal == nil {
		return []sagalog.Entry{}, nil
	}

	entries, err := s.journal.ListByOrderID(ctx, id.String())
	if err != nil {
		log.Error().Err(err).Stringer("order_id", id).Msg("service: failed to read checkout log")
		return nil, fmt.Errorf("service: failed to read checkout log: %w", err)
	}
	return entries, nil
}

func (s *service) UpdateOrderStatus(ctx context.Context, id uuid.UUID, raw string) (*Order, error) {
	status, err := ParseOrderStatus(raw)
	if err != nil {
		log.Warn().Err(err).Stringer("order_id", id).Msg("service: rejected unknown status")
		return nil, err
	}

	var (
		previous OrderStatus
		restore  bool
	)
	updated, err := s.orderRepo.UpdateOrder(ctx, id, func(o *Order) error {
		previous = o.Status
		if o.Status == status {
			return nil
		}

		now := s.now()
		switch status {
		case StatusCancelled:
			restore = true
		case StatusShipped:
			o.ShippedAt = &now
		case StatusDelivered:
			o.DeliveredAt = &now
		}
		o.Status = status
		return nil
	})
	if err != nil {
		return nil, s.updateError(err, id, "update order status")
	}

	if restore {
		s.adjustStock(ctx, updated, +1)
	}
	if previous != status {
		s.publishStatus(ctx, updated)
	}

	log.Info().Stringer("order_id", id).Stringer("old_status", previous).Stringer("new_status", status).Msg("service: order status updated")
	return updated, nil
}

func (s *service) UpdateTrackingNumber(ctx context.Context, id uuid.UUID, trackingNumber string) (*Order, error) {
	trackingNumber = strings.TrimSpace(trackingNumber)
	if trackingNumber == "" {
		return nil, ErrTrackingNumberRequired
	}

	updated, err := s.orderRepo.UpdateOrder(ctx, id, func(o *Order) error {
		o.TrackingNumber = trackingNumber
		return nil
	})
	if err != nil {
		return nil, s.updateError(err, id, "update tracking number")
	}
	return updated, nil
}

func (s *service) CancelOrder(ctx context.Context, id uuid.UUID) (*Order, error) {
	var restore bool
	updated, err := s.orderRepo.UpdateOrder(ctx, id, func(o *Order) error {
		switch o.Status {
		case StatusShipped, StatusDelivered:
			return fmt.Errorf("%w: order %s is already %s", ErrInvalidTransition, o.OrderNumber, o.Status)
		case StatusCancelled:
			return nil
		}

		o.Status = StatusCancelled
		o.PaymentStatus = PaymentCancelled
		restore = true
		return nil
	})
	if err != nil {
		return nil, s.updateError(err, id, "cancel order")
	}

	if restore {
		s.adjustStock(ctx, updated, +1)
		s.publishStatus(ctx, updated)
		log.Info().Stringer("order_id", id).Msg("service: order cancelled")
	}
	return updated, nil
}

func (s *service) ApplyPaymentOutcome(ctx context.Context, outcome PaymentOutcome) (*Order, error) {
	target, relevant, err := paymentStatusFor(outcome.Status)
	if err != nil {
		return nil, err
	}
	if !relevant {
		log.Debug().Stringer("order_id", outcome.OrderID).Str("payment_status", outcome.Status).Msg("service: payment status does not affect order")
		return s.GetOrderByID(ctx, outcome.OrderID)
	}

	var confirmed bool
	o, applied, err := s.orderRepo.ApplyPaymentEvent(ctx, outcome.OrderID, outcome.IdempotencyKey(), func(o *Order) error {
		// A late failure of an earlier attempt must not undo a payment.
		if o.PaymentStatus == PaymentPaid && target != PaymentRefunded {
			log.Warn().Stringer("order_id", o.ID).Stringer("payment_id", outcome.PaymentID).Stringer("ignored_status", target).
				Msg("service: order already paid, ignoring payment status")
			return nil
		}

		o.PaymentStatus = target
		if outcome.PaymentReference != "" {
			o.PaymentReference = outcome.PaymentReference
		}
		if target != PaymentPaid {
			return nil
		}

		if o.PaidAt == nil {
			now := s.now()
			o.PaidAt = &now
		}
		if o.Status == StatusPending {
			o.Status = StatusConfirmed
			confirmed = true
		} else {
			log.Warn().Stringer("order_id", o.ID).Stringer("status", o.Status).Msg("service: payment succeeded for order that is no longer pending")
		}
		return nil
	})
	if err != nil {
		return nil, s.updateError(err, outcome.OrderID, "apply payment outcome")
	}

	if !applied {
		log.Info().Stringer("order_id", outcome.OrderID).Stringer("payment_id", outcome.PaymentID).Str("payment_status", outcome.Status).
			Msg("service: duplicate payment status ignored")
		return o, nil
	}

	if confirmed {
		s.publishStatus(ctx, o)
	}
	log.Info().Stringer("order_id", o.ID).Stringer("payment_status", o.PaymentStatus).Stringer("status", o.Status).Msg("service: payment outcome applied")
	return o, nil
}

func (s *service) updateError(err error, id uuid.UUID, op string) error {
	if errors.Is(err, ErrOrderNotFound) {
		log.Warn().Stringer("order_id", id).Msgf("service: order not found, cannot %s", op)
		return ErrOrderNotFound
	}
	if errors.Is(err, ErrInvalidTransition) {
		log.Warn().Err(err).Stringer("order_id", id).Msgf("service: cannot %s", op)
		return err
	}
	log.Error().Err(err).Stringer("order_id", id).Msgf("service: failed to %s", op)
	return fmt.Errorf("service: failed to %s: %w", op, err)
}

// paymentStatusFor maps a payment-side status onto the order's view of it.
// relevant is false for statuses that leave the order untouched.
func paymentStatusFor(raw string) (status PaymentStatus, relevant bool, err error) {
	switch strings.ToUpper(raw) {
	case "SUCCEEDED", "PAID":
		return PaymentPaid, true, nil
	case "FAILED":
		return PaymentFailed, true, nil
	case "REFUNDED":
		return PaymentRefunded, true, nil
	case "CANCELLED":
		return PaymentCancelled, true, nil
	case "PENDING", "PROCESSING":
		return "", false, nil
	default:
		return "", false, fmt.Errorf("%w: payment status %q", ErrUnknownStatus, raw)
	}
}

func validateCheckout(req CheckoutRequest) error {
	var missing []string
	check := func(name, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}

	if req.UserID == uuid.Nil {
		missing = append(missing, "user_id")
	}
	check("user_email", req.UserEmail)
	check("user_name", req.UserName)
	check("payment_method", req.PaymentMethod)
	check("street", req.ShippingAddress.Street)
	check("city", req.ShippingAddress.City)
	check("postal_code", req.ShippingAddress.PostalCode)
	check("country", req.ShippingAddress.Country)
	check("phone", req.ShippingAddress.Phone)

	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidCheckout, strings.Join(missing, ", "))
	}
	if _, ok := paymentMethods[strings.ToUpper(req.PaymentMethod)]; !ok {
		return fmt.Errorf("%w: unsupported payment method %q", ErrInvalidCheckout, req.PaymentMethod)
	}
	return nil
}
