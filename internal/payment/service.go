package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/vasiliy-maslov/bookstore-microservices/internal/events"
	"github.com/vasiliy-maslov/bookstore-microservices/internal/messaging"
	"github.com/vasiliy-maslov/bookstore-microservices/internal/reference"
)

const (
	maxReferenceAttempts = 3
	statsWindow          = 30 * 24 * time.Hour
)

type Service interface {
	ProcessPayment(ctx context.Context, req Request) (*Payment, error)
	RegisterPaymentRequest(ctx context.Context, evt events.OrderPayment) (*Payment, error)
	RefundPayment(ctx context.Context, id uuid.UUID) (*Payment, error)
	CancelPayment(ctx context.Context, id uuid.UUID) (*Payment, error)
	GetPaymentByID(ctx context.Context, id uuid.UUID) (*Payment, error)
	GetPaymentByReference(ctx context.Context, reference string) (*Payment, error)
	GetPaymentsByOrderID(ctx context.Context, orderID uuid.UUID) ([]Payment, error)
	GetPaymentsByUserID(ctx context.Context, userID uuid.UUID) ([]Payment, error)
	GetPaymentsByStatus(ctx context.Context, status string) ([]Payment, error)
	GetAllPayments(ctx context.Context) ([]Payment, error)
	GetStats(ctx context.Context) (*Stats, error)
}

type service struct {
	repo           Repository
	gateway        Gateway
	publisher      messaging.Publisher
	references     *reference.Generator
	gatewayTimeout time.Duration
	now            func() time.Time
}

// NewService wires the payment processor. Every gateway call is bounded by
// gatewayTimeout; a call that runs out of time counts as a failed payment.
func NewService(repo Repository, gateway Gateway, publisher messaging.Publisher, gatewayTimeout time.Duration) Service {
	return &service{
		repo:           repo,
		gateway:        gateway,
		publisher:      publisher,
		references:     reference.NewPaymentReferences(),
		gatewayTimeout: gatewayTimeout,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

func (s *service) ProcessPayment(ctx context.Context, req Request) (*Payment, error) {
	method, err := validateRequest(req)
	if err != nil {
		log.Warn().Err(err).Stringer("order_id", req.OrderID).Msg("service: rejected payment request")
		return nil, err
	}

	p, err := s.startProcessing(ctx, req, method)
	if err != nil {
		return nil, err
	}

	var result GatewayResult
	if method.IsCard() {
		if cardErr := CheckCard(*req.Card, s.now()); cardErr != nil {
			log.Warn().Err(cardErr).Str("reference", p.PaymentReference).Msg("service: card rejected before charge")
			result = GatewayResult{Message: "card invalid or expired: " + cardErr.Error()}
			return s.finish(ctx, p, req, result)
		}
	}

	result = s.charge(ctx, p, req)
	return s.finish(ctx, p, req, result)
}

// startProcessing moves the order's PENDING payment to PROCESSING, or
// records a new PROCESSING payment when none is waiting. An order whose
// earlier payments are not all FAILED or CANCELLED is never charged again.
func (s *service) startProcessing(ctx context.Context, req Request, method Method) (*Payment, error) {
	existing, err := s.repo.ListByOrderID(ctx, req.OrderID)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", req.OrderID).Msg("service: failed to look up order payments")
		return nil, fmt.Errorf("service: failed to look up order payments: %w", err)
	}

	var pending *Payment
	for i := range existing {
		p := &existing[i]
		switch p.Status {
		case StatusSucceeded, StatusRefunded:
			log.Warn().Stringer("order_id", req.OrderID).Stringer("payment_id", p.ID).Msg("service: order already paid, refusing charge")
			return nil, ErrAlreadyPaid
		case StatusProcessing:
			log.Warn().Stringer("order_id", req.OrderID).Stringer("payment_id", p.ID).Msg("service: payment in progress, refusing charge")
			return nil, ErrPaymentInProgress
		case StatusPending:
			if pending == nil {
				pending = p
			}
		}
	}

	if p := pending; p != nil {
		if !p.Amount.Equal(req.Amount) {
			log.Warn().Stringer("payment_id", p.ID).Str("registered", p.Amount.StringFixed(2)).Str("requested", req.Amount.StringFixed(2)).
				Msg("service: requested amount differs from order amount, charging order amount")
		}
		p.PaymentMethod = method
		if req.Description != "" {
			p.Description = req.Description
		}
		if err := s.advance(ctx, p, StatusProcessing); err != nil {
			return nil, s.transitionError(err, p.ID, "start processing")
		}
		return p, nil
	}

	now := s.now()
	p := &Payment{
		OrderID:       req.OrderID,
		OrderNumber:   req.OrderNumber,
		UserID:        req.UserID,
		UserEmail:     req.UserEmail,
		Amount:        req.Amount,
		Currency:      DefaultCurrency,
		Status:        StatusProcessing,
		PaymentMethod: method,
		Description:   req.Description,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *service) create(ctx context.Context, p *Payment) error {
	var err error
	for attempt := 1; attempt <= maxReferenceAttempts; attempt++ {
		p.PaymentReference = s.references.Next()
		err = s.repo.Create(ctx, p)
		if err == nil {
			log.Info().Stringer("payment_id", p.ID).Str("reference", p.PaymentReference).Stringer("order_id", p.OrderID).
				Stringer("status", p.Status).Msg("service: payment recorded")
			return nil
		}
		if !errors.Is(err, ErrDuplicateReference) {
			break
		}
		log.Warn().Str("reference", p.PaymentReference).Int("attempt", attempt).Msg("service: payment reference taken, retrying")
		p.ID = uuid.Nil
	}

	log.Error().Err(err).Stringer("order_id", p.OrderID).Msg("service: failed to create payment in repository")
	return fmt.Errorf("service: failed to create payment: %w", err)
}

// charge calls the gateway for p's method under the gateway timeout. Call
// failures become a declined result so the payment always settles.
func (s *service) charge(ctx context.Context, p *Payment, req Request) GatewayResult {
	gctx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()

	var (
		result GatewayResult
		err    error
	)
	switch p.PaymentMethod {
	case MethodCreditCard, MethodDebitCard:
		result, err = s.gateway.ChargeCard(gctx, *req.Card, p.Amount, p.PaymentReference)
	case MethodPaypal:
		result, err = s.gateway.ChargePaypal(gctx, req.PaypalEmail, p.Amount, p.PaymentReference)
	case MethodBankTransfer:
		result, err = s.gateway.ChargeBankTransfer(gctx, p.Amount, p.PaymentReference)
	}

	switch {
	case err == nil:
		return result
	case errors.Is(err, context.DeadlineExceeded):
		log.Error().Str("reference", p.PaymentReference).Dur("timeout", s.gatewayTimeout).Msg("service: gateway timed out")
		return GatewayResult{Message: "gateway timeout"}
	default:
		log.Error().Err(err).Str("reference", p.PaymentReference).Msg("service: gateway call failed")
		return GatewayResult{Message: "gateway error: " + err.Error()}
	}
}

func (s *service) finish(ctx context.Context, p *Payment, req Request, result GatewayResult) (*Payment, error) {
	// The outcome is recorded even when the caller went away meanwhile.
	ctx = context.WithoutCancel(ctx)

	next := StatusFailed
	p.GatewayResponse = result.Message
	if result.Success {
		next = StatusSucceeded
		paidAt := s.now()
		p.PaidAt = &paidAt
		p.GatewayTransactionID = result.TransactionID
		if p.PaymentMethod.IsCard() && req.Card != nil {
			p.CardLastFour = lastFour(req.Card.Number)
			p.CardBrand = CardBrand(req.Card.Number)
		}
	}

	if err := s.advance(ctx, p, next); err != nil {
		return nil, s.transitionError(err, p.ID, "record gateway outcome")
	}
	s.publishStatus(ctx, p)

	log.Info().Stringer("payment_id", p.ID).Str("reference", p.PaymentReference).Stringer("status", p.Status).
		Str("gateway_response", p.GatewayResponse).Msg("service: payment processed")
	return p, nil
}

func (s *service) RegisterPaymentRequest(ctx context.Context, evt events.OrderPayment) (*Payment, error) {
	method, err := ParseMethod(evt.PaymentMethod)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.ListByOrderID(ctx, evt.OrderID)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", evt.OrderID).Msg("service: failed to look up order payments")
		return nil, fmt.Errorf("service: failed to look up order payments: %w", err)
	}
	for i := range existing {
		if !existing[i].Status.Settled() {
			log.Info().Stringer("order_id", evt.OrderID).Stringer("payment_id", existing[i].ID).
				Msg("service: order already has an open payment, ignoring request")
			return &existing[i], nil
		}
	}

	if method == MethodBankTransfer {
		return s.ProcessPayment(ctx, Request{
			OrderID:       evt.OrderID,
			OrderNumber:   evt.OrderNumber,
			UserID:        evt.UserID,
			UserEmail:     evt.UserEmail,
			Amount:        evt.Amount,
			PaymentMethod: method.String(),
			Description:   "Order " + evt.OrderNumber,
		})
	}

	now := s.now()
	p := &Payment{
		OrderID:       evt.OrderID,
		OrderNumber:   evt.OrderNumber,
		UserID:        evt.UserID,
		UserEmail:     evt.UserEmail,
		Amount:        evt.Amount,
		Currency:      DefaultCurrency,
		Status:        StatusPending,
		PaymentMethod: method,
		Description:   "Order " + evt.OrderNumber,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *service) RefundPayment(ctx context.Context, id uuid.UUID) (*Payment, error) {
	p, err := s.GetPaymentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusSucceeded {
		log.Warn().Stringer("payment_id", id).Stringer("status", p.Status).Msg("service: refund of unsettled payment rejected")
		return nil, fmt.Errorf("%w: payment %s is %s", ErrNotRefundable, p.PaymentReference, p.Status)
	}
	if p.GatewayTransactionID == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingTransaction, p.PaymentReference)
	}

	refundRef := p.PaymentReference + "-REFUND"
	gctx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	result, err := s.gateway.Refund(gctx, p.GatewayTransactionID, p.Amount, refundRef)
	cancel()
	if err != nil {
		log.Error().Err(err).Str("reference", refundRef).Msg("service: refund call failed")
		return nil, fmt.Errorf("%w: %v", ErrRefundRejected, err)
	}
	if !result.Success {
		log.Warn().Str("reference", refundRef).Str("gateway_response", result.Message).Msg("service: refund declined")
		return nil, fmt.Errorf("%w: %s", ErrRefundRejected, result.Message)
	}

	ctx = context.WithoutCancel(ctx)
	p.GatewayResponse += " | Refund: " + result.Message
	if err := s.advance(ctx, p, StatusRefunded); err != nil {
		if errors.Is(err, ErrStaleStatus) {
			return nil, fmt.Errorf("%w: %v", ErrNotRefundable, err)
		}
		return nil, s.transitionError(err, id, "record refund")
	}

	if err := s.publish(ctx, events.TopicPaymentRefund, p.OrderID.String(), events.PaymentRefund{
		PaymentID:        p.ID,
		PaymentReference: p.PaymentReference,
		OrderID:          p.OrderID,
		Amount:           p.Amount,
		RefundReference:  refundRef,
		Timestamp:        s.now(),
	}); err != nil {
		log.Warn().Stringer("payment_id", p.ID).Msg("service: refund recorded but not announced")
	}
	s.publishStatus(ctx, p)

	log.Info().Stringer("payment_id", p.ID).Str("reference", p.PaymentReference).Msg("service: payment refunded")
	return p, nil
}

func (s *service) CancelPayment(ctx context.Context, id uuid.UUID) (*Payment, error) {
	p, err := s.GetPaymentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusPending && p.Status != StatusProcessing {
		return nil, fmt.Errorf("%w: payment %s is %s", ErrNotCancellable, p.PaymentReference, p.Status)
	}

	if err := s.advance(ctx, p, StatusCancelled); err != nil {
		if errors.Is(err, ErrStaleStatus) {
			return nil, fmt.Errorf("%w: %v", ErrNotCancellable, err)
		}
		return nil, s.transitionError(err, id, "cancel payment")
	}
	s.publishStatus(ctx, p)

	log.Info().Stringer("payment_id", p.ID).Msg("service: payment cancelled")
	return p, nil
}

func (s *service) GetPaymentByID(ctx context.Context, id uuid.UUID) (*Payment, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			log.Warn().Stringer("payment_id", id).Msg("service: payment not found by id")
			return nil, ErrPaymentNotFound
		}
		log.Error().Err(err).Stringer("payment_id", id).Msg("service: failed to fetch payment by id")
		return nil, fmt.Errorf("service: failed to fetch payment by id: %w", err)
	}
	return p, nil
}

func (s *service) GetPaymentByReference(ctx context.Context, ref string) (*Payment, error) {
	p, err := s.repo.GetByReference(ctx, strings.TrimSpace(ref))
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			return nil, ErrPaymentNotFound
		}
		log.Error().Err(err).Str("reference", ref).Msg("service: failed to fetch payment by reference")
		return nil, fmt.Errorf("service: failed to fetch payment by reference: %w", err)
	}
	return p, nil
}

func (s *service) GetPaymentsByOrderID(ctx context.Context, orderID uuid.UUID) ([]Payment, error) {
	payments, err := s.repo.ListByOrderID(ctx, orderID)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Msg("service: failed to list order payments")
		return nil, fmt.Errorf("service: failed to list order payments: %w", err)
	}
	return payments, nil
}

func (s *service) GetPaymentsByUserID(ctx context.Context, userID uuid.UUID) ([]Payment, error) {
	payments, err := s.repo.ListByUserID(ctx, userID)
	if err != nil {
		log.Error().Err(err).Stringer("user_id", userID).Msg("service: failed to list user payments")
		return nil, fmt.Errorf("service: failed to list user payments: %w", err)
	}
	return payments, nil
}

func (s *service) GetPaymentsByStatus(ctx context.Context, raw string) ([]Payment, error) {
	status, err := ParseStatus(raw)
	if err != nil {
		return nil, err
	}

	payments, err := s.repo.ListByStatus(ctx, status)
	if err != nil {
		log.Error().Err(err).Stringer("status", status).Msg("service: failed to list payments by status")
		return nil, fmt.Errorf("service: failed to list payments by status: %w", err)
	}
	return payments, nil
}

func (s *service) GetAllPayments(ctx context.Context) ([]Payment, error) {
	payments, err := s.repo.ListAll(ctx)
	if err != nil {
		log.Error().Err(err).Msg("service: failed to list payments")
		return nil, fmt.Errorf("service: failed to list payments: %w", err)
	}
	return payments, nil
}

func (s *service) GetStats(ctx context.Context) (*Stats, error) {
	stats, err := s.repo.Stats(ctx, s.now().Add(-statsWindow))
	if err != nil {
		log.Error().Err(err).Msg("service: failed to compute payment stats")
		return nil, fmt.Errorf("service: failed to compute payment stats: %w", err)
	}
	return stats, nil
}

// advance moves p to next through the transition table and persists it
// with a conditional update. p is left unchanged on failure.
func (s *service) advance(ctx context.Context, p *Payment, next Status) error {
	prev := p.Status
	if !prev.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, prev, next)
	}

	prevUpdated := p.UpdatedAt
	p.Status = next
	p.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, p, prev); err != nil {
		p.Status = prev
		p.UpdatedAt = prevUpdated
		return err
	}
	return nil
}

func (s *service) transitionError(err error, id uuid.UUID, op string) error {
	if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrStaleStatus) {
		log.Warn().Err(err).Stringer("payment_id", id).Msgf("service: cannot %s", op)
		if errors.Is(err, ErrStaleStatus) {
			return fmt.Errorf("%w: %v", ErrInvalidTransition, err)
		}
		return err
	}
	log.Error().Err(err).Stringer("payment_id", id).Msgf("service: failed to %s", op)
	return fmt.Errorf("service: failed to %s: %w", op, err)
}

func (s *service) publish(ctx context.Context, topic, key string, event any) error {
	if err := s.publisher.Publish(ctx, topic, key, event); err != nil {
		log.Error().Err(err).Str("topic", topic).Str("key", key).Msg("service: failed to publish event")
		return err
	}
	return nil
}

func (s *service) publishStatus(ctx context.Context, p *Payment) {
	_ = s.publish(ctx, events.TopicPaymentStatus, p.OrderID.String(), events.PaymentStatus{
		PaymentID:        p.ID,
		PaymentReference: p.PaymentReference,
		OrderID:          p.OrderID,
		OrderNumber:      p.OrderNumber,
		UserID:           p.UserID,
		Amount:           p.Amount,
		Status:           p.Status.String(),
		TransactionID:    p.GatewayTransactionID,
		Timestamp:        s.now(),
	})
}

func validateRequest(req Request) (Method, error) {
	method, err := ParseMethod(req.PaymentMethod)
	if err != nil {
		return "", err
	}

	var missing []string
	if req.OrderID == uuid.Nil {
		missing = append(missing, "order_id")
	}
	if req.UserID == uuid.Nil {
		missing = append(missing, "user_id")
	}
	if strings.TrimSpace(req.OrderNumber) == "" {
		missing = append(missing, "order_number")
	}
	if strings.TrimSpace(req.UserEmail) == "" {
		missing = append(missing, "user_email")
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: missing %s", ErrInvalidRequest, strings.Join(missing, ", "))
	}

	if !req.Amount.IsPositive() {
		return "", ErrInvalidAmount
	}

	switch {
	case method.IsCard() && req.Card == nil:
		return "", ErrMissingCardInfo
	case method == MethodPaypal && strings.TrimSpace(req.PaypalEmail) == "":
		return "", ErrMissingPaypalEmail
	}
	return method, nil
}
