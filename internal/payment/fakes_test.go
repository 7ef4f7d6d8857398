package payment_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/vasiliy-maslov/bookstore-microservices/internal/payment"
)

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) ChargeCard(ctx context.Context, card payment.CardDetails, amount decimal.Decimal, reference string) (payment.GatewayResult, error) {
	args := m.Called(ctx, card, amount, reference)
	return args.Get(0).(payment.GatewayResult), args.Error(1)
}

func (m *MockGateway) ChargePaypal(ctx context.Context, email string, amount decimal.Decimal, reference string) (payment.GatewayResult, error) {
	args := m.Called(ctx, email, amount, reference)
	return args.Get(0).(payment.GatewayResult), args.Error(1)
}

func (m *MockGateway) ChargeBankTransfer(ctx context.Context, amount decimal.Decimal, reference string) (payment.GatewayResult, error) {
	args := m.Called(ctx, amount, reference)
	return args.Get(0).(payment.GatewayResult), args.Error(1)
}

func (m *MockGateway) Refund(ctx context.Context, transactionID string, amount decimal.Decimal, reference string) (payment.GatewayResult, error) {
	args := m.Called(ctx, transactionID, amount, reference)
	return args.Get(0).(payment.GatewayResult), args.Error(1)
}

// fakeRepository mirrors the ledger contract: references are unique and
// Update only applies when the stored status matches.
type fakeRepository struct {
	mu         sync.Mutex
	payments   map[uuid.UUID]payment.Payment
	createErrs []error
	statsSince time.Time
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{payments: make(map[uuid.UUID]payment.Payment)}
}

func (r *fakeRepository) put(p payment.Payment) payment.Payment {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.Must(uuid.NewV4())
	}
	r.payments[p.ID] = p
	return p
}

func (r *fakeRepository) get(id uuid.UUID) (payment.Payment, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	return p, ok
}

func (r *fakeRepository) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payments)
}

func (r *fakeRepository) Create(_ context.Context, p *payment.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.createErrs) > 0 {
		err := r.createErrs[0]
		r.createErrs = r.createErrs[1:]
		if err != nil {
			return err
		}
	}
	for _, existing := range r.payments {
		if existing.PaymentReference == p.PaymentReference {
			return fmt.Errorf("%w: %s", payment.ErrDuplicateReference, p.PaymentReference)
		}
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.Must(uuid.NewV4())
	}
	r.payments[p.ID] = *p
	return nil
}

func (r *fakeRepository) GetByID(_ context.Context, id uuid.UUID) (*payment.Payment, error) {
	if p, ok := r.get(id); ok {
		return &p, nil
	}
	return nil, payment.ErrPaymentNotFound
}

func (r *fakeRepository) GetByReference(_ context.Context, reference string) (*payment.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.payments {
		if p.PaymentReference == reference {
			return &p, nil
		}
	}
	return nil, payment.ErrPaymentNotFound
}

func (r *fakeRepository) ListByOrderID(_ context.Context, orderID uuid.UUID) ([]payment.Payment, error) {
	return r.filter(func(p payment.Payment) bool { return p.OrderID == orderID }), nil
}

func (r *fakeRepository) ListByUserID(_ context.Context, userID uuid.UUID) ([]payment.Payment, error) {
	return r.filter(func(p payment.Payment) bool { return p.UserID == userID }), nil
}

func (r *fakeRepository) ListByStatus(_ context.Context, status payment.Status) ([]payment.Payment, error) {
	return r.filter(func(p payment.Payment) bool { return p.Status == status }), nil
}

func (r *fakeRepository) ListAll(_ context.Context) ([]payment.Payment, error) {
	return r.filter(func(payment.Payment) bool { return true }), nil
}

func (r *fakeRepository) filter(keep func(payment.Payment) bool) []payment.Payment {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []payment.Payment{}
	for _, p := range r.payments {
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (r *fakeRepository) Update(_ context.Context, p *payment.Payment, expected payment.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.payments[p.ID]
	if !ok || stored.Status != expected {
		return fmt.Errorf("%w: payment %s", payment.ErrStaleStatus, p.ID)
	}
	r.payments[p.ID] = *p
	return nil
}

func (r *fakeRepository) Stats(_ context.Context, since time.Time) (*payment.Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.statsSince = since
	stats := &payment.Stats{PaymentsByMethod: map[string]int64{}}
	for _, p := range r.payments {
		if p.Status != payment.StatusSucceeded {
			continue
		}
		stats.SucceededCount++
		stats.PaymentsByMethod[p.PaymentMethod.String()]++
		if !p.CreatedAt.Before(since) {
			stats.TotalRevenueLast30Days = stats.TotalRevenueLast30Days.Add(p.Amount)
		}
	}
	return stats, nil
}
