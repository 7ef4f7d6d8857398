package order_test

import (
	"context"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/vasiliy-maslov/bookstore-microservices/internal/cart"
	"github.com/vasiliy-maslov/bookstore-microservices/internal/catalog"
	"github.com/vasiliy-maslov/bookstore-microservices/internal/order"
)

type MockCatalog struct {
	mock.Mock
}

func (m *MockCatalog) GetBook(ctx context.Context, bookID int64) (*catalog.Book, error) {
	args := m.Called(ctx, bookID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*catalog.Book), args.Error(1)
}

func (m *MockCatalog) AdjustStock(ctx context.Context, bookID int64, delta int) error {
	args := m.Called(ctx, bookID, delta)
	return args.Error(0)
}

type MockCart struct {
	mock.Mock
}

func (m *MockCart) GetCart(ctx context.Context, userID uuid.UUID) (*cart.Cart, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cart.Cart), args.Error(1)
}

// fakeRepository keeps orders in memory with the same locking contract as
// the Postgres repository: mutations see and store private copies.
type fakeRepository struct {
	mu         sync.Mutex
	orders     map[uuid.UUID]*order.Order
	processed  map[string]bool
	createErrs []error
	creates    int
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		orders:    make(map[uuid.UUID]*order.Order),
		processed: make(map[string]bool),
	}
}

func clone(o *order.Order) *order.Order {
	c := *o
	c.Items = append([]order.OrderItem(nil), o.Items...)
	return &c
}

func (r *fakeRepository) put(o *order.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o.ID == uuid.Nil {
		o.ID = uuid.Must(uuid.NewV4())
	}
	r.orders[o.ID] = clone(o)
}

func (r *fakeRepository) get(id uuid.UUID) *order.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil
	}
	return clone(o)
}

func (r *fakeRepository) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orders)
}

func (r *fakeRepository) CreateOrder(_ context.Context, o *order.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.creates++
	if len(r.createErrs) > 0 {
		err := r.createErrs[0]
		r.createErrs = r.createErrs[1:]
		if err != nil {
			return err
		}
	}

	if o.ID == uuid.Nil {
		o.ID = uuid.Must(uuid.NewV4())
	}
	for i := range o.Items {
		o.Items[i].ID = uuid.Must(uuid.NewV4())
		o.Items[i].OrderID = o.ID
	}
	o.CreatedAt = time.Now().UTC()
	o.UpdatedAt = o.CreatedAt
	r.orders[o.ID] = clone(o)
	return nil
}

func (r *fakeRepository) GetOrderByID(_ context.Context, id uuid.UUID) (*order.Order, error) {
	if o := r.get(id); o != nil {
		return o, nil
	}
	return nil, order.ErrOrderNotFound
}

func (r *fakeRepository) GetOrderByNumber(_ context.Context, orderNumber string) (*order.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.OrderNumber == orderNumber {
			return clone(o), nil
		}
	}
	return nil, order.ErrOrderNotFound
}

func (r *fakeRepository) GetOrdersByUserID(_ context.Context, userID uuid.UUID) ([]order.Order, error) {
	return r.filter(func(o *order.Order) bool { return o.UserID == userID }), nil
}

func (r *fakeRepository) GetOrdersByStatus(_ context.Context, status order.OrderStatus) ([]order.Order, error) {
	return r.filter(func(o *order.Order) bool { return o.Status == status }), nil
}

func (r *fakeRepository) GetAllOrders(_ context.Context) ([]order.Order, error) {
	return r.filter(func(*order.Order) bool { return true }), nil
}

func (r *fakeRepository) GetUserStats(_ context.Context, userID uuid.UUID) (*order.UserStats, error) {
	stats := &order.UserStats{UserID: userID}
	for _, o := range r.filter(func(o *order.Order) bool { return o.UserID == userID && o.Status != order.StatusCancelled }) {
		stats.OrderCount++
		stats.TotalSpent = stats.TotalSpent.Add(o.FinalAmount)
	}
	return stats, nil
}

func (r *fakeRepository) filter(keep func(*order.Order) bool) []order.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []order.Order{}
	for _, o := range r.orders {
		if keep(o) {
			out = append(out, *clone(o))
		}
	}
	return out
}

func (r *fakeRepository) UpdateOrder(_ context.Context, id uuid.UUID, mutate func(*order.Order) error) (*order.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updateLocked(id, mutate)
}

func (r *fakeRepository) updateLocked(id uuid.UUID, mutate func(*order.Order) error) (*order.Order, error) {
	stored, ok := r.orders[id]
	if !ok {
		return nil, order.ErrOrderNotFound
	}

	working := clone(stored)
	if err := mutate(working); err != nil {
		return nil, err
	}
	working.Recalculate()
	working.UpdatedAt = time.Now().UTC()
	r.orders[id] = clone(working)
	return working, nil
}

func (r *fakeRepository) ApplyPaymentEvent(_ context.Context, id uuid.UUID, eventKey string, mutate func(*order.Order) error) (*order.Order, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.orders[id]
	if !ok {
		return nil, false, order.ErrOrderNotFound
	}
	if r.processed[eventKey] {
		return clone(stored), false, nil
	}

	updated, err := r.updateLocked(id, mutate)
	if err != nil {
		return nil, false, err
	}
	r.processed[eventKey] = true
	return updated, true, nil
}
