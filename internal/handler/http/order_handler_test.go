package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid"
	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	handler "github.com/vasiliy-maslov/bookstore-microservices/internal/handler/http"
	"github.com/vasiliy-maslov/bookstore-microservices/internal/order"
	"github.com/vasiliy-maslov/bookstore-microservices/internal/sagalog"
)

type MockOrderService struct {
	mock.Mock
}

func (m *MockOrderService) orderResult(args mock.Arguments) (*order.Order, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderService) ordersResult(args mock.Arguments) ([]order.Order, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]order.Order), args.Error(1)
}

func (m *MockOrderService) CreateOrder(ctx context.Context, req order.CheckoutRequest) (*order.Order, error) {
	return m.orderResult(m.Called(ctx, req))
}

func (m *MockOrderService) GetOrderByID(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	return m.orderResult(m.Called(ctx, id))
}

func (m *MockOrderService) GetOrderByNumber(ctx context.Context, orderNumber string) (*order.Order, error) {
	return m.orderResult(m.Called(ctx, orderNumber))
}

func (m *MockOrderService) GetOrdersByUserID(ctx context.Context, userID uuid.UUID) ([]order.Order, error) {
	return m.ordersResult(m.Called(ctx, userID))
}

func (m *MockOrderService) GetOrdersByStatus(ctx context.Context, status string) ([]order.Order, error) {
	return m.ordersResult(m.Called(ctx, status))
}

func (m *MockOrderService) GetAllOrders(ctx context.Context) ([]order.Order, error) {
	return m.ordersResult(m.Called(ctx))
}

func (m *MockOrderService) GetUserStats(ctx context.Context, userID uuid.UUID) (*order.UserStats, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.UserStats), args.Error(1)
}

func (m *MockOrderService) GetCheckoutLog(ctx context.Context, id uuid.UUID) ([]sagalog.Entry, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]sagalog.Entry), args.Error(1)
}

func (m *MockOrderService) UpdateOrderStatus(ctx context.Context, id uuid.UUID, status string) (*order.Order, error) {
	return m.orderResult(m.Called(ctx, id, status))
}

func (m *MockOrderService) UpdateTrackingNumber(ctx context.Context, id uuid.UUID, trackingNumber string) (*order.Order, error) {
	return m.orderResult(m.Called(ctx, id, trackingNumber))
}

func (m *MockOrderService) CancelOrder(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	return m.orderResult(m.Called(ctx, id))
}

func (m *MockOrderService) ApplyPaymentOutcome(ctx context.Context, outcome order.PaymentOutcome) (*order.Order, error) {
	return m.orderResult(m.Called(ctx, outcome))
}

func newOrderRouter(svc order.Service) chi.Router {
	router := chi.NewRouter()
	handler.NewOrderHandler(svc).RegisterRoutes(router)
	return router
}

func validCreateOrderRequest() handler.CreateOrderRequest {
	return handler.CreateOrderRequest{
		UserID:    uuid.Must(uuid.NewV4()),
		UserEmail: "reader@example.com",
		UserName:  "Ada Reader",
		ShippingAddress: handler.ShippingAddressRequest{
			Street:     "1 Library Lane",
			City:       "Paris",
			PostalCode: "75001",
			Country:    "France",
			Phone:      "+33100000000",
		},
		PaymentMethod: "CREDIT_CARD",
	}
}

func sampleOrder() *order.Order {
	o := &order.Order{
		ID:            uuid.Must(uuid.NewV4()),
		OrderNumber:   "ORD-12345678",
		UserID:        uuid.Must(uuid.NewV4()),
		Status:        order.StatusPending,
		PaymentStatus: order.PaymentPending,
		PaymentMethod: "CREDIT_CARD",
		Items: []order.OrderItem{
			{BookID: 1, Title: "Dune", Price: decimal.RequireFromString("10.00"), Quantity: 1},
		},
	}
	o.Recalculate()
	return o
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	return body["error"]
}

func TestOrderHandler_handleCreateOrder_Success(t *testing.T) {
	mockService := new(MockOrderService)
	requestDTO := validCreateOrderRequest()
	created := sampleOrder()

	mockService.On("CreateOrder", mock.Anything, mock.MatchedBy(func(req order.CheckoutRequest) bool {
		return req.UserID == requestDTO.UserID &&
			req.UserEmail == requestDTO.UserEmail &&
			req.ShippingAddress.City == "Paris" &&
			req.PaymentMethod == "CREDIT_CARD"
	})).Return(created, nil).Once()

	jsonBody, err := json.Marshal(requestDTO)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBuffer(jsonBody))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	newOrderRouter(mockService).ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var actual order.Order
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&actual))
	assert.Equal(t, created.ID, actual.ID)
	assert.Equal(t, "ORD-12345678", actual.OrderNumber)
	assert.Equal(t, "16.99", actual.FinalAmount.StringFixed(2))
	mockService.AssertExpectations(t)
}

func TestOrderHandler_handleCreateOrder_ValidationFailure(t *testing.T) {
	mockService := new(MockOrderService)
	requestDTO := validCreateOrderRequest()
	requestDTO.UserEmail = "not-an-email"
	requestDTO.ShippingAddress.City = ""

	jsonBody, err := json.Marshal(requestDTO)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBuffer(jsonBody))
	rr := httptest.NewRecorder()

	newOrderRouter(mockService).ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	var actual handler.ValidationErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&actual))
	want := handler.ValidationErrorResponse{
		Error: "Validation failed",
		Details: map[string]string{
			"UserEmail": "must be a valid email",
			"City":      "is required",
		},
	}
	if diff := cmp.Diff(want, actual); diff != "" {
		t.Errorf("validation response mismatch (-want +got):\n%s", diff)
	}
	mockService.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything)
}

func TestOrderHandler_handleCreateOrder_ServiceErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{"empty_cart", order.ErrEmptyCart, http.StatusBadRequest, "cart is empty"},
		{"insufficient_stock", order.ErrInsufficientStock, http.StatusBadRequest, "insufficient stock"},
		{"book_missing", order.ErrBookNotFound, http.StatusNotFound, "book not found"},
		{"infrastructure", errors.New("db down"), http.StatusInternalServerError, "Failed to create order"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockOrderService)
			mockService.On("CreateOrder", mock.Anything, mock.Anything).Return(nil, tt.err).Once()

			jsonBody, err := json.Marshal(validCreateOrderRequest())
			require.NoError(t, err)
			req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBuffer(jsonBody))
			rr := httptest.NewRecorder()

			newOrderRouter(mockService).ServeHTTP(rr, req)
			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Equal(t, tt.wantError, decodeError(t, rr))
			mockService.AssertExpectations(t)
		})
	}
}

func TestOrderHandler_handleGetOrderByID(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		mockService := new(MockOrderService)
		o := sampleOrder()
		mockService.On("GetOrderByID", mock.Anything, o.ID).Return(o, nil).Once()

		rr := httptest.NewRecorder()
		newOrderRouter(mockService).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders/"+o.ID.String(), nil))
		require.Equal(t, http.StatusOK, rr.Code)
		mockService.AssertExpectations(t)
	})

	t.Run("not_found", func(t *testing.T) {
		mockService := new(MockOrderService)
		id := uuid.Must(uuid.NewV4())
		mockService.On("GetOrderByID", mock.Anything, id).Return(nil, order.ErrOrderNotFound).Once()

		rr := httptest.NewRecorder()
		newOrderRouter(mockService).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders/"+id.String(), nil))
		assert.Equal(t, http.StatusNotFound, rr.Code)
		assert.Equal(t, "order not found", decodeError(t, rr))
	})

	t.Run("invalid_id", func(t *testing.T) {
		mockService := new(MockOrderService)

		rr := httptest.NewRecorder()
		newOrderRouter(mockService).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders/not-a-uuid", nil))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		mockService.AssertNotCalled(t, "GetOrderByID", mock.Anything, mock.Anything)
	})
}

func TestOrderHandler_handleUpdateOrderStatus(t *testing.T) {
	t.Run("updated", func(t *testing.T) {
		mockService := new(MockOrderService)
		o := sampleOrder()
		o.Status = order.StatusShipped
		mockService.On("UpdateOrderStatus", mock.Anything, o.ID, "SHIPPED").Return(o, nil).Once()

		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPut, "/orders/"+o.ID.String()+"/status?status=SHIPPED", nil)
		newOrderRouter(mockService).ServeHTTP(rr, req)
		require.Equal(t, http.StatusOK, rr.Code)
		mockService.AssertExpectations(t)
	})

	t.Run("unknown_status", func(t *testing.T) {
		mockService := new(MockOrderService)
		id := uuid.Must(uuid.NewV4())
		mockService.On("UpdateOrderStatus", mock.Anything, id, "LOST").Return(nil, order.ErrUnknownStatus).Once()

		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPut, "/orders/"+id.String()+"/status?status=LOST", nil)
		newOrderRouter(mockService).ServeHTTP(rr, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("missing_status", func(t *testing.T) {
		mockService := new(MockOrderService)

		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPut, "/orders/"+uuid.Must(uuid.NewV4()).String()+"/status", nil)
		newOrderRouter(mockService).ServeHTTP(rr, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestOrderHandler_handleCancelOrder_ShippedRejected(t *testing.T) {
	mockService := new(MockOrderService)
	id := uuid.Must(uuid.NewV4())
	mockService.On("CancelOrder", mock.Anything, id).Return(nil, order.ErrInvalidTransition).Once()

	rr := httptest.NewRecorder()
	newOrderRouter(mockService).ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/orders/"+id.String()+"/cancel", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "invalid order status transition", decodeError(t, rr))
	mockService.AssertExpectations(t)
}

func TestOrderHandler_Queries(t *testing.T) {
	mockService := new(MockOrderService)
	o := sampleOrder()
	router := newOrderRouter(mockService)

	mockService.On("GetOrderByNumber", mock.Anything, "ORD-12345678").Return(o, nil).Once()
	mockService.On("GetOrdersByUserID", mock.Anything, o.UserID).Return([]order.Order{*o}, nil).Once()
	mockService.On("GetOrdersByStatus", mock.Anything, "pending").Return([]order.Order{*o}, nil).Once()
	mockService.On("GetAllOrders", mock.Anything).Return([]order.Order{*o}, nil).Once()
	mockService.On("GetUserStats", mock.Anything, o.UserID).
		Return(&order.UserStats{UserID: o.UserID, OrderCount: 1, TotalSpent: o.FinalAmount}, nil).Once()
	mockService.On("GetOrderByID", mock.Anything, o.ID).Return(o, nil).Once()
	mockService.On("GetCheckoutLog", mock.Anything, o.ID).
		Return([]sagalog.Entry{{SagaID: "01J", OrderID: o.ID.String(), Status: sagalog.StatusCompleted}}, nil).Once()
	mockService.On("UpdateTrackingNumber", mock.Anything, o.ID, "TRK-9").Return(o, nil).Once()

	requests := []*http.Request{
		httptest.NewRequest(http.MethodGet, "/orders/number/ORD-12345678", nil),
		httptest.NewRequest(http.MethodGet, "/orders/user/"+o.UserID.String(), nil),
		httptest.NewRequest(http.MethodGet, "/orders?status=pending", nil),
		httptest.NewRequest(http.MethodGet, "/orders", nil),
		httptest.NewRequest(http.MethodGet, "/orders/user/"+o.UserID.String()+"/stats", nil),
		httptest.NewRequest(http.MethodGet, "/orders/"+o.ID.String()+"/items", nil),
		httptest.NewRequest(http.MethodGet, "/orders/"+o.ID.String()+"/checkout-log", nil),
		httptest.NewRequest(http.MethodPut, "/orders/"+o.ID.String()+"/tracking?trackingNumber=TRK-9", nil),
	}
	for _, req := range requests {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code, req.URL.String())
	}
	mockService.AssertExpectations(t)
}

func TestHealth(t *testing.T) {
	router := chi.NewRouter()
	handler.RegisterHealth(router, "order-service")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, map[string]string{"status": "UP", "service": "order-service"}, body)
}
