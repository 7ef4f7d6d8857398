package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"

	"github.com/vasiliy-maslov/bookstore-microservices/internal/order"
)

type ShippingAddressRequest struct {
	Street     string `json:"street" validate:"required"`
	City       string `json:"city" validate:"required"`
	PostalCode string `json:"postal_code" validate:"required"`
	Country    string `json:"country" validate:"required"`
	Phone      string `json:"phone" validate:"required"`
}

type CreateOrderRequest struct {
	UserID          uuid.UUID              `json:"user_id" validate:"required"`
	UserEmail       string                 `json:"user_email" validate:"required,email"`
	UserName        string                 `json:"user_name" validate:"required"`
	ShippingAddress ShippingAddressRequest `json:"shipping_address"`
	PaymentMethod   string                 `json:"payment_method" validate:"required,oneof=CREDIT_CARD DEBIT_CARD PAYPAL BANK_TRANSFER credit_card debit_card paypal bank_transfer"`
	Notes           string                 `json:"notes" validate:"max=1000"`
}

type OrderHandler struct {
	service  order.Service
	validate *validator.Validate
}

func NewOrderHandler(service order.Service) *OrderHandler {
	return &OrderHandler{
		service:  service,
		validate: validator.New(),
	}
}

func (h *OrderHandler) RegisterRoutes(router chi.Router) {
	router.Post("/orders", h.handleCreateOrder)
	router.Get("/orders", h.handleListOrders)
	router.Get("/orders/{id}", h.handleGetOrderByID)
	router.Get("/orders/{id}/items", h.handleGetOrderItems)
	router.Get("/orders/{id}/checkout-log", h.handleGetCheckoutLog)
	router.Get("/orders/number/{orderNumber}", h.handleGetOrderByNumber)
	router.Get("/orders/user/{userId}", h.handleGetOrdersByUser)
	router.Get("/orders/user/{userId}/stats", h.handleGetUserStats)
	router.Put("/orders/{id}/status", h.handleUpdateOrderStatus)
	router.Put("/orders/{id}/tracking", h.handleUpdateTrackingNumber)
	router.Put("/orders/{id}/cancel", h.handleCancelOrder)
}

func (h *OrderHandler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var requestPayload CreateOrderRequest
	if !decodeAndValidate(w, r, h.validate, &requestPayload) {
		return
	}

	created, err := h.service.CreateOrder(r.Context(), order.CheckoutRequest{
		UserID:    requestPayload.UserID,
		UserEmail: requestPayload.UserEmail,
		UserName:  requestPayload.UserName,
		ShippingAddress: order.ShippingAddress{
			Street:     requestPayload.ShippingAddress.Street,
			City:       requestPayload.ShippingAddress.City,
			PostalCode: requestPayload.ShippingAddress.PostalCode,
			Country:    requestPayload.ShippingAddress.Country,
			Phone:      requestPayload.ShippingAddress.Phone,
		},
		PaymentMethod: requestPayload.PaymentMethod,
		Notes:         requestPayload.Notes,
	})
	if err != nil {
		respondWithServiceError(w, err, "Failed to create order")
		return
	}

	respondWithJSON(w, http.StatusOK, created)
}

func (h *OrderHandler) handleGetOrderByID(w http.ResponseWriter, r *http.Request) {
	orderID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	found, err := h.service.GetOrderByID(r.Context(), orderID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to get order by id")
		return
	}
	respondWithJSON(w, http.StatusOK, found)
}

func (h *OrderHandler) handleGetOrderItems(w http.ResponseWriter, r *http.Request) {
	orderID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	found, err := h.service.GetOrderByID(r.Context(), orderID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to get order items")
		return
	}
	respondWithJSON(w, http.StatusOK, found.Items)
}

func (h *OrderHandler) handleGetCheckoutLog(w http.ResponseWriter, r *http.Request) {
	orderID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	entries, err := h.service.GetCheckoutLog(r.Context(), orderID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to get checkout log")
		return
	}
	respondWithJSON(w, http.StatusOK, entries)
}

func (h *OrderHandler) handleGetOrderByNumber(w http.ResponseWriter, r *http.Request) {
	orderNumber := chi.URLParam(r, "orderNumber")

	found, err := h.service.GetOrderByNumber(r.Context(), orderNumber)
	if err != nil {
		respondWithServiceError(w, err, "Failed to get order by number")
		return
	}
	respondWithJSON(w, http.StatusOK, found)
}

func (h *OrderHandler) handleGetOrdersByUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := uuidParam(w, r, "userId")
	if !ok {
		return
	}

	orders, err := h.service.GetOrdersByUserID(r.Context(), userID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to get user orders")
		return
	}
	respondWithJSON(w, http.StatusOK, orders)
}

// handleListOrders lists every order, or only those in ?status= when given.
func (h *OrderHandler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "" {
		orders, err := h.service.GetAllOrders(r.Context())
		if err != nil {
			respondWithServiceError(w, err, "Failed to get orders")
			return
		}
		respondWithJSON(w, http.StatusOK, orders)
		return
	}

	orders, err := h.service.GetOrdersByStatus(r.Context(), status)
	if err != nil {
		respondWithServiceError(w, err, "Failed to get orders by status")
		return
	}
	respondWithJSON(w, http.StatusOK, orders)
}

func (h *OrderHandler) handleGetUserStats(w http.ResponseWriter, r *http.Request) {
	userID, ok := uuidParam(w, r, "userId")
	if !ok {
		return
	}

	stats, err := h.service.GetUserStats(r.Context(), userID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to get user stats")
		return
	}
	respondWithJSON(w, http.StatusOK, stats)
}

func (h *OrderHandler) handleUpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	status := r.URL.Query().Get("status")
	if status == "" {
		respondWithError(w, http.StatusBadRequest, "status query parameter is required")
		return
	}

	updated, err := h.service.UpdateOrderStatus(r.Context(), orderID, status)
	if err != nil {
		respondWithServiceError(w, err, "Failed to update order status")
		return
	}
	respondWithJSON(w, http.StatusOK, updated)
}

func (h *OrderHandler) handleUpdateTrackingNumber(w http.ResponseWriter, r *http.Request) {
	orderID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	updated, err := h.service.UpdateTrackingNumber(r.Context(), orderID, r.URL.Query().Get("trackingNumber"))
	if err != nil {
		respondWithServiceError(w, err, "Failed to update tracking number")
		return
	}
	respondWithJSON(w, http.StatusOK, updated)
}

func (h *OrderHandler) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	cancelled, err := h.service.CancelOrder(r.Context(), orderID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to cancel order")
		return
	}
	respondWithJSON(w, http.StatusOK, cancelled)
}
