package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"

	"github.com/vasiliy-maslov/bookstore-microservices/internal/payment"
)

type CreditCardRequest struct {
	CardNumber     string `json:"card_number" validate:"required,len=16,numeric"`
	CardHolderName string `json:"card_holder_name" validate:"required"`
	ExpiryMonth    string `json:"expiry_month" validate:"required,len=2,numeric"`
	ExpiryYear     string `json:"expiry_year" validate:"required,len=4,numeric"`
	CVV            string `json:"cvv" validate:"required,min=3,max=4,numeric"`
}

type ProcessPaymentRequest struct {
	OrderID       uuid.UUID          `json:"order_id" validate:"required"`
	OrderNumber   string             `json:"order_number" validate:"required"`
	UserID        uuid.UUID          `json:"user_id" validate:"required"`
	UserEmail     string             `json:"user_email" validate:"required,email"`
	Amount        decimal.Decimal    `json:"amount"`
	PaymentMethod string             `json:"payment_method" validate:"required"`
	CreditCard    *CreditCardRequest `json:"credit_card,omitempty" validate:"omitempty"`
	PaypalEmail   string             `json:"paypal_email,omitempty" validate:"omitempty,email"`
	Description   string             `json:"description,omitempty" validate:"max=500"`
}

type PaymentHandler struct {
	service  payment.Service
	validate *validator.Validate
}

func NewPaymentHandler(service payment.Service) *PaymentHandler {
	return &PaymentHandler{
		service:  service,
		validate: validator.New(),
	}
}

func (h *PaymentHandler) RegisterRoutes(router chi.Router) {
	router.Post("/payments", h.handleProcessPayment)
	router.Get("/payments", h.handleGetAllPayments)
	router.Get("/payments/status/{status}", h.handleGetPaymentsByStatus)
	router.Get("/payments/stats", h.handleGetStats)
	router.Get("/payments/{id}", h.handleGetPaymentByID)
	router.Get("/payments/reference/{reference}", h.handleGetPaymentByReference)
	router.Get("/payments/order/{orderId}", h.handleGetPaymentsByOrder)
	router.Get("/payments/user/{userId}", h.handleGetPaymentsByUser)
	router.Post("/payments/{id}/refund", h.handleRefundPayment)
	router.Put("/payments/{id}/cancel", h.handleCancelPayment)
}

func (h *PaymentHandler) handleProcessPayment(w http.ResponseWriter, r *http.Request) {
	var requestPayload ProcessPaymentRequest
	if !decodeAndValidate(w, r, h.validate, &requestPayload) {
		return
	}

	req := payment.Request{
		OrderID:       requestPayload.OrderID,
		OrderNumber:   requestPayload.OrderNumber,
		UserID:        requestPayload.UserID,
		UserEmail:     requestPayload.UserEmail,
		Amount:        requestPayload.Amount,
		PaymentMethod: requestPayload.PaymentMethod,
		PaypalEmail:   requestPayload.PaypalEmail,
		Description:   requestPayload.Description,
	}
	if card := requestPayload.CreditCard; card != nil {
		req.Card = &payment.CardDetails{
			Number:      card.CardNumber,
			HolderName:  card.CardHolderName,
			ExpiryMonth: card.ExpiryMonth,
			ExpiryYear:  card.ExpiryYear,
			CVV:         card.CVV,
		}
	}

	processed, err := h.service.ProcessPayment(r.Context(), req)
	if err != nil {
		respondWithServiceError(w, err, "Failed to process payment")
		return
	}
	respondWithJSON(w, http.StatusOK, processed)
}

func (h *PaymentHandler) handleGetPaymentByID(w http.ResponseWriter, r *http.Request) {
	paymentID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	found, err := h.service.GetPaymentByID(r.Context(), paymentID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to get payment by id")
		return
	}
	respondWithJSON(w, http.StatusOK, found)
}

func (h *PaymentHandler) handleGetPaymentByReference(w http.ResponseWriter, r *http.Request) {
	found, err := h.service.GetPaymentByReference(r.Context(), chi.URLParam(r, "reference"))
	if err != nil {
		respondWithServiceError(w, err, "Failed to get payment by reference")
		return
	}
	respondWithJSON(w, http.StatusOK, found)
}

func (h *PaymentHandler) handleGetPaymentsByOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := uuidParam(w, r, "orderId")
	if !ok {
		return
	}

	payments, err := h.service.GetPaymentsByOrderID(r.Context(), orderID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to get order payments")
		return
	}
	respondWithJSON(w, http.StatusOK, payments)
}

func (h *PaymentHandler) handleGetPaymentsByUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := uuidParam(w, r, "userId")
	if !ok {
		return
	}

	payments, err := h.service.GetPaymentsByUserID(r.Context(), userID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to get user payments")
		return
	}
	respondWithJSON(w, http.StatusOK, payments)
}

func (h *PaymentHandler) handleGetAllPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := h.service.GetAllPayments(r.Context())
	if err != nil {
		respondWithServiceError(w, err, "Failed to get payments")
		return
	}
	respondWithJSON(w, http.StatusOK, payments)
}

func (h *PaymentHandler) handleGetPaymentsByStatus(w http.ResponseWriter, r *http.Request) {
	payments, err := h.service.GetPaymentsByStatus(r.Context(), chi.URLParam(r, "status"))
	if err != nil {
		respondWithServiceError(w, err, "Failed to get payments by status")
		return
	}
	respondWithJSON(w, http.StatusOK, payments)
}

func (h *PaymentHandler) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GetStats(r.Context())
	if err != nil {
		respondWithServiceError(w, err, "Failed to get payment stats")
		return
	}
	respondWithJSON(w, http.StatusOK, stats)
}

func (h *PaymentHandler) handleRefundPayment(w http.ResponseWriter, r *http.Request) {
	paymentID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	refunded, err := h.service.RefundPayment(r.Context(), paymentID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to refund payment")
		return
	}
	respondWithJSON(w, http.StatusOK, refunded)
}

func (h *PaymentHandler) handleCancelPayment(w http.ResponseWriter, r *http.Request) {
	paymentID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	cancelled, err := h.service.CancelPayment(r.Context(), paymentID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to cancel payment")
		return
	}
	respondWithJSON(w, http.StatusOK, cancelled)
}
