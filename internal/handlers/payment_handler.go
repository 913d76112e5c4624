package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/payment-service/internal/middleware"
	"github.com/smarttransit/payment-service/internal/models"
	"github.com/smarttransit/payment-service/internal/utils"
	"github.com/smarttransit/payment-service/pkg/validator"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// PaymentEngine is the lifecycle API the HTTP layer drives
type PaymentEngine interface {
	CreatePayment(ctx context.Context, ownerID uuid.UUID, req *models.CreatePaymentRequest, origin models.RequestOrigin) (*models.Payment, error)
	InitiatePayment(ctx context.Context, paymentID string, origin models.RequestOrigin) (*models.RedirectResult, error)
	CaptureSuccess(ctx context.Context, paymentID, providerToken, payerRef string, origin models.RequestOrigin) (*models.Payment, error)
	CaptureByProviderTransaction(ctx context.Context, providerTxID string, origin models.RequestOrigin) (*models.Payment, error)
	Cancel(ctx context.Context, paymentID, reason string, origin models.RequestOrigin) (*models.Payment, error)
	CancelByProviderTransaction(ctx context.Context, providerTxID string, origin models.RequestOrigin) (*models.Payment, error)
	GetPayment(ctx context.Context, paymentID string) (*models.Payment, error)
	GetPaymentDetails(ctx context.Context, paymentID string) (*models.PaymentResponse, error)
	ListForOwner(ctx context.Context, ownerID uuid.UUID, page, size int) (*models.PaymentPage, error)
	GetHistory(ctx context.Context, paymentID string) ([]*models.PaymentTransaction, error)
	AvailableMethods(currency string) []models.PaymentMethod
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// PaymentHandler handles authenticated payment endpoints
type PaymentHandler struct {
	engine     PaymentEngine
	currencies *validator.CurrencyValidator
	logger     *logrus.Logger
}

// NewPaymentHandler creates a new PaymentHandler
func NewPaymentHandler(engine PaymentEngine, logger *logrus.Logger) *PaymentHandler {
	return &PaymentHandler{
		engine:     engine,
		currencies: validator.NewCurrencyValidator(),
		logger:     logger,
	}
}

// ============================================================================
// CREATE - POST /api/v1/payments
// ============================================================================

// CreatePayment creates a payment for a booking
// @Summary Create payment
// @Description Stores a CREATED payment for the booking. One payment per booking, one in-flight payment per owner.
// @Tags Payments
// @Accept json
// @Produce json
// @Param Authorization header string true "Bearer token"
// @Param request body models.CreatePaymentRequest true "Payment request"
// @Success 201 {object} models.Payment
// @Failure 400 {object} ErrorResponse "Validation error or unsupported currency"
// @Failure 409 {object} ErrorResponse "Booking already paid or payment already pending"
// @Router /payments [post]
func (h *PaymentHandler) CreatePayment(c *gin.Context) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	var req models.CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "VALIDATION_ERROR", Message: "invalid request: " + err.Error()})
		return
	}

	currency, err := h.currencies.Validate(req.Currency)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "VALIDATION_ERROR", Message: err.Error()})
		return
	}
	req.Currency = currency

	payment, err := h.engine.CreatePayment(c.Request.Context(), userCtx.UserID, &req, utils.RequestOrigin(c))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, payment)
}

// ============================================================================
// INITIATE - POST /api/v1/payments/:id/initiate
// ============================================================================

// InitiatePayment creates the provider order and returns the redirect URL
// @Summary Initiate payment
// @Tags Payments
// @Produce json
// @Param Authorization header string true "Bearer token"
// @Param id path string true "Payment ID"
// @Success 200 {object} models.RedirectResult
// @Failure 400 {object} models.RedirectResult "Payment cannot be initiated in its current status"
// @Failure 403 {object} ErrorResponse "Not the payment owner"
// @Failure 502 {object} map[string]interface{} "Provider error"
// @Router /payments/{id}/initiate [post]
func (h *PaymentHandler) InitiatePayment(c *gin.Context) {
	payment, ok := h.loadOwned(c, false)
	if !ok {
		return
	}

	result, err := h.engine.InitiatePayment(c.Request.Context(), payment.PaymentID, utils.RequestOrigin(c))
	if err != nil {
		h.respondError(c, err)
		return
	}

	if !result.Initiated() {
		c.JSON(http.StatusBadRequest, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ============================================================================
// READS
// ============================================================================

// GetPayment handles GET /api/v1/payments/:id
// @Summary Get payment
// @Tags Payments
// @Produce json
// @Param Authorization header string true "Bearer token"
// @Param id path string true "Payment ID"
// @Success 200 {object} models.PaymentResponse
// @Failure 404 {object} ErrorResponse
// @Router /payments/{id} [get]
func (h *PaymentHandler) GetPayment(c *gin.Context) {
	payment, ok := h.loadOwned(c, true)
	if !ok {
		return
	}

	details, err := h.engine.GetPaymentDetails(c.Request.Context(), payment.PaymentID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, details)
}

// GetMyPayments handles GET /api/v1/payments/mine?page=&size=
func (h *PaymentHandler) GetMyPayments(c *gin.Context) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	page, err := strconv.Atoi(c.DefaultQuery("page", "0"))
	if err != nil || page < 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "VALIDATION_ERROR", Message: "page must be a non-negative integer"})
		return
	}
	size, err := strconv.Atoi(c.DefaultQuery("size", strconv.Itoa(defaultPageSize)))
	if err != nil || size < 1 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "VALIDATION_ERROR", Message: "size must be a positive integer"})
		return
	}
	if size > maxPageSize {
		size = maxPageSize
	}

	result, err := h.engine.ListForOwner(c.Request.Context(), userCtx.UserID, page, size)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetHistory handles GET /api/v1/payments/:id/history
func (h *PaymentHandler) GetHistory(c *gin.Context) {
	payment, ok := h.loadOwned(c, true)
	if !ok {
		return
	}

	history, err := h.engine.GetHistory(c.Request.Context(), payment.PaymentID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"payment_id": payment.PaymentID,
		"history":    history,
		"total":      len(history),
	})
}

// GetAvailableMethods handles GET /api/v1/payments/methods?currency=EUR (public)
func (h *PaymentHandler) GetAvailableMethods(c *gin.Context) {
	currency, err := h.currencies.Validate(c.Query("currency"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "VALIDATION_ERROR", Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, models.AvailableMethodsResponse{
		Currency: currency,
		Methods:  h.engine.AvailableMethods(currency),
	})
}

// ============================================================================
// CANCEL - POST /api/v1/payments/:id/cancel
// ============================================================================

// CancelPayment cancels a CREATED or PENDING payment. Cancelling a closed payment
// returns it unchanged.
func (h *PaymentHandler) CancelPayment(c *gin.Context) {
	payment, ok := h.loadOwned(c, false)
	if !ok {
		return
	}

	cancelled, err := h.engine.Cancel(c.Request.Context(), payment.PaymentID, "", utils.RequestOrigin(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cancelled)
}

// ============================================================================
// HELPERS
// ============================================================================

// loadOwned loads the payment named by :id and checks it belongs to the caller.
// Admins pass the ownership check only when adminAllowed is set (reads).
func (h *PaymentHandler) loadOwned(c *gin.Context, adminAllowed bool) (*models.Payment, bool) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return nil, false
	}

	paymentID := c.Param("id")
	if err := validator.ValidatePaymentID(paymentID); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_id", Message: err.Error()})
		return nil, false
	}

	payment, err := h.engine.GetPayment(c.Request.Context(), paymentID)
	if err != nil {
		h.respondError(c, err)
		return nil, false
	}

	if !payment.BelongsTo(userCtx.UserID) && !(adminAllowed && userCtx.IsAdmin()) {
		h.logger.WithFields(logrus.Fields{
			"payment_id": paymentID,
			"user_id":    userCtx.UserID,
		}).Warn("Payment access denied: not the owner")
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "FORBIDDEN", Message: "payment belongs to another user"})
		return nil, false
	}
	return payment, true
}

// respondError maps engine errors onto HTTP responses
func (h *PaymentHandler) respondError(c *gin.Context, err error) {
	if pe, ok := models.AsProviderError(err); ok {
		c.JSON(http.StatusBadGateway, gin.H{
			"error":    "PROVIDER_API_ERROR",
			"category": pe.Category,
			"provider": pe.Provider,
			"message":  pe.Message,
		})
		return
	}

	status, code := errorStatus(err)
	if status == http.StatusInternalServerError {
		h.logger.WithError(err).WithField("path", c.FullPath()).Error("Payment request failed")
		c.JSON(status, ErrorResponse{Error: code, Message: "internal server error"})
		return
	}
	c.JSON(status, ErrorResponse{Error: code, Message: err.Error()})
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest, "VALIDATION_ERROR"
	case errors.Is(err, models.ErrBookingAlreadyPaid):
		return http.StatusConflict, "BOOKING_ALREADY_PAID"
	case errors.Is(err, models.ErrPaymentAlreadyPending):
		return http.StatusConflict, "PAYMENT_ALREADY_PENDING"
	case errors.Is(err, models.ErrPaymentNotFound):
		return http.StatusNotFound, "PAYMENT_NOT_FOUND"
	case errors.Is(err, models.ErrInvalidState):
		return http.StatusBadRequest, "INVALID_STATE"
	case errors.Is(err, models.ErrUnsupportedCurrency):
		return http.StatusBadRequest, "UNSUPPORTED_CURRENCY"
	case errors.Is(err, models.ErrUnsupportedMethod):
		return http.StatusBadRequest, "UNSUPPORTED_METHOD"
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR"
}
