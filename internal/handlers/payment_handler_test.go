package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/payment-service/internal/middleware"
	"github.com/smarttransit/payment-service/internal/models"
	"github.com/smarttransit/payment-service/pkg/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPaymentID = "PAY-1718000000000-123456"

// fakeEngine lets each test script the engine responses it needs
type fakeEngine struct {
	payments map[string]*models.Payment

	createFn   func(req *models.CreatePaymentRequest) (*models.Payment, error)
	initiateFn func(id string) (*models.RedirectResult, error)
	captureFn  func(id, token, payer string) (*models.Payment, error)
	cancelFn   func(id, reason string) (*models.Payment, error)
	byTxFn     func(action, txID string) (*models.Payment, error)

	listed struct {
		owner      uuid.UUID
		page, size int
	}
}

func newFakeEngine(payments ...*models.Payment) *fakeEngine {
	e := &fakeEngine{payments: make(map[string]*models.Payment)}
	for _, p := range payments {
		e.payments[p.PaymentID] = p
	}
	return e
}

func (e *fakeEngine) CreatePayment(_ context.Context, _ uuid.UUID, req *models.CreatePaymentRequest, _ models.RequestOrigin) (*models.Payment, error) {
	return e.createFn(req)
}

func (e *fakeEngine) InitiatePayment(_ context.Context, id string, _ models.RequestOrigin) (*models.RedirectResult, error) {
	return e.initiateFn(id)
}

func (e *fakeEngine) CaptureSuccess(_ context.Context, id, token, payer string, _ models.RequestOrigin) (*models.Payment, error) {
	return e.captureFn(id, token, payer)
}

func (e *fakeEngine) CaptureByProviderTransaction(_ context.Context, txID string, _ models.RequestOrigin) (*models.Payment, error) {
	return e.byTxFn("capture", txID)
}

func (e *fakeEngine) Cancel(_ context.Context, id, reason string, _ models.RequestOrigin) (*models.Payment, error) {
	return e.cancelFn(id, reason)
}

func (e *fakeEngine) CancelByProviderTransaction(_ context.Context, txID string, _ models.RequestOrigin) (*models.Payment, error) {
	return e.byTxFn("cancel", txID)
}

func (e *fakeEngine) GetPayment(_ context.Context, id string) (*models.Payment, error) {
	p, ok := e.payments[id]
	if !ok {
		return nil, models.ErrPaymentNotFound
	}
	return p, nil
}

func (e *fakeEngine) GetPaymentDetails(ctx context.Context, id string) (*models.PaymentResponse, error) {
	p, err := e.GetPayment(ctx, id)
	if err != nil {
		return nil, err
	}
	return &models.PaymentResponse{Payment: p}, nil
}

func (e *fakeEngine) ListForOwner(_ context.Context, owner uuid.UUID, page, size int) (*models.PaymentPage, error) {
	e.listed.owner, e.listed.page, e.listed.size = owner, page, size
	return models.NewPaymentPage(nil, page, size, 0), nil
}

func (e *fakeEngine) GetHistory(_ context.Context, id string) ([]*models.PaymentTransaction, error) {
	return []*models.PaymentTransaction{
		models.NewPaymentTransaction(id, models.PaymentTransactionCreated, models.PaymentStatusCreated),
	}, nil
}

func (e *fakeEngine) AvailableMethods(currency string) []models.PaymentMethod {
	if currency == "EUR" {
		return []models.PaymentMethod{models.PaymentMethodPayPal, models.PaymentMethodStripe}
	}
	return []models.PaymentMethod{}
}

// ============================================================================
// SETUP
// ============================================================================

type handlerFixture struct {
	router  *gin.Engine
	engine  *fakeEngine
	jwt     *jwt.Service
	ownerID uuid.UUID
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newHandlerFixture(t *testing.T, payments ...*models.Payment) *handlerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	engine := newFakeEngine(payments...)
	jwtService := jwt.NewService("test-secret", "smarttransit-auth", time.Hour)
	logger := quietLogger()
	handler := NewPaymentHandler(engine, logger)

	router := gin.New()
	v1 := router.Group("/api/v1")
	v1.GET("/payments/methods", handler.GetAvailableMethods)
	protected := v1.Group("/payments", middleware.AuthMiddleware(jwtService, logger))
	{
		protected.POST("", handler.CreatePayment)
		protected.GET("/mine", handler.GetMyPayments)
		protected.GET("/:id", handler.GetPayment)
		protected.GET("/:id/history", handler.GetHistory)
		protected.POST("/:id/initiate", handler.InitiatePayment)
		protected.POST("/:id/cancel", handler.CancelPayment)
	}

	ownerID := uuid.New()
	if len(payments) > 0 {
		ownerID = payments[0].OwnerID
	}
	return &handlerFixture{router: router, engine: engine, jwt: jwtService, ownerID: ownerID}
}

func (f *handlerFixture) do(t *testing.T, method, path string, body interface{}, userID uuid.UUID, roles ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != uuid.Nil {
		token, err := f.jwt.GenerateAccessToken(userID, roles)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func testPayment(status models.PaymentStatus) *models.Payment {
	return &models.Payment{
		ID:        uuid.New(),
		PaymentID: testPaymentID,
		BookingID: "B1",
		OwnerID:   uuid.New(),
		Amount:    decimal.NewFromInt(100),
		Currency:  "EUR",
		Status:    status,
		ExpiresAt: time.Now().Add(30 * time.Minute),
	}
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

// ============================================================================
// TESTS
// ============================================================================

func TestCreatePayment(t *testing.T) {
	validBody := gin.H{"booking_id": "B1", "amount": "100.00", "currency": "eur", "payment_method": "PAYPAL"}

	t.Run("Created", func(t *testing.T) {
		f := newHandlerFixture(t)
		f.engine.createFn = func(req *models.CreatePaymentRequest) (*models.Payment, error) {
			assert.Equal(t, "EUR", req.Currency)
			return testPayment(models.PaymentStatusCreated), nil
		}

		w := f.do(t, http.MethodPost, "/api/v1/payments", validBody, f.ownerID)
		assert.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, "CREATED", decode(t, w)["status"])
	})

	errorCases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"Booking already paid", models.ErrBookingAlreadyPaid, http.StatusConflict, "BOOKING_ALREADY_PAID"},
		{"Payment already pending", models.ErrPaymentAlreadyPending, http.StatusConflict, "PAYMENT_ALREADY_PENDING"},
		{"Unsupported currency", models.ErrUnsupportedCurrency, http.StatusBadRequest, "UNSUPPORTED_CURRENCY"},
		{"Validation", errors.Join(models.ErrValidation, errors.New("amount must be greater than zero")), http.StatusBadRequest, "VALIDATION_ERROR"},
		{"Database down", errors.New("connection refused"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tc := range errorCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newHandlerFixture(t)
			f.engine.createFn = func(*models.CreatePaymentRequest) (*models.Payment, error) { return nil, tc.err }

			w := f.do(t, http.MethodPost, "/api/v1/payments", validBody, f.ownerID)
			assert.Equal(t, tc.status, w.Code)
			assert.Equal(t, tc.code, decode(t, w)["error"])
		})
	}

	t.Run("Malformed currency never reaches the engine", func(t *testing.T) {
		f := newHandlerFixture(t)
		body := gin.H{"booking_id": "B1", "amount": "1", "currency": "EURO", "payment_method": "PAYPAL"}

		w := f.do(t, http.MethodPost, "/api/v1/payments", body, f.ownerID)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Requires a token", func(t *testing.T) {
		f := newHandlerFixture(t)
		w := f.do(t, http.MethodPost, "/api/v1/payments", validBody, uuid.Nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestInitiatePayment(t *testing.T) {
	path := "/api/v1/payments/" + testPaymentID + "/initiate"

	t.Run("Redirect", func(t *testing.T) {
		f := newHandlerFixture(t, testPayment(models.PaymentStatusCreated))
		f.engine.initiateFn = func(id string) (*models.RedirectResult, error) {
			return &models.RedirectResult{PaymentID: id, RedirectURL: "https://paypal.test/approve", ProviderOrderID: "ORDER-1", Status: models.PaymentStatusPending}, nil
		}

		w := f.do(t, http.MethodPost, path, nil, f.ownerID)
		require.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Equal(t, "https://paypal.test/approve", body["redirect_url"])
		assert.Equal(t, "PENDING", body["status"])
	})

	t.Run("Not initiable carries the status", func(t *testing.T) {
		f := newHandlerFixture(t, testPayment(models.PaymentStatusPending))
		f.engine.initiateFn = func(id string) (*models.RedirectResult, error) {
			return &models.RedirectResult{PaymentID: id, Status: models.PaymentStatusPending, Message: "Payment cannot be initiated in status PENDING"}, nil
		}

		w := f.do(t, http.MethodPost, path, nil, f.ownerID)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "PENDING", decode(t, w)["status"])
	})

	t.Run("Provider error", func(t *testing.T) {
		f := newHandlerFixture(t, testPayment(models.PaymentStatusCreated))
		f.engine.initiateFn = func(string) (*models.RedirectResult, error) {
			return nil, models.NewProviderError("PayPal", models.ProviderErrorInsufficientFunds, "INSUFFICIENT_FUNDS", nil)
		}

		w := f.do(t, http.MethodPost, path, nil, f.ownerID)
		assert.Equal(t, http.StatusBadGateway, w.Code)
		body := decode(t, w)
		assert.Equal(t, "PROVIDER_API_ERROR", body["error"])
		assert.Equal(t, "insufficient_funds", body["category"])
	})

	t.Run("Other users are forbidden, admins too", func(t *testing.T) {
		f := newHandlerFixture(t, testPayment(models.PaymentStatusCreated))

		w := f.do(t, http.MethodPost, path, nil, uuid.New())
		assert.Equal(t, http.StatusForbidden, w.Code)

		w = f.do(t, http.MethodPost, path, nil, uuid.New(), jwt.RoleAdmin)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("Unknown payment", func(t *testing.T) {
		f := newHandlerFixture(t)
		w := f.do(t, http.MethodPost, path, nil, f.ownerID)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("Malformed id", func(t *testing.T) {
		f := newHandlerFixture(t)
		w := f.do(t, http.MethodPost, "/api/v1/payments/nope/initiate", nil, f.ownerID)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestGetPayment(t *testing.T) {
	path := "/api/v1/payments/" + testPaymentID
	f := newHandlerFixture(t, testPayment(models.PaymentStatusCompleted))

	w := f.do(t, http.MethodGet, path, nil, f.ownerID)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, testPaymentID, decode(t, w)["payment_id"])

	// admins may read any payment
	w = f.do(t, http.MethodGet, path, nil, uuid.New(), jwt.RoleAdmin)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, path, nil, uuid.New())
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, http.MethodGet, path+"/history", nil, f.ownerID)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["total"])
}

func TestGetMyPayments(t *testing.T) {
	f := newHandlerFixture(t)

	w := f.do(t, http.MethodGet, "/api/v1/payments/mine", nil, f.ownerID)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, f.ownerID, f.engine.listed.owner)
	assert.Equal(t, 0, f.engine.listed.page)
	assert.Equal(t, 20, f.engine.listed.size)

	w = f.do(t, http.MethodGet, "/api/v1/payments/mine?page=2&size=500", nil, f.ownerID)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, f.engine.listed.page)
	assert.Equal(t, 100, f.engine.listed.size)

	w = f.do(t, http.MethodGet, "/api/v1/payments/mine?page=-1", nil, f.ownerID)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCancelPayment(t *testing.T) {
	stored := testPayment(models.PaymentStatusPending)
	f := newHandlerFixture(t, stored)
	calls := 0
	f.engine.cancelFn = func(id, reason string) (*models.Payment, error) {
		calls++
		cancelled := *stored
		cancelled.Status = models.PaymentStatusCancelled
		return &cancelled, nil
	}

	for i := 0; i < 2; i++ {
		w := f.do(t, http.MethodPost, "/api/v1/payments/"+testPaymentID+"/cancel", nil, f.ownerID)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "CANCELLED", decode(t, w)["status"])
	}
	assert.Equal(t, 2, calls)
}

func TestGetAvailableMethods(t *testing.T) {
	f := newHandlerFixture(t)

	w := f.do(t, http.MethodGet, "/api/v1/payments/methods?currency=eur", nil, uuid.Nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "EUR", body["currency"])
	assert.Equal(t, []interface{}{"PAYPAL", "STRIPE"}, body["methods"])

	w = f.do(t, http.MethodGet, "/api/v1/payments/methods?currency=XYZ", nil, uuid.Nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []interface{}{}, decode(t, w)["methods"])

	w = f.do(t, http.MethodGet, "/api/v1/payments/methods", nil, uuid.Nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
