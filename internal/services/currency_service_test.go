package services

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/payment-service/internal/config"
	"github.com/smarttransit/payment-service/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCurrencyService(t *testing.T, handler http.HandlerFunc) (*CurrencyService, *int32) {
	t.Helper()
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	svc := NewCurrencyService(config.CurrencyConfig{
		APIKey:   "test-key",
		BaseURL:  server.URL,
		CacheTTL: 10 * time.Minute,
	}, logger)
	return svc, &calls
}

func TestCurrencyService_ConvertToReference(t *testing.T) {
	svc, calls := newTestCurrencyService(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/test-key/latest/EUR", r.URL.Path)
		_, _ = io.WriteString(w, `{"result":"success","base_code":"EUR","conversion_rates":{"EUR":1,"USD":1.0853}}`)
	})
	ctx := context.Background()

	got, err := svc.ConvertToReference(ctx, decimal.RequireFromString("19.99"), "eur")
	require.NoError(t, err)
	assert.Equal(t, "21.6952", got.String())

	// served from cache
	_, err = svc.ConvertToReference(ctx, decimal.NewFromInt(1), "EUR")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))

	// cache expires
	base := time.Now()
	svc.now = func() time.Time { return base.Add(11 * time.Minute) }
	_, err = svc.ConvertToReference(ctx, decimal.NewFromInt(1), "EUR")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(calls))
}

func TestCurrencyService_ReferenceCurrencySkipsLookup(t *testing.T) {
	svc, calls := newTestCurrencyService(t, func(w http.ResponseWriter, r *http.Request) {})

	got, err := svc.ConvertToReference(context.Background(), decimal.NewFromInt(42), "USD")
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.NewFromInt(42)))
	assert.Equal(t, int32(0), atomic.LoadInt32(calls))
}

func TestCurrencyService_Errors(t *testing.T) {
	t.Run("Unsupported code", func(t *testing.T) {
		svc, _ := newTestCurrencyService(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"result":"error","error-type":"unsupported-code"}`)
		})
		_, err := svc.ConvertToReference(context.Background(), decimal.NewFromInt(1), "XYZ")
		assert.ErrorIs(t, err, models.ErrUnsupportedCurrency)
	})

	t.Run("Quota reached", func(t *testing.T) {
		svc, _ := newTestCurrencyService(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"result":"error","error-type":"quota-reached"}`)
		})
		_, err := svc.ConvertToReference(context.Background(), decimal.NewFromInt(1), "GBP")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "quota-reached")
	})

	t.Run("Missing key", func(t *testing.T) {
		svc, calls := newTestCurrencyService(t, func(w http.ResponseWriter, r *http.Request) {})
		svc.config.APIKey = ""
		_, err := svc.ConvertToReference(context.Background(), decimal.NewFromInt(1), "GBP")
		assert.Error(t, err)
		assert.Equal(t, int32(0), atomic.LoadInt32(calls))
	})
}
