package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/payment-service/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingDB struct {
	err error
}

func (d pingDB) PingContext(context.Context) error { return d.err }
func (d pingDB) Close() error                      { return nil }

type idleSweeper struct{}

func (idleSweeper) ExpireStale(context.Context, int) (int, error)              { return 0, nil }
func (idleSweeper) PurgeExpired(context.Context, time.Duration) (int64, error) { return 0, nil }

func serveHealth(t *testing.T, db pingDB, jobs jobStatusReporter) (int, map[string]interface{}) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.GET("/health", healthCheckHandler(db, nil, jobs))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w.Code, body
}

func TestHealthCheckHandler(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cronService := services.NewCronService(idleSweeper{}, logger, "0 0 3 * * *", 48*time.Hour)
	require.NoError(t, cronService.Start())
	t.Cleanup(cronService.Stop)

	t.Run("Healthy includes the scheduled jobs", func(t *testing.T) {
		code, body := serveHealth(t, pingDB{}, cronService)
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "healthy", body["status"])
		assert.Equal(t, "disabled", body["redis"])

		jobs, ok := body["jobs"].(map[string]interface{})
		require.True(t, ok, "jobs missing from %v", body)
		assert.Equal(t, true, jobs["running"])
		assert.Equal(t, float64(1), jobs["job_count"])
	})

	t.Run("Database down", func(t *testing.T) {
		code, body := serveHealth(t, pingDB{err: errors.New("connection refused")}, cronService)
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, "unhealthy", body["database"])
		assert.NotContains(t, body, "jobs")
	})
}

func TestRedactedQuery(t *testing.T) {
	q := url.Values{"paymentId": {"PAY-1"}, "token": {"ORDER-1"}, "PayerID": {"PAYER-9"}}
	redacted, err := url.ParseQuery(redactedQuery(q))
	require.NoError(t, err)
	assert.Equal(t, "PAY-1", redacted.Get("paymentId"))
	assert.Equal(t, "[redacted]", redacted.Get("token"))
	assert.Equal(t, "[redacted]", redacted.Get("PayerID"))
}
