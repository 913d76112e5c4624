package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/payment-service/internal/config"
	"github.com/smarttransit/payment-service/internal/models"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// CurrencyConverter converts amounts into the reference currency
type CurrencyConverter interface {
	ConvertToReference(ctx context.Context, amount decimal.Decimal, from string) (decimal.Decimal, error)
}

type cachedRate struct {
	rate      decimal.Decimal
	fetchedAt time.Time
}

// CurrencyService looks up rates from ExchangeRate-API and caches them in memory
type CurrencyService struct {
	config config.CurrencyConfig
	logger *logrus.Logger
	client *http.Client

	mu    sync.RWMutex
	rates map[string]cachedRate
	now   func() time.Time
}

// NewCurrencyService creates a new currency service
func NewCurrencyService(cfg config.CurrencyConfig, logger *logrus.Logger) *CurrencyService {
	return &CurrencyService{
		config: cfg,
		logger: logger,
		client: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		rates: make(map[string]cachedRate),
		now:   time.Now,
	}
}

// ConvertToReference converts amount from the given currency into USD, rounded to 4 places
func (s *CurrencyService) ConvertToReference(ctx context.Context, amount decimal.Decimal, from string) (decimal.Decimal, error) {
	from = strings.ToUpper(strings.TrimSpace(from))
	if from == models.ReferenceCurrency {
		return amount, nil
	}

	rate, err := s.rate(ctx, from)
	if err != nil {
		return decimal.Zero, err
	}
	return amount.Mul(rate).Round(4), nil
}

func (s *CurrencyService) rate(ctx context.Context, from string) (decimal.Decimal, error) {
	s.mu.RLock()
	cached, ok := s.rates[from]
	s.mu.RUnlock()
	if ok && s.now().Sub(cached.fetchedAt) < s.config.CacheTTL {
		return cached.rate, nil
	}

	rate, err := s.fetchRate(ctx, from)
	if err != nil {
		return decimal.Zero, err
	}

	s.mu.Lock()
	s.rates[from] = cachedRate{rate: rate, fetchedAt: s.now()}
	s.mu.Unlock()
	return rate, nil
}

func (s *CurrencyService) fetchRate(ctx context.Context, from string) (decimal.Decimal, error) {
	if s.config.APIKey == "" {
		return decimal.Zero, fmt.Errorf("exchange rate API key is not configured")
	}

	endpoint := fmt.Sprintf("%s/%s/latest/%s", strings.TrimRight(s.config.BaseURL, "/"), s.config.APIKey, from)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to build rate request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to fetch exchange rate: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read exchange rate response: %w", err)
	}
	var payload struct {
		Result          string                     `json:"result"`
		ErrorType       string                     `json:"error-type"`
		ConversionRates map[string]decimal.Decimal `json:"conversion_rates"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return decimal.Zero, fmt.Errorf("exchange rate API returned status %d: %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || payload.Result != "success" {
		if payload.ErrorType == "unsupported-code" {
			return decimal.Zero, fmt.Errorf("%w: %s", models.ErrUnsupportedCurrency, from)
		}
		return decimal.Zero, fmt.Errorf("exchange rate lookup failed: %s", payload.ErrorType)
	}

	rate, ok := payload.ConversionRates[models.ReferenceCurrency]
	if !ok || !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("no %s rate for %s", models.ReferenceCurrency, from)
	}

	s.logger.WithFields(logrus.Fields{
		"from": from,
		"to":   models.ReferenceCurrency,
		"rate": rate.String(),
	}).Debug("Exchange rate fetched")

	return rate, nil
}
