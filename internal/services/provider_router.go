package services

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/smarttransit/payment-service/internal/models"
)

// ProviderOrder is what a provider returns when an order/session is created
type ProviderOrder struct {
	ProviderTransactionID string
	RedirectURL           string
	Raw                   map[string]interface{}
}

// CaptureResult is the provider's answer to a capture. Success=false means the provider
// reported a failure that should close the payment as FAILED with FailureReason.
// Unsettled means the provider has not taken the money yet but still may, so the
// payment stays PENDING.
type CaptureResult struct {
	Success       bool
	Unsettled     bool
	Status        string
	FailureReason string
	Raw           map[string]interface{}
}

// PaymentProvider is one external payment rail
type PaymentProvider interface {
	Name() string
	Method() models.PaymentMethod
	SupportedCurrencies() []string
	CreateOrder(ctx context.Context, payment *models.Payment) (*ProviderOrder, error)
	Capture(ctx context.Context, providerTxID string) (*CaptureResult, error)
}

// WebhookAction is what a verified provider webhook asks the engine to do
type WebhookAction string

const (
	WebhookActionCapture WebhookAction = "capture"
	WebhookActionCancel  WebhookAction = "cancel"
	WebhookActionIgnore  WebhookAction = "ignore"
)

// WebhookEvent is a verified, provider-neutral webhook notification
type WebhookEvent struct {
	ID                    string
	Type                  string
	Action                WebhookAction
	ProviderTransactionID string
}

// WebhookVerifier is implemented by providers that push signed notifications
type WebhookVerifier interface {
	Name() string
	VerifyWebhook(ctx context.Context, headers http.Header, body []byte) (*WebhookEvent, error)
}

// ProviderRouter maps payment methods to providers. It is built once at startup
// and is read-only afterwards.
type ProviderRouter struct {
	providers    map[models.PaymentMethod]PaymentProvider
	capabilities map[string][]models.PaymentMethod
}

// NewProviderRouter builds the routing table from each provider's declared support
func NewProviderRouter(providers ...PaymentProvider) *ProviderRouter {
	r := &ProviderRouter{
		providers:    make(map[models.PaymentMethod]PaymentProvider),
		capabilities: make(map[string][]models.PaymentMethod),
	}
	for _, p := range providers {
		if p == nil {
			continue
		}
		r.providers[p.Method()] = p
		for _, c := range p.SupportedCurrencies() {
			code := strings.ToUpper(c)
			r.capabilities[code] = append(r.capabilities[code], p.Method())
		}
	}
	for code := range r.capabilities {
		methods := r.capabilities[code]
		sort.Slice(methods, func(i, j int) bool { return methods[i] < methods[j] })
	}
	return r
}

// Route returns the provider registered for a method
func (r *ProviderRouter) Route(method models.PaymentMethod) (PaymentProvider, error) {
	p, ok := r.providers[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrUnsupportedMethod, method)
	}
	return p, nil
}

// SupportedMethods returns the methods usable with a currency (never nil)
func (r *ProviderRouter) SupportedMethods(currency string) []models.PaymentMethod {
	methods := r.capabilities[strings.ToUpper(strings.TrimSpace(currency))]
	out := make([]models.PaymentMethod, len(methods))
	copy(out, methods)
	return out
}

// Supports reports whether method can be used with currency
func (r *ProviderRouter) Supports(method models.PaymentMethod, currency string) bool {
	for _, m := range r.capabilities[strings.ToUpper(currency)] {
		if m == method {
			return true
		}
	}
	return false
}

// Providers returns the registered providers
func (r *ProviderRouter) Providers() []PaymentProvider {
	out := make([]PaymentProvider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Method() < out[j].Method() })
	return out
}
