package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smarttransit/payment-service/internal/config"
	"github.com/smarttransit/payment-service/internal/models"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// PayPalEnvironmentURLs maps environment names to REST API base URLs
var PayPalEnvironmentURLs = map[string]string{
	"sandbox": "https://api-m.sandbox.paypal.com",
	"live":    "https://api-m.paypal.com",
}

// payPalCurrencies are the currencies PayPal accepts for checkout orders
var payPalCurrencies = []string{
	"AUD", "BRL", "CAD", "CNY", "CZK", "DKK", "EUR", "HKD", "HUF", "ILS", "JPY", "MYR",
	"MXN", "TWD", "NZD", "NOK", "PHP", "PLN", "GBP", "SGD", "SEK", "CHF", "THB", "USD",
}

// payPalIssueCategories maps PayPal error names/issues to categories
var payPalIssueCategories = map[string]models.ProviderErrorCategory{
	"CURRENCY_NOT_SUPPORTED": models.ProviderErrorUnsupportedCurrency,
	"INSUFFICIENT_FUNDS":     models.ProviderErrorInsufficientFunds,
	"INSTRUMENT_DECLINED":    models.ProviderErrorInstrumentDeclined,
	"PAYER_ACTION_REQUIRED":  models.ProviderErrorPayerActionRequired,
}

// payPalAlreadyCaptured is returned when an earlier capture of the order went through
const payPalAlreadyCaptured = "ORDER_ALREADY_CAPTURED"

// payPalZeroDecimal currencies must be sent without a fractional part
var payPalZeroDecimal = map[string]bool{"HUF": true, "JPY": true, "TWD": true}

// PayPalProvider talks to the PayPal Orders v2 REST API
type PayPalProvider struct {
	config     config.PayPalConfig
	baseURL    string
	appBaseURL string
	logger     *logrus.Logger
	client     *http.Client

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

type payPalAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type payPalPurchaseUnit struct {
	ReferenceID string       `json:"reference_id"`
	CustomID    string       `json:"custom_id,omitempty"`
	Description string       `json:"description,omitempty"`
	Amount      payPalAmount `json:"amount"`
}

type payPalApplicationContext struct {
	BrandName    string `json:"brand_name,omitempty"`
	UserAction   string `json:"user_action"`
	ShippingPref string `json:"shipping_preference"`
	ReturnURL    string `json:"return_url"`
	CancelURL    string `json:"cancel_url"`
}

type payPalOrderRequest struct {
	Intent             string                   `json:"intent"`
	PurchaseUnits      []payPalPurchaseUnit     `json:"purchase_units"`
	ApplicationContext payPalApplicationContext `json:"application_context"`
}

type payPalLink struct {
	Href   string `json:"href"`
	Rel    string `json:"rel"`
	Method string `json:"method"`
}

type payPalOrderResponse struct {
	ID     string       `json:"id"`
	Status string       `json:"status"`
	Links  []payPalLink `json:"links"`
}

// payPalAPIError keeps the raw issue codes of a PayPal error response
type payPalAPIError struct {
	StatusCode int
	Issues     []string
	DebugID    string
}

func (e *payPalAPIError) Error() string {
	return fmt.Sprintf("status %d, issues %s, debug_id %s", e.StatusCode, strings.Join(e.Issues, ","), e.DebugID)
}

func (e *payPalAPIError) has(issue string) bool {
	for _, i := range e.Issues {
		if i == issue {
			return true
		}
	}
	return false
}

type payPalErrorResponse struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	DebugID string `json:"debug_id"`
	Details []struct {
		Issue       string `json:"issue"`
		Description string `json:"description"`
	} `json:"details"`
}

// NewPayPalProvider creates a new PayPal provider
func NewPayPalProvider(cfg config.PayPalConfig, paymentCfg config.PaymentConfig, logger *logrus.Logger) *PayPalProvider {
	baseURL, ok := PayPalEnvironmentURLs[cfg.Environment]
	if !ok {
		baseURL = PayPalEnvironmentURLs["sandbox"]
	}
	return &PayPalProvider{
		config:     cfg,
		baseURL:    baseURL,
		appBaseURL: paymentCfg.BaseURL,
		logger:     logger,
		client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Name is used in logs, metrics and failure reasons
func (p *PayPalProvider) Name() string { return "PayPal" }

// Method returns the payment method routed to PayPal
func (p *PayPalProvider) Method() models.PaymentMethod { return models.PaymentMethodPayPal }

// SupportedCurrencies lists the currencies PayPal accepts
func (p *PayPalProvider) SupportedCurrencies() []string { return payPalCurrencies }

// CreateOrder creates a CAPTURE-intent order and returns the payer approval link
func (p *PayPalProvider) CreateOrder(ctx context.Context, payment *models.Payment) (*ProviderOrder, error) {
	description := "Booking " + payment.BookingID
	if payment.Description != nil && *payment.Description != "" {
		description = *payment.Description
	}

	query := url.Values{"paymentId": {payment.PaymentID}}.Encode()
	request := &payPalOrderRequest{
		Intent: "CAPTURE",
		PurchaseUnits: []payPalPurchaseUnit{{
			ReferenceID: payment.PaymentID,
			CustomID:    payment.BookingID,
			Description: description,
			Amount: payPalAmount{
				CurrencyCode: payment.Currency,
				Value:        formatPayPalAmount(payment),
			},
		}},
		ApplicationContext: payPalApplicationContext{
			BrandName:    p.config.BrandName,
			UserAction:   "PAY_NOW",
			ShippingPref: "NO_SHIPPING",
			ReturnURL:    p.appBaseURL + "/api/v1/payments/provider/success?" + query,
			CancelURL:    p.appBaseURL + "/api/v1/payments/provider/cancel?" + query,
		},
	}

	p.logger.WithFields(logrus.Fields{
		"payment_id": payment.PaymentID,
		"amount":     request.PurchaseUnits[0].Amount.Value,
		"currency":   payment.Currency,
	}).Info("Creating PayPal order")

	// PayPal replays the original response for a repeated request ID instead of creating a second order
	var order payPalOrderResponse
	if err := p.do(ctx, http.MethodPost, "/v2/checkout/orders", payment.PaymentID+"-create", request, &order); err != nil {
		return nil, err
	}

	approveURL := ""
	for _, link := range order.Links {
		if link.Rel == "approve" || link.Rel == "payer-action" {
			approveURL = link.Href
			break
		}
	}
	if approveURL == "" {
		return nil, models.NewProviderError(p.Name(), models.ProviderErrorGeneric,
			"no approval link returned for order "+order.ID, nil)
	}

	p.logger.WithFields(logrus.Fields{
		"payment_id": payment.PaymentID,
		"order_id":   order.ID,
	}).Info("PayPal order created")

	return &ProviderOrder{
		ProviderTransactionID: order.ID,
		RedirectURL:           approveURL,
		Raw:                   map[string]interface{}{"order_id": order.ID, "status": order.Status},
	}, nil
}

// Capture captures an approved order. Retries reuse the request ID, and an order
// that an earlier attempt already captured is read back instead of failing.
func (p *PayPalProvider) Capture(ctx context.Context, orderID string) (*CaptureResult, error) {
	path := "/v2/checkout/orders/" + url.PathEscape(orderID)

	var order payPalOrderResponse
	err := p.do(ctx, http.MethodPost, path+"/capture", orderID+"-capture", struct{}{}, &order)
	if err != nil {
		var apiErr *payPalAPIError
		if !errors.As(err, &apiErr) || !apiErr.has(payPalAlreadyCaptured) {
			return nil, err
		}
		p.logger.WithField("order_id", orderID).Info("PayPal order already captured, reading its state")
		order = payPalOrderResponse{}
		if err := p.do(ctx, http.MethodGet, path, "", nil, &order); err != nil {
			return nil, err
		}
	}

	raw := map[string]interface{}{"order_id": order.ID, "status": order.Status}
	if order.Status != "COMPLETED" {
		return &CaptureResult{
			Success:       false,
			Status:        order.Status,
			FailureReason: "PayPal capture failed. Order status: " + order.Status,
			Raw:           raw,
		}, nil
	}
	return &CaptureResult{Success: true, Status: order.Status, Raw: raw}, nil
}

// VerifyWebhook checks the transmission signature with PayPal and maps the event
func (p *PayPalProvider) VerifyWebhook(ctx context.Context, headers http.Header, body []byte) (*WebhookEvent, error) {
	if p.config.WebhookID == "" {
		return nil, fmt.Errorf("PayPal webhook ID is not configured")
	}

	verifyReq := map[string]interface{}{
		"auth_algo":         headers.Get("PAYPAL-AUTH-ALGO"),
		"cert_url":          headers.Get("PAYPAL-CERT-URL"),
		"transmission_id":   headers.Get("PAYPAL-TRANSMISSION-ID"),
		"transmission_sig":  headers.Get("PAYPAL-TRANSMISSION-SIG"),
		"transmission_time": headers.Get("PAYPAL-TRANSMISSION-TIME"),
		"webhook_id":        p.config.WebhookID,
		"webhook_event":     json.RawMessage(body),
	}

	var verifyResp struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := p.do(ctx, http.MethodPost, "/v1/notifications/verify-webhook-signature", "", verifyReq, &verifyResp); err != nil {
		return nil, fmt.Errorf("failed to verify webhook signature: %w", err)
	}
	if verifyResp.VerificationStatus != "SUCCESS" {
		return nil, fmt.Errorf("invalid webhook signature: %s", verifyResp.VerificationStatus)
	}

	var event struct {
		ID        string `json:"id"`
		EventType string `json:"event_type"`
		Resource  struct {
			ID string `json:"id"`
		} `json:"resource"`
	}
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("invalid webhook payload: %w", err)
	}

	action := WebhookActionIgnore
	switch event.EventType {
	case "CHECKOUT.ORDER.APPROVED":
		action = WebhookActionCapture
	case "CHECKOUT.ORDER.VOIDED":
		action = WebhookActionCancel
	}

	return &WebhookEvent{
		ID:                    event.ID,
		Type:                  event.EventType,
		Action:                action,
		ProviderTransactionID: event.Resource.ID,
	}, nil
}

// ============================================================================
// HTTP PLUMBING
// ============================================================================

// getAccessToken returns a cached OAuth2 client-credentials token
func (p *PayPalProvider) getAccessToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.accessToken != "" && time.Now().Before(p.tokenExpiry) {
		return p.accessToken, nil
	}
	if p.config.ClientID == "" || p.config.ClientSecret == "" {
		return "", fmt.Errorf("PayPal not configured: missing client credentials")
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	req.SetBasicAuth(p.config.ClientID, p.config.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to get access token: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned status %d: %s", resp.StatusCode, string(body))
	}

	var token struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &token); err != nil {
		return "", fmt.Errorf("failed to parse token response: %w", err)
	}

	p.accessToken = token.AccessToken
	// refresh a minute early
	p.tokenExpiry = time.Now().Add(time.Duration(token.ExpiresIn)*time.Second - time.Minute)
	return p.accessToken, nil
}

// do sends an authenticated JSON request, with no body when in is nil. A non-empty
// requestID is sent as PayPal-Request-Id so a retried call is applied once. Transport
// failures become technical provider errors; PayPal error bodies are categorized.
func (p *PayPalProvider) do(ctx context.Context, method, path, requestID string, in, out interface{}) error {
	token, err := p.getAccessToken(ctx)
	if err != nil {
		return models.NewProviderError(p.Name(), models.ProviderErrorTechnical, "authentication failed", err)
	}

	var body io.Reader
	if in != nil {
		jsonBody, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if requestID != "" {
		req.Header.Set("PayPal-Request-Id", requestID)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.WithError(err).WithField("path", path).Error("Failed to call PayPal endpoint")
		return models.NewProviderError(p.Name(), models.ProviderErrorTechnical, err.Error(), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.NewProviderError(p.Name(), models.ProviderErrorTechnical, "failed to read response", err)
	}

	if resp.StatusCode >= 300 {
		p.logger.WithFields(logrus.Fields{
			"path":        path,
			"status_code": resp.StatusCode,
			"response":    string(respBody),
		}).Warn("PayPal returned an error")
		return p.categorize(resp.StatusCode, respBody)
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return models.NewProviderError(p.Name(), models.ProviderErrorTechnical, "failed to parse response", err)
		}
	}
	return nil
}

func (p *PayPalProvider) categorize(statusCode int, body []byte) *models.ProviderError {
	var apiErr payPalErrorResponse
	_ = json.Unmarshal(body, &apiErr)

	message := apiErr.Message
	if message == "" {
		message = fmt.Sprintf("status %d: %s", statusCode, string(body))
	}

	issues := []string{apiErr.Name}
	for _, d := range apiErr.Details {
		issues = append(issues, d.Issue)
	}
	cause := &payPalAPIError{StatusCode: statusCode, Issues: issues, DebugID: apiErr.DebugID}

	category := models.ProviderErrorGeneric
	for _, issue := range issues {
		if c, ok := payPalIssueCategories[issue]; ok {
			category = c
			break
		}
	}
	if category == models.ProviderErrorGeneric && statusCode >= 500 {
		category = models.ProviderErrorTechnical
	}

	return models.NewProviderError(p.Name(), category, message, cause)
}

func formatPayPalAmount(payment *models.Payment) string {
	if payPalZeroDecimal[payment.Currency] {
		return payment.Amount.StringFixed(0)
	}
	return payment.Amount.StringFixed(2)
}
