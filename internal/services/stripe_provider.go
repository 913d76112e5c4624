package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/smarttransit/payment-service/internal/config"
	"github.com/smarttransit/payment-service/internal/models"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
	"github.com/stripe/stripe-go/v81/webhook"
)

// stripeCurrencies are the currencies enabled for Stripe checkout
var stripeCurrencies = []string{"USD", "EUR", "GBP", "AUD", "CAD", "JPY"}

// stripeZeroDecimal currencies are charged in whole units
var stripeZeroDecimal = map[string]bool{"JPY": true}

// CheckoutSessionAPI is the part of the Stripe SDK the provider uses
type CheckoutSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// StripeProvider creates Stripe Checkout sessions and verifies Stripe webhooks
type StripeProvider struct {
	sessions      CheckoutSessionAPI
	webhookSecret string
	appBaseURL    string
	logger        *logrus.Logger
}

// NewStripeProvider creates a new Stripe provider backed by the Stripe API
func NewStripeProvider(cfg config.StripeConfig, paymentCfg config.PaymentConfig, logger *logrus.Logger) *StripeProvider {
	sc := client.New(cfg.SecretKey, nil)
	return NewStripeProviderWithSessions(sc.CheckoutSessions, cfg, paymentCfg, logger)
}

// NewStripeProviderWithSessions creates a Stripe provider over a custom session API
func NewStripeProviderWithSessions(sessions CheckoutSessionAPI, cfg config.StripeConfig, paymentCfg config.PaymentConfig, logger *logrus.Logger) *StripeProvider {
	return &StripeProvider{
		sessions:      sessions,
		webhookSecret: cfg.WebhookSecret,
		appBaseURL:    paymentCfg.BaseURL,
		logger:        logger,
	}
}

// Name is used in logs, metrics and failure reasons
func (s *StripeProvider) Name() string { return "Stripe" }

// Method returns the payment method routed to Stripe
func (s *StripeProvider) Method() models.PaymentMethod { return models.PaymentMethodStripe }

// SupportedCurrencies lists the currencies enabled for Stripe
func (s *StripeProvider) SupportedCurrencies() []string { return stripeCurrencies }

// CreateOrder creates a one-off Checkout session for the payment amount
func (s *StripeProvider) CreateOrder(ctx context.Context, payment *models.Payment) (*ProviderOrder, error) {
	name := "Booking " + payment.BookingID
	if payment.Description != nil && *payment.Description != "" {
		name = *payment.Description
	}

	query := url.Values{"paymentId": {payment.PaymentID}}.Encode()
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(payment.PaymentID),
		// Stripe substitutes {CHECKOUT_SESSION_ID}; it must stay unescaped
		SuccessURL: stripe.String(s.appBaseURL + "/api/v1/payments/provider/success?" + query + "&token={CHECKOUT_SESSION_ID}"),
		CancelURL:  stripe.String(s.appBaseURL + "/api/v1/payments/provider/cancel?" + query),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(payment.Currency)),
				UnitAmount: stripe.Int64(stripeMinorUnits(payment)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(name),
				},
			},
			Quantity: stripe.Int64(1),
		}},
	}
	params.Context = ctx
	params.AddMetadata("payment_id", payment.PaymentID)
	params.AddMetadata("booking_id", payment.BookingID)

	sess, err := s.sessions.New(params)
	if err != nil {
		return nil, s.categorize(err)
	}

	s.logger.WithFields(logrus.Fields{
		"payment_id": payment.PaymentID,
		"session_id": sess.ID,
	}).Info("Stripe checkout session created")

	return &ProviderOrder{
		ProviderTransactionID: sess.ID,
		RedirectURL:           sess.URL,
		Raw:                   map[string]interface{}{"session_id": sess.ID, "status": string(sess.Status)},
	}, nil
}

// Capture confirms the checkout session was paid. Checkout captures automatically,
// so this only reads the session state.
func (s *StripeProvider) Capture(ctx context.Context, sessionID string) (*CaptureResult, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	sess, err := s.sessions.Get(sessionID, params)
	if err != nil {
		return nil, s.categorize(err)
	}

	raw := map[string]interface{}{
		"session_id":     sess.ID,
		"status":         string(sess.Status),
		"payment_status": string(sess.PaymentStatus),
	}
	if sess.PaymentIntent != nil {
		raw["payment_intent"] = sess.PaymentIntent.ID
	}

	if sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid && sess.Status != stripe.CheckoutSessionStatusExpired {
		// checkout still open, or completed with a delayed payment method still settling
		return &CaptureResult{Unsettled: true, Status: string(sess.PaymentStatus), Raw: raw}, nil
	}
	if sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		return &CaptureResult{
			Success:       false,
			Status:        string(sess.PaymentStatus),
			FailureReason: fmt.Sprintf("Stripe capture failed. Session status: %s, payment status: %s", sess.Status, sess.PaymentStatus),
			Raw:           raw,
		}, nil
	}
	return &CaptureResult{Success: true, Status: string(sess.PaymentStatus), Raw: raw}, nil
}

// VerifyWebhook checks the Stripe-Signature header and maps checkout session events
func (s *StripeProvider) VerifyWebhook(ctx context.Context, headers http.Header, body []byte) (*WebhookEvent, error) {
	if s.webhookSecret == "" {
		return nil, fmt.Errorf("Stripe webhook secret is not configured")
	}

	event, err := webhook.ConstructEventWithOptions(body, headers.Get("Stripe-Signature"), s.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("invalid webhook signature: %w", err)
	}

	result := &WebhookEvent{ID: event.ID, Type: string(event.Type), Action: WebhookActionIgnore}
	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		result.Action = WebhookActionCapture
	case "checkout.session.expired":
		result.Action = WebhookActionCancel
	default:
		return result, nil
	}

	if event.Data != nil {
		if id, ok := event.Data.Object["id"].(string); ok {
			result.ProviderTransactionID = id
		}
	}
	if result.ProviderTransactionID == "" {
		return nil, fmt.Errorf("webhook event %s has no session id", event.ID)
	}
	return result, nil
}

// categorize turns Stripe SDK errors into provider errors
func (s *StripeProvider) categorize(err error) *models.ProviderError {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return models.NewProviderError(s.Name(), models.ProviderErrorTechnical, err.Error(), err)
	}

	category := models.ProviderErrorGeneric
	switch {
	case stripeErr.DeclineCode == "insufficient_funds":
		category = models.ProviderErrorInsufficientFunds
	case stripeErr.DeclineCode == "authentication_required" || stripeErr.Code == "authentication_required":
		category = models.ProviderErrorPayerActionRequired
	case stripeErr.Code == "card_declined" || stripeErr.Code == "expired_card":
		category = models.ProviderErrorInstrumentDeclined
	case strings.Contains(strings.ToLower(stripeErr.Msg), "currency"):
		category = models.ProviderErrorUnsupportedCurrency
	case stripeErr.HTTPStatusCode >= 500 || stripeErr.Type == stripe.ErrorTypeAPI:
		category = models.ProviderErrorTechnical
	}

	s.logger.WithFields(logrus.Fields{
		"code":         stripeErr.Code,
		"decline_code": stripeErr.DeclineCode,
		"category":     category,
	}).Warn("Stripe returned an error")

	return models.NewProviderError(s.Name(), category, stripeErr.Msg, err)
}

func stripeMinorUnits(payment *models.Payment) int64 {
	if stripeZeroDecimal[payment.Currency] {
		return payment.Amount.Round(0).IntPart()
	}
	return payment.Amount.Shift(2).Round(0).IntPart()
}
