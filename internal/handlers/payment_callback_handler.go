package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/payment-service/internal/models"
	"github.com/smarttransit/payment-service/internal/services"
	"github.com/smarttransit/payment-service/internal/utils"
)

// maxWebhookBody caps the webhook payload read into memory
const maxWebhookBody = 1 << 20

// PaymentCallbackHandler handles provider redirects, status polling and signed webhooks.
// None of these endpoints carry a JWT.
type PaymentCallbackHandler struct {
	engine      PaymentEngine
	dedupe      services.CallbackDedupe
	verifiers   map[string]services.WebhookVerifier
	frontendURL string
	logger      *logrus.Logger
}

// NewPaymentCallbackHandler creates a new PaymentCallbackHandler
func NewPaymentCallbackHandler(
	engine PaymentEngine,
	dedupe services.CallbackDedupe,
	frontendURL string,
	logger *logrus.Logger,
	verifiers ...services.WebhookVerifier,
) *PaymentCallbackHandler {
	byName := make(map[string]services.WebhookVerifier, len(verifiers))
	for _, v := range verifiers {
		byName[strings.ToLower(v.Name())] = v
	}
	return &PaymentCallbackHandler{
		engine:      engine,
		dedupe:      dedupe,
		verifiers:   byName,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		logger:      logger,
	}
}

// ============================================================================
// PROVIDER REDIRECTS
// ============================================================================

// Success handles GET /api/v1/payments/provider/success?paymentId=&token=&PayerID=
// The payer always ends up on a front-end page, whatever happened.
func (h *PaymentCallbackHandler) Success(c *gin.Context) {
	paymentID := c.Query("paymentId")
	if paymentID == "" {
		h.redirect(c, "/payment/error.html", url.Values{"error": {"missing paymentId"}})
		return
	}

	payment, err := h.engine.CaptureSuccess(c.Request.Context(), paymentID, c.Query("token"), c.Query("PayerID"), utils.RequestOrigin(c))
	if err != nil {
		if errors.Is(err, models.ErrInvalidState) && payment != nil {
			h.logger.WithFields(logrus.Fields{
				"payment_id": paymentID,
				"status":     payment.Status,
			}).Info("Success callback for already processed payment")
			h.redirect(c, "/payment/success.html", url.Values{
				"paymentId": {paymentID},
				"status":    {string(payment.Status)},
				"bookingId": {payment.BookingID},
				"message":   {"already_processed"},
			})
			return
		}

		h.logger.WithError(err).WithField("payment_id", paymentID).Error("Payment capture from callback failed")
		h.redirect(c, "/payment/error.html", url.Values{
			"paymentId": {paymentID},
			"error":     {err.Error()},
		})
		return
	}

	h.redirect(c, "/payment/success.html", url.Values{
		"paymentId": {paymentID},
		"status":    {string(payment.Status)},
		"bookingId": {payment.BookingID},
	})
}

// Cancel handles GET /api/v1/payments/provider/cancel?paymentId=&token=
func (h *PaymentCallbackHandler) Cancel(c *gin.Context) {
	paymentID := c.Query("paymentId")
	if paymentID == "" {
		h.redirect(c, "/payment/cancelled.html", url.Values{"error": {"missing paymentId"}})
		return
	}

	payment, err := h.engine.Cancel(c.Request.Context(), paymentID, services.ReasonCancelledByUser, utils.RequestOrigin(c))
	if err != nil {
		h.logger.WithError(err).WithField("payment_id", paymentID).Error("Payment cancel from callback failed")
		h.redirect(c, "/payment/cancelled.html", url.Values{
			"paymentId": {paymentID},
			"error":     {err.Error()},
		})
		return
	}

	h.redirect(c, "/payment/cancelled.html", url.Values{
		"paymentId": {paymentID},
		"bookingId": {payment.BookingID},
	})
}

// Status handles GET /api/v1/payments/provider/status/:id for front-end polling
func (h *PaymentCallbackHandler) Status(c *gin.Context) {
	payment, err := h.engine.GetPayment(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, models.ErrPaymentNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "PAYMENT_NOT_FOUND", Message: err.Error()})
			return
		}
		h.logger.WithError(err).Error("Failed to load payment status")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "INTERNAL_ERROR", Message: "internal server error"})
		return
	}
	c.JSON(http.StatusOK, models.NewPaymentStatusResponse(payment))
}

func (h *PaymentCallbackHandler) redirect(c *gin.Context, page string, query url.Values) {
	c.Redirect(http.StatusFound, h.frontendURL+page+"?"+query.Encode())
}

// ============================================================================
// SIGNED WEBHOOKS - POST /api/v1/payments/provider/{provider}/webhook
// ============================================================================

// HasWebhook reports whether a verifier is registered for provider
func (h *PaymentCallbackHandler) HasWebhook(provider string) bool {
	_, ok := h.verifiers[strings.ToLower(provider)]
	return ok
}

// Webhook returns the handler for one provider's webhook endpoint
func (h *PaymentCallbackHandler) Webhook(provider string) gin.HandlerFunc {
	provider = strings.ToLower(provider)
	return func(c *gin.Context) {
		verifier, ok := h.verifiers[provider]
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "webhook not configured"})
			return
		}

		body, err := readLimited(c)
		if err != nil {
			h.logger.WithError(err).Error("Failed to read webhook body")
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
			return
		}

		event, err := verifier.VerifyWebhook(c.Request.Context(), c.Request.Header, body)
		if err != nil {
			h.logger.WithError(err).WithField("provider", provider).Warn("Rejected webhook")
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid webhook"})
			return
		}

		log := h.logger.WithFields(logrus.Fields{
			"provider":       provider,
			"event_id":       event.ID,
			"event_type":     event.Type,
			"provider_tx_id": event.ProviderTransactionID,
		})

		if event.Action == services.WebhookActionIgnore {
			c.JSON(http.StatusOK, gin.H{"message": "webhook acknowledged"})
			return
		}

		key := provider + ":" + event.ID
		if err := h.dedupe.Claim(c.Request.Context(), key); err != nil {
			if errors.Is(err, services.ErrEventAlreadyProcessed) {
				log.Info("Duplicate webhook event ignored")
				c.JSON(http.StatusOK, gin.H{"message": "webhook acknowledged", "note": "duplicate event"})
				return
			}
			// dedupe store down: the state machine still guards against double application
			log.WithError(err).Warn("Webhook dedupe unavailable, processing anyway")
		}

		payment, err := h.apply(c.Request.Context(), event, utils.RequestOrigin(c))
		switch {
		case err == nil:
			log.WithField("status", payment.Status).Info("Webhook applied")
			c.JSON(http.StatusOK, gin.H{"message": "webhook processed successfully", "status": payment.Status})
		case errors.Is(err, models.ErrInvalidState), errors.Is(err, models.ErrPaymentNotFound):
			log.WithError(err).Info("Webhook for payment not in an actionable state")
			c.JSON(http.StatusOK, gin.H{"message": "webhook acknowledged"})
		case isProviderError(err):
			// the payment is already persisted as FAILED
			log.WithError(err).Warn("Provider error while applying webhook")
			c.JSON(http.StatusOK, gin.H{"message": "webhook acknowledged", "error": "provider error"})
		default:
			log.WithError(err).Error("Failed to apply webhook, releasing for redelivery")
			if releaseErr := h.dedupe.Release(context.WithoutCancel(c.Request.Context()), key); releaseErr != nil {
				log.WithError(releaseErr).Error("Failed to release webhook claim")
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "webhook processing failed"})
		}
	}
}

func (h *PaymentCallbackHandler) apply(ctx context.Context, event *services.WebhookEvent, origin models.RequestOrigin) (*models.Payment, error) {
	if event.Action == services.WebhookActionCapture {
		return h.engine.CaptureByProviderTransaction(ctx, event.ProviderTransactionID, origin)
	}
	return h.engine.CancelByProviderTransaction(ctx, event.ProviderTransactionID, origin)
}

func isProviderError(err error) bool {
	_, ok := models.AsProviderError(err)
	return ok
}

func readLimited(c *gin.Context) ([]byte, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody)
	return c.GetRawData()
}
