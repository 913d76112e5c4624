package services

import (
	"testing"

	"github.com/smarttransit/payment-service/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderRouter(t *testing.T) {
	paypal := &fakeProvider{name: "PayPal", method: models.PaymentMethodPayPal, currencies: []string{"EUR", "USD", "HUF"}}
	stripe := &fakeProvider{name: "Stripe", method: models.PaymentMethodStripe, currencies: []string{"usd", "eur"}}
	router := NewProviderRouter(stripe, nil, paypal)

	t.Run("Route", func(t *testing.T) {
		p, err := router.Route(models.PaymentMethodStripe)
		require.NoError(t, err)
		assert.Equal(t, "Stripe", p.Name())

		_, err = router.Route(models.PaymentMethodBankTransfer)
		assert.ErrorIs(t, err, models.ErrUnsupportedMethod)
	})

	t.Run("SupportedMethods", func(t *testing.T) {
		assert.Equal(t, []models.PaymentMethod{models.PaymentMethodPayPal, models.PaymentMethodStripe}, router.SupportedMethods(" eur "))
		assert.Equal(t, []models.PaymentMethod{models.PaymentMethodPayPal}, router.SupportedMethods("HUF"))

		none := router.SupportedMethods("XYZ")
		assert.NotNil(t, none)
		assert.Empty(t, none)
	})

	t.Run("Returned slice is a copy", func(t *testing.T) {
		methods := router.SupportedMethods("EUR")
		methods[0] = models.PaymentMethodGiftCard
		assert.Equal(t, models.PaymentMethodPayPal, router.SupportedMethods("EUR")[0])
	})

	t.Run("Supports", func(t *testing.T) {
		assert.True(t, router.Supports(models.PaymentMethodStripe, "usd"))
		assert.False(t, router.Supports(models.PaymentMethodStripe, "HUF"))
		assert.False(t, router.Supports(models.PaymentMethodGiftCard, "USD"))
	})

	assert.Len(t, router.Providers(), 2)
}
