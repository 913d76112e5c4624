package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCallbackDedupe(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryCallbackDedupe(time.Hour)
	now := time.Now()
	d.now = func() time.Time { return now }

	require.NoError(t, d.Claim(ctx, "stripe:evt_1"))
	assert.ErrorIs(t, d.Claim(ctx, "stripe:evt_1"), ErrEventAlreadyProcessed)
	assert.NoError(t, d.Claim(ctx, "paypal:evt_1"))

	// released claims can be taken again
	require.NoError(t, d.Release(ctx, "stripe:evt_1"))
	assert.NoError(t, d.Claim(ctx, "stripe:evt_1"))

	// claims lapse after the TTL
	now = now.Add(2 * time.Hour)
	assert.NoError(t, d.Claim(ctx, "paypal:evt_1"))
}
