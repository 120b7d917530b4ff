package order

import (
	"errors"
	"testing"

	"payverify/internal/domain/payment"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusUnpaid, StatusPaid))
	assert.True(t, CanTransition(StatusUnpaid, StatusFailed))
	assert.True(t, CanTransition(StatusFailed, StatusPaid))
	assert.False(t, CanTransition(StatusPaid, StatusUnpaid), "paid never goes back")
	assert.False(t, CanTransition(StatusPaid, StatusFailed))
	assert.False(t, CanTransition(StatusFailed, StatusUnpaid))
}

func TestMarkPaid(t *testing.T) {
	o, err := New("order-1", 50000, payment.KES, "buyer@example.com")
	require.NoError(t, err)

	err = o.MarkPaid(40000)
	assert.True(t, errors.Is(err, ErrAmountMismatch))
	assert.Equal(t, StatusUnpaid, o.PaymentStatus)

	require.NoError(t, o.MarkPaid(50000))
	assert.Equal(t, StatusPaid, o.PaymentStatus)

	err = o.MarkPaid(50000)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
}

func TestMarkFailed(t *testing.T) {
	o, _ := New("order-1", 100, payment.KES, "")
	require.NoError(t, o.MarkFailed())
	assert.Equal(t, StatusFailed, o.PaymentStatus)
	assert.Error(t, o.MarkFailed())

	// a later genuine payment still settles a failed order
	require.NoError(t, o.MarkPaid(100))
	assert.Equal(t, StatusPaid, o.PaymentStatus)
	assert.Error(t, o.MarkFailed())
}

func TestSettle(t *testing.T) {
	o, _ := New("order-1", 150000, payment.NGN, "")
	assert.Equal(t, payment.OrderSyncMismatch, o.Settle(150000, payment.KES))
	assert.Equal(t, payment.OrderSyncMismatch, o.Settle(149999, payment.NGN))
	assert.Equal(t, StatusUnpaid, o.PaymentStatus)

	assert.Equal(t, payment.OrderSyncApplied, o.Settle(150000, payment.NGN))
	assert.Equal(t, StatusPaid, o.PaymentStatus)
	assert.Equal(t, payment.OrderSyncAlreadyPaid, o.Settle(150000, payment.NGN))
}

func TestNewValidates(t *testing.T) {
	_, err := New("", 100, payment.KES, "")
	assert.Error(t, err)
	_, err = New("o", 0, payment.KES, "")
	assert.Error(t, err)
}
