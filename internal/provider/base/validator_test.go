package base

import (
	"testing"

	"payverify/internal/domain/payment"
	"payverify/internal/provider"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhoneValidatorKE(t *testing.T) {
	v := NewPhoneValidator("KE")

	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"254712345678", "254712345678", true},
		{"0712345678", "254712345678", true},
		{"+254 712 345 678", "254712345678", true},
		{"0112345678", "254112345678", true},
		{"254812345678", "", false},
		{"12345", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		got, err := v.ValidatePhone(tt.in)
		if !tt.ok {
			assert.Error(t, err, tt.in)
			assert.Equal(t, provider.KindInvalidRequest, provider.KindOf(err))
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestPushValidator(t *testing.T) {
	v := NewPushValidator("KE", payment.KES, ScaleMajor, 1, 250000)

	req := provider.PushRequest{
		Amount:           50000,
		Phone:            "0712345678",
		AccountReference: "ORDER-0000000042",
	}
	native, err := v.ValidatePushReq(&req)
	require.NoError(t, err)
	assert.Equal(t, int64(500), native)
	assert.Equal(t, "254712345678", req.Phone)
	assert.Equal(t, "ORDER-000000", req.AccountReference, "account reference is capped at 12 chars")
	assert.Equal(t, "Payment", req.Description)

	over := provider.PushRequest{Amount: 25000100, Phone: "254712345678", AccountReference: "X"}
	_, err = v.ValidatePushReq(&over)
	assert.Error(t, err)

	noRef := provider.PushRequest{Amount: 100, Phone: "254712345678"}
	_, err = v.ValidatePushReq(&noRef)
	assert.Error(t, err)
}
