package flutterwave

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"payverify/internal/config"
	"payverify/internal/domain/payment"
	"payverify/internal/provider"
	"payverify/internal/provider/base"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProvider(t *testing.T, status int, body string) *Provider {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/transactions/verify_by_reference", r.URL.Path)
		assert.Equal(t, "tx-77", r.URL.Query().Get("tx_ref"))
		assert.Equal(t, "Bearer FLWSECK", r.Header.Get("Authorization"))
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	client := base.NewHTTPClient("flutterwave", srv.URL, time.Second, base.NoRetry())
	return New(config.GatewayCfg{SecretKey: "FLWSECK", BaseURL: srv.URL}, client)
}

func TestVerifySuccessScalesMajorUnits(t *testing.T) {
	p := newTestProvider(t, http.StatusOK, `{
		"status": "success",
		"message": "Transaction fetched successfully",
		"data": {
			"id": 288200108,
			"tx_ref": "tx-77",
			"amount": 1500.10,
			"currency": "KES",
			"status": "successful",
			"customer": {"email": "buyer@example.com"}
		}
	}`)

	res, err := p.Verify(context.Background(), "tx-77")
	require.NoError(t, err)
	assert.Equal(t, provider.VerifySuccess, res.Status)
	assert.Equal(t, "288200108", res.ProviderTxRef)
	assert.Equal(t, payment.Money(150010), res.SettledAmount)
	assert.Equal(t, payment.KES, res.Currency)
	assert.Equal(t, "buyer@example.com", res.PayerIdentity)

	minor, err := p.ToMinor(1500)
	require.NoError(t, err)
	assert.Equal(t, payment.Money(150000), minor)
}

func TestVerifyStringAmount(t *testing.T) {
	p := newTestProvider(t, http.StatusOK,
		`{"status":"success","data":{"id":5,"amount":"250","status":"successful","customer":{"email":"a@x.com"}}}`)
	res, err := p.Verify(context.Background(), "tx-77")
	require.NoError(t, err)
	assert.Equal(t, payment.Money(25000), res.SettledAmount)
}

func TestVerifyFailures(t *testing.T) {
	t.Run("failed transaction", func(t *testing.T) {
		p := newTestProvider(t, http.StatusOK,
			`{"status":"success","data":{"id":5,"amount":10,"status":"failed"}}`)
		res, err := p.Verify(context.Background(), "tx-77")
		require.NoError(t, err)
		assert.Equal(t, provider.VerifyFailed, res.Status)
	})
	t.Run("not found", func(t *testing.T) {
		p := newTestProvider(t, http.StatusBadRequest, `{"status":"error","message":"No transaction was found for this id"}`)
		_, err := p.Verify(context.Background(), "tx-77")
		assert.True(t, errors.Is(err, provider.ErrNotFound))
	})
	t.Run("auth", func(t *testing.T) {
		p := newTestProvider(t, http.StatusUnauthorized, `{"status":"error","message":"Invalid authorization key"}`)
		_, err := p.Verify(context.Background(), "tx-77")
		assert.True(t, errors.Is(err, provider.ErrAuth))
	})
	t.Run("missing data", func(t *testing.T) {
		p := newTestProvider(t, http.StatusOK, `{"status":"success"}`)
		res, err := p.Verify(context.Background(), "tx-77")
		require.NoError(t, err)
		assert.Equal(t, provider.VerifyUnparseable, res.Status)
	})
}
