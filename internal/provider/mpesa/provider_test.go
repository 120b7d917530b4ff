package mpesa

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"payverify/internal/config"
	"payverify/internal/domain/payment"
	"payverify/internal/provider"
	"payverify/internal/provider/base"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDaraja struct {
	tokenStatus  int
	tokenCalls   int32
	stkBody      string
	queryStatus  int
	queryBody    string
	lastSTK      map[string]any
	lastQueryCID string
}

func (f *fakeDaraja) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.tokenCalls, 1)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "ck", user)
		assert.Equal(t, "cs", pass)
		assert.Equal(t, "client_credentials", r.URL.Query().Get("grant_type"))
		if f.tokenStatus != 0 {
			w.WriteHeader(f.tokenStatus)
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"tok-1","expires_in":"3599"}`))
	})
	mux.HandleFunc("/mpesa/stkpush/v1/processrequest", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		_ = json.NewDecoder(r.Body).Decode(&f.lastSTK)
		_, _ = w.Write([]byte(f.stkBody))
	})
	mux.HandleFunc("/mpesa/stkpushquery/v1/query", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.lastQueryCID, _ = body["CheckoutRequestID"].(string)
		if f.queryStatus != 0 {
			w.WriteHeader(f.queryStatus)
		}
		_, _ = w.Write([]byte(f.queryBody))
	})
	return mux
}

func newTestProvider(t *testing.T, f *fakeDaraja) *Provider {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)

	cfg := config.MpesaCfg{
		Env:            "sandbox",
		BaseURL:        srv.URL,
		ConsumerKey:    "ck",
		ConsumerSecret: "cs",
		Shortcode:      "174379",
		Passkey:        "pk",
	}
	p := New(cfg, base.NewHTTPClient("mpesa", srv.URL, time.Second, base.NoRetry()), NewMemoryTokenCache())
	p.now = func() time.Time { return time.Date(2024, 3, 1, 7, 30, 0, 0, time.UTC) }
	return p
}

const stkAccepted = `{
	"MerchantRequestID": "29115-34620561-1",
	"CheckoutRequestID": "ws_CO_191220191020363925",
	"ResponseCode": "0",
	"ResponseDescription": "Success. Request accepted for processing",
	"CustomerMessage": "Success. Request accepted for processing"
}`

func TestInitiate(t *testing.T) {
	f := &fakeDaraja{stkBody: stkAccepted}
	p := newTestProvider(t, f)

	resp, err := p.Initiate(context.Background(), provider.PushRequest{
		Amount:           50000,
		Phone:            "0712345678",
		AccountReference: "ORDER42",
		Description:      "Order 42",
		CallbackURL:      "https://shop.example/push/callback",
	})
	require.NoError(t, err)
	assert.Equal(t, "ws_CO_191220191020363925", resp.CheckoutRequestID)
	assert.Equal(t, "254712345678", resp.Phone)

	// amount goes out in whole shillings
	assert.EqualValues(t, 500, f.lastSTK["Amount"])
	assert.Equal(t, "254712345678", f.lastSTK["PhoneNumber"])
	assert.Equal(t, "20240301103000", f.lastSTK["Timestamp"], "timestamp is EAT")
	wantPw := base64.StdEncoding.EncodeToString([]byte("174379" + "pk" + "20240301103000"))
	assert.Equal(t, wantPw, f.lastSTK["Password"])

	// token is cached between calls
	_, err = p.Initiate(context.Background(), provider.PushRequest{Amount: 100, Phone: "254712345678", AccountReference: "A"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.tokenCalls))
}

func TestInitiateTokenFailureIsInitiationFailure(t *testing.T) {
	f := &fakeDaraja{tokenStatus: http.StatusBadRequest, stkBody: stkAccepted}
	p := newTestProvider(t, f)

	_, err := p.Initiate(context.Background(), provider.PushRequest{Amount: 50000, Phone: "254712345678", AccountReference: "A"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, provider.ErrAuth))

	var pe *provider.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, provider.CodeTokenFetchFailed, pe.Code)
	assert.Nil(t, f.lastSTK, "no STK call without a token")
}

func TestInitiateRejected(t *testing.T) {
	f := &fakeDaraja{stkBody: `{"requestId":"1","errorCode":"400.002.02","errorMessage":"Bad Request - Invalid PhoneNumber"}`}
	p := newTestProvider(t, f)

	_, err := p.Initiate(context.Background(), provider.PushRequest{Amount: 50000, Phone: "254712345678", AccountReference: "A"})
	assert.True(t, errors.Is(err, provider.ErrRejected))
}

func TestInitiateValidatesBeforeNetwork(t *testing.T) {
	f := &fakeDaraja{stkBody: stkAccepted}
	p := newTestProvider(t, f)

	_, err := p.Initiate(context.Background(), provider.PushRequest{Amount: 50000, Phone: "12", AccountReference: "A"})
	assert.True(t, errors.Is(err, provider.ErrInvalidRequest))
	assert.Equal(t, int32(0), atomic.LoadInt32(&f.tokenCalls))
}

func TestQueryStatus(t *testing.T) {
	t.Run("still processing", func(t *testing.T) {
		f := &fakeDaraja{queryStatus: http.StatusInternalServerError,
			queryBody: `{"requestId":"x","errorCode":"500.001.1001","errorMessage":"The transaction is being processed"}`}
		p := newTestProvider(t, f)
		st, err := p.QueryStatus(context.Background(), "ws_CO_1")
		require.NoError(t, err)
		assert.False(t, st.Final)
		assert.Equal(t, "ws_CO_1", f.lastQueryCID)
	})
	t.Run("cancelled by user", func(t *testing.T) {
		f := &fakeDaraja{queryBody: `{"ResponseCode":"0","CheckoutRequestID":"ws_CO_1","ResultCode":"1032","ResultDesc":"Request cancelled by user"}`}
		p := newTestProvider(t, f)
		st, err := p.QueryStatus(context.Background(), "ws_CO_1")
		require.NoError(t, err)
		assert.True(t, st.Final)
		assert.False(t, st.Succeeded)
		assert.Equal(t, "1032", st.ResultCode)
	})
	t.Run("paid", func(t *testing.T) {
		f := &fakeDaraja{queryBody: `{"ResponseCode":"0","CheckoutRequestID":"ws_CO_1","ResultCode":0,"ResultDesc":"processed successfully"}`}
		p := newTestProvider(t, f)
		st, err := p.QueryStatus(context.Background(), "ws_CO_1")
		require.NoError(t, err)
		assert.True(t, st.Final)
		assert.True(t, st.Succeeded)
	})
	t.Run("server down", func(t *testing.T) {
		f := &fakeDaraja{queryStatus: http.StatusBadGateway, queryBody: `<html/>`}
		p := newTestProvider(t, f)
		_, err := p.QueryStatus(context.Background(), "ws_CO_1")
		assert.True(t, provider.IsTransient(err))
	})
}

func TestToMinor(t *testing.T) {
	p := New(config.MpesaCfg{}, nil, nil)
	m, err := p.ToMinor(500)
	require.NoError(t, err)
	assert.Equal(t, payment.Money(50000), m)
}
