package push

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"payverify/internal/config"
	"payverify/internal/domain/charge"
	"payverify/internal/domain/order"
	"payverify/internal/domain/payment"
	"payverify/internal/provider"
	"payverify/internal/provider/mpesa"
	"payverify/internal/services/ledger"
	"payverify/internal/store/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubGateway keeps the real Daraja callback parsing and fakes the network calls
type stubGateway struct {
	*mpesa.Provider
	checkoutID string
	status     *provider.PushStatus
	statusErr  error
	initiated  []provider.PushRequest
}

func (g *stubGateway) Initiate(_ context.Context, req provider.PushRequest) (*provider.PushResponse, error) {
	g.initiated = append(g.initiated, req)
	return &provider.PushResponse{
		CheckoutRequestID: g.checkoutID,
		MerchantRequestID: "29115-34620561-1",
		ResponseCode:      "0",
		CustomerMessage:   "Success. Request accepted for processing",
		Phone:             req.Phone,
	}, nil
}

func (g *stubGateway) QueryStatus(_ context.Context, id string) (*provider.PushStatus, error) {
	if g.statusErr != nil {
		return nil, g.statusErr
	}
	st := *g.status
	st.CheckoutRequestID = id
	return &st, nil
}

type fixture struct {
	svc   *Service
	store *memory.Store
	gw    *stubGateway
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gw := &stubGateway{
		Provider:   mpesa.New(config.MpesaCfg{Shortcode: "174379"}, nil, nil),
		checkoutID: "ws_CO_191220191020363925",
	}
	reg := provider.NewRegistry()
	reg.RegisterPush(gw)

	s := memory.New()
	svc := NewService(reg, s.Charges(), s.Orders(), ledger.NewWriter(s.Ledger(), time.Second), NewDeduper(nil, time.Hour), Config{
		CallbackURL: "https://example.com/push/callback",
		Currency:    payment.KES,
		Timeout:     time.Second,
	})
	return &fixture{svc: svc, store: s, gw: gw}
}

func (f *fixture) seedOrder(t *testing.T, id string, due payment.Money) {
	t.Helper()
	o, err := order.New(id, due, payment.KES, "")
	require.NoError(t, err)
	require.NoError(t, f.store.Orders().Save(context.Background(), o))
}

func successCallback(checkoutID string, amount, receipt string) []byte {
	return []byte(fmt.Sprintf(`{"Body":{"stkCallback":{
		"MerchantRequestID":"29115-34620561-1",
		"CheckoutRequestID":%q,
		"ResultCode":0,
		"ResultDesc":"The service request is processed successfully.",
		"CallbackMetadata":{"Item":[
			{"Name":"Amount","Value":%s},
			{"Name":"MpesaReceiptNumber","Value":%q},
			{"Name":"TransactionDate","Value":20191219102115},
			{"Name":"PhoneNumber","Value":254712345678}
		]}}}}`, checkoutID, amount, receipt))
}

func failureCallback(checkoutID string, code int) []byte {
	return []byte(fmt.Sprintf(`{"Body":{"stkCallback":{
		"MerchantRequestID":"29115-34620561-1",
		"CheckoutRequestID":%q,
		"ResultCode":%d,
		"ResultDesc":"Request cancelled by user"}}}`, checkoutID, code))
}

func TestInitiateThenCallbackPaysOrderOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedOrder(t, "order-1", 50000)

	resp, err := f.svc.Initiate(ctx, InitiateRequest{Amount: 500, Phone: "254712345678", OrderRef: "order-1"})
	require.NoError(t, err)
	require.Equal(t, f.gw.checkoutID, resp.CheckoutRequestID)
	require.Len(t, f.gw.initiated, 1)
	assert.Equal(t, payment.Money(50000), f.gw.initiated[0].Amount)
	assert.Equal(t, "order-1", f.gw.initiated[0].AccountReference)
	assert.Equal(t, "https://example.com/push/callback", f.gw.initiated[0].CallbackURL)

	ch, err := f.store.Charges().Get(ctx, resp.CheckoutRequestID)
	require.NoError(t, err)
	assert.Equal(t, charge.StatusPending, ch.Status)
	assert.Empty(t, ch.Phone)
	assert.Equal(t, payment.HashIdentity("254712345678"), ch.PhoneHash)

	body := successCallback(resp.CheckoutRequestID, "500", "ABC123")
	out, err := f.svc.IngestCallback(ctx, body)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRecorded, out)

	out, err = f.svc.IngestCallback(ctx, body)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, out)

	assert.Equal(t, 1, f.store.RecordCount())
	rec, err := f.store.Ledger().FindByProviderRef(ctx, payment.ProviderMpesa, "ABC123")
	require.NoError(t, err)
	assert.Equal(t, payment.Money(50000), rec.Amount)
	assert.Equal(t, payment.OrderSyncApplied, rec.OrderSync)

	o, err := f.store.Orders().Get(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaid, o.PaymentStatus)

	ch, err = f.store.Charges().Get(ctx, resp.CheckoutRequestID)
	require.NoError(t, err)
	assert.Equal(t, charge.StatusCompleted, ch.Status)
}

func TestRedeliveryWithoutDedupMarkerIsNoop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedOrder(t, "order-1", 50000)
	_, err := f.svc.Initiate(ctx, InitiateRequest{Amount: 500, Phone: "254712345678", OrderRef: "order-1"})
	require.NoError(t, err)

	body := successCallback(f.gw.checkoutID, "500.00", "ABC123")
	_, err = f.svc.IngestCallback(ctx, body)
	require.NoError(t, err)

	// a second instance without the shared marker
	f.svc.dedup = NewDeduper(nil, time.Hour)
	out, err := f.svc.IngestCallback(ctx, body)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, out)
	assert.Equal(t, 1, f.store.RecordCount())
}

func TestFailureCallbackFailsChargeAndOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedOrder(t, "order-2", 10000)
	_, err := f.svc.Initiate(ctx, InitiateRequest{Amount: 100, Phone: "254712345678", OrderRef: "order-2"})
	require.NoError(t, err)

	out, err := f.svc.IngestCallback(ctx, failureCallback(f.gw.checkoutID, 1032))
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, out)
	assert.Zero(t, f.store.RecordCount())

	ch, err := f.store.Charges().Get(ctx, f.gw.checkoutID)
	require.NoError(t, err)
	assert.Equal(t, charge.StatusFailed, ch.Status)
	require.NotNil(t, ch.ResultCode)
	assert.Equal(t, 1032, *ch.ResultCode)

	o, err := f.store.Orders().Get(ctx, "order-2")
	require.NoError(t, err)
	assert.Equal(t, order.StatusFailed, o.PaymentStatus)
}

func TestMalformedCallbackDropped(t *testing.T) {
	f := newFixture(t)

	out, err := f.svc.IngestCallback(context.Background(), []byte(`{"Body":{}}`))
	assert.Equal(t, OutcomeDropped, out)
	assert.True(t, errors.Is(err, provider.ErrInvalidRequest))

	out, err = f.svc.IngestCallback(context.Background(), successCallback("ws_CO_1", "500", ""))
	assert.Equal(t, OutcomeDropped, out)
	assert.Error(t, err)
	assert.Zero(t, f.store.RecordCount())
}

func TestUnsavedCallbackIsRetriedOnRedelivery(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedOrder(t, "order-3", 50000)
	_, err := f.svc.Initiate(ctx, InitiateRequest{Amount: 500, Phone: "254712345678", OrderRef: "order-3"})
	require.NoError(t, err)
	body := successCallback(f.gw.checkoutID, "500", "QKL81TR9XB")

	f.store.FailRecords(errors.New("connection refused"))
	out, err := f.svc.IngestCallback(ctx, body)
	assert.Equal(t, OutcomeUnsaved, out)
	assert.True(t, ledger.IsPersistError(err))

	f.store.FailRecords(nil)
	out, err = f.svc.IngestCallback(ctx, body)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRecorded, out)

	o, err := f.store.Orders().Get(ctx, "order-3")
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaid, o.PaymentStatus)
}

func TestCallbackForUnknownChargeStillRecorded(t *testing.T) {
	f := newFixture(t)

	out, err := f.svc.IngestCallback(context.Background(), successCallback("ws_CO_unknown", "250", "ZZZ999"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeRecorded, out)

	rec, err := f.store.Ledger().FindByProviderRef(context.Background(), payment.ProviderMpesa, "ZZZ999")
	require.NoError(t, err)
	assert.Equal(t, payment.OrderSyncNoOrder, rec.OrderSync)
}

func TestInitiateChecksOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedOrder(t, "order-4", 50000)

	_, err := f.svc.Initiate(ctx, InitiateRequest{Amount: 400, Phone: "254712345678", OrderRef: "order-4"})
	assert.ErrorIs(t, err, ErrOrderNotPayable)

	_, err = f.svc.Initiate(ctx, InitiateRequest{Amount: 500, Phone: "254712345678", OrderRef: "nope"})
	assert.ErrorIs(t, err, ErrUnknownOrder)

	_, err = f.svc.Initiate(ctx, InitiateRequest{Amount: 0, Phone: "254712345678"})
	assert.ErrorIs(t, err, provider.ErrInvalidRequest)

	assert.Empty(t, f.gw.initiated)
}

func TestInitiateWithoutReferenceGeneratesOne(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	resp, err := f.svc.Initiate(ctx, InitiateRequest{Amount: 500, Phone: "254712345678"})
	require.NoError(t, err)
	require.Len(t, f.gw.initiated, 1)
	ref := f.gw.initiated[0].AccountReference
	assert.Len(t, ref, 12)
	assert.True(t, strings.HasPrefix(ref, "PV"))

	ch, err := f.store.Charges().Get(ctx, resp.CheckoutRequestID)
	require.NoError(t, err)
	assert.Equal(t, ref, ch.AccountReference)
	assert.Empty(t, ch.OrderRef)
}

func TestReconcile(t *testing.T) {
	tests := []struct {
		name        string
		status      *provider.PushStatus
		statusErr   error
		expired     bool
		want        charge.Status
		wantErr     bool
		orderStatus order.PaymentStatus
	}{
		{
			name:        "definitive failure",
			status:      &provider.PushStatus{Final: true, ResultCode: "1037", ResultDesc: "DS timeout user cannot be reached"},
			want:        charge.StatusFailed,
			orderStatus: order.StatusFailed,
		},
		{
			name:        "still processing",
			status:      &provider.PushStatus{},
			want:        charge.StatusPending,
			orderStatus: order.StatusUnpaid,
		},
		{
			name:        "still processing past expiry",
			status:      &provider.PushStatus{},
			expired:     true,
			want:        charge.StatusExpired,
			orderStatus: order.StatusFailed,
		},
		{
			name:        "paid but callback not yet arrived",
			status:      &provider.PushStatus{Final: true, Succeeded: true, ResultCode: "0"},
			want:        charge.StatusPending,
			orderStatus: order.StatusUnpaid,
		},
		{
			name:        "paid but callback missing past expiry",
			status:      &provider.PushStatus{Final: true, Succeeded: true, ResultCode: "0"},
			expired:     true,
			want:        charge.StatusExpired,
			orderStatus: order.StatusUnpaid,
		},
		{
			name:        "query failed",
			statusErr:   &provider.ProviderError{Kind: provider.KindUnavailable},
			want:        charge.StatusPending,
			wantErr:     true,
			orderStatus: order.StatusUnpaid,
		},
		{
			name:        "query failed past expiry",
			statusErr:   &provider.ProviderError{Kind: provider.KindTimeout},
			expired:     true,
			want:        charge.StatusExpired,
			orderStatus: order.StatusFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t)
			f.seedOrder(t, "order-5", 10000)
			f.gw.status, f.gw.statusErr = tt.status, tt.statusErr
			_, err := f.svc.Initiate(ctx, InitiateRequest{Amount: 100, Phone: "254712345678", OrderRef: "order-5"})
			require.NoError(t, err)
			ch, err := f.store.Charges().Get(ctx, f.gw.checkoutID)
			require.NoError(t, err)

			got, err := f.svc.Reconcile(ctx, ch, tt.expired)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)

			stored, err := f.store.Charges().Get(ctx, f.gw.checkoutID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, stored.Status)

			o, err := f.store.Orders().Get(ctx, "order-5")
			require.NoError(t, err)
			assert.Equal(t, tt.orderStatus, o.PaymentStatus)
		})
	}
}

func TestLateCallbackAfterExpiryIsHonoured(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedOrder(t, "order-6", 50000)
	f.gw.status = &provider.PushStatus{}
	_, err := f.svc.Initiate(ctx, InitiateRequest{Amount: 500, Phone: "254712345678", OrderRef: "order-6"})
	require.NoError(t, err)
	ch, err := f.store.Charges().Get(ctx, f.gw.checkoutID)
	require.NoError(t, err)

	_, err = f.svc.Reconcile(ctx, ch, true)
	require.NoError(t, err)

	out, err := f.svc.IngestCallback(ctx, successCallback(f.gw.checkoutID, "500", "LATE01"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeRecorded, out)

	o, err := f.store.Orders().Get(ctx, "order-6")
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaid, o.PaymentStatus)
	stored, err := f.store.Charges().Get(ctx, f.gw.checkoutID)
	require.NoError(t, err)
	assert.Equal(t, charge.StatusCompleted, stored.Status)
}
