package mpesa

import (
	"errors"
	"testing"

	"payverify/internal/config"
	"payverify/internal/domain/payment"
	"payverify/internal/provider"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const successCallback = `{
	"Body": {
		"stkCallback": {
			"MerchantRequestID": "29115-34620561-1",
			"CheckoutRequestID": "ws_CO_191220191020363925",
			"ResultCode": 0,
			"ResultDesc": "The service request is processed successfully.",
			"CallbackMetadata": {
				"Item": [
					{"Name": "Amount", "Value": 500.00},
					{"Name": "MpesaReceiptNumber", "Value": "ABC123"},
					{"Name": "Balance"},
					{"Name": "TransactionDate", "Value": 20191219102115},
					{"Name": "PhoneNumber", "Value": 254712345678}
				]
			}
		}
	}
}`

func TestParseCallbackSuccess(t *testing.T) {
	p := New(config.MpesaCfg{}, nil, nil)

	cb, err := p.ParseCallback([]byte(successCallback))
	require.NoError(t, err)
	assert.True(t, cb.Succeeded())
	assert.Equal(t, "ws_CO_191220191020363925", cb.CheckoutRequestID)
	assert.Equal(t, "ABC123", cb.ReceiptNumber)
	assert.Equal(t, payment.Money(50000), cb.Amount)
	assert.Equal(t, "254712345678", cb.Phone)
}

func TestParseCallbackCancelled(t *testing.T) {
	p := New(config.MpesaCfg{}, nil, nil)

	cb, err := p.ParseCallback([]byte(`{"Body":{"stkCallback":{"MerchantRequestID":"m","CheckoutRequestID":"ws_CO_2","ResultCode":1032,"ResultDesc":"Request cancelled by user"}}}`))
	require.NoError(t, err)
	assert.False(t, cb.Succeeded())
	assert.Equal(t, 1032, cb.ResultCode)
}

func TestParseCallbackMalformed(t *testing.T) {
	p := New(config.MpesaCfg{}, nil, nil)

	bodies := map[string]string{
		"not json":        `{{{`,
		"wrong envelope":  `{"foo":"bar"}`,
		"no checkout id":  `{"Body":{"stkCallback":{"ResultCode":0}}}`,
		"no result code":  `{"Body":{"stkCallback":{"CheckoutRequestID":"x"}}}`,
		"success no meta": `{"Body":{"stkCallback":{"CheckoutRequestID":"x","ResultCode":0}}}`,
		"missing receipt": `{"Body":{"stkCallback":{"CheckoutRequestID":"x","ResultCode":0,"CallbackMetadata":{"Item":[{"Name":"Amount","Value":500}]}}}}`,
		"missing amount":  `{"Body":{"stkCallback":{"CheckoutRequestID":"x","ResultCode":0,"CallbackMetadata":{"Item":[{"Name":"MpesaReceiptNumber","Value":"R1"}]}}}}`,
		"bad amount":      `{"Body":{"stkCallback":{"CheckoutRequestID":"x","ResultCode":0,"CallbackMetadata":{"Item":[{"Name":"Amount","Value":"lots"},{"Name":"MpesaReceiptNumber","Value":"R1"}]}}}}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			_, err := p.ParseCallback([]byte(body))
			require.Error(t, err)
			var pe *provider.ProviderError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, provider.CodeMalformedCallback, pe.Code)
		})
	}
}
