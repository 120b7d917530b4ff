package mpesa

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"payverify/internal/provider"
	"payverify/internal/provider/base"
)

type stkCallbackEnvelope struct {
	Body *struct {
		StkCallback *struct {
			MerchantRequestID string      `json:"MerchantRequestID"`
			CheckoutRequestID string      `json:"CheckoutRequestID"`
			ResultCode        json.Number `json:"ResultCode"`
			ResultDesc        string      `json:"ResultDesc"`
			CallbackMetadata  *struct {
				Item []struct {
					Name  string `json:"Name"`
					Value any    `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// ParseCallback converts a Daraja STK callback into a CallbackResult.
// Success callbacks without a receipt number or amount are malformed.
func (p *Provider) ParseCallback(body []byte) (*provider.CallbackResult, error) {
	var env stkCallbackEnvelope
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return nil, malformed("invalid json", err)
	}
	if env.Body == nil || env.Body.StkCallback == nil {
		return nil, malformed("missing Body.stkCallback", nil)
	}
	cb := env.Body.StkCallback
	if strings.TrimSpace(cb.CheckoutRequestID) == "" {
		return nil, malformed("missing CheckoutRequestID", nil)
	}
	code, err := strconv.Atoi(cb.ResultCode.String())
	if err != nil {
		return nil, malformed("missing or invalid ResultCode", err)
	}

	res := &provider.CallbackResult{
		CheckoutRequestID: cb.CheckoutRequestID,
		MerchantRequestID: cb.MerchantRequestID,
		ResultCode:        code,
		ResultDesc:        cb.ResultDesc,
		RawPayload:        body,
	}
	if !res.Succeeded() {
		// cancelled/failed callbacks carry no metadata
		return res, nil
	}
	if cb.CallbackMetadata == nil {
		return nil, malformed("success callback without CallbackMetadata", nil)
	}

	var haveAmount bool
	for _, it := range cb.CallbackMetadata.Item {
		switch it.Name {
		case "Amount":
			d, err := base.ParseDecimal(it.Value)
			if err != nil {
				return nil, malformed("invalid Amount", err)
			}
			minor, err := p.scale.DecimalToMinor(d)
			if err != nil {
				return nil, malformed("invalid Amount", err)
			}
			res.Amount = minor
			haveAmount = true
		case "MpesaReceiptNumber":
			if s, ok := it.Value.(string); ok {
				res.ReceiptNumber = strings.TrimSpace(s)
			}
		case "PhoneNumber":
			switch v := it.Value.(type) {
			case json.Number:
				res.Phone = v.String()
			case string:
				res.Phone = v
			}
		}
	}

	if res.ReceiptNumber == "" {
		return nil, malformed("success callback without MpesaReceiptNumber", nil)
	}
	if !haveAmount {
		return nil, malformed("success callback without Amount", nil)
	}
	return res, nil
}

func malformed(msg string, err error) error {
	return &provider.ProviderError{
		Kind:    provider.KindInvalidRequest,
		Code:    provider.CodeMalformedCallback,
		Message: fmt.Sprintf("malformed stk callback: %s", msg),
		Err:     err,
	}
}
