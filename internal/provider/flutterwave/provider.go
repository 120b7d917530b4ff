package flutterwave

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"payverify/internal/config"
	"payverify/internal/domain/payment"
	"payverify/internal/provider"
	"payverify/internal/provider/base"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Provider verifies card/wallet transactions against the Flutterwave v3 API.
// Flutterwave reports amounts in major units, possibly with decimals.
type Provider struct {
	secret     string
	httpClient *base.HTTPClient
	scale      base.Scale
}

// New creates a Flutterwave provider
func New(cfg config.GatewayCfg, httpClient *base.HTTPClient) *Provider {
	return &Provider{
		secret:     cfg.SecretKey,
		httpClient: httpClient,
		scale:      base.ScaleMajor,
	}
}

// Name returns the provider name
func (p *Provider) Name() payment.Provider { return payment.ProviderFlutterwave }

// ToMinor converts a whole-unit Flutterwave amount into minor units
func (p *Provider) ToMinor(native int64) (payment.Money, error) { return p.scale.ToMinor(native) }

type verifyResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    *struct {
		ID            json.Number     `json:"id"`
		TxRef         string          `json:"tx_ref"`
		FlwRef        string          `json:"flw_ref"`
		Amount        decimal.Decimal `json:"amount"`
		ChargedAmount decimal.Decimal `json:"charged_amount"`
		Currency      string          `json:"currency"`
		Status        string          `json:"status"`
		ProcessorResp string          `json:"processor_response"`
		Customer      struct {
			Email       string `json:"email"`
			PhoneNumber string `json:"phone_number"`
		} `json:"customer"`
	} `json:"data"`
}

// Verify looks up a transaction by the merchant tx_ref the client holds
func (p *Provider) Verify(ctx context.Context, reference string) (*provider.VerificationResult, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, &provider.ProviderError{
			Kind:    provider.KindInvalidRequest,
			Code:    provider.CodeInvalidReference,
			Message: "reference is required",
		}
	}

	resp, err := p.httpClient.Do(ctx, base.Request{
		Method:  http.MethodGet,
		Path:    "/v3/transactions/verify_by_reference",
		Query:   map[string]string{"tx_ref": reference},
		Headers: map[string]string{"Authorization": "Bearer " + p.secret},
	})
	if err != nil {
		return nil, err
	}

	var body verifyResponse
	dec := json.NewDecoder(bytes.NewReader(resp.Body))
	dec.UseNumber()
	decodeErr := dec.Decode(&body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		log.Error().
			Str("provider", "flutterwave").
			Int("status_code", resp.StatusCode).
			Bool("alert", true).
			Msg("flutterwave rejected our credentials")
		return nil, &provider.ProviderError{
			Kind:        provider.KindAuth,
			Code:        "auth_failed",
			Message:     "flutterwave authentication failed",
			ProviderErr: body.Message,
		}
	case resp.StatusCode == http.StatusNotFound,
		resp.StatusCode == http.StatusBadRequest && strings.Contains(strings.ToLower(body.Message), "no transaction"):
		return nil, &provider.ProviderError{
			Kind:        provider.KindNotFound,
			Code:        "transaction_not_found",
			Message:     fmt.Sprintf("flutterwave has no transaction %q", reference),
			ProviderErr: body.Message,
		}
	case !resp.IsSuccess():
		return &provider.VerificationResult{
			Provider:   payment.ProviderFlutterwave,
			Status:     provider.VerifyFailed,
			Detail:     fmt.Sprintf("status %d: %s", resp.StatusCode, body.Message),
			RawPayload: resp.Body,
		}, nil
	case decodeErr != nil:
		return provider.Unparseable(payment.ProviderFlutterwave, decodeErr.Error(), resp.Body), nil
	case body.Status != "success" || body.Data == nil:
		return provider.Unparseable(payment.ProviderFlutterwave, "missing data: "+body.Message, resp.Body), nil
	}

	d := body.Data
	txRef := d.ID.String()
	if txRef == "" || txRef == "0" {
		return provider.Unparseable(payment.ProviderFlutterwave, "missing transaction id", resp.Body), nil
	}

	status := mapStatus(d.Status)
	result := &provider.VerificationResult{
		Provider:      payment.ProviderFlutterwave,
		ProviderTxRef: txRef,
		Status:        status,
		Currency:      payment.Currency(strings.ToUpper(d.Currency)),
		PayerIdentity: d.Customer.Email,
		Detail:        d.ProcessorResp,
		RawPayload:    resp.Body,
	}
	if status != provider.VerifySuccess {
		return result, nil
	}

	minor, err := p.scale.DecimalToMinor(d.Amount)
	if err != nil {
		return provider.Unparseable(payment.ProviderFlutterwave, err.Error(), resp.Body), nil
	}
	result.SettledAmount = minor

	log.Debug().
		Str("provider", "flutterwave").
		Str("reference", reference).
		Str("tx_ref", txRef).
		Int64("amount", int64(minor)).
		Msg("transaction verified")

	return result, nil
}

func mapStatus(s string) provider.VerifyStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "successful":
		return provider.VerifySuccess
	case "failed", "cancelled":
		return provider.VerifyFailed
	case "pending":
		return provider.VerifyPending
	}
	return provider.VerifyUnparseable
}
