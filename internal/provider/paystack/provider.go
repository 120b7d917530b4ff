package paystack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"payverify/internal/config"
	"payverify/internal/domain/payment"
	"payverify/internal/provider"
	"payverify/internal/provider/base"

	"github.com/rs/zerolog/log"
)

// Provider verifies card/wallet transactions against the Paystack API.
// Paystack amounts are already in minor units (kobo, cents).
type Provider struct {
	secret     string
	httpClient *base.HTTPClient
	scale      base.Scale
}

// New creates a Paystack provider; the secret never leaves this process
func New(cfg config.GatewayCfg, httpClient *base.HTTPClient) *Provider {
	return &Provider{
		secret:     cfg.SecretKey,
		httpClient: httpClient,
		scale:      base.ScaleMinor,
	}
}

// Name returns the provider name
func (p *Provider) Name() payment.Provider { return payment.ProviderPaystack }

// ToMinor converts a Paystack amount into canonical minor units
func (p *Provider) ToMinor(native int64) (payment.Money, error) { return p.scale.ToMinor(native) }

type verifyResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    *struct {
		ID              json.Number `json:"id"`
		Status          string      `json:"status"`
		Reference       string      `json:"reference"`
		Amount          json.Number `json:"amount"`
		Currency        string      `json:"currency"`
		GatewayResponse string      `json:"gateway_response"`
		Customer        struct {
			Email string `json:"email"`
			Phone string `json:"phone"`
		} `json:"customer"`
	} `json:"data"`
}

// Verify looks up a transaction by reference
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
		Path:    "/transaction/verify/" + url.PathEscape(reference),
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
			Str("provider", "paystack").
			Int("status_code", resp.StatusCode).
			Bool("alert", true).
			Msg("paystack rejected our credentials")
		return nil, &provider.ProviderError{
			Kind:        provider.KindAuth,
			Code:        "auth_failed",
			Message:     "paystack authentication failed",
			ProviderErr: body.Message,
		}
	case resp.StatusCode == http.StatusNotFound,
		resp.StatusCode == http.StatusBadRequest && strings.Contains(strings.ToLower(body.Message), "not found"):
		return nil, &provider.ProviderError{
			Kind:        provider.KindNotFound,
			Code:        "transaction_not_found",
			Message:     fmt.Sprintf("paystack has no transaction %q", reference),
			ProviderErr: body.Message,
		}
	case !resp.IsSuccess():
		return &provider.VerificationResult{
			Provider:   payment.ProviderPaystack,
			Status:     provider.VerifyFailed,
			Detail:     fmt.Sprintf("status %d: %s", resp.StatusCode, body.Message),
			RawPayload: resp.Body,
		}, nil
	case decodeErr != nil:
		return provider.Unparseable(payment.ProviderPaystack, decodeErr.Error(), resp.Body), nil
	case !body.Status || body.Data == nil:
		return provider.Unparseable(payment.ProviderPaystack, "missing data: "+body.Message, resp.Body), nil
	}

	d := body.Data
	txRef := d.ID.String()
	if txRef == "" || txRef == "0" {
		txRef = d.Reference
	}
	if txRef == "" {
		return provider.Unparseable(payment.ProviderPaystack, "missing transaction id", resp.Body), nil
	}

	status := mapStatus(d.Status)
	result := &provider.VerificationResult{
		Provider:      payment.ProviderPaystack,
		ProviderTxRef: txRef,
		Status:        status,
		Currency:      payment.Currency(strings.ToUpper(d.Currency)),
		PayerIdentity: d.Customer.Email,
		Detail:        d.GatewayResponse,
		RawPayload:    resp.Body,
	}
	if status != provider.VerifySuccess {
		return result, nil
	}

	amt, err := base.ParseDecimal(d.Amount)
	if err != nil {
		return provider.Unparseable(payment.ProviderPaystack, "amount: "+err.Error(), resp.Body), nil
	}
	minor, err := p.scale.DecimalToMinor(amt)
	if err != nil {
		return provider.Unparseable(payment.ProviderPaystack, err.Error(), resp.Body), nil
	}
	result.SettledAmount = minor

	log.Debug().
		Str("provider", "paystack").
		Str("reference", reference).
		Str("tx_ref", txRef).
		Int64("amount", int64(minor)).
		Msg("transaction verified")

	return result, nil
}

func mapStatus(s string) provider.VerifyStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "success":
		return provider.VerifySuccess
	case "failed", "abandoned", "reversed":
		return provider.VerifyFailed
	case "ongoing", "pending", "processing", "queued":
		return provider.VerifyPending
	}
	return provider.VerifyUnparseable
}
