package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"payverify/internal/config"
	"payverify/internal/domain/payment"
	"payverify/internal/provider"
	"payverify/internal/provider/base"

	"github.com/rs/zerolog/log"
)

// Daraja reports this while an STK push is still waiting on the handset.
const codeStillProcessing = "500.001.1001"

// Daraja timestamps are East Africa Time.
var eat = time.FixedZone("EAT", 3*60*60)

// Provider implements the M-Pesa Daraja STK push flow
type Provider struct {
	cfg        config.MpesaCfg
	httpClient *base.HTTPClient
	validator  *base.PushValidator
	tokens     TokenCache
	scale      base.Scale
	now        func() time.Time
}

// New creates a new M-Pesa provider instance
func New(cfg config.MpesaCfg, httpClient *base.HTTPClient, tokens TokenCache) *Provider {
	if tokens == nil {
		tokens = NewMemoryTokenCache()
	}
	return &Provider{
		cfg:        cfg,
		httpClient: httpClient,
		validator:  base.NewPushValidator("KE", payment.KES, base.ScaleMajor, 1, 250000), // Kenya limits
		tokens:     tokens,
		scale:      base.ScaleMajor,
		now:        time.Now,
	}
}

// Name returns the provider name
func (p *Provider) Name() payment.Provider { return payment.ProviderMpesa }

// ToMinor converts whole shillings into cents
func (p *Provider) ToMinor(native int64) (payment.Money, error) { return p.scale.ToMinor(native) }

type stkResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
	ErrorCode           string `json:"errorCode"`
	ErrorMessage        string `json:"errorMessage"`
}

// Initiate sends an STK push prompt to the payer's handset
func (p *Provider) Initiate(ctx context.Context, req provider.PushRequest) (*provider.PushResponse, error) {
	native, err := p.validator.ValidatePushReq(&req)
	if err != nil {
		return nil, err
	}

	token, err := p.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	timestamp, password := p.password()
	payload := map[string]any{
		"BusinessShortCode": p.cfg.Shortcode,
		"Password":          password,
		"Timestamp":         timestamp,
		"TransactionType":   "CustomerPayBillOnline",
		"Amount":            native,
		"PartyA":            req.Phone,
		"PartyB":            p.cfg.Shortcode,
		"PhoneNumber":       req.Phone,
		"CallBackURL":       req.CallbackURL,
		"AccountReference":  req.AccountReference,
		"TransactionDesc":   req.Description,
	}

	resp, err := p.httpClient.Do(ctx, base.Request{
		Method:  http.MethodPost,
		Path:    "/mpesa/stkpush/v1/processrequest",
		Headers: map[string]string{"Authorization": "Bearer " + token},
		Body:    payload,
	})
	if err != nil {
		return nil, err
	}
	if err := p.checkAuth(ctx, resp); err != nil {
		return nil, err
	}

	var response stkResponse
	if err := resp.DecodeJSON(&response); err != nil {
		return nil, &provider.ProviderError{
			Kind:    provider.KindUnavailable,
			Code:    provider.CodeResponseMalformed,
			Message: "failed to parse STK response",
			Err:     err,
		}
	}

	if response.ErrorCode != "" {
		return nil, &provider.ProviderError{
			Kind:        provider.KindRejected,
			Code:        "stk_rejected",
			Message:     "stk push rejected",
			ProviderErr: response.ErrorCode + " " + response.ErrorMessage,
		}
	}
	if !resp.IsSuccess() || response.ResponseCode != "0" || response.CheckoutRequestID == "" {
		return nil, &provider.ProviderError{
			Kind:        provider.KindRejected,
			Code:        "stk_failed",
			Message:     fmt.Sprintf("stk push failed with status %d", resp.StatusCode),
			ProviderErr: response.ResponseDescription,
		}
	}

	log.Info().
		Str("provider", "mpesa").
		Str("operation", "stk_push").
		Str("checkout_request_id", response.CheckoutRequestID).
		Int64("amount", native).
		Str("msisdn_hash", payment.HashIdentity(req.Phone)).
		Msg("M-Pesa operation")

	return &provider.PushResponse{
		CheckoutRequestID:   response.CheckoutRequestID,
		MerchantRequestID:   response.MerchantRequestID,
		ResponseCode:        response.ResponseCode,
		ResponseDescription: response.ResponseDescription,
		CustomerMessage:     response.CustomerMessage,
		Phone:               req.Phone,
	}, nil
}

// QueryStatus asks Daraja for the outcome of an STK push
func (p *Provider) QueryStatus(ctx context.Context, checkoutRequestID string) (*provider.PushStatus, error) {
	if strings.TrimSpace(checkoutRequestID) == "" {
		return nil, &provider.ProviderError{
			Kind:    provider.KindInvalidRequest,
			Code:    provider.CodeInvalidReference,
			Message: "checkout request id is required",
		}
	}

	token, err := p.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	timestamp, password := p.password()
	resp, err := p.httpClient.Do(ctx, base.Request{
		Method:  http.MethodPost,
		Path:    "/mpesa/stkpushquery/v1/query",
		Headers: map[string]string{"Authorization": "Bearer " + token},

		// still-processing comes back as a 500 with an errorCode
		RawServerErrors: true,
		Body: map[string]any{
			"BusinessShortCode": p.cfg.Shortcode,
			"Password":          password,
			"Timestamp":         timestamp,
			"CheckoutRequestID": checkoutRequestID,
		},
	})
	if err != nil {
		return nil, err
	}
	if err := p.checkAuth(ctx, resp); err != nil {
		return nil, err
	}

	var response struct {
		ResponseCode      string          `json:"ResponseCode"`
		CheckoutRequestID string          `json:"CheckoutRequestID"`
		ResultCode        json.RawMessage `json:"ResultCode"`
		ResultDesc        string          `json:"ResultDesc"`
		ErrorCode         string          `json:"errorCode"`
		ErrorMessage      string          `json:"errorMessage"`
	}
	if err := resp.DecodeJSON(&response); err != nil {
		return nil, &provider.ProviderError{
			Kind:    provider.KindUnavailable,
			Code:    provider.CodeResponseMalformed,
			Message: fmt.Sprintf("failed to parse status response (status %d)", resp.StatusCode),
			Err:     err,
		}
	}
	if resp.StatusCode >= 500 && response.ErrorCode == "" {
		return nil, &provider.ProviderError{
			Kind:    provider.KindUnavailable,
			Code:    "provider_down",
			Message: fmt.Sprintf("status query returned %d", resp.StatusCode),
		}
	}

	status := &provider.PushStatus{CheckoutRequestID: checkoutRequestID}
	switch {
	case response.ErrorCode == codeStillProcessing:
		status.ResultDesc = response.ErrorMessage
		return status, nil
	case response.ErrorCode != "":
		return nil, &provider.ProviderError{
			Kind:        provider.KindRejected,
			Code:        "status_failed",
			Message:     "stk status query rejected",
			ProviderErr: response.ErrorCode + " " + response.ErrorMessage,
		}
	}

	code := rawCode(response.ResultCode)
	if code == "" {
		return nil, &provider.ProviderError{
			Kind:    provider.KindUnavailable,
			Code:    provider.CodeResponseMalformed,
			Message: "status response has no result code",
		}
	}
	status.Final = true
	status.Succeeded = code == "0"
	status.ResultCode = code
	status.ResultDesc = response.ResultDesc
	return status, nil
}

// password builds the Lipa na M-Pesa password for the current EAT second
func (p *Provider) password() (timestamp, password string) {
	timestamp = p.now().In(eat).Format("20060102150405")
	password = base64.StdEncoding.EncodeToString([]byte(p.cfg.Shortcode + p.cfg.Passkey + timestamp))
	return timestamp, password
}

func (p *Provider) tokenKey() string { return p.cfg.Shortcode + "_" + p.cfg.Env }

// accessToken retrieves or generates an access token for the Daraja API.
// Any failure here is an initiation failure with code token_fetch_failed.
func (p *Provider) accessToken(ctx context.Context) (string, error) {
	key := p.tokenKey()
	if tok, ok, err := p.tokens.Get(ctx, key); err == nil && ok {
		return tok, nil
	} else if err != nil {
		log.Warn().Err(err).Msg("token cache read failed; fetching a fresh token")
	}

	resp, err := p.httpClient.Do(ctx, base.Request{
		Method:    http.MethodGet,
		Path:      "/oauth/v1/generate",
		Query:     map[string]string{"grant_type": "client_credentials"},
		BasicUser: p.cfg.ConsumerKey,
		BasicPass: p.cfg.ConsumerSecret,
	})
	if err != nil {
		return "", &provider.ProviderError{
			Kind:    provider.KindOf(err),
			Code:    provider.CodeTokenFetchFailed,
			Message: "failed to get access token",
			Err:     err,
		}
	}
	if !resp.IsSuccess() {
		log.Error().
			Str("provider", "mpesa").
			Int("status_code", resp.StatusCode).
			Bool("alert", true).
			Msg("daraja token exchange rejected")
		return "", &provider.ProviderError{
			Kind:        provider.KindAuth,
			Code:        provider.CodeTokenFetchFailed,
			Message:     fmt.Sprintf("token exchange failed with status %d", resp.StatusCode),
			ProviderErr: resp.String(),
		}
	}

	var auth struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   string `json:"expires_in"`
	}
	if err := json.NewDecoder(bytes.NewReader(resp.Body)).Decode(&auth); err != nil || auth.AccessToken == "" {
		return "", &provider.ProviderError{
			Kind:    provider.KindAuth,
			Code:    provider.CodeTokenFetchFailed,
			Message: "token response has no access_token",
			Err:     err,
		}
	}

	expiresIn, err := strconv.Atoi(auth.ExpiresIn)
	if err != nil || expiresIn <= 0 {
		expiresIn = 3599
	}
	// refresh a minute early so an in-flight call never carries a stale token
	ttl := time.Duration(expiresIn)*time.Second - time.Minute
	if ttl > 0 {
		if err := p.tokens.Set(ctx, key, auth.AccessToken, ttl); err != nil {
			log.Warn().Err(err).Msg("token cache write failed")
		}
	}
	return auth.AccessToken, nil
}

// checkAuth drops the cached token when Daraja refuses it
func (p *Provider) checkAuth(ctx context.Context, resp *base.HTTPResponse) error {
	if resp.StatusCode != http.StatusUnauthorized && resp.StatusCode != http.StatusForbidden {
		return nil
	}
	if err := p.tokens.Delete(ctx, p.tokenKey()); err != nil {
		log.Warn().Err(err).Msg("token cache delete failed")
	}
	log.Error().
		Str("provider", "mpesa").
		Int("status_code", resp.StatusCode).
		Bool("alert", true).
		Msg("daraja rejected access token")
	return &provider.ProviderError{
		Kind:        provider.KindAuth,
		Code:        "auth_failed",
		Message:     "daraja rejected access token",
		ProviderErr: resp.String(),
	}
}

func rawCode(raw json.RawMessage) string {
	return strings.Trim(strings.TrimSpace(string(raw)), `"`)
}
