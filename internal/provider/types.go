package provider

import (
	"errors"

	"payverify/internal/domain/payment"
)

// VerifyStatus is the normalised state of a looked-up transaction
type VerifyStatus string

const (
	VerifySuccess     VerifyStatus = "success"
	VerifyFailed      VerifyStatus = "failed"
	VerifyPending     VerifyStatus = "pending"
	VerifyUnparseable VerifyStatus = "unparseable"
)

// VerificationResult is built fresh from the provider on every call.
type VerificationResult struct {
	Provider      payment.Provider
	ProviderTxRef string
	Status        VerifyStatus
	SettledAmount payment.Money
	Currency      payment.Currency
	PayerIdentity string
	Detail        string // provider message; internal only
	RawPayload    []byte
}

// Unparseable wraps a body the adapter could not make sense of.
func Unparseable(p payment.Provider, detail string, raw []byte) *VerificationResult {
	return &VerificationResult{Provider: p, Status: VerifyUnparseable, Detail: detail, RawPayload: raw}
}

// STK Push (Customer initiated payments)
type PushRequest struct {
	Amount           payment.Money
	Phone            string
	AccountReference string
	Description      string
	CallbackURL      string
}

type PushResponse struct {
	CheckoutRequestID   string `json:"checkoutRequestId"`
	MerchantRequestID   string `json:"merchantRequestId"`
	ResponseCode        string `json:"responseCode"`
	ResponseDescription string `json:"responseDescription"`
	CustomerMessage     string `json:"customerMessage"`
	Phone               string `json:"-"`
}

// PushStatus is the answer of a status query for an outstanding push.
type PushStatus struct {
	CheckoutRequestID string
	Final             bool // false while the provider is still processing
	Succeeded         bool
	ResultCode        string
	ResultDesc        string
}

// CallbackResult is the normalised asynchronous confirmation of a push.
type CallbackResult struct {
	CheckoutRequestID string
	MerchantRequestID string
	ResultCode        int
	ResultDesc        string
	ReceiptNumber     string
	Amount            payment.Money
	Phone             string
	RawPayload        []byte
}

// Succeeded follows the provider convention that code 0 is success.
func (c *CallbackResult) Succeeded() bool { return c.ResultCode == 0 }

// ErrorKind separates outcomes the caller handles differently.
type ErrorKind string

const (
	KindTimeout        ErrorKind = "timeout"
	KindUnavailable    ErrorKind = "unavailable"
	KindAuth           ErrorKind = "auth"
	KindNotFound       ErrorKind = "not_found"
	KindInvalidRequest ErrorKind = "invalid_request"
	KindRejected       ErrorKind = "rejected"
)

// Common error types
type ProviderError struct {
	Kind        ErrorKind `json:"kind"`
	Code        string    `json:"code"`
	Message     string    `json:"message"`
	ProviderErr string    `json:"provider_error,omitempty"`
	Err         error     `json:"-"`
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.ProviderErr != "" {
		msg += ": " + e.ProviderErr
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Is matches on Kind so callers can use errors.Is(err, provider.ErrNotFound).
func (e *ProviderError) Is(target error) bool {
	t, ok := target.(*ProviderError)
	if !ok {
		return false
	}
	return t.Code == "" && t.Kind == e.Kind
}

var (
	ErrTimeout        = &ProviderError{Kind: KindTimeout}
	ErrUnavailable    = &ProviderError{Kind: KindUnavailable}
	ErrAuth           = &ProviderError{Kind: KindAuth}
	ErrNotFound       = &ProviderError{Kind: KindNotFound}
	ErrInvalidRequest = &ProviderError{Kind: KindInvalidRequest}
	ErrRejected       = &ProviderError{Kind: KindRejected}
)

// KindOf returns the kind of a provider error, or "" for anything else.
func KindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// IsTransient reports whether retrying later may succeed.
func IsTransient(err error) bool {
	k := KindOf(err)
	return k == KindTimeout || k == KindUnavailable
}

// Error codes
const (
	CodeTokenFetchFailed  = "token_fetch_failed"
	CodeInvalidAmount     = "invalid_amount"
	CodeInvalidPhone      = "invalid_phone"
	CodeInvalidReference  = "invalid_reference"
	CodeResponseMalformed = "response_parse_failed"
	CodeMalformedCallback = "malformed_callback"
	CodeProviderNotFound  = "provider_not_found"
)
