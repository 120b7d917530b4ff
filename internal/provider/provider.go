package provider

import (
	"context"

	"payverify/internal/domain/payment"
)

// AmountScaler converts a provider's native amount into canonical minor units.
type AmountScaler interface {
	ToMinor(native int64) (payment.Money, error)
}

// Verifier is a synchronous-verification gateway (card/wallet).
type Verifier interface {
	AmountScaler
	Name() payment.Provider
	// Verify looks a transaction up by reference. Timeouts, auth failures and
	// unknown references come back as *ProviderError; anything else the
	// provider says is folded into the result status.
	Verify(ctx context.Context, reference string) (*VerificationResult, error)
}

// PushGateway is a mobile-money network that prompts the payer's handset
// and confirms asynchronously.
type PushGateway interface {
	AmountScaler
	Name() payment.Provider
	Initiate(ctx context.Context, req PushRequest) (*PushResponse, error)
	QueryStatus(ctx context.Context, checkoutRequestID string) (*PushStatus, error)
	ParseCallback(body []byte) (*CallbackResult, error)
}
