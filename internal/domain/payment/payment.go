package payment

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Money represents a monetary amount in smallest currency unit (cents)
type Money int64

// Currency represents a currency code
type Currency string

const (
	KES Currency = "KES"
	NGN Currency = "NGN"
	USD Currency = "USD"
)

// Provider identifies the payment network that settled a transaction
type Provider string

const (
	ProviderPaystack    Provider = "paystack"
	ProviderFlutterwave Provider = "flutterwave"
	ProviderMpesa       Provider = "mpesa"
)

// Status of a persisted record. Only confirmed outcomes are ever written.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// OrderSync tracks whether the order flip for a record has been applied.
type OrderSync string

const (
	OrderSyncPending     OrderSync = "pending"
	OrderSyncApplied     OrderSync = "applied"
	OrderSyncMismatch    OrderSync = "mismatch"
	OrderSyncAlreadyPaid OrderSync = "already_paid" // order settled by another record
	OrderSyncNoOrder     OrderSync = "no_order"
)

// Settled reports whether no further order work is owed for the record.
func (s OrderSync) Settled() bool { return s != OrderSyncPending }

// Assertion is what a client claims about a payment. It is a pointer to look
// up at the provider, never a fact.
type Assertion struct {
	Reference            string
	ClaimedAmount        Money
	ClaimedPayerIdentity string
	OrderRef             string
}

// Verified carries provider-confirmed fields into the ledger.
type Verified struct {
	Provider      Provider
	ProviderTxRef string
	Amount        Money
	Currency      Currency
	PayerIdentity string
	OrderRef      string
}

// Record is an immutable ledger entry; (Provider, ProviderTxRef) is unique.
type Record struct {
	ID            uuid.UUID `json:"id"`
	OrderRef      string    `json:"orderRef,omitempty"`
	Provider      Provider  `json:"provider"`
	ProviderTxRef string    `json:"providerTransactionRef"`
	Amount        Money     `json:"amount"`
	Currency      Currency  `json:"currency"`
	Status        Status    `json:"status"`
	PayerHash     string    `json:"-"`
	OrderSync     OrderSync `json:"-"`
	RecordedAt    time.Time `json:"recordedAt"`
}

// NewRecord builds a success record from verified provider fields.
func NewRecord(v Verified) (*Record, error) {
	if strings.TrimSpace(string(v.Provider)) == "" {
		return nil, fmt.Errorf("provider is required")
	}
	if strings.TrimSpace(v.ProviderTxRef) == "" {
		return nil, fmt.Errorf("provider transaction ref is required")
	}
	if v.Amount <= 0 {
		return nil, fmt.Errorf("amount must be positive: %d", v.Amount)
	}
	sync := OrderSyncPending
	if v.OrderRef == "" {
		sync = OrderSyncNoOrder
	}
	return &Record{
		ID:            uuid.New(),
		OrderRef:      v.OrderRef,
		Provider:      v.Provider,
		ProviderTxRef: strings.TrimSpace(v.ProviderTxRef),
		Amount:        v.Amount,
		Currency:      v.Currency,
		Status:        StatusSuccess,
		PayerHash:     HashIdentity(v.PayerIdentity),
		OrderSync:     sync,
		RecordedAt:    time.Now().UTC(),
	}, nil
}

// HashIdentity returns a stable SHA256 hex of a payer identity (lowercased, trimmed).
func HashIdentity(identity string) string {
	s := strings.ToLower(strings.TrimSpace(identity))
	if s == "" {
		return ""
	}
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

// SameIdentity compares payer identities. Email-like identities compare
// case-insensitively; everything else must match exactly after trimming.
func SameIdentity(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return false
	}
	if strings.Contains(a, "@") || strings.Contains(b, "@") {
		return strings.EqualFold(a, b)
	}
	return a == b
}
