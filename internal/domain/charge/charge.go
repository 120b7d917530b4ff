package charge

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"payverify/internal/domain/payment"
)

// Status of a push charge awaiting its asynchronous callback.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusExpired   Status = "expired"
)

var ErrNotFound = errors.New("push charge not found")

// PushCharge correlates an STK push with the callback that settles it.
type PushCharge struct {
	CheckoutRequestID string
	MerchantRequestID string
	Phone             string // only held in memory; storage keeps PhoneHash
	PhoneHash         string
	Amount            payment.Money
	AccountReference  string
	OrderRef          string
	Status            Status
	ResultCode        *int
	ResultDesc        string
	InitiatedAt       time.Time
	ResolvedAt        *time.Time
}

// NewPushCharge builds a pending charge after a successful initiation.
func NewPushCharge(checkoutID, merchantID, phone string, amount payment.Money, accountRef, orderRef string) (*PushCharge, error) {
	if strings.TrimSpace(checkoutID) == "" {
		return nil, fmt.Errorf("checkout request id is required")
	}
	if amount <= 0 {
		return nil, fmt.Errorf("amount must be positive: %d", amount)
	}
	return &PushCharge{
		CheckoutRequestID: checkoutID,
		MerchantRequestID: merchantID,
		Phone:             phone,
		PhoneHash:         payment.HashIdentity(phone),
		Amount:            amount,
		AccountReference:  accountRef,
		OrderRef:          orderRef,
		Status:            StatusPending,
		InitiatedAt:       time.Now().UTC(),
	}, nil
}

// IsOpen reports whether a callback can still settle the charge.
// Expired charges stay open: a late genuine callback is still honoured.
func (c *PushCharge) IsOpen() bool {
	return c.Status == StatusPending || c.Status == StatusExpired
}

// CanResolve reports whether the charge may move to next.
func CanResolve(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusCompleted || to == StatusFailed || to == StatusExpired
	case StatusExpired:
		return to == StatusCompleted || to == StatusFailed
	}
	return false
}

// ResolvableFrom lists the states a charge may leave to reach to.
func ResolvableFrom(to Status) []Status {
	var out []Status
	for _, from := range []Status{StatusPending, StatusExpired} {
		if CanResolve(from, to) {
			out = append(out, from)
		}
	}
	return out
}
