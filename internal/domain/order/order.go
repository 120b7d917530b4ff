package order

import (
	"errors"
	"fmt"
	"time"

	"payverify/internal/domain/payment"
)

// PaymentStatus is the payment side of an order owned by the storefront.
type PaymentStatus string

const (
	StatusUnpaid PaymentStatus = "unpaid"
	StatusPaid   PaymentStatus = "paid"
	StatusFailed PaymentStatus = "failed"
)

var (
	ErrNotFound          = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid order transition")
	ErrAmountMismatch    = errors.New("settled amount does not match amount due")
)

// Order is referenced, not owned: only the payment status is written here.
type Order struct {
	ID            string
	AmountDue     payment.Money
	Currency      payment.Currency
	BuyerIdentity string
	PaymentStatus PaymentStatus
	UpdatedAt     time.Time
}

// New builds an unpaid order as handed over by the storefront.
func New(id string, amountDue payment.Money, currency payment.Currency, buyerIdentity string) (*Order, error) {
	if id == "" {
		return nil, fmt.Errorf("order id is required")
	}
	if amountDue <= 0 {
		return nil, fmt.Errorf("amount due must be positive: %d", amountDue)
	}
	return &Order{
		ID:            id,
		AmountDue:     amountDue,
		Currency:      currency,
		BuyerIdentity: buyerIdentity,
		PaymentStatus: StatusUnpaid,
		UpdatedAt:     time.Now().UTC(),
	}, nil
}

// CanTransition reports whether the payment status may move to next.
// paid is terminal; failed may still be settled by a later payment.
func CanTransition(from, to PaymentStatus) bool {
	switch from {
	case StatusUnpaid:
		return to == StatusPaid || to == StatusFailed
	case StatusFailed:
		return to == StatusPaid
	}
	return false
}

// MarkPaid flips the order to paid when amount equals what is due.
func (o *Order) MarkPaid(amount payment.Money) error {
	if !CanTransition(o.PaymentStatus, StatusPaid) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.PaymentStatus, StatusPaid)
	}
	if amount != o.AmountDue {
		return fmt.Errorf("%w: settled %d, due %d", ErrAmountMismatch, amount, o.AmountDue)
	}
	o.PaymentStatus = StatusPaid
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkFailed records a terminal failed attempt on an unpaid order.
func (o *Order) MarkFailed() error {
	if o.PaymentStatus != StatusUnpaid {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.PaymentStatus, StatusFailed)
	}
	o.PaymentStatus = StatusFailed
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// Settle applies a recorded payment to the order. Outcomes other than
// applied leave the order untouched and need an operator.
func (o *Order) Settle(amount payment.Money, currency payment.Currency) payment.OrderSync {
	switch {
	case o.PaymentStatus == StatusPaid:
		return payment.OrderSyncAlreadyPaid
	case currency != "" && o.Currency != "" && currency != o.Currency:
		return payment.OrderSyncMismatch
	case o.MarkPaid(amount) != nil:
		return payment.OrderSyncMismatch
	}
	return payment.OrderSyncApplied
}
