package repositories

import (
	"context"
	"errors"
	"time"

	"payverify/internal/domain/charge"
	"payverify/internal/domain/order"
	"payverify/internal/domain/payment"
)

// LedgerRepository is the payment ledger. Uniqueness of
// (provider, provider_tx_ref) is enforced by storage, not callers.
type LedgerRepository interface {
	// Record inserts rec and, in the same transaction, settles the order it
	// references. On a uniqueness conflict nothing is written and the
	// existing record is returned with inserted=false.
	Record(ctx context.Context, rec *payment.Record) (stored *payment.Record, inserted bool, err error)
	// ApplyOrder retries the order flip for a record whose sync is pending.
	ApplyOrder(ctx context.Context, rec *payment.Record) (payment.OrderSync, error)
	FindByProviderRef(ctx context.Context, p payment.Provider, ref string) (*payment.Record, error)
	ListPendingOrderSync(ctx context.Context, limit int) ([]*payment.Record, error)
}

// OrderRepository is the boundary to the storefront's orders.
type OrderRepository interface {
	Get(ctx context.Context, id string) (*order.Order, error)
	Save(ctx context.Context, o *order.Order) error
	// MarkFailed moves an unpaid order to failed; false when it was not unpaid.
	MarkFailed(ctx context.Context, id string) (bool, error)
}

// ChargeRepository tracks push charges awaiting their callback.
type ChargeRepository interface {
	Save(ctx context.Context, c *charge.PushCharge) error
	Get(ctx context.Context, checkoutRequestID string) (*charge.PushCharge, error)
	// Resolve moves a charge to status when charge.CanResolve allows it and
	// reports whether a row changed.
	Resolve(ctx context.Context, checkoutRequestID string, status charge.Status, resultCode *int, desc string) (bool, error)
	ListPending(ctx context.Context, initiatedBefore time.Time, limit int) ([]*charge.PushCharge, error)
}

// ErrNotFound is returned by ledger lookups that match nothing.
var ErrNotFound = errors.New("payment record not found")
