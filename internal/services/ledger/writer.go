package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"payverify/internal/domain/payment"
	"payverify/internal/store/repositories"

	"github.com/rs/zerolog/log"
)

// Result of recording a verified payment
type Result struct {
	Record          *payment.Record
	AlreadyRecorded bool
}

// PersistError means the provider confirmed the money moved but the ledger
// write did not happen. It is never the same thing as a failed payment.
type PersistError struct {
	Op       string
	Verified payment.Verified
	Err      error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("verified payment %s/%s not saved (%s): %v",
		e.Verified.Provider, e.Verified.ProviderTxRef, e.Op, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// IsPersistError reports whether err is a verified-but-unsaved failure
func IsPersistError(err error) bool {
	var pe *PersistError
	return errors.As(err, &pe)
}

// Writer idempotently persists provider-confirmed payments
type Writer struct {
	ledger  repositories.LedgerRepository
	timeout time.Duration
}

// NewWriter creates a ledger writer; timeout bounds each storage call
func NewWriter(ledger repositories.LedgerRepository, timeout time.Duration) *Writer {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &Writer{ledger: ledger, timeout: timeout}
}

// RecordPayment stores v once per (provider, provider_tx_ref). A repeat is
// reported as AlreadyRecorded, not as an error.
func (w *Writer) RecordPayment(ctx context.Context, v payment.Verified) (*Result, error) {
	rec, err := payment.NewRecord(v)
	if err != nil {
		return nil, &PersistError{Op: "build", Verified: v, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	stored, inserted, err := w.ledger.Record(ctx, rec)
	if err != nil {
		log.Error().
			Err(err).
			Str("provider", string(v.Provider)).
			Str("tx_ref", v.ProviderTxRef).
			Str("order_ref", v.OrderRef).
			Int64("amount", int64(v.Amount)).
			Bool("alert", true).
			Msg("verified payment not saved")
		return nil, &PersistError{Op: "insert", Verified: v, Err: err}
	}

	if !inserted {
		log.Info().
			Str("provider", string(v.Provider)).
			Str("tx_ref", v.ProviderTxRef).
			Str("record_id", stored.ID.String()).
			Msg("payment already recorded")
		if stored.OrderSync == payment.OrderSyncPending {
			// a retry is a good moment to repair an owed order flip
			if _, err := w.SyncOrder(ctx, stored); err != nil {
				log.Warn().Err(err).Str("record_id", stored.ID.String()).Msg("order sync repair failed")
			}
		}
		return &Result{Record: stored, AlreadyRecorded: true}, nil
	}

	ev := log.Info()
	if stored.OrderSync == payment.OrderSyncPending {
		ev = log.Warn()
	}
	ev.Str("provider", string(v.Provider)).
		Str("tx_ref", v.ProviderTxRef).
		Str("record_id", stored.ID.String()).
		Str("order_ref", stored.OrderRef).
		Str("order_sync", string(stored.OrderSync)).
		Int64("amount", int64(stored.Amount)).
		Msg("payment recorded")

	return &Result{Record: stored}, nil
}

// SyncOrder retries the order flip for a record whose sync is still pending
func (w *Writer) SyncOrder(ctx context.Context, rec *payment.Record) (payment.OrderSync, error) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	state, err := w.ledger.ApplyOrder(ctx, rec)
	if err != nil {
		return payment.OrderSyncPending, fmt.Errorf("apply order %s for %s: %w", rec.OrderRef, rec.ID, err)
	}
	log.Info().
		Str("record_id", rec.ID.String()).
		Str("order_ref", rec.OrderRef).
		Str("order_sync", string(state)).
		Msg("order sync applied")
	return state, nil
}
