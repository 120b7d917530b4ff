package postgres

import (
	"context"
	"errors"

	"payverify/internal/domain/order"
	"payverify/internal/domain/payment"
	"payverify/internal/store/repositories"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

const recordColumns = `id, order_ref, provider, provider_tx_ref, amount, currency, status, payer_hash, order_sync, recorded_at`

// ledgerRepository implements LedgerRepository on payment_records
type ledgerRepository struct {
	db *pgxpool.Pool
}

// NewLedgerRepository creates a new ledger repository
func NewLedgerRepository(db *pgxpool.Pool) *ledgerRepository {
	return &ledgerRepository{db: db}
}

// Record inserts rec unless its idempotency key exists. The order flip runs
// in a savepoint: if it fails the record still commits with order_sync
// pending and the sweep repairs it.
func (r *ledgerRepository) Record(ctx context.Context, rec *payment.Record) (*payment.Record, bool, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		INSERT INTO payment_records (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (provider, provider_tx_ref) DO NOTHING`,
		rec.ID, nullIfEmpty(rec.OrderRef), string(rec.Provider), rec.ProviderTxRef, int64(rec.Amount),
		string(rec.Currency), string(rec.Status), rec.PayerHash, string(rec.OrderSync), rec.RecordedAt)
	if err != nil {
		return nil, false, err
	}

	if tag.RowsAffected() == 0 {
		// concurrent or earlier delivery won; READ COMMITTED sees its row now
		existing, err := scanRecord(tx.QueryRow(ctx, `
			SELECT `+recordColumns+`
			FROM payment_records
			WHERE provider = $1 AND provider_tx_ref = $2`,
			string(rec.Provider), rec.ProviderTxRef))
		if err != nil {
			return nil, false, err
		}
		return existing, false, tx.Commit(ctx)
	}

	if rec.OrderSync == payment.OrderSyncPending {
		sync, err := settleOrder(ctx, tx, rec)
		if err != nil {
			log.Warn().
				Err(err).
				Str("provider", string(rec.Provider)).
				Str("tx_ref", rec.ProviderTxRef).
				Str("order_ref", rec.OrderRef).
				Msg("order flip failed; record kept with order_sync=pending")
		} else {
			rec.OrderSync = sync
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// ApplyOrder retries the order flip for a record still pending
func (r *ledgerRepository) ApplyOrder(ctx context.Context, rec *payment.Record) (payment.OrderSync, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return payment.OrderSyncPending, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var current payment.OrderSync
	err = tx.QueryRow(ctx, `
		SELECT order_sync FROM payment_records WHERE id = $1 FOR UPDATE`, rec.ID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return payment.OrderSyncPending, repositories.ErrNotFound
	}
	if err != nil {
		return payment.OrderSyncPending, err
	}
	if current.Settled() {
		return current, tx.Commit(ctx)
	}

	sync, err := settleOrder(ctx, tx, rec)
	if err != nil {
		return payment.OrderSyncPending, err
	}
	if err := tx.Commit(ctx); err != nil {
		return payment.OrderSyncPending, err
	}
	rec.OrderSync = sync
	return sync, nil
}

// FindByProviderRef looks a record up by its idempotency key
func (r *ledgerRepository) FindByProviderRef(ctx context.Context, p payment.Provider, ref string) (*payment.Record, error) {
	rec, err := scanRecord(r.db.QueryRow(ctx, `
		SELECT `+recordColumns+`
		FROM payment_records
		WHERE provider = $1 AND provider_tx_ref = $2`, string(p), ref))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repositories.ErrNotFound
	}
	return rec, err
}

// ListPendingOrderSync returns the oldest records whose order flip is owed
func (r *ledgerRepository) ListPendingOrderSync(ctx context.Context, limit int) ([]*payment.Record, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+recordColumns+`
		FROM payment_records
		WHERE order_sync = 'pending'
		ORDER BY recorded_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*payment.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// settleOrder flips the referenced order inside a savepoint of tx and writes
// the resulting order_sync onto the record.
func settleOrder(ctx context.Context, tx pgx.Tx, rec *payment.Record) (payment.OrderSync, error) {
	sp, err := tx.Begin(ctx)
	if err != nil {
		return payment.OrderSyncPending, err
	}
	defer func() { _ = sp.Rollback(ctx) }()

	o, err := scanOrder(sp.QueryRow(ctx, `
		SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, rec.OrderRef))

	var sync payment.OrderSync
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		sync = payment.OrderSyncNoOrder
	case err != nil:
		return payment.OrderSyncPending, err
	default:
		sync = o.Settle(rec.Amount, rec.Currency)
	}

	if sync == payment.OrderSyncApplied {
		if _, err := sp.Exec(ctx, `
			UPDATE orders SET payment_status = $2, updated_at = now() WHERE id = $1`,
			o.ID, string(order.StatusPaid)); err != nil {
			return payment.OrderSyncPending, err
		}
	}
	if _, err := sp.Exec(ctx, `
		UPDATE payment_records SET order_sync = $2 WHERE id = $1`, rec.ID, string(sync)); err != nil {
		return payment.OrderSyncPending, err
	}
	if err := sp.Commit(ctx); err != nil {
		return payment.OrderSyncPending, err
	}

	if sync != payment.OrderSyncApplied {
		log.Error().
			Str("order_ref", rec.OrderRef).
			Str("tx_ref", rec.ProviderTxRef).
			Str("order_sync", string(sync)).
			Int64("amount", int64(rec.Amount)).
			Bool("alert", true).
			Msg("recorded payment could not settle its order")
	}
	return sync, nil
}

// scanRecord scans a single row into a payment record
func scanRecord(row pgx.Row) (*payment.Record, error) {
	var rec payment.Record
	var orderRef *string

	err := row.Scan(
		&rec.ID, &orderRef, &rec.Provider, &rec.ProviderTxRef, &rec.Amount,
		&rec.Currency, &rec.Status, &rec.PayerHash, &rec.OrderSync, &rec.RecordedAt)
	if err != nil {
		return nil, err
	}
	if orderRef != nil {
		rec.OrderRef = *orderRef
	}
	return &rec, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
