package postgres

import (
	"context"
	"errors"
	"time"

	"payverify/internal/domain/charge"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const chargeColumns = `checkout_request_id, merchant_request_id, phone_hash, amount, account_reference,
	order_ref, status, result_code, result_desc, initiated_at, resolved_at`

// chargeRepository implements ChargeRepository on push_charges
type chargeRepository struct {
	db *pgxpool.Pool
}

// NewChargeRepository creates a new push charge repository
func NewChargeRepository(db *pgxpool.Pool) *chargeRepository {
	return &chargeRepository{db: db}
}

// Save inserts a freshly initiated charge
func (r *chargeRepository) Save(ctx context.Context, c *charge.PushCharge) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO push_charges (`+chargeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (checkout_request_id) DO NOTHING`,
		c.CheckoutRequestID, c.MerchantRequestID, c.PhoneHash, int64(c.Amount), c.AccountReference,
		nullIfEmpty(c.OrderRef), string(c.Status), c.ResultCode, c.ResultDesc, c.InitiatedAt, c.ResolvedAt)
	return err
}

// Get finds a charge by CheckoutRequestID
func (r *chargeRepository) Get(ctx context.Context, checkoutRequestID string) (*charge.PushCharge, error) {
	c, err := scanCharge(r.db.QueryRow(ctx, `
		SELECT `+chargeColumns+` FROM push_charges WHERE checkout_request_id = $1`, checkoutRequestID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, charge.ErrNotFound
	}
	return c, err
}

// Resolve moves a charge to status if its current state allows it
func (r *chargeRepository) Resolve(ctx context.Context, checkoutRequestID string, status charge.Status, resultCode *int, desc string) (bool, error) {
	from := charge.ResolvableFrom(status)
	if len(from) == 0 {
		return false, nil
	}
	froms := make([]string, len(from))
	for i, s := range from {
		froms[i] = string(s)
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE push_charges
		SET status = $2,
		    result_code = COALESCE($3, result_code),
		    result_desc = CASE WHEN $4 = '' THEN result_desc ELSE $4 END,
		    resolved_at = now()
		WHERE checkout_request_id = $1 AND status = ANY($5)`,
		checkoutRequestID, string(status), resultCode, desc, froms)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ListPending returns pending charges initiated before the cutoff, oldest first
func (r *chargeRepository) ListPending(ctx context.Context, initiatedBefore time.Time, limit int) ([]*charge.PushCharge, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+chargeColumns+`
		FROM push_charges
		WHERE status = 'pending' AND initiated_at < $1
		ORDER BY initiated_at
		LIMIT $2`, initiatedBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*charge.PushCharge
	for rows.Next() {
		c, err := scanCharge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCharge(row pgx.Row) (*charge.PushCharge, error) {
	var c charge.PushCharge
	var orderRef *string
	err := row.Scan(
		&c.CheckoutRequestID, &c.MerchantRequestID, &c.PhoneHash, &c.Amount, &c.AccountReference,
		&orderRef, &c.Status, &c.ResultCode, &c.ResultDesc, &c.InitiatedAt, &c.ResolvedAt)
	if err != nil {
		return nil, err
	}
	if orderRef != nil {
		c.OrderRef = *orderRef
	}
	return &c, nil
}
