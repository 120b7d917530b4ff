package postgres

import (
	"context"
	"errors"

	"payverify/internal/domain/order"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const orderColumns = `id, amount_due, currency, buyer_identity, payment_status, updated_at`

// orderRepository implements OrderRepository on the orders table
type orderRepository struct {
	db *pgxpool.Pool
}

// NewOrderRepository creates a new order repository
func NewOrderRepository(db *pgxpool.Pool) *orderRepository {
	return &orderRepository{db: db}
}

// Get finds an order by id
func (r *orderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	o, err := scanOrder(r.db.QueryRow(ctx, `
		SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, order.ErrNotFound
	}
	return o, err
}

// Save upserts the storefront's view of an order. A paid order stays paid.
func (r *orderRepository) Save(ctx context.Context, o *order.Order) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (id) DO UPDATE
		SET amount_due     = EXCLUDED.amount_due,
		    currency       = EXCLUDED.currency,
		    buyer_identity = EXCLUDED.buyer_identity,
		    payment_status = CASE WHEN orders.payment_status = 'paid' THEN 'paid'
		                          ELSE EXCLUDED.payment_status END,
		    updated_at     = now()`,
		o.ID, int64(o.AmountDue), string(o.Currency), o.BuyerIdentity, string(o.PaymentStatus))
	return err
}

// MarkFailed moves an unpaid order to failed
func (r *orderRepository) MarkFailed(ctx context.Context, id string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE orders
		SET payment_status = $2, updated_at = now()
		WHERE id = $1 AND payment_status = $3`,
		id, string(order.StatusFailed), string(order.StatusUnpaid))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func scanOrder(row pgx.Row) (*order.Order, error) {
	var o order.Order
	if err := row.Scan(&o.ID, &o.AmountDue, &o.Currency, &o.BuyerIdentity, &o.PaymentStatus, &o.UpdatedAt); err != nil {
		return nil, err
	}
	return &o, nil
}
