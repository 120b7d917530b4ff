package postgres

import (
	"payverify/internal/store/repositories"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repo groups the repositories that share one pool
type Repo struct {
	ledger  *ledgerRepository
	orders  *orderRepository
	charges *chargeRepository
}

func NewRepo(db *pgxpool.Pool) *Repo {
	return &Repo{
		ledger:  NewLedgerRepository(db),
		orders:  NewOrderRepository(db),
		charges: NewChargeRepository(db),
	}
}

func (r *Repo) Ledger() repositories.LedgerRepository  { return r.ledger }
func (r *Repo) Orders() repositories.OrderRepository   { return r.orders }
func (r *Repo) Charges() repositories.ChargeRepository { return r.charges }
