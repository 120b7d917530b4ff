package reconcile

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"payverify/internal/config"
	"payverify/internal/domain/charge"
	"payverify/internal/domain/payment"
	"payverify/internal/services/ledger"
	"payverify/internal/store/repositories"

	"github.com/rs/zerolog/log"
)

// ChargeReconciler settles a push charge whose callback is overdue
type ChargeReconciler interface {
	Reconcile(ctx context.Context, ch *charge.PushCharge, expired bool) (charge.Status, error)
}

// Stats of one sweep
type Stats struct {
	OrdersRepaired int
	ChargesFailed  int
	ChargesExpired int
	Errors         int
}

// Worker sweeps work the request path left owed: order flips that did not
// apply, and push charges whose callback never came.
type Worker struct {
	ledger  repositories.LedgerRepository
	charges repositories.ChargeRepository
	writer  *ledger.Writer
	push    ChargeReconciler

	pollEvery     time.Duration
	chargeTimeout time.Duration
	chargeExpiry  time.Duration
	batch         int
	workers       int
	now           func() time.Time
}

func NewWorker(ledgerRepo repositories.LedgerRepository, charges repositories.ChargeRepository, writer *ledger.Writer, push ChargeReconciler, cfg config.SweepCfg) *Worker {
	w := &Worker{
		ledger:        ledgerRepo,
		charges:       charges,
		writer:        writer,
		push:          push,
		pollEvery:     cfg.Interval,
		chargeTimeout: cfg.ChargeTimeout,
		chargeExpiry:  cfg.ChargeExpiry,
		batch:         cfg.Batch,
		workers:       5,
		now:           time.Now,
	}
	if w.pollEvery <= 0 {
		w.pollEvery = time.Minute
	}
	if w.chargeTimeout <= 0 {
		w.chargeTimeout = 3 * time.Minute
	}
	if w.chargeExpiry < w.chargeTimeout {
		w.chargeExpiry = 10 * w.chargeTimeout
	}
	if w.batch <= 0 {
		w.batch = 50
	}
	return w
}

func (w *Worker) Run(ctx context.Context) {
	log.Info().Dur("interval", w.pollEvery).Msg("reconcile worker: started")
	t := time.NewTicker(w.pollEvery)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("reconcile worker: stopping")
			return
		case <-t.C:
			st := w.Sweep(ctx)
			if st != (Stats{}) {
				log.Info().
					Int("orders_repaired", st.OrdersRepaired).
					Int("charges_failed", st.ChargesFailed).
					Int("charges_expired", st.ChargesExpired).
					Int("errors", st.Errors).
					Msg("reconcile worker: sweep done")
			}
		}
	}
}

// Sweep runs one pass
func (w *Worker) Sweep(ctx context.Context) Stats {
	var st Stats
	w.repairOrders(ctx, &st)
	if w.push != nil {
		w.resolveCharges(ctx, &st)
	}
	return st
}

func (w *Worker) repairOrders(ctx context.Context, st *Stats) {
	recs, err := w.ledger.ListPendingOrderSync(ctx, w.batch)
	if err != nil {
		log.Error().Err(err).Msg("worker: fetch pending order syncs failed")
		st.Errors++
		return
	}
	for _, rec := range recs {
		state, err := w.writer.SyncOrder(ctx, rec)
		if err != nil {
			log.Error().Err(err).Str("record_id", rec.ID.String()).Msg("worker: order sync failed")
			st.Errors++
			continue
		}
		if state != payment.OrderSyncPending {
			st.OrdersRepaired++
		}
	}
}

func (w *Worker) resolveCharges(ctx context.Context, st *Stats) {
	now := w.now()
	pending, err := w.charges.ListPending(ctx, now.Add(-w.chargeTimeout), w.batch)
	if err != nil {
		log.Error().Err(err).Msg("worker: fetch pending push charges failed")
		st.Errors++
		return
	}
	if len(pending) == 0 {
		return
	}
	expireBefore := now.Add(-w.chargeExpiry)

	var failed, expired, errs atomic.Int32
	jobs := make(chan *charge.PushCharge, len(pending))
	var wg sync.WaitGroup
	for i := 0; i < w.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ch := range jobs {
				status, err := w.push.Reconcile(ctx, ch, ch.InitiatedAt.Before(expireBefore))
				if err != nil {
					log.Warn().Err(err).Str("checkout_request_id", ch.CheckoutRequestID).Msg("worker: push charge not resolved")
					errs.Add(1)
				}
				switch status {
				case charge.StatusFailed:
					failed.Add(1)
				case charge.StatusExpired:
					expired.Add(1)
				}
			}
		}()
	}
	for _, ch := range pending {
		jobs <- ch
	}
	close(jobs)
	wg.Wait()

	st.ChargesFailed += int(failed.Load())
	st.ChargesExpired += int(expired.Load())
	st.Errors += int(errs.Load())
}
