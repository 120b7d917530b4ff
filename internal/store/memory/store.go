package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"payverify/internal/domain/charge"
	"payverify/internal/domain/order"
	"payverify/internal/domain/payment"
	"payverify/internal/store/repositories"
)

type recordKey struct {
	provider payment.Provider
	ref      string
}

// Store is a single-process stand-in for the postgres store, used with
// DB_DSN=memory:// and in tests. One mutex plays the role of the
// transaction, so Record keeps the same all-or-nothing semantics.
type Store struct {
	mu      sync.Mutex
	records map[recordKey]*payment.Record
	orders  map[string]*order.Order
	charges map[string]*charge.PushCharge

	failRecord    error
	failOrderFlip error
}

// New creates an empty store
func New() *Store {
	return &Store{
		records: make(map[recordKey]*payment.Record),
		orders:  make(map[string]*order.Order),
		charges: make(map[string]*charge.PushCharge),
	}
}

// FailRecords makes every Record call fail with err until cleared with nil.
func (s *Store) FailRecords(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failRecord = err
}

// FailOrderFlips makes the order flip fail with err until cleared with nil.
func (s *Store) FailOrderFlips(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOrderFlip = err
}

// RecordCount returns how many payment records exist
func (s *Store) RecordCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Ledger returns the LedgerRepository view
func (s *Store) Ledger() repositories.LedgerRepository { return (*ledger)(s) }

// Orders returns the OrderRepository view
func (s *Store) Orders() repositories.OrderRepository { return (*orders)(s) }

// Charges returns the ChargeRepository view
func (s *Store) Charges() repositories.ChargeRepository { return (*charges)(s) }

type ledger Store

func (l *ledger) Record(ctx context.Context, rec *payment.Record) (*payment.Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s := (*Store)(l)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failRecord != nil {
		return nil, false, s.failRecord
	}
	k := recordKey{rec.Provider, rec.ProviderTxRef}
	if existing, ok := s.records[k]; ok {
		cp := *existing
		return &cp, false, nil
	}

	stored := *rec
	if stored.OrderSync == payment.OrderSyncPending && s.failOrderFlip == nil {
		stored.OrderSync = s.settleLocked(&stored)
	}
	s.records[k] = &stored

	out := stored
	return &out, true, nil
}

func (l *ledger) ApplyOrder(ctx context.Context, rec *payment.Record) (payment.OrderSync, error) {
	if err := ctx.Err(); err != nil {
		return payment.OrderSyncPending, err
	}
	s := (*Store)(l)
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.records[recordKey{rec.Provider, rec.ProviderTxRef}]
	if !ok {
		return payment.OrderSyncPending, repositories.ErrNotFound
	}
	if stored.OrderSync.Settled() {
		return stored.OrderSync, nil
	}
	if s.failOrderFlip != nil {
		return payment.OrderSyncPending, s.failOrderFlip
	}
	stored.OrderSync = s.settleLocked(stored)
	rec.OrderSync = stored.OrderSync
	return stored.OrderSync, nil
}

func (l *ledger) FindByProviderRef(_ context.Context, p payment.Provider, ref string) (*payment.Record, error) {
	s := (*Store)(l)
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[recordKey{p, ref}]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (l *ledger) ListPendingOrderSync(_ context.Context, limit int) ([]*payment.Record, error) {
	s := (*Store)(l)
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*payment.Record
	for _, rec := range s.records {
		if rec.OrderSync == payment.OrderSyncPending {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecordedAt.Before(out[j].RecordedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// settleLocked applies rec to its order; callers hold s.mu
func (s *Store) settleLocked(rec *payment.Record) payment.OrderSync {
	o, ok := s.orders[rec.OrderRef]
	if !ok {
		return payment.OrderSyncNoOrder
	}
	return o.Settle(rec.Amount, rec.Currency)
}

type orders Store

func (r *orders) Get(_ context.Context, id string) (*order.Order, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (r *orders) Save(_ context.Context, o *order.Order) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *o
	if prev, ok := s.orders[o.ID]; ok && prev.PaymentStatus == order.StatusPaid {
		cp.PaymentStatus = order.StatusPaid
	}
	cp.UpdatedAt = time.Now().UTC()
	s.orders[o.ID] = &cp
	return nil
}

func (r *orders) MarkFailed(_ context.Context, id string) (bool, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return false, nil
	}
	if err := o.MarkFailed(); err != nil {
		return false, nil
	}
	return true, nil
}

type charges Store

func (r *charges) Save(_ context.Context, c *charge.PushCharge) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.charges[c.CheckoutRequestID]; ok {
		return nil
	}
	cp := *c
	cp.Phone = ""
	s.charges[c.CheckoutRequestID] = &cp
	return nil
}

func (r *charges) Get(_ context.Context, checkoutRequestID string) (*charge.PushCharge, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.charges[checkoutRequestID]
	if !ok {
		return nil, charge.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *charges) Resolve(_ context.Context, checkoutRequestID string, status charge.Status, resultCode *int, desc string) (bool, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.charges[checkoutRequestID]
	if !ok || !charge.CanResolve(c.Status, status) {
		return false, nil
	}
	now := time.Now().UTC()
	c.Status = status
	if resultCode != nil {
		code := *resultCode
		c.ResultCode = &code
	}
	if desc != "" {
		c.ResultDesc = desc
	}
	c.ResolvedAt = &now
	return true, nil
}

func (r *charges) ListPending(_ context.Context, initiatedBefore time.Time, limit int) ([]*charge.PushCharge, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*charge.PushCharge
	for _, c := range s.charges {
		if c.Status == charge.StatusPending && c.InitiatedAt.Before(initiatedBefore) {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InitiatedAt.Before(out[j].InitiatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
