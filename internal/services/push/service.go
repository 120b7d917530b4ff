package push

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"payverify/internal/domain/charge"
	"payverify/internal/domain/order"
	"payverify/internal/domain/payment"
	"payverify/internal/provider"
	"payverify/internal/services/ledger"
	"payverify/internal/store/repositories"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Outcome of taking in one callback delivery
type Outcome string

const (
	OutcomeRecorded  Outcome = "recorded"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeFailed    Outcome = "failed"  // payer cancelled or the charge failed
	OutcomeDropped   Outcome = "dropped" // malformed payload
	OutcomeUnsaved   Outcome = "unsaved" // confirmed payment not persisted
)

var (
	ErrUnknownOrder    = errors.New("unknown order")
	ErrOrderNotPayable = errors.New("order cannot take this payment")
)

// ServiceError represents a push service failure after the provider was called
type ServiceError struct {
	Op      string
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("push service %s: %s (%v)", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("push service %s: %s", e.Op, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Config for the push service
type Config struct {
	CallbackURL string
	Currency    payment.Currency
	Timeout     time.Duration
}

// Service initiates push charges and settles them from provider callbacks
type Service struct {
	providers *provider.Registry
	charges   repositories.ChargeRepository
	orders    repositories.OrderRepository
	writer    *ledger.Writer
	dedup     Deduper
	cfg       Config
}

// NewService creates a push service
func NewService(providers *provider.Registry, charges repositories.ChargeRepository, orders repositories.OrderRepository, writer *ledger.Writer, dedup Deduper, cfg Config) *Service {
	if cfg.Timeout == 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.Currency == "" {
		cfg.Currency = payment.KES
	}
	if dedup == nil {
		dedup = newMemoryDeduper(24 * time.Hour)
	}
	return &Service{
		providers: providers,
		charges:   charges,
		orders:    orders,
		writer:    writer,
		dedup:     dedup,
		cfg:       cfg,
	}
}

// InitiateRequest carries the amount in the provider's native unit
type InitiateRequest struct {
	Amount           int64
	Phone            string
	AccountReference string
	Description      string
	OrderRef         string
}

// Initiate prompts the payer's handset and records the pending charge. The
// charge is only reported as started once it has been stored.
func (s *Service) Initiate(ctx context.Context, in InitiateRequest) (*provider.PushResponse, error) {
	gw, err := s.providers.Push()
	if err != nil {
		return nil, err
	}
	amount, err := gw.ToMinor(in.Amount)
	if err != nil {
		return nil, err
	}

	accountRef := strings.TrimSpace(in.AccountReference)
	if in.OrderRef != "" {
		if err := s.checkOrder(ctx, in.OrderRef, amount); err != nil {
			return nil, err
		}
		if accountRef == "" {
			accountRef = in.OrderRef
		}
	}
	if accountRef == "" {
		accountRef = newAccountRef()
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	resp, err := gw.Initiate(ctx, provider.PushRequest{
		Amount:           amount,
		Phone:            in.Phone,
		AccountReference: accountRef,
		Description:      in.Description,
		CallbackURL:      s.cfg.CallbackURL,
	})
	if err != nil {
		log.Error().Err(err).
			Str("provider", string(gw.Name())).
			Str("order_ref", in.OrderRef).
			Str("msisdn_hash", payment.HashIdentity(in.Phone)).
			Int64("amount", int64(amount)).
			Msg("push initiation failed")
		return nil, err
	}

	ch, err := charge.NewPushCharge(resp.CheckoutRequestID, resp.MerchantRequestID, resp.Phone, amount, accountRef, in.OrderRef)
	if err != nil {
		return nil, &ServiceError{Op: "initiate", Message: "invalid provider response", Err: err}
	}
	// the prompt is out; a store failure here still lets the callback settle it
	if err := s.charges.Save(context.WithoutCancel(ctx), ch); err != nil {
		log.Error().Err(err).
			Str("checkout_request_id", ch.CheckoutRequestID).
			Str("order_ref", ch.OrderRef).
			Bool("alert", true).
			Msg("failed to save pending push charge")
		return nil, &ServiceError{Op: "save_charge", Message: "failed to persist push charge", Err: err}
	}

	log.Info().
		Str("checkout_request_id", ch.CheckoutRequestID).
		Str("order_ref", ch.OrderRef).
		Int64("amount", int64(amount)).
		Msg("push charge pending")
	return resp, nil
}

func (s *Service) checkOrder(ctx context.Context, orderRef string, amount payment.Money) error {
	o, err := s.orders.Get(ctx, orderRef)
	if errors.Is(err, order.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrUnknownOrder, orderRef)
	}
	if err != nil {
		return &ServiceError{Op: "initiate", Message: "order lookup failed", Err: err}
	}
	if o.PaymentStatus == order.StatusPaid {
		return fmt.Errorf("%w: already paid", ErrOrderNotPayable)
	}
	if o.AmountDue != amount {
		return fmt.Errorf("%w: amount %d, due %d", ErrOrderNotPayable, amount, o.AmountDue)
	}
	return nil
}

// IngestCallback takes in one provider callback delivery. Errors are for
// logging only: the provider is always acknowledged.
func (s *Service) IngestCallback(ctx context.Context, body []byte) (Outcome, error) {
	gw, err := s.providers.Push()
	if err != nil {
		return OutcomeDropped, err
	}
	res, err := gw.ParseCallback(body)
	if err != nil {
		log.Error().Err(err).Int("bytes", len(body)).Msg("dropping malformed push callback")
		return OutcomeDropped, err
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.Timeout)
	defer cancel()

	key := res.CheckoutRequestID
	if seen, err := s.dedup.Seen(ctx, key); err != nil {
		log.Warn().Err(err).Str("checkout_request_id", key).Msg("callback dedup unavailable")
	} else if seen {
		log.Info().Str("checkout_request_id", key).Msg("duplicate push callback ignored")
		return OutcomeDuplicate, nil
	}

	out, err := s.settle(ctx, gw.Name(), res)
	if err != nil {
		// let a redelivery try again
		if ferr := s.dedup.Forget(ctx, key); ferr != nil {
			log.Warn().Err(ferr).Str("checkout_request_id", key).Msg("callback dedup forget failed")
		}
		log.Error().Err(err).
			Str("checkout_request_id", key).
			Str("receipt", res.ReceiptNumber).
			Int64("amount", int64(res.Amount)).
			Bool("alert", true).
			Msg("push callback not processed")
		return out, err
	}
	return out, nil
}

func (s *Service) settle(ctx context.Context, p payment.Provider, res *provider.CallbackResult) (Outcome, error) {
	ch, err := s.charges.Get(ctx, res.CheckoutRequestID)
	switch {
	case errors.Is(err, charge.ErrNotFound):
		ch = nil
		log.Error().
			Str("checkout_request_id", res.CheckoutRequestID).
			Int("result_code", res.ResultCode).
			Msg("callback for unknown push charge")
	case err != nil:
		return OutcomeUnsaved, err
	}

	if !res.Succeeded() {
		if ch != nil {
			if err := s.failCharge(ctx, ch, charge.StatusFailed, &res.ResultCode, res.ResultDesc); err != nil {
				return OutcomeUnsaved, err
			}
		}
		log.Info().
			Str("checkout_request_id", res.CheckoutRequestID).
			Int("result_code", res.ResultCode).
			Str("result_desc", res.ResultDesc).
			Msg("push charge not paid")
		return OutcomeFailed, nil
	}

	var orderRef string
	if ch != nil {
		orderRef = ch.OrderRef
		if ch.Amount != res.Amount {
			log.Warn().
				Str("checkout_request_id", ch.CheckoutRequestID).
				Int64("requested", int64(ch.Amount)).
				Int64("settled", int64(res.Amount)).
				Msg("push settled amount differs from request")
		}
	}

	saved, err := s.writer.RecordPayment(ctx, payment.Verified{
		Provider:      p,
		ProviderTxRef: res.ReceiptNumber,
		Amount:        res.Amount,
		Currency:      s.cfg.Currency,
		PayerIdentity: res.Phone,
		OrderRef:      orderRef,
	})
	if err != nil {
		return OutcomeUnsaved, err
	}

	if ch != nil {
		code := res.ResultCode
		if _, err := s.charges.Resolve(ctx, ch.CheckoutRequestID, charge.StatusCompleted, &code, res.ResultDesc); err != nil {
			// the ledger already holds the payment; the sweep sees a settled order
			log.Error().Err(err).Str("checkout_request_id", ch.CheckoutRequestID).Msg("failed to complete push charge")
		}
	}
	if saved.AlreadyRecorded {
		return OutcomeDuplicate, nil
	}
	return OutcomeRecorded, nil
}

// failCharge resolves ch as not paid and fails its order when still unpaid
func (s *Service) failCharge(ctx context.Context, ch *charge.PushCharge, status charge.Status, code *int, desc string) error {
	changed, err := s.charges.Resolve(ctx, ch.CheckoutRequestID, status, code, desc)
	if err != nil {
		return err
	}
	if !changed || ch.OrderRef == "" {
		return nil
	}
	if _, err := s.orders.MarkFailed(ctx, ch.OrderRef); err != nil {
		return err
	}
	return nil
}

const descPaidNoCallback = "provider reports paid, no callback"

// Reconcile settles a charge whose callback is overdue by asking the
// provider. expired means the charge has outlived its expiry window. An
// expired charge the provider reports as paid leaves the pending scan but
// never fails its order: only the callback carries the receipt needed to
// record it.
func (s *Service) Reconcile(ctx context.Context, ch *charge.PushCharge, expired bool) (charge.Status, error) {
	gw, err := s.providers.Push()
	if err != nil {
		return ch.Status, err
	}

	logger := log.With().
		Str("checkout_request_id", ch.CheckoutRequestID).
		Str("order_ref", ch.OrderRef).
		Logger()

	st, qerr := gw.QueryStatus(ctx, ch.CheckoutRequestID)
	switch {
	case qerr != nil:
		logger.Warn().Err(qerr).Msg("push status query failed")
	case st.Final && st.Succeeded:
		if !expired {
			logger.Warn().Msg("provider reports push paid, waiting for callback")
			return ch.Status, nil
		}
		// out of the pending scan; the order stays unpaid until a callback
		// brings the receipt
		code := 0
		if _, err := s.charges.Resolve(ctx, ch.CheckoutRequestID, charge.StatusExpired, &code, descPaidNoCallback); err != nil {
			return ch.Status, err
		}
		logger.Error().
			Bool("alert", true).
			Int64("amount", int64(ch.Amount)).
			Time("initiated_at", ch.InitiatedAt).
			Msg("provider reports push paid but no callback arrived")
		return charge.StatusExpired, nil
	case st.Final:
		code, cerr := resultCode(st.ResultCode)
		if cerr != nil {
			return ch.Status, cerr
		}
		if err := s.failCharge(ctx, ch, charge.StatusFailed, code, st.ResultDesc); err != nil {
			return ch.Status, err
		}
		logger.Info().Str("result_code", st.ResultCode).Msg("push charge failed per status query")
		return charge.StatusFailed, nil
	}

	if !expired {
		return ch.Status, qerr
	}
	if err := s.failCharge(ctx, ch, charge.StatusExpired, nil, "no callback before expiry"); err != nil {
		return ch.Status, err
	}
	logger.Error().
		Int64("amount", int64(ch.Amount)).
		Time("initiated_at", ch.InitiatedAt).
		Msg("push charge expired without callback")
	return charge.StatusExpired, nil
}

// newAccountRef fits Daraja's 12 character AccountReference limit
func newAccountRef() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return strings.ToUpper("PV" + id[:10])
}

func resultCode(s string) (*int, error) {
	code, err := strconv.Atoi(s)
	if err != nil {
		return nil, fmt.Errorf("result code %q: %w", s, err)
	}
	return &code, nil
}
