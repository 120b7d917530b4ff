package verification

import (
	"context"
	"errors"
	"strings"
	"time"

	"payverify/internal/domain/order"
	"payverify/internal/domain/payment"
	"payverify/internal/provider"
	"payverify/internal/services/ledger"
	"payverify/internal/store/repositories"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Reason is the client-facing code for a verification outcome
type Reason string

const (
	ReasonInvalidRequest      Reason = "invalid_request"
	ReasonProviderRejected    Reason = "provider_rejected"
	ReasonAmountMismatch      Reason = "amount_mismatch"
	ReasonIdentityMismatch    Reason = "identity_mismatch"
	ReasonNotFound            Reason = "not_found"
	ReasonPending             Reason = "pending"
	ReasonProviderUnavailable Reason = "provider_unavailable"
	ReasonNotSaved            Reason = "not_saved"
	ReasonUnavailable         Reason = "service_unavailable"
)

// Outcome of VerifyAndRecord. Accepted with Saved=false is the
// verified-but-unsaved case: the money moved and a save is still owed.
type Outcome struct {
	Accepted        bool
	Saved           bool
	Reason          Reason
	Message         string
	Record          *payment.Record
	AlreadyRecorded bool
	Err             error
}

// Service checks client payment assertions against provider truth
type Service struct {
	providers *provider.Registry
	orders    repositories.OrderRepository
	writer    *ledger.Writer
	timeout   time.Duration
}

// NewService creates a verification service. timeout bounds the provider
// call and must stay below any client-side timeout.
func NewService(providers *provider.Registry, orders repositories.OrderRepository, writer *ledger.Writer, timeout time.Duration) *Service {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Service{
		providers: providers,
		orders:    orders,
		writer:    writer,
		timeout:   timeout,
	}
}

// ToMinor converts an amount in the provider's native unit to minor units
func (s *Service) ToMinor(p payment.Provider, native int64) (payment.Money, error) {
	v, err := s.providers.Verifier(p)
	if err != nil {
		return 0, err
	}
	return v.ToMinor(native)
}

// VerifyAndRecord looks the assertion up at the provider and records the
// payment when provider truth matches every claim. The client's values are
// only compared, never stored.
func (s *Service) VerifyAndRecord(ctx context.Context, p payment.Provider, a payment.Assertion) Outcome {
	a.Reference = strings.TrimSpace(a.Reference)
	if a.Reference == "" {
		return reject(ReasonInvalidRequest, "reference is required")
	}
	if a.ClaimedAmount <= 0 {
		return reject(ReasonInvalidRequest, "amount must be greater than zero")
	}
	if strings.TrimSpace(a.ClaimedPayerIdentity) == "" {
		return reject(ReasonInvalidRequest, "payerIdentity is required")
	}

	verifier, err := s.providers.Verifier(p)
	if err != nil {
		return reject(ReasonInvalidRequest, "unsupported provider")
	}

	// the provider call and ledger write outlive a disconnected client; the
	// writer bounds the ledger write with its own timeout
	base := context.WithoutCancel(ctx)
	callCtx, cancel := context.WithTimeout(base, s.timeout)
	defer cancel()

	if a.OrderRef != "" {
		if out, ok := s.checkOrder(callCtx, a); !ok {
			return out
		}
	}

	logger := log.With().
		Str("provider", string(p)).
		Str("reference", a.Reference).
		Str("order_ref", a.OrderRef).
		Logger()

	res, err := verifier.Verify(callCtx, a.Reference)
	if err != nil {
		return s.providerFailure(logger, err)
	}

	switch res.Status {
	case provider.VerifySuccess:
	case provider.VerifyPending:
		return reject(ReasonPending, "payment is still processing; retry shortly")
	case provider.VerifyUnparseable:
		logger.Error().Str("detail", res.Detail).Msg("provider response could not be parsed")
		return reject(ReasonProviderRejected, "payment could not be confirmed")
	default:
		logger.Info().Str("detail", res.Detail).Msg("provider reports payment not successful")
		return reject(ReasonProviderRejected, "payment was not successful")
	}

	if res.SettledAmount != a.ClaimedAmount {
		logger.Warn().
			Int64("claimed", int64(a.ClaimedAmount)).
			Int64("settled", int64(res.SettledAmount)).
			Msg("amount mismatch")
		return reject(ReasonAmountMismatch, "amount does not match the settled payment")
	}
	if !payment.SameIdentity(res.PayerIdentity, a.ClaimedPayerIdentity) {
		logger.Warn().Msg("payer identity mismatch")
		return reject(ReasonIdentityMismatch, "payer does not match the settled payment")
	}

	saved, err := s.writer.RecordPayment(base, payment.Verified{
		Provider:      p,
		ProviderTxRef: res.ProviderTxRef,
		Amount:        res.SettledAmount,
		Currency:      res.Currency,
		PayerIdentity: res.PayerIdentity,
		OrderRef:      a.OrderRef,
	})
	if err != nil {
		return Outcome{
			Accepted: true,
			Reason:   ReasonNotSaved,
			Message:  "payment verified but not yet saved; retry to complete",
			Err:      err,
		}
	}

	return Outcome{
		Accepted:        true,
		Saved:           true,
		Record:          saved.Record,
		AlreadyRecorded: saved.AlreadyRecorded,
	}
}

// checkOrder compares the claim with what the order boundary says is owed
func (s *Service) checkOrder(ctx context.Context, a payment.Assertion) (Outcome, bool) {
	o, err := s.orders.Get(ctx, a.OrderRef)
	if errors.Is(err, order.ErrNotFound) {
		return reject(ReasonInvalidRequest, "unknown order"), false
	}
	if err != nil {
		log.Error().Err(err).Str("order_ref", a.OrderRef).Msg("order lookup failed")
		return Outcome{Reason: ReasonUnavailable, Message: "try again shortly", Err: err}, false
	}
	if o.AmountDue != a.ClaimedAmount {
		return reject(ReasonAmountMismatch, "amount does not match the order"), false
	}
	if o.BuyerIdentity != "" && !payment.SameIdentity(o.BuyerIdentity, a.ClaimedPayerIdentity) {
		return reject(ReasonIdentityMismatch, "payer does not match the order"), false
	}
	return Outcome{}, true
}

func (s *Service) providerFailure(logger zerolog.Logger, err error) Outcome {
	switch provider.KindOf(err) {
	case provider.KindNotFound:
		logger.Info().Err(err).Msg("provider has no such transaction")
		return Outcome{Reason: ReasonNotFound, Message: "payment not found", Err: err}
	case provider.KindAuth:
		logger.Error().Err(err).Bool("alert", true).Msg("provider authentication failed")
		return Outcome{Reason: ReasonProviderUnavailable, Message: "payment provider unavailable", Err: err}
	case provider.KindInvalidRequest:
		return Outcome{Reason: ReasonInvalidRequest, Message: "invalid payment reference", Err: err}
	case provider.KindRejected:
		return Outcome{Reason: ReasonProviderRejected, Message: "payment was not successful", Err: err}
	}
	// timeouts and transport failures are transient; never a hard failure
	logger.Warn().Err(err).Msg("provider verification did not complete")
	return Outcome{Reason: ReasonPending, Message: "payment is still processing; retry shortly", Err: err}
}

func reject(r Reason, msg string) Outcome {
	return Outcome{Reason: r, Message: msg}
}
