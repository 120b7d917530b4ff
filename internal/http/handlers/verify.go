package handlers

import (
	"net/http"

	"payverify/internal/domain/payment"
	middlewarex "payverify/internal/http/middleware"
	"payverify/internal/services/verification"
)

type verifyReq struct {
	Reference     string `json:"reference"`
	PayerIdentity string `json:"payerIdentity"`
	Amount        int64  `json:"amount"` // provider's native unit
	OrderID       string `json:"orderId,omitempty"`
}

type verifyResp struct {
	Verified        bool            `json:"verified"`
	Saved           *bool           `json:"saved,omitempty"`
	AlreadyRecorded bool            `json:"alreadyRecorded,omitempty"`
	Pending         bool            `json:"pending,omitempty"`
	Reason          string          `json:"reason,omitempty"`
	Message         string          `json:"message,omitempty"`
	Error           string          `json:"error,omitempty"`
	Data            *payment.Record `json:"data,omitempty"`
}

// Verify checks a client payment assertion for provider p
func Verify(svc *verification.Service, p payment.Provider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in verifyReq
		if err := decodeJSON(w, r, &in); err != nil {
			writeJSON(w, http.StatusBadRequest, verifyResp{
				Reason:  string(verification.ReasonInvalidRequest),
				Message: "bad json",
			})
			return
		}
		amount, err := svc.ToMinor(p, in.Amount)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, verifyResp{
				Reason:  string(verification.ReasonInvalidRequest),
				Message: "amount must be a positive integer",
			})
			return
		}

		out := svc.VerifyAndRecord(r.Context(), p, payment.Assertion{
			Reference:            in.Reference,
			ClaimedAmount:        amount,
			ClaimedPayerIdentity: in.PayerIdentity,
			OrderRef:             in.OrderID,
		})

		logger := middlewarex.Logger(r.Context())
		switch {
		case out.Saved:
			saved := true
			writeJSON(w, http.StatusOK, verifyResp{
				Verified:        true,
				Saved:           &saved,
				AlreadyRecorded: out.AlreadyRecorded,
				Data:            out.Record,
			})
		case out.Accepted:
			saved := false
			writeJSON(w, http.StatusInternalServerError, verifyResp{
				Verified: true,
				Saved:    &saved,
				Message:  out.Message,
				Error:    string(out.Reason),
			})
		case out.Reason == verification.ReasonPending:
			writeJSON(w, http.StatusAccepted, verifyResp{
				Pending: true,
				Reason:  string(out.Reason),
				Message: out.Message,
			})
		case out.Reason == verification.ReasonProviderUnavailable:
			writeJSON(w, http.StatusBadGateway, verifyResp{Reason: string(out.Reason), Message: out.Message})
		case out.Reason == verification.ReasonUnavailable:
			writeJSON(w, http.StatusServiceUnavailable, verifyResp{Reason: string(out.Reason), Message: out.Message})
		default:
			logger.Info().
				Str("provider", string(p)).
				Str("reason", string(out.Reason)).
				Msg("payment assertion rejected")
			writeJSON(w, http.StatusBadRequest, verifyResp{Reason: string(out.Reason), Message: out.Message})
		}
	}
}
