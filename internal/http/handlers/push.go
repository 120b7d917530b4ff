package handlers

import (
	"errors"
	"io"
	"net/http"

	middlewarex "payverify/internal/http/middleware"
	"payverify/internal/provider"
	"payverify/internal/services/push"
)

type initiateReq struct {
	Amount           int64  `json:"amount"` // whole shillings
	Phone            string `json:"phone"`
	AccountReference string `json:"accountReference"`
	TransactionDesc  string `json:"transactionDesc"`
	OrderID          string `json:"orderId,omitempty"`
}

// InitiatePush sends an STK prompt and returns the provider's acknowledgement
func InitiatePush(svc *push.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in initiateReq
		if err := decodeJSON(w, r, &in); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if in.Amount <= 0 || in.Phone == "" {
			http.Error(w, "missing amount/phone", http.StatusBadRequest)
			return
		}

		out, err := svc.Initiate(r.Context(), push.InitiateRequest{
			Amount:           in.Amount,
			Phone:            in.Phone,
			AccountReference: in.AccountReference,
			Description:      in.TransactionDesc,
			OrderRef:         in.OrderID,
		})
		if err != nil {
			var se *push.ServiceError
			switch {
			case errors.Is(err, provider.ErrInvalidRequest), errors.Is(err, push.ErrUnknownOrder):
				http.Error(w, err.Error(), http.StatusBadRequest)
			case errors.Is(err, push.ErrOrderNotPayable):
				http.Error(w, err.Error(), http.StatusConflict)
			case errors.As(err, &se):
				http.Error(w, "failed to persist push charge", http.StatusInternalServerError)
			default:
				http.Error(w, "push initiation failed", http.StatusBadGateway)
			}
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// PushCallback takes in the provider's asynchronous result. The provider
// always gets 200: failures are logged, never signalled back.
func PushCallback(svc *push.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := middlewarex.Logger(r.Context())
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
		if err != nil {
			logger.Error().Err(err).Msg("push callback body unreadable")
		} else {
			out, err := svc.IngestCallback(r.Context(), body)
			ev := logger.Info()
			if err != nil {
				ev = logger.Error().Err(err)
			}
			ev.Str("outcome", string(out)).Msg("push callback handled")
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
