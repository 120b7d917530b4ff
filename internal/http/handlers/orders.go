package handlers

import (
	"errors"
	"net/http"

	"payverify/internal/domain/order"
	"payverify/internal/store/repositories"

	"github.com/go-chi/chi/v5"
)

// GetOrder lets the client poll an order's payment status after paying
func GetOrder(orders repositories.OrderRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		o, err := orders.Get(r.Context(), chi.URLParam(r, "orderId"))
		if errors.Is(err, order.ErrNotFound) {
			http.Error(w, "order not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, "db error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"orderId":       o.ID,
			"amountDue":     o.AmountDue,
			"currency":      o.Currency,
			"paymentStatus": o.PaymentStatus,
		})
	}
}
