package httpx

import (
	"encoding/json"
	"net/http"

	"payverify/internal/domain/payment"
	"payverify/internal/http/handlers"
	middlewarex "payverify/internal/http/middleware"
	"payverify/internal/services/push"
	"payverify/internal/services/verification"
	"payverify/internal/store/repositories"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// RouterDependencies holds all dependencies for the HTTP router
type RouterDependencies struct {
	Verification  *verification.Service
	Push          *push.Service
	Orders        repositories.OrderRepository
	CallbackToken string
}

// NewRouter wires the verification, push and order-status routes
func NewRouter(deps RouterDependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(middlewarex.RequestLogger)
	r.Use(chimw.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
	})

	r.Post("/verify-paystack", handlers.Verify(deps.Verification, payment.ProviderPaystack))
	r.Post("/verify-flutterwave", handlers.Verify(deps.Verification, payment.ProviderFlutterwave))

	r.Route("/push", func(r chi.Router) {
		r.Post("/initiate", handlers.InitiatePush(deps.Push))
		r.With(middlewarex.CallbackGuard(deps.CallbackToken)).
			Post("/callback", handlers.PushCallback(deps.Push))
	})

	r.Get("/orders/{orderId}", handlers.GetOrder(deps.Orders))

	return r
}
