package provider

import (
	"fmt"
	"sort"
	"sync"

	"payverify/internal/domain/payment"

	"github.com/rs/zerolog/log"
)

// Registry holds the adapters constructed at startup
type Registry struct {
	verifiers map[payment.Provider]Verifier
	push      PushGateway
	mu        sync.RWMutex
}

// NewRegistry creates an empty provider registry
func NewRegistry() *Registry {
	return &Registry{verifiers: make(map[payment.Provider]Verifier)}
}

// RegisterVerifier adds a synchronous-verification adapter
func (r *Registry) RegisterVerifier(v Verifier) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.verifiers[v.Name()] = v
	log.Info().
		Str("provider", string(v.Name())).
		Str("kind", "verify").
		Msg("registered payment provider")
}

// RegisterPush sets the push-payment adapter
func (r *Registry) RegisterPush(g PushGateway) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.push = g
	log.Info().
		Str("provider", string(g.Name())).
		Str("kind", "push").
		Msg("registered payment provider")
}

// Verifier returns the adapter for p
func (r *Registry) Verifier(p payment.Provider) (Verifier, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.verifiers[p]
	if !ok {
		return nil, &ProviderError{
			Kind:    KindInvalidRequest,
			Code:    CodeProviderNotFound,
			Message: fmt.Sprintf("provider %s not registered", p),
		}
	}
	return v, nil
}

// Push returns the push-payment adapter, if any
func (r *Registry) Push() (PushGateway, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.push == nil {
		return nil, &ProviderError{
			Kind:    KindInvalidRequest,
			Code:    CodeProviderNotFound,
			Message: "no push provider registered",
		}
	}
	return r.push, nil
}

// VerifyProviders lists registered verification providers in a stable order
func (r *Registry) VerifyProviders() []payment.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]payment.Provider, 0, len(r.verifiers))
	for p := range r.verifiers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
