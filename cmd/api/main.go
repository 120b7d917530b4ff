package main

import (
	"context"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"payverify/internal/config"
	"payverify/internal/core/reconcile"
	"payverify/internal/domain/payment"
	httpx "payverify/internal/http"
	"payverify/internal/provider"
	"payverify/internal/provider/base"
	"payverify/internal/provider/flutterwave"
	"payverify/internal/provider/mpesa"
	"payverify/internal/provider/paystack"
	"payverify/internal/services/ledger"
	"payverify/internal/services/push"
	"payverify/internal/services/verification"
	"payverify/internal/store/memory"
	"payverify/internal/store/postgres"
	"payverify/internal/store/redisx"
	"payverify/internal/store/repositories"

	"github.com/rs/zerolog/log"
)

type stores interface {
	Ledger() repositories.LedgerRepository
	Orders() repositories.OrderRepository
	Charges() repositories.ChargeRepository
}

func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Init storage
	var st stores
	if strings.HasPrefix(cfg.DB.DSN, "memory://") {
		log.Warn().Msg("using in-memory store; payments are lost on restart")
		st = memory.New()
	} else {
		pool := postgres.MustOpen(ctx, cfg.DB.DSN)
		defer pool.Close()
		st = postgres.NewRepo(pool)
	}

	rdb, err := redisx.Open(cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("redis unavailable; falling back to in-memory token cache and dedup")
	}
	if rdb != nil {
		defer rdb.Close()
	}

	// Providers are built from config and injected; no package globals
	policy := base.RetryPolicy{
		MaxAttempts:     cfg.Retry.MaxAttempts,
		InitialInterval: cfg.Retry.InitialInterval,
		MaxElapsed:      cfg.Retry.MaxElapsed,
	}
	registry := provider.NewRegistry()
	registry.RegisterVerifier(paystack.New(cfg.Paystack,
		base.NewHTTPClient("paystack", cfg.Paystack.BaseURL, cfg.Timeouts.Provider, policy)))
	registry.RegisterVerifier(flutterwave.New(cfg.Flutterwave,
		base.NewHTTPClient("flutterwave", cfg.Flutterwave.BaseURL, cfg.Timeouts.Provider, policy)))

	var tokens mpesa.TokenCache
	if rdb != nil {
		tokens = mpesa.NewRedisTokenCache(rdb)
	}
	// STK initiation is not idempotent at Daraja: never retry it blindly
	mp := mpesa.New(cfg.Mpesa,
		base.NewHTTPClient("mpesa", cfg.Mpesa.BaseURL, cfg.Timeouts.Provider, base.NoRetry()), tokens)
	registry.RegisterPush(mp)

	// Services
	writer := ledger.NewWriter(st.Ledger(), cfg.Timeouts.Ledger)
	verifier := verification.NewService(registry, st.Orders(), writer, cfg.Timeouts.Verify)
	pushSvc := push.NewService(registry, st.Charges(), st.Orders(), writer,
		push.NewDeduper(rdb, cfg.Sweep.DedupTTL),
		push.Config{
			CallbackURL: callbackURL(cfg.App),
			Currency:    payment.Currency(cfg.App.Currency),
			Timeout:     cfg.Timeouts.Verify,
		})

	// Start reconciliation sweep
	worker := reconcile.NewWorker(st.Ledger(), st.Charges(), writer, pushSvc, cfg.Sweep)
	go worker.Run(ctx)

	// Router
	r := httpx.NewRouter(httpx.RouterDependencies{
		Verification:  verifier,
		Push:          pushSvc,
		Orders:        st.Orders(),
		CallbackToken: cfg.App.CallbackToken,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Info().
			Str("env", cfg.App.Env).
			Strs("verify_providers", providerNames(registry)).
			Msgf("payverify API listening on :%s", cfg.App.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	cancel()
	ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	log.Info().Msg("server stopped")
}

// callbackURL is where Daraja posts STK results; the token guards the route
func callbackURL(app config.AppCfg) string {
	u := app.CallbackBaseURL + "/push/callback"
	if app.CallbackToken != "" {
		u += "?token=" + url.QueryEscape(app.CallbackToken)
	}
	return u
}

func providerNames(r *provider.Registry) []string {
	var out []string
	for _, p := range r.VerifyProviders() {
		out = append(out, string(p))
	}
	return out
}
