package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type AppCfg struct{ Env, Port, CallbackBaseURL, CallbackToken, Currency string }
type DBCfg struct{ DSN string }
type RedisCfg struct{ Addr, Password string }

// GatewayCfg is a synchronous-verification gateway (card/wallet).
type GatewayCfg struct {
	SecretKey string
	BaseURL   string
}

type MpesaCfg struct {
	Env            string
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	Shortcode      string
	Passkey        string
}

type TimeoutCfg struct {
	Verify   time.Duration // service-imposed bound on a verification call
	Provider time.Duration // single outbound HTTP call
	Ledger   time.Duration
}

type RetryCfg struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxElapsed      time.Duration
}

type SweepCfg struct {
	Interval      time.Duration
	ChargeTimeout time.Duration // pending charge becomes eligible for a status query
	ChargeExpiry  time.Duration // pending charge is expired
	Batch         int
	DedupTTL      time.Duration
}

type Cfg struct {
	App         AppCfg
	DB          DBCfg
	Redis       RedisCfg
	Paystack    GatewayCfg
	Flutterwave GatewayCfg
	Mpesa       MpesaCfg
	Timeouts    TimeoutCfg
	Retry       RetryCfg
	Sweep       SweepCfg
}

func Load() Cfg {
	// .env is optional
	_ = godotenv.Load(".env")

	viper.AutomaticEnv()
	viper.SetDefault("APP_ENV", "sandbox")
	viper.SetDefault("APP_PORT", "8080")
	viper.SetDefault("CURRENCY", "KES")
	viper.SetDefault("PAYSTACK_BASE_URL", "https://api.paystack.co")
	viper.SetDefault("FLUTTERWAVE_BASE_URL", "https://api.flutterwave.com")
	viper.SetDefault("MPESA_ENV", "sandbox")
	viper.SetDefault("VERIFY_TIMEOUT", "10s")
	viper.SetDefault("PROVIDER_TIMEOUT", "8s")
	viper.SetDefault("LEDGER_TIMEOUT", "5s")
	viper.SetDefault("RETRY_MAX_ATTEMPTS", 3)
	viper.SetDefault("RETRY_INITIAL_INTERVAL", "200ms")
	viper.SetDefault("RETRY_MAX_ELAPSED", "6s")
	viper.SetDefault("SWEEP_INTERVAL", "1m")
	viper.SetDefault("PUSH_CHARGE_TIMEOUT", "3m")
	viper.SetDefault("PUSH_CHARGE_EXPIRY", "30m")
	viper.SetDefault("SWEEP_BATCH", 50)
	viper.SetDefault("DEDUP_TTL", "24h")

	mpesaEnv := viper.GetString("MPESA_ENV")
	mpesaURL := viper.GetString("MPESA_BASE_URL")
	if mpesaURL == "" {
		mpesaURL = mpesaBaseURL(mpesaEnv)
	}

	cfg := Cfg{
		App: AppCfg{
			Env:             viper.GetString("APP_ENV"),
			Port:            viper.GetString("APP_PORT"),
			CallbackBaseURL: strings.TrimRight(viper.GetString("CALLBACK_BASE_URL"), "/"),
			CallbackToken:   strings.TrimSpace(viper.GetString("CALLBACK_TOKEN")),
			Currency:        viper.GetString("CURRENCY"),
		},
		DB: DBCfg{DSN: viper.GetString("DB_DSN")},
		Redis: RedisCfg{
			Addr:     viper.GetString("REDIS_ADDR"),
			Password: viper.GetString("REDIS_PASSWORD"),
		},
		Paystack: GatewayCfg{
			SecretKey: strings.TrimSpace(viper.GetString("PAYSTACK_SECRET_KEY")),
			BaseURL:   viper.GetString("PAYSTACK_BASE_URL"),
		},
		Flutterwave: GatewayCfg{
			SecretKey: strings.TrimSpace(viper.GetString("FLUTTERWAVE_SECRET_KEY")),
			BaseURL:   viper.GetString("FLUTTERWAVE_BASE_URL"),
		},
		Mpesa: MpesaCfg{
			Env:            mpesaEnv,
			BaseURL:        mpesaURL,
			ConsumerKey:    strings.TrimSpace(viper.GetString("MPESA_CONSUMER_KEY")),
			ConsumerSecret: strings.TrimSpace(viper.GetString("MPESA_CONSUMER_SECRET")),
			Shortcode:      strings.TrimSpace(viper.GetString("MPESA_SHORTCODE")),
			Passkey:        strings.TrimSpace(viper.GetString("MPESA_PASSKEY")),
		},
		Timeouts: TimeoutCfg{
			Verify:   viper.GetDuration("VERIFY_TIMEOUT"),
			Provider: viper.GetDuration("PROVIDER_TIMEOUT"),
			Ledger:   viper.GetDuration("LEDGER_TIMEOUT"),
		},
		Retry: RetryCfg{
			MaxAttempts:     viper.GetInt("RETRY_MAX_ATTEMPTS"),
			InitialInterval: viper.GetDuration("RETRY_INITIAL_INTERVAL"),
			MaxElapsed:      viper.GetDuration("RETRY_MAX_ELAPSED"),
		},
		Sweep: SweepCfg{
			Interval:      viper.GetDuration("SWEEP_INTERVAL"),
			ChargeTimeout: viper.GetDuration("PUSH_CHARGE_TIMEOUT"),
			ChargeExpiry:  viper.GetDuration("PUSH_CHARGE_EXPIRY"),
			Batch:         viper.GetInt("SWEEP_BATCH"),
			DedupTTL:      viper.GetDuration("DEDUP_TTL"),
		},
	}

	// Fail fast on required settings
	if cfg.DB.DSN == "" {
		log.Fatal().Msg("DB_DSN is required")
	}
	if cfg.Paystack.SecretKey == "" || cfg.Flutterwave.SecretKey == "" {
		log.Fatal().Msg("PAYSTACK_SECRET_KEY and FLUTTERWAVE_SECRET_KEY are required")
	}
	if cfg.Mpesa.ConsumerKey == "" || cfg.Mpesa.ConsumerSecret == "" || cfg.Mpesa.Shortcode == "" || cfg.Mpesa.Passkey == "" {
		log.Fatal().Msg("MPESA_CONSUMER_KEY, MPESA_CONSUMER_SECRET, MPESA_SHORTCODE and MPESA_PASSKEY are required")
	}
	if cfg.App.CallbackBaseURL == "" {
		log.Fatal().Msg("CALLBACK_BASE_URL is required")
	}
	if cfg.Timeouts.Verify <= cfg.Timeouts.Provider {
		log.Warn().
			Dur("verify_timeout", cfg.Timeouts.Verify).
			Dur("provider_timeout", cfg.Timeouts.Provider).
			Msg("verify timeout should exceed a single provider call")
	}
	return cfg
}

func mpesaBaseURL(env string) string {
	if env == "production" {
		return "https://api.safaricom.co.ke"
	}
	return "https://sandbox.safaricom.co.ke"
}
