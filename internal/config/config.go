package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"classbank/internal/settings"
)

type APIConfig struct {
	Addr            string
	StoreBackend    string
	DatabaseURL     string
	RedisAddr       string
	RedisNamespace  string
	IdentityURL     string
	IdentityAnonKey string

	PaydayEvery  time.Duration
	SweepEvery   time.Duration
	MaxBatchSize int
	BatchDelay   time.Duration

	StartupSeedSettings bool
	Settings            settings.Settings
}

type CLIConfig struct {
	APIBaseURL string
}

func LoadAPIFromEnv() (APIConfig, error) {
	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("CLASSBANK_API_ADDR", ":8080")
	}

	cfg := APIConfig{
		Addr:            addr,
		StoreBackend:    envBackendDefault(),
		DatabaseURL:     strings.TrimSpace(os.Getenv("DATABASE_URL")),
		RedisAddr:       envDefault("REDIS_ADDR", "localhost:6379"),
		RedisNamespace:  envDefault("CLASSBANK_REDIS_NAMESPACE", "classbank"),
		IdentityURL:     strings.TrimRight(strings.TrimSpace(os.Getenv("IDENTITY_URL")), "/"),
		IdentityAnonKey: strings.TrimSpace(os.Getenv("IDENTITY_ANON_KEY")),

		PaydayEvery:  envDurationDefault("CLASSBANK_PAYDAY_EVERY", 24*time.Hour),
		SweepEvery:   envDurationDefault("CLASSBANK_SWEEP_EVERY", time.Hour),
		MaxBatchSize: envIntDefault("CLASSBANK_MAX_BATCH_SIZE", 500),
		BatchDelay:   envDurationDefault("CLASSBANK_BATCH_DELAY", 2*time.Second),

		StartupSeedSettings: envBoolDefault("CLASSBANK_STARTUP_SEED_SETTINGS", true),
		Settings:            settingsFromEnv(),
	}
	if cfg.StoreBackend == "postgres" && cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required for the postgres backend")
	}
	if cfg.IdentityURL == "" {
		return cfg, fmt.Errorf("IDENTITY_URL is required")
	}
	if cfg.IdentityAnonKey == "" {
		return cfg, fmt.Errorf("IDENTITY_ANON_KEY is required")
	}
	if err := cfg.Settings.Validate(); err != nil {
		return cfg, fmt.Errorf("class settings: %w", err)
	}
	return cfg, nil
}

func LoadCLIFromEnv() CLIConfig {
	return CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("CBK_API_BASE_URL", "http://localhost:8080"), "/"),
	}
}

func settingsFromEnv() settings.Settings {
	def := settings.Default()
	return settings.Settings{
		ClassSize:             envIntDefault("CLASSBANK_CLASS_SIZE", def.ClassSize),
		ApprovalThreshold:     envIntDefault("CLASSBANK_APPROVAL_THRESHOLD", def.ApprovalThreshold),
		VetoOverrideThreshold: envIntDefault("CLASSBANK_VETO_OVERRIDE_THRESHOLD", def.VetoOverrideThreshold),
		TaxRateBps:            envIntDefault("CLASSBANK_TAX_RATE_BPS", def.TaxRateBps),
		StipendAmount:         int64(envIntDefault("CLASSBANK_STIPEND_AMOUNT", int(def.StipendAmount))),
		DeliberationWindow:    envDurationDefault("CLASSBANK_DELIBERATION_WINDOW", def.DeliberationWindow),
		OverrideWindow:        envDurationDefault("CLASSBANK_OVERRIDE_WINDOW", def.OverrideWindow),
	}
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envIntDefault(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envBackendDefault() string {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("CLASSBANK_STORE_BACKEND")))
	switch v {
	case "memory", "redis", "postgres":
		return v
	default:
		return "postgres"
	}
}
