package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server      ServerConfig
	DB          DBConfig
	Redis       RedisConfig
	NATS        NATSConfig
	CORS        CORSConfig
	RateLimit   RateLimitConfig
	Pricing     PricingConfig
	Billing     BillingConfig
	Features    FeaturesConfig
	FreeCredits FreeCreditsConfig
	Log         LogConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type DBConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	Name           string
	SSLMode        string
	MaxConns       int32
	MigrationsPath string
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// NATSConfig configures the optional JetStream usage-event pipeline.
// An empty URL disables NATS; usage events are then written synchronously.
type NATSConfig struct {
	URL string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type RateLimitConfig struct {
	Enabled     bool
	MaxRequests int
	WindowSec   int
}

// PricingConfig is the immutable model price table handed to the cost
// estimator at construction time. Prices are cents per 1,000 tokens.
type PricingConfig struct {
	Models           map[string]ModelPrice
	CharsPerToken    int
	MarkupMultiplier float64
}

type ModelPrice struct {
	InputCentsPer1K  float64
	OutputCentsPer1K float64
}

// BillingConfig drives the wallet ledger: how a subscription price maps to
// a monthly credit cap, and how long purchased top-ups stay valid.
type BillingConfig struct {
	// PlanCredits maps a plan's monthly price in cents to its monthly
	// wallet cap in cents. Unknown prices fall back to WalletPercent.
	PlanCredits       map[int64]int64
	WalletPercent     float64
	TopUpValidityDays int
}

// MonthlyCapCents resolves the monthly wallet cap for a subscription price.
func (c BillingConfig) MonthlyCapCents(priceCents int64) int64 {
	if priceCents <= 0 {
		return 0
	}
	if cap, ok := c.PlanCredits[priceCents]; ok {
		return cap
	}
	return int64(float64(priceCents) * c.WalletPercent)
}

// FeaturesConfig prices the fixed-cost features. Features absent from the
// table are token-metered and priced by the estimator instead.
type FeaturesConfig struct {
	FixedCostCents map[string]int64
}

// FixedCost returns the fixed price of a feature, or false when the
// feature is token-metered.
func (c FeaturesConfig) FixedCost(feature string) (int64, bool) {
	cents, ok := c.FixedCostCents[feature]
	return cents, ok
}

// FreeCreditsConfig describes the one-time free-use grants for new accounts
// and the backfill window for accounts that predate the feature launch.
type FreeCreditsConfig struct {
	Grants         map[string]int
	LaunchedAt     time.Time
	BackfillWindow time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

// Default free-use grants, matching the product's launch offer.
func defaultGrants() map[string]int {
	return map[string]int{
		"food_analysis":        5,
		"symptom_analysis":     2,
		"medical_analysis":     2,
		"interaction_analysis": 2,
		"health_intake":        1,
		"insights_update":      3,
	}
}

// Default per-model prices in cents per 1k tokens. The service markup is
// applied on top by the estimator.
func defaultModels() map[string]ModelPrice {
	return map[string]ModelPrice{
		"gpt-4o":        {InputCentsPer1K: 0.5, OutputCentsPer1K: 1.5},
		"gpt-4o-mini":   {InputCentsPer1K: 0.015, OutputCentsPer1K: 0.06},
		"gpt-4":         {InputCentsPer1K: 3.0, OutputCentsPer1K: 6.0},
		"gpt-3.5-turbo": {InputCentsPer1K: 0.15, OutputCentsPer1K: 0.2},
	}
}

// Fixed feature prices in cents. One cent equals one credit in the
// user-facing presentation.
func defaultFixedCosts() map[string]int64 {
	return map[string]int64{
		"food_analysis":        1,
		"food_reanalysis":      1,
		"symptom_analysis":     1,
		"medical_analysis":     2,
		"interaction_analysis": 3,
	}
}

func defaultPlanCredits() map[int64]int64 {
	return map[int64]int64{
		2000: 1000, // $20 plan -> $10 monthly wallet
		3000: 1500, // $30 plan -> $15 monthly wallet
	}
}

func Load() (*Config, error) {
	k := koanf.New(".")

	// Load .env file if it exists (ignore error if missing)
	_ = k.Load(file.Provider(".env"), dotenv.Parser())

	// Load environment variables (override .env)
	err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(strings.ReplaceAll(s, "_", "."))
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: k.String("server.host"),
			Port: intOr(k, "server.port", 8080),
		},
		DB: DBConfig{
			Host:           k.String("db.host"),
			Port:           intOr(k, "db.port", 5432),
			User:           k.String("db.user"),
			Password:       k.String("db.password"),
			Name:           k.String("db.name"),
			SSLMode:        stringOr(k, "db.sslmode", "disable"),
			MaxConns:       int32(intOr(k, "db.max.conns", 10)),
			MigrationsPath: stringOr(k, "db.migrations.path", "migrations"),
		},
		Redis: RedisConfig{
			Host:     k.String("redis.host"),
			Port:     intOr(k, "redis.port", 6379),
			Password: k.String("redis.password"),
			DB:       k.Int("redis.db"),
		},
		NATS: NATSConfig{
			URL: k.String("nats.url"),
		},
		CORS: CORSConfig{
			AllowedOrigins: k.Strings("cors.allowed.origins"),
		},
		RateLimit: RateLimitConfig{
			Enabled:     k.Bool("ratelimit.enabled"),
			MaxRequests: intOr(k, "ratelimit.max.requests", 30),
			WindowSec:   intOr(k, "ratelimit.window.sec", 60),
		},
		Pricing: PricingConfig{
			Models:           defaultModels(),
			CharsPerToken:    intOr(k, "pricing.chars.per.token", 4),
			MarkupMultiplier: floatOr(k, "pricing.markup.multiplier", 2.0),
		},
		Billing: BillingConfig{
			PlanCredits:       defaultPlanCredits(),
			WalletPercent:     floatOr(k, "billing.wallet.percent", 0.5),
			TopUpValidityDays: intOr(k, "billing.topup.validity.days", 90),
		},
		Features: FeaturesConfig{
			FixedCostCents: defaultFixedCosts(),
		},
		FreeCredits: FreeCreditsConfig{
			Grants:         defaultGrants(),
			LaunchedAt:     timeOr(k, "freecredits.launched.at", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)),
			BackfillWindow: durationOr(k, "freecredits.backfill.window", 14*24*time.Hour),
		},
		Log: LogConfig{
			Level:  k.String("log.level"),
			Format: k.String("log.format"),
		},
	}

	if overrides := k.String("billing.plan.credits"); overrides != "" {
		pc, err := parsePlanCredits(overrides)
		if err != nil {
			return nil, fmt.Errorf("parsing BILLING_PLAN_CREDITS: %w", err)
		}
		cfg.Billing.PlanCredits = pc
	}

	return cfg, nil
}

// parsePlanCredits parses "2000:1000,3000:1500" into a price->cap map.
func parsePlanCredits(s string) (map[int64]int64, error) {
	out := make(map[int64]int64)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		price, credits, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, fmt.Errorf("malformed entry %q", pair)
		}
		p, err := strconv.ParseInt(strings.TrimSpace(price), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed price in %q", pair)
		}
		c, err := strconv.ParseInt(strings.TrimSpace(credits), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed credits in %q", pair)
		}
		out[p] = c
	}
	return out, nil
}

func intOr(k *koanf.Koanf, key string, fallback int) int {
	if !k.Exists(key) {
		return fallback
	}
	return k.Int(key)
}

func floatOr(k *koanf.Koanf, key string, fallback float64) float64 {
	if !k.Exists(key) {
		return fallback
	}
	return k.Float64(key)
}

func stringOr(k *koanf.Koanf, key string, fallback string) string {
	if v := k.String(key); v != "" {
		return v
	}
	return fallback
}

func durationOr(k *koanf.Koanf, key string, fallback time.Duration) time.Duration {
	if !k.Exists(key) {
		return fallback
	}
	d, err := time.ParseDuration(k.String(key))
	if err != nil {
		return fallback
	}
	return d
}

func timeOr(k *koanf.Koanf, key string, fallback time.Time) time.Time {
	if !k.Exists(key) {
		return fallback
	}
	t, err := time.Parse(time.RFC3339, k.String(key))
	if err != nil {
		return fallback
	}
	return t
}
