package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks Config for production-critical problems.
// It collects all errors into a single joined error.
func (c *Config) Validate() error {
	var errs []string

	// DB password
	if c.DB.Password == "" {
		errs = append(errs, "DB_PASSWORD is required")
	}

	// Port ranges
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT must be 1-65535, got %d", c.Server.Port))
	}
	if c.DB.Port < 1 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Sprintf("DB_PORT must be 1-65535, got %d", c.DB.Port))
	}
	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Sprintf("REDIS_PORT must be 1-65535, got %d", c.Redis.Port))
	}

	// Pricing: a zero or negative markup would undercharge every action
	if c.Pricing.MarkupMultiplier <= 0 {
		errs = append(errs, fmt.Sprintf("PRICING_MARKUP_MULTIPLIER must be > 0, got %g", c.Pricing.MarkupMultiplier))
	}
	if c.Pricing.CharsPerToken < 1 {
		errs = append(errs, fmt.Sprintf("PRICING_CHARS_PER_TOKEN must be >= 1, got %d", c.Pricing.CharsPerToken))
	}
	if len(c.Pricing.Models) == 0 {
		errs = append(errs, "pricing model table must not be empty")
	}
	for model, p := range c.Pricing.Models {
		if p.InputCentsPer1K < 0 || p.OutputCentsPer1K < 0 {
			errs = append(errs, fmt.Sprintf("model %q has a negative price", model))
		}
	}

	// Billing
	if c.Billing.WalletPercent <= 0 || c.Billing.WalletPercent > 1 {
		errs = append(errs, fmt.Sprintf("BILLING_WALLET_PERCENT must be in (0, 1], got %g", c.Billing.WalletPercent))
	}
	if c.Billing.TopUpValidityDays < 1 {
		errs = append(errs, fmt.Sprintf("BILLING_TOPUP_VALIDITY_DAYS must be >= 1, got %d", c.Billing.TopUpValidityDays))
	}
	for price, credits := range c.Billing.PlanCredits {
		if price < 0 || credits < 0 {
			errs = append(errs, fmt.Sprintf("plan credit entry %d:%d must be non-negative", price, credits))
		}
	}

	// Features
	for feature, cents := range c.Features.FixedCostCents {
		if cents < 1 {
			errs = append(errs, fmt.Sprintf("fixed cost for %q must be >= 1 cent, got %d", feature, cents))
		}
	}

	// Free credits
	for feature, count := range c.FreeCredits.Grants {
		if count < 0 {
			errs = append(errs, fmt.Sprintf("free credit grant for %q must be non-negative, got %d", feature, count))
		}
	}

	// Rate limit
	if c.RateLimit.Enabled {
		if c.RateLimit.MaxRequests < 1 {
			errs = append(errs, fmt.Sprintf("RATELIMIT_MAX_REQUESTS must be >= 1, got %d", c.RateLimit.MaxRequests))
		}
		if c.RateLimit.WindowSec < 1 {
			errs = append(errs, fmt.Sprintf("RATELIMIT_WINDOW_SEC must be >= 1, got %d", c.RateLimit.WindowSec))
		}
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  " + strings.Join(errs, "\n  "))
	}
	return nil
}
