package pricing

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/vitalog-health/vitalog/internal/config"
)

// ErrUnknownModel is returned when a model has no price table entry.
// This is an operator-facing misconfiguration, never a silent zero cost.
var ErrUnknownModel = errors.New("pricing: unknown model")

// Estimator converts prompt text and output budgets into worst-case costs
// in integer cents. All methods are pure functions of the construction-time
// price table; estimates are upper bounds on the realized cost.
type Estimator struct {
	cfg config.PricingConfig
}

// NewEstimator creates an Estimator from an immutable price table.
func NewEstimator(cfg config.PricingConfig) *Estimator {
	return &Estimator{cfg: cfg}
}

// TokensForText approximates the token count of text using the configured
// characters-per-token ratio. A real tokenizer may replace this as long as
// it stays monotonic in text length.
func (e *Estimator) TokensForText(text string) int {
	if text == "" {
		return 0
	}
	return int(math.Ceil(float64(len(text)) / float64(e.cfg.CharsPerToken)))
}

// Estimate returns the worst-case cost in cents of a completion against
// model with the given prompt and a maximum output budget in tokens.
func (e *Estimator) Estimate(model, promptText string, maxOutputTokens int) (int64, error) {
	return e.CostForTokens(model, e.TokensForText(promptText), maxOutputTokens)
}

// CostForTokens prices realized token usage: the per-model rates applied to
// exact token counts, marked up and rounded up to whole cents.
func (e *Estimator) CostForTokens(model string, promptTokens, completionTokens int) (int64, error) {
	price, err := e.modelPrice(model)
	if err != nil {
		return 0, err
	}
	inCost := float64(promptTokens) / 1000 * price.InputCentsPer1K
	outCost := float64(completionTokens) / 1000 * price.OutputCentsPer1K
	return int64(math.Ceil((inCost + outCost) * e.cfg.MarkupMultiplier)), nil
}

// CapOutputBudget shrinks requestedMaxOutput (tokens) to the largest budget
// whose worst-case estimate still fits within availableCents. Cost is linear
// in the output budget, so the bound is computed in closed form. Returns 0
// when even a zero-output call is unaffordable; callers must treat 0 as
// "deny, insufficient funds".
func (e *Estimator) CapOutputBudget(model, promptText string, requestedMaxOutput int, availableCents int64) (int, error) {
	price, err := e.modelPrice(model)
	if err != nil {
		return 0, err
	}
	if requestedMaxOutput < 0 {
		requestedMaxOutput = 0
	}

	inCost := float64(e.TokensForText(promptText)) / 1000 * price.InputCentsPer1K * e.cfg.MarkupMultiplier
	outRate := price.OutputCentsPer1K / 1000 * e.cfg.MarkupMultiplier
	avail := float64(availableCents)

	if inCost > avail {
		return 0, nil
	}
	capped := requestedMaxOutput
	if outRate > 0 {
		bound := int((avail - inCost) / outRate)
		if bound < capped {
			capped = bound
		}
	}
	if capped < 0 {
		capped = 0
	}

	// Closed form is exact save for float rounding at the boundary;
	// step down until the ceiled estimate fits.
	for capped > 0 {
		est, err := e.Estimate(model, promptText, capped)
		if err != nil {
			return 0, err
		}
		if est <= availableCents {
			break
		}
		capped--
	}
	if capped == 0 {
		est, err := e.Estimate(model, promptText, 0)
		if err != nil {
			return 0, err
		}
		if est > availableCents {
			return 0, nil
		}
	}
	return capped, nil
}

func (e *Estimator) modelPrice(model string) (config.ModelPrice, error) {
	if p, ok := e.cfg.Models[model]; ok {
		return p, nil
	}
	if p, ok := e.cfg.Models[normalizeModel(model)]; ok {
		return p, nil
	}
	return config.ModelPrice{}, fmt.Errorf("%w: %q", ErrUnknownModel, model)
}

// normalizeModel folds dated model variants onto their price table entry,
// e.g. "gpt-4o-2024-08-06" -> "gpt-4o".
func normalizeModel(model string) string {
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "gpt-4o-mini"):
		return "gpt-4o-mini"
	case strings.Contains(m, "gpt-4o"):
		return "gpt-4o"
	case strings.Contains(m, "gpt-4"):
		return "gpt-4"
	case strings.Contains(m, "gpt-3.5"):
		return "gpt-3.5-turbo"
	}
	return m
}
