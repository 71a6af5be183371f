package pricing

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapOutputBudget_HonorsRequestWhenAffordable(t *testing.T) {
	e := NewEstimator(testPricing())

	capped, err := e.CapOutputBudget("gpt-4o-mini", "short", 500, 10_000)
	require.NoError(t, err)
	assert.Equal(t, 500, capped)
}

func TestCapOutputBudget_ShrinksToBalance(t *testing.T) {
	e := NewEstimator(testPricing())
	prompt := strings.Repeat("x", 4000)

	capped, err := e.CapOutputBudget("gpt-4o", prompt, 100_000, 10)
	require.NoError(t, err)
	assert.Greater(t, capped, 0)
	assert.Less(t, capped, 100_000)

	est, err := e.Estimate("gpt-4o", prompt, capped)
	require.NoError(t, err)
	assert.LessOrEqual(t, est, int64(10), "capped budget must fit the available balance")
}

func TestCapOutputBudget_ZeroWhenPromptAloneUnaffordable(t *testing.T) {
	e := NewEstimator(testPricing())
	// 40k chars = 10k tokens of gpt-4: 10 * 3.0 * 2 = 60 cents input alone
	prompt := strings.Repeat("x", 40_000)

	capped, err := e.CapOutputBudget("gpt-4", prompt, 1000, 5)
	require.NoError(t, err)
	assert.Equal(t, 0, capped)
}

func TestCapOutputBudget_ZeroAvailable(t *testing.T) {
	e := NewEstimator(testPricing())

	capped, err := e.CapOutputBudget("gpt-4o", "prompt", 1000, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, capped)
}

func TestCapOutputBudget_UnknownModel(t *testing.T) {
	e := NewEstimator(testPricing())

	_, err := e.CapOutputBudget("no-such-model", "prompt", 1000, 100)
	assert.True(t, errors.Is(err, ErrUnknownModel))
}

func TestCapOutputBudget_NeverExceedsAvailable(t *testing.T) {
	e := NewEstimator(testPricing())
	prompt := strings.Repeat("analyze this meal ", 100)

	for _, avail := range []int64{1, 2, 3, 5, 10, 50, 250} {
		capped, err := e.CapOutputBudget("gpt-4o", prompt, 100_000, avail)
		require.NoError(t, err)
		if capped == 0 {
			continue
		}
		est, err := e.Estimate("gpt-4o", prompt, capped)
		require.NoError(t, err)
		assert.LessOrEqual(t, est, avail, "available=%d capped=%d", avail, capped)
	}
}
