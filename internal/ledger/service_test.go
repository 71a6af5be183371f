package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalog-health/vitalog/internal/config"
)

func testBilling() config.BillingConfig {
	return config.BillingConfig{
		PlanCredits:       map[int64]int64{2000: 1000, 3000: 1500},
		WalletPercent:     0.5,
		TopUpValidityDays: 90,
	}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newTestService(t *testing.T, now time.Time) (*Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	svc := NewService(store, testBilling()).WithClock(fixedClock(now))
	return svc, store
}

func seedAccount(t *testing.T, store *MemoryStore, acct *Account) {
	t.Helper()
	require.NoError(t, store.CreateAccount(context.Background(), acct))
}

func premiumAccount(id uuid.UUID, now time.Time, usedCents int64) *Account {
	start := now.AddDate(0, -3, 0)
	return &Account{
		ID:               id,
		CreatedAt:        start,
		MonthlyUsedCents: usedCents,
		MonthlyResetAt:   periodAnchor(now, start.Day()),
		Subscription: &Subscription{
			Plan:       "premium",
			PriceCents: 2000,
			StartedAt:  start,
		},
	}
}

func TestChargeCents_InsufficientFundsLeavesStateUntouched(t *testing.T) {
	now := time.Date(2025, time.June, 20, 12, 0, 0, 0, time.UTC)
	svc, store := newTestService(t, now)
	ctx := context.Background()

	id := uuid.New()
	// Cap 1000 with 950 already used leaves 50 available.
	seedAccount(t, store, premiumAccount(id, now, 950))

	ok, err := svc.ChargeCents(ctx, id, 100)
	require.NoError(t, err)
	assert.False(t, ok)

	status, err := svc.WalletStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(950), status.MonthlyUsedCents)
}

func TestChargeCents_ExactRemainingSucceeds(t *testing.T) {
	now := time.Date(2025, time.June, 20, 12, 0, 0, 0, time.UTC)
	svc, store := newTestService(t, now)
	ctx := context.Background()

	id := uuid.New()
	seedAccount(t, store, premiumAccount(id, now, 950))

	ok, err := svc.ChargeCents(ctx, id, 50)
	require.NoError(t, err)
	assert.True(t, ok)

	status, err := svc.WalletStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), status.MonthlyUsedCents)
	assert.Equal(t, int64(0), status.TotalAvailableCents)
}

func TestChargeCents_ZeroIsNoOp(t *testing.T) {
	now := time.Date(2025, time.June, 20, 12, 0, 0, 0, time.UTC)
	svc, store := newTestService(t, now)
	ctx := context.Background()

	id := uuid.New()
	seedAccount(t, store, premiumAccount(id, now, 1000))

	// Wallet is fully drained, but a zero charge still succeeds.
	ok, err := svc.ChargeCents(ctx, id, 0)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestChargeCents_NegativeIsIntegrityError(t *testing.T) {
	now := time.Date(2025, time.June, 20, 12, 0, 0, 0, time.UTC)
	svc, store := newTestService(t, now)

	id := uuid.New()
	seedAccount(t, store, premiumAccount(id, now, 0))

	_, err := svc.ChargeCents(context.Background(), id, -5)
	assert.ErrorIs(t, err, ErrIntegrity)
}

func TestChargeCents_UnknownAccount(t *testing.T) {
	now := time.Date(2025, time.June, 20, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, now)

	_, err := svc.ChargeCents(context.Background(), uuid.New(), 10)
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestChargeCents_SpendsSoonestExpiringTopUpFirst(t *testing.T) {
	now := time.Date(2025, time.June, 20, 12, 0, 0, 0, time.UTC)
	svc, store := newTestService(t, now)
	ctx := context.Background()

	id := uuid.New()
	// No subscription: the monthly cap is zero, only top-ups fund charges.
	seedAccount(t, store, &Account{ID: id, CreatedAt: now.AddDate(0, -1, 0), MonthlyResetAt: now.AddDate(0, -1, 0)})

	soon := &TopUp{
		ID: uuid.New(), AccountID: id,
		PurchasedAt: now.AddDate(0, 0, -28),
		AmountCents: 50, ExpiresAt: now.AddDate(0, 0, 2),
	}
	later := &TopUp{
		ID: uuid.New(), AccountID: id,
		PurchasedAt: now.AddDate(0, 0, -1),
		AmountCents: 100, ExpiresAt: now.AddDate(0, 0, 30),
	}
	require.NoError(t, store.AddTopUp(ctx, soon))
	require.NoError(t, store.AddTopUp(ctx, later))

	ok, err := svc.ChargeCents(ctx, id, 70)
	require.NoError(t, err)
	assert.True(t, ok)

	// The soon-expiring pool is fully drained before the later one is touched.
	remaining, err := store.ListActiveTopUps(ctx, id, now)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, later.ID, remaining[0].ID)
	assert.Equal(t, int64(20), remaining[0].UsedCents)
}

func TestChargeCents_ExpiredTopUpExcluded(t *testing.T) {
	now := time.Date(2025, time.June, 20, 12, 0, 0, 0, time.UTC)
	svc, store := newTestService(t, now)
	ctx := context.Background()

	id := uuid.New()
	seedAccount(t, store, &Account{ID: id, CreatedAt: now.AddDate(0, -2, 0), MonthlyResetAt: now.AddDate(0, -2, 0)})

	expired := &TopUp{
		ID: uuid.New(), AccountID: id,
		PurchasedAt: now.AddDate(0, -4, 0),
		AmountCents: 500, ExpiresAt: now.AddDate(0, -1, 0),
	}
	require.NoError(t, store.AddTopUp(ctx, expired))

	ok, err := svc.ChargeCents(ctx, id, 100)
	require.NoError(t, err)
	assert.False(t, ok)

	status, err := svc.WalletStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(0), status.TotalAvailableCents)
	assert.Empty(t, status.TopUps)
}

func TestChargeCents_MonthlyBeforeTopUps(t *testing.T) {
	now := time.Date(2025, time.June, 20, 12, 0, 0, 0, time.UTC)
	svc, store := newTestService(t, now)
	ctx := context.Background()

	id := uuid.New()
	seedAccount(t, store, premiumAccount(id, now, 990)) // 10 monthly remaining

	tu := &TopUp{
		ID: uuid.New(), AccountID: id,
		PurchasedAt: now.AddDate(0, 0, -5),
		AmountCents: 200, ExpiresAt: now.AddDate(0, 0, 60),
	}
	require.NoError(t, store.AddTopUp(ctx, tu))

	ok, err := svc.ChargeCents(ctx, id, 30)
	require.NoError(t, err)
	assert.True(t, ok)

	status, err := svc.WalletStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), status.MonthlyUsedCents, "monthly allowance drains first")
	require.Len(t, status.TopUps, 1)
	assert.Equal(t, int64(180), status.TopUps[0].AvailableCents)
}

func TestWalletStatus_SelfHealsAfterRollover(t *testing.T) {
	start := time.Date(2025, time.March, 15, 0, 0, 0, 0, time.UTC)
	now := time.Date(2025, time.June, 20, 12, 0, 0, 0, time.UTC)
	svc, store := newTestService(t, now)
	ctx := context.Background()

	id := uuid.New()
	// Stored counters are stale: last reset two periods ago with usage.
	seedAccount(t, store, &Account{
		ID:               id,
		CreatedAt:        start,
		MonthlyUsedCents: 800,
		MonthlyResetAt:   time.Date(2025, time.April, 15, 0, 0, 0, 0, time.UTC),
		Subscription:     &Subscription{Plan: "premium", PriceCents: 2000, StartedAt: start},
	})

	// Reads are idempotent: repeated status calls report zero used without
	// writing anything.
	for i := 0; i < 3; i++ {
		status, err := svc.WalletStatus(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, int64(0), status.MonthlyUsedCents)
		assert.Equal(t, int64(1000), status.TotalAvailableCents)
	}

	// The stored value is untouched until the next charge applies the
	// physical reset.
	acct, err := store.GetAccount(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(800), acct.MonthlyUsedCents)

	ok, err := svc.ChargeCents(ctx, id, 100)
	require.NoError(t, err)
	assert.True(t, ok)

	acct, err = store.GetAccount(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(100), acct.MonthlyUsedCents)
	assert.Equal(t, time.Date(2025, time.June, 15, 0, 0, 0, 0, time.UTC), acct.MonthlyResetAt)
}

func TestWalletStatus_RefreshAtIsNextAnchor(t *testing.T) {
	now := time.Date(2025, time.June, 20, 12, 0, 0, 0, time.UTC)
	svc, store := newTestService(t, now)

	id := uuid.New()
	start := time.Date(2025, time.January, 15, 0, 0, 0, 0, time.UTC)
	seedAccount(t, store, &Account{
		ID: id, CreatedAt: start,
		MonthlyResetAt: periodAnchor(now, 15),
		Subscription:   &Subscription{Plan: "premium", PriceCents: 2000, StartedAt: start},
	})

	status, err := svc.WalletStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, time.July, 15, 0, 0, 0, 0, time.UTC), status.RefreshAt)
}

func TestWalletStatus_EndedSubscriptionHasNoCap(t *testing.T) {
	now := time.Date(2025, time.June, 20, 12, 0, 0, 0, time.UTC)
	svc, store := newTestService(t, now)

	id := uuid.New()
	ended := now.AddDate(0, -1, 0)
	seedAccount(t, store, &Account{
		ID: id, CreatedAt: now.AddDate(0, -6, 0),
		MonthlyResetAt: now.AddDate(0, -6, 0),
		Subscription: &Subscription{
			Plan: "premium", PriceCents: 2000,
			StartedAt: now.AddDate(0, -6, 0), EndedAt: &ended,
		},
	})

	status, err := svc.WalletStatus(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, status.HasSubscription)
	assert.Equal(t, int64(0), status.MonthlyCapCents)
	assert.Equal(t, int64(0), status.TotalAvailableCents)
}

func TestChargeCents_ConcurrentChargesNeverOverspend(t *testing.T) {
	now := time.Date(2025, time.June, 20, 12, 0, 0, 0, time.UTC)
	svc, store := newTestService(t, now)
	ctx := context.Background()

	id := uuid.New()
	seedAccount(t, store, premiumAccount(id, now, 0)) // 1000 available

	const workers = 50
	const chargeAmount = 30 // 50*30 = 1500 demanded, only 1000 funded

	var wg sync.WaitGroup
	results := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := svc.ChargeCents(ctx, id, chargeAmount)
			assert.NoError(t, err)
			results <- ok
		}()
	}
	wg.Wait()
	close(results)

	var succeeded int64
	for ok := range results {
		if ok {
			succeeded++
		}
	}
	assert.Equal(t, int64(33), succeeded, "exactly floor(1000/30) charges can fit")

	acct, err := store.GetAccount(ctx, id)
	require.NoError(t, err)
	assert.LessOrEqual(t, acct.MonthlyUsedCents, int64(1000), "sum of successful charges may never exceed the cap")
	assert.Equal(t, succeeded*chargeAmount, acct.MonthlyUsedCents)
}

func TestChargeCents_ConcurrentLastUnit(t *testing.T) {
	now := time.Date(2025, time.June, 20, 12, 0, 0, 0, time.UTC)
	svc, store := newTestService(t, now)
	ctx := context.Background()

	id := uuid.New()
	seedAccount(t, store, premiumAccount(id, now, 950)) // 50 left, fits one charge

	var wg sync.WaitGroup
	results := make(chan bool, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := svc.ChargeCents(ctx, id, 50)
			assert.NoError(t, err)
			results <- ok
		}()
	}
	wg.Wait()
	close(results)

	successes := 0
	for ok := range results {
		if ok {
			successes++
		}
	}
	assert.Equal(t, 1, successes, "exactly one of two racing charges may win the last 50 cents")
}

func TestAddTopUp(t *testing.T) {
	now := time.Date(2025, time.June, 20, 12, 0, 0, 0, time.UTC)
	svc, store := newTestService(t, now)
	ctx := context.Background()

	id := uuid.New()
	seedAccount(t, store, &Account{ID: id, CreatedAt: now, MonthlyResetAt: now})

	tu, err := svc.AddTopUp(ctx, id, 500)
	require.NoError(t, err)
	assert.Equal(t, int64(500), tu.AmountCents)
	assert.Equal(t, now.AddDate(0, 0, 90), tu.ExpiresAt)

	_, err = svc.AddTopUp(ctx, id, 0)
	assert.Error(t, err)

	status, err := svc.WalletStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(500), status.TotalAvailableCents)
}
