//go:build integration

package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vitalog-health/vitalog/internal/ledger"
)

func createAccount(t *testing.T, env *TestEnv, sub *ledger.Subscription) uuid.UUID {
	t.Helper()
	id := uuid.New()
	acct := &ledger.Account{
		ID:             id,
		CreatedAt:      time.Now().UTC().AddDate(0, -3, 0),
		MonthlyResetAt: time.Now().UTC().AddDate(0, -3, 0),
		Subscription:   sub,
	}
	if err := env.LedgerStore.CreateAccount(context.Background(), acct); err != nil {
		t.Fatalf("creating account: %v", err)
	}
	return id
}

func premiumSub() *ledger.Subscription {
	return &ledger.Subscription{
		Plan:       "premium",
		PriceCents: 2000,
		StartedAt:  time.Now().UTC().AddDate(0, -3, 0),
	}
}

func TestConcurrentChargesNeverOverspend(t *testing.T) {
	env := SetupTestEnv(t)
	account := createAccount(t, env, premiumSub())
	ctx := context.Background()

	// Cap is 1000 cents; fire 50 concurrent charges of 100.
	var wg sync.WaitGroup
	results := make([]bool, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := env.Ledger.ChargeCents(ctx, account, 100)
			if err != nil {
				t.Errorf("charge %d: %v", i, err)
				return
			}
			results[i] = ok
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, ok := range results {
		if ok {
			succeeded++
		}
	}
	if succeeded != 10 {
		t.Fatalf("expected exactly 10 successful charges, got %d", succeeded)
	}

	status, err := env.Ledger.WalletStatus(ctx, account)
	if err != nil {
		t.Fatalf("wallet status: %v", err)
	}
	if status.MonthlyUsedCents != 1000 {
		t.Fatalf("expected monthly used 1000, got %d", status.MonthlyUsedCents)
	}
}

func TestConcurrentLastUnit(t *testing.T) {
	env := SetupTestEnv(t)
	account := createAccount(t, env, premiumSub())
	ctx := context.Background()

	if ok, err := env.Ledger.ChargeCents(ctx, account, 999); err != nil || !ok {
		t.Fatalf("setup charge: ok=%v err=%v", ok, err)
	}

	var wg sync.WaitGroup
	results := make([]bool, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := env.Ledger.ChargeCents(ctx, account, 1)
			if err != nil {
				t.Errorf("charge: %v", err)
				return
			}
			results[i] = ok
		}(i)
	}
	wg.Wait()

	if results[0] == results[1] {
		t.Fatalf("expected exactly one winner for the last cent, got %v and %v", results[0], results[1])
	}
}

func TestChargeSpendsSoonestExpiringTopUpFirst(t *testing.T) {
	env := SetupTestEnv(t)
	account := createAccount(t, env, nil)
	ctx := context.Background()
	now := time.Now().UTC()

	soon := &ledger.TopUp{
		ID: uuid.New(), AccountID: account, PurchasedAt: now,
		AmountCents: 50, ExpiresAt: now.AddDate(0, 0, 2),
	}
	later := &ledger.TopUp{
		ID: uuid.New(), AccountID: account, PurchasedAt: now,
		AmountCents: 100, ExpiresAt: now.AddDate(0, 0, 30),
	}
	if err := env.LedgerStore.AddTopUp(ctx, soon); err != nil {
		t.Fatalf("adding top-up: %v", err)
	}
	if err := env.LedgerStore.AddTopUp(ctx, later); err != nil {
		t.Fatalf("adding top-up: %v", err)
	}

	ok, err := env.Ledger.ChargeCents(ctx, account, 70)
	if err != nil || !ok {
		t.Fatalf("charge: ok=%v err=%v", ok, err)
	}

	topUps, err := env.LedgerStore.ListActiveTopUps(ctx, account, now)
	if err != nil {
		t.Fatalf("listing top-ups: %v", err)
	}
	if len(topUps) != 1 {
		t.Fatalf("expected the soon-expiring top-up fully drained, got %d active", len(topUps))
	}
	if topUps[0].ID != later.ID || topUps[0].UsedCents != 20 {
		t.Fatalf("expected 20 cents spilled into the later top-up, got id=%s used=%d", topUps[0].ID, topUps[0].UsedCents)
	}
}

func TestInsufficientFundsLeavesLedgerUntouched(t *testing.T) {
	env := SetupTestEnv(t)
	account := createAccount(t, env, premiumSub())
	ctx := context.Background()

	if ok, err := env.Ledger.ChargeCents(ctx, account, 950); err != nil || !ok {
		t.Fatalf("setup charge: ok=%v err=%v", ok, err)
	}

	ok, err := env.Ledger.ChargeCents(ctx, account, 100)
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if ok {
		t.Fatal("expected charge beyond balance to fail")
	}

	status, err := env.Ledger.WalletStatus(ctx, account)
	if err != nil {
		t.Fatalf("wallet status: %v", err)
	}
	if status.MonthlyUsedCents != 950 {
		t.Fatalf("failed charge must not partially deduct, used=%d", status.MonthlyUsedCents)
	}
}

func TestAtMostOneFreeCreditUnderConcurrency(t *testing.T) {
	env := SetupTestEnv(t)
	account := createAccount(t, env, nil)
	ctx := context.Background()

	granted, err := env.Credits.ConsumeCredit(ctx, account, "symptom_analysis")
	if err != nil {
		t.Fatalf("consume before grant: %v", err)
	}
	if granted {
		t.Fatal("consuming a never-granted counter must fail")
	}

	if err := env.Credits.GrantInitial(ctx, account); err != nil {
		t.Fatalf("granting: %v", err)
	}

	// symptom_analysis starts at 2; fire 10 concurrent consumes.
	var wg sync.WaitGroup
	results := make([]bool, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := env.Credits.ConsumeCredit(ctx, account, "symptom_analysis")
			if err != nil {
				t.Errorf("consume: %v", err)
				return
			}
			results[i] = ok
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, ok := range results {
		if ok {
			succeeded++
		}
	}
	if succeeded != 2 {
		t.Fatalf("expected exactly 2 successful consumes, got %d", succeeded)
	}
}
