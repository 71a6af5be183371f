//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/vitalog-health/vitalog/internal/api"
	"github.com/vitalog-health/vitalog/internal/config"
	"github.com/vitalog-health/vitalog/internal/freecredit"
	"github.com/vitalog-health/vitalog/internal/ledger"
	"github.com/vitalog-health/vitalog/internal/metering"
	"github.com/vitalog-health/vitalog/internal/pricing"
	"github.com/vitalog-health/vitalog/internal/usage"
)

type TestEnv struct {
	Pool        *pgxpool.Pool
	RedisClient *redis.Client
	Server      *httptest.Server
	Ledger      *ledger.Service
	LedgerStore *ledger.PostgresStore
	Credits     *freecredit.Service
	Metering    *metering.Service
}

var testEnv *TestEnv

func SetupTestEnv(t *testing.T) *TestEnv {
	t.Helper()
	if testEnv != nil {
		return testEnv
	}

	ctx := context.Background()

	// Start PostgreSQL container
	pgContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "test",
				"POSTGRES_PASSWORD": "test",
				"POSTGRES_DB":       "vitalog_test",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("starting postgres container: %v", err)
	}
	t.Cleanup(func() { pgContainer.Terminate(ctx) })

	pgHost, _ := pgContainer.Host(ctx)
	pgPort, _ := pgContainer.MappedPort(ctx, "5432")

	// Start Redis container
	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("starting redis container: %v", err)
	}
	t.Cleanup(func() { redisContainer.Terminate(ctx) })

	redisHost, _ := redisContainer.Host(ctx)
	redisPort, _ := redisContainer.MappedPort(ctx, "6379")

	// Connect to PostgreSQL
	dsn := fmt.Sprintf("postgres://test:test@%s:%s/vitalog_test?sslmode=disable", pgHost, pgPort.Port())
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connecting to postgres: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	// Run migrations
	m, err := migrate.New(
		fmt.Sprintf("file://%s", getMigrationsPath()),
		dsn,
	)
	if err != nil {
		t.Fatalf("creating migrator: %v", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		t.Fatalf("running migrations: %v", err)
	}

	// Connect to Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%s", redisHost, redisPort.Port()),
	})
	t.Cleanup(func() { redisClient.Close() })

	// Setup services
	billing := config.BillingConfig{
		PlanCredits:       map[int64]int64{2000: 1000, 3000: 1500},
		WalletPercent:     0.5,
		TopUpValidityDays: 90,
	}
	freeCredits := config.FreeCreditsConfig{
		Grants:         map[string]int{"food_analysis": 5, "symptom_analysis": 2},
		LaunchedAt:     time.Now().UTC().Add(-24 * time.Hour),
		BackfillWindow: 14 * 24 * time.Hour,
	}
	pricingCfg := config.PricingConfig{
		Models: map[string]config.ModelPrice{
			"gpt-4o":      {InputCentsPer1K: 0.5, OutputCentsPer1K: 1.5},
			"gpt-4o-mini": {InputCentsPer1K: 0.015, OutputCentsPer1K: 0.06},
		},
		CharsPerToken:    4,
		MarkupMultiplier: 2.0,
	}
	features := config.FeaturesConfig{
		FixedCostCents: map[string]int64{
			"food_analysis":    1,
			"symptom_analysis": 1,
		},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ledgerStore := ledger.NewPostgresStore(pool)
	walletSvc := ledger.NewService(ledgerStore, billing)
	creditSvc := freecredit.NewService(freecredit.NewPostgresStore(pool), freeCredits)
	estimator := pricing.NewEstimator(pricingCfg)
	recorder := usage.NewRecorder(usage.NewPostgresStore(pool), nil, logger)
	meterSvc := metering.NewService(walletSvc, creditSvc, estimator, recorder, features, logger)
	meterHandler := metering.NewHandler(meterSvc)

	router := api.NewRouter(pool, nil, api.RouterConfig{}, api.HandlerSet{
		MeterCheck:     meterHandler.Check,
		MeterSettle:    meterHandler.Settle,
		CreditStatus:   meterHandler.CreditStatus,
		UsageBreakdown: meterHandler.UsageBreakdown,
		AddTopUp:       meterHandler.AddTopUp,
	})

	server := httptest.NewServer(router)
	t.Cleanup(func() { server.Close() })

	testEnv = &TestEnv{
		Pool:        pool,
		RedisClient: redisClient,
		Server:      server,
		Ledger:      walletSvc,
		LedgerStore: ledgerStore,
		Credits:     creditSvc,
		Metering:    meterSvc,
	}

	return testEnv
}

func getMigrationsPath() string {
	paths := []string{
		"../../migrations",
		"../../../migrations",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	log.Fatal("migrations directory not found")
	return ""
}

// Helper functions

func DoRequest(t *testing.T, env *TestEnv, method, path string, body any, accountID string) *http.Response {
	t.Helper()
	var bodyReader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, env.Server.URL+path, bodyReader)
	if err != nil {
		t.Fatalf("creating request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if accountID != "" {
		req.Header.Set("X-Account-ID", accountID)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("doing request: %v", err)
	}
	return resp
}

func ParseResponse(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("parsing response: %v", err)
	}
	return result
}
