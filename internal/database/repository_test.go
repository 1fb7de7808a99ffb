package database

import (
	"context"
	"flag"
	"log"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"arbscout/internal/model"
)

var (
	pool *pgxpool.Pool
)

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}
	os.Exit(runWithPostgres(m))
}

func runWithPostgres(m *testing.M) int {
	ctx := context.Background()

	// Define the PostgreSQL container request
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpassword",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp"),
	}

	pgContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		log.Fatalf("could not start postgres container: %s", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			log.Printf("could not stop postgres container: %s", err)
		}
	}()

	host, err := pgContainer.Host(ctx)
	if err != nil {
		log.Fatalf("could not get container host: %s", err)
	}
	port, err := pgContainer.MappedPort(ctx, "5432")
	if err != nil {
		log.Fatalf("could not get mapped port: %s", err)
	}

	connStr := "postgres://testuser:testpassword@" + host + ":" + port.Port() + "/testdb"

	// The container may accept connections before postgres is ready for queries.
	deadline := time.Now().Add(30 * time.Second)
	for {
		pool, err = pgxpool.New(ctx, connStr)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				break
			}
			pool.Close()
		}
		if time.Now().After(deadline) {
			log.Fatalf("could not connect to database: %s", err)
		}
		time.Sleep(500 * time.Millisecond)
	}
	defer pool.Close()

	if err := (&PostgresRepository{Pool: pool}).Migrate(ctx); err != nil {
		log.Fatalf("could not migrate: %s", err)
	}
	return m.Run()
}

func requireDB(t *testing.T) {
	t.Helper()
	if pool == nil {
		t.Skip("requires docker")
	}
}

func sampleOpportunity(symbol string) model.Opportunity {
	return model.Opportunity{
		Symbol:           symbol,
		BuyExchange:      "binance",
		SellExchange:     "bybit",
		BuyPrice:         decimal.RequireFromString("100.5"),
		SellPrice:        decimal.RequireFromString("108"),
		Volume:           decimal.RequireFromString("0.49751243781094527"),
		Cost:             decimal.RequireFromString("100.2"),
		Revenue:          decimal.RequireFromString("107.355223880597"),
		Profit:           decimal.RequireFromString("7.155223880597"),
		ProfitPercentage: 7.141,
		MarketDepth:      decimal.RequireFromString("10"),
		Volatility:       0.07,
		StopLoss:         decimal.RequireFromString("98.49"),
		RiskRewardRatio:  3.73,
		Timestamp:        time.Now().UTC(),
	}
}

func TestPostgresRepository_LogOpportunity(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	repo := &PostgresRepository{Pool: pool}
	cycleID := uuid.New()

	opp := sampleOpportunity("XUSDT")
	err := repo.LogOpportunity(ctx, cycleID, opp)
	assert.NoError(t, err)

	var (
		symbol, buyExchange, profit string
		riskReward                  float64
	)
	err = pool.QueryRow(ctx,
		"SELECT symbol, buy_exchange, profit::text, risk_reward_ratio FROM opportunities WHERE cycle_id = $1", cycleID,
	).Scan(&symbol, &buyExchange, &profit, &riskReward)
	require.NoError(t, err)
	assert.Equal(t, opp.Symbol, symbol)
	assert.Equal(t, opp.BuyExchange, buyExchange)
	assert.True(t, opp.Profit.Equal(decimal.RequireFromString(profit)))
	assert.Equal(t, opp.RiskRewardRatio, riskReward)
}

func TestPostgresRepository_Record(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	repo := &PostgresRepository{Pool: pool}
	cycleID := uuid.New()

	opps := []model.Opportunity{sampleOpportunity("AUSDT"), sampleOpportunity("BUSDT")}
	require.NoError(t, repo.Record(ctx, cycleID, opps))

	rows, err := pool.Query(ctx, "SELECT symbol, rank FROM opportunities WHERE cycle_id = $1 ORDER BY rank", cycleID)
	require.NoError(t, err)
	defer rows.Close()

	var got []string
	for rows.Next() {
		var (
			symbol string
			rank   int
		)
		require.NoError(t, rows.Scan(&symbol, &rank))
		assert.Equal(t, len(got)+1, rank)
		got = append(got, symbol)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"AUSDT", "BUSDT"}, got)
}
