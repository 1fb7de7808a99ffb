// Package database journals reported opportunities to PostgreSQL.
package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"arbscout/internal/config"
	"arbscout/internal/model"
)

// Repository defines the standard interface for database operations.
type Repository interface {
	Migrate(ctx context.Context) error
	LogOpportunity(ctx context.Context, cycleID uuid.UUID, opp model.Opportunity) error
}

const createOpportunitiesSQL = `
CREATE TABLE IF NOT EXISTS opportunities (
	id SERIAL PRIMARY KEY,
	cycle_id UUID NOT NULL,
	rank INTEGER NOT NULL,
	timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	symbol VARCHAR(32) NOT NULL,
	buy_exchange VARCHAR(50) NOT NULL,
	sell_exchange VARCHAR(50) NOT NULL,
	buy_price NUMERIC NOT NULL,
	sell_price NUMERIC NOT NULL,
	volume NUMERIC NOT NULL,
	cost NUMERIC NOT NULL,
	revenue NUMERIC NOT NULL,
	profit NUMERIC NOT NULL,
	profit_percentage DOUBLE PRECISION NOT NULL,
	market_depth NUMERIC NOT NULL,
	volatility DOUBLE PRECISION NOT NULL,
	stop_loss NUMERIC NOT NULL,
	risk_reward_ratio DOUBLE PRECISION NOT NULL
);
CREATE INDEX IF NOT EXISTS opportunities_cycle_idx ON opportunities (cycle_id);`

const insertOpportunitySQL = `
INSERT INTO opportunities (
	cycle_id, rank, timestamp, symbol, buy_exchange, sell_exchange,
	buy_price, sell_price, volume, cost, revenue, profit, profit_percentage,
	market_depth, volatility, stop_loss, risk_reward_ratio
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

// PostgresRepository implements Repository on a pgx connection pool.
type PostgresRepository struct {
	Pool *pgxpool.Pool
}

// NewPostgresRepository connects to the configured database and verifies the connection.
func NewPostgresRepository(ctx context.Context, cfg config.DatabaseConfig) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PostgresRepository{Pool: pool}, nil
}

func (r *PostgresRepository) Close() {
	r.Pool.Close()
}

func (r *PostgresRepository) Migrate(ctx context.Context) error {
	if _, err := r.Pool.Exec(ctx, createOpportunitiesSQL); err != nil {
		return fmt.Errorf("create opportunities table: %w", err)
	}
	return nil
}

func (r *PostgresRepository) LogOpportunity(ctx context.Context, cycleID uuid.UUID, opp model.Opportunity) error {
	if _, err := r.Pool.Exec(ctx, insertOpportunitySQL, insertArgs(cycleID, 1, opp)...); err != nil {
		return fmt.Errorf("insert opportunity %s: %w", opp.Symbol, err)
	}
	return nil
}

// Record stores a ranked cycle result in one batch. Rank starts at 1.
func (r *PostgresRepository) Record(ctx context.Context, cycleID uuid.UUID, opps []model.Opportunity) error {
	batch := &pgx.Batch{}
	for i, opp := range opps {
		batch.Queue(insertOpportunitySQL, insertArgs(cycleID, i+1, opp)...)
	}
	if err := r.Pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("record cycle %s: %w", cycleID, err)
	}
	return nil
}

func insertArgs(cycleID uuid.UUID, rank int, opp model.Opportunity) []any {
	return []any{
		cycleID, rank, opp.Timestamp, opp.Symbol, opp.BuyExchange, opp.SellExchange,
		opp.BuyPrice, opp.SellPrice, opp.Volume, opp.Cost, opp.Revenue, opp.Profit,
		opp.ProfitPercentage, opp.MarketDepth, opp.Volatility, opp.StopLoss, opp.RiskRewardRatio,
	}
}
