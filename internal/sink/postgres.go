package sink

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pingsantohq/ag53230a/pkg/types"
)

const createSamplesPostgres = `
CREATE TABLE IF NOT EXISTS frequency_samples (
    run_id TEXT NOT NULL,
    recorded_at TIMESTAMPTZ NOT NULL,
    epoch DOUBLE PRECISION NOT NULL,
    mjd DOUBLE PRECISION NOT NULL,
    frequency TEXT NOT NULL,
    hz DOUBLE PRECISION NOT NULL,
    PRIMARY KEY (run_id, recorded_at)
)`

const insertSamplePostgres = `
INSERT INTO frequency_samples (run_id, recorded_at, epoch, mjd, frequency, hz)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (run_id, recorded_at) DO NOTHING`

// Postgres appends samples to the frequency_samples table.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects using the supplied connection string and makes sure
// the table exists.
func NewPostgres(ctx context.Context, connString string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(ctx, createSamplesPostgres); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Name() string { return "postgres" }

func (p *Postgres) Send(ctx context.Context, samples []types.Sample) error {
	if len(samples) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, s := range samples {
		batch.Queue(insertSamplePostgres, s.RunID, s.Timestamp, s.Epoch, s.MJD, s.Frequency, s.Hz)
	}
	if err := p.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert samples: %w", err)
	}
	return nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
