package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"tenant-provisioning/internal/common/config"

	_ "github.com/lib/pq"
)

// ledgerSchema creates the setup-run ledger tables if they are missing.
const ledgerSchema = `
CREATE TABLE IF NOT EXISTS tenant_setup_runs (
    run_id          UUID PRIMARY KEY,
    tenant_name     TEXT NOT NULL,
    principal_id    TEXT NOT NULL,
    status          TEXT NOT NULL,
    identity_org_id TEXT,
    tenant_id       BIGINT,
    mode            TEXT,
    error_code      TEXT,
    error_message   TEXT,
    started_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_tenant_setup_runs_tenant ON tenant_setup_runs (tenant_name);
CREATE INDEX IF NOT EXISTS idx_tenant_setup_runs_status ON tenant_setup_runs (status);

CREATE TABLE IF NOT EXISTS tenant_setup_steps (
    run_id      UUID NOT NULL REFERENCES tenant_setup_runs (run_id) ON DELETE CASCADE,
    step        TEXT NOT NULL,
    status      TEXT NOT NULL,
    detail      TEXT,
    duration_ms BIGINT NOT NULL DEFAULT 0,
    recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_tenant_setup_steps_run ON tenant_setup_steps (run_id);
`

type PostgresClient struct {
	DB *sql.DB
}

func NewPostgres(cfg config.PostgresConfig) (*PostgresClient, error) {
	db, err := sql.Open("postgres", cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdle)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &PostgresClient{DB: db}, nil
}

func (c *PostgresClient) Ping(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

// EnsureSchema applies the ledger DDL. Safe to run on every start.
func (c *PostgresClient) EnsureSchema(ctx context.Context) error {
	if _, err := c.DB.ExecContext(ctx, ledgerSchema); err != nil {
		return fmt.Errorf("failed to apply ledger schema: %w", err)
	}
	return nil
}

func (c *PostgresClient) Close() error {
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}
