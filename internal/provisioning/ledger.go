package provisioning

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"tenant-provisioning/internal/common/errors"
)

// RunStatus is the lifecycle state of a setup run in the ledger.
type RunStatus string

const (
	RunRunning          RunStatus = "running"
	RunCompleted        RunStatus = "completed"
	RunAwaitingProgress RunStatus = "awaiting_progress"
	RunFailed           RunStatus = "failed"
	// RunIdentityOrphaned marks a run that failed after the identity org was
	// created. The org is left in place for cleanup.
	RunIdentityOrphaned RunStatus = "identity_orphaned"
)

// StepStatus is the result of one saga step.
type StepStatus string

const (
	StepOK       StepStatus = "ok"
	StepFailed   StepStatus = "failed"
	StepDegraded StepStatus = "degraded"
	StepTimeout  StepStatus = "timeout"
)

// Step names, used for the ledger, metrics and spans.
const (
	StepIdentityOrg   = "identity_org"
	StepMembership    = "membership"
	StepAdminGroup    = "admin_group"
	StepBackendTenant = "backend_tenant"
)

// RunResult is written when a run finishes.
type RunResult struct {
	Status        RunStatus
	IdentityOrgID string
	TenantID      int64
	Mode          SetupMode
	ErrorCode     string
	ErrorMessage  string
}

// Ledger records setup runs. Writes are best-effort: the orchestrator logs
// ledger errors and carries on.
type Ledger interface {
	StartRun(ctx context.Context, runID string, req ProvisioningRequest) error
	RecordStep(ctx context.Context, runID, step string, status StepStatus, detail string, took time.Duration) error
	FinishRun(ctx context.Context, runID string, res RunResult) error
}

// PostgresLedger writes to tenant_setup_runs and tenant_setup_steps.
type PostgresLedger struct {
	db *sql.DB
}

func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

func (l *PostgresLedger) StartRun(ctx context.Context, runID string, req ProvisioningRequest) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO tenant_setup_runs (run_id, tenant_name, principal_id, status) VALUES ($1, $2, $3, $4)`,
		runID, req.TenantName, req.ActingPrincipalID, string(RunRunning),
	)
	if err != nil {
		return fmt.Errorf("failed to insert setup run: %w", err)
	}
	return nil
}

func (l *PostgresLedger) RecordStep(ctx context.Context, runID, step string, status StepStatus, detail string, took time.Duration) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO tenant_setup_steps (run_id, step, status, detail, duration_ms) VALUES ($1, $2, $3, $4, $5)`,
		runID, step, string(status), nullString(detail), took.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert setup step: %w", err)
	}
	return nil
}

// FinishRun sets the final status of a run. An empty org id, tenant id or
// mode keeps the value already recorded.
func (l *PostgresLedger) FinishRun(ctx context.Context, runID string, res RunResult) error {
	var tenantID sql.NullInt64
	if res.TenantID != 0 {
		tenantID = sql.NullInt64{Int64: res.TenantID, Valid: true}
	}

	_, err := l.db.ExecContext(ctx,
		`UPDATE tenant_setup_runs
		    SET status = $2,
		        identity_org_id = COALESCE($3, identity_org_id),
		        tenant_id = COALESCE($4, tenant_id),
		        mode = COALESCE($5, mode),
		        error_code = $6, error_message = $7, updated_at = now()
		  WHERE run_id = $1`,
		runID, string(res.Status), nullString(res.IdentityOrgID), tenantID,
		nullString(string(res.Mode)), nullString(res.ErrorCode), nullString(res.ErrorMessage),
	)
	if err != nil {
		return fmt.Errorf("failed to update setup run: %w", err)
	}
	return nil
}

// CloseRun finishes a run that was left awaiting_progress once provisioning
// is terminal. COMPLETED closes it as completed. FAILED leaves the identity
// org behind, so the run becomes identity_orphaned. A nil ledger, an empty
// run id or a non-terminal progress is a no-op.
func CloseRun(ctx context.Context, l Ledger, runID string, ref TenantRef, p Progress) error {
	if l == nil || runID == "" || !p.Terminal() {
		return nil
	}

	res := RunResult{
		Status:        RunCompleted,
		IdentityOrgID: ref.IdentityOrgID,
		TenantID:      ref.TenantID,
	}
	if p.Phase == PhaseFailed {
		res.Status = RunIdentityOrphaned
		res.ErrorCode = string(errors.ErrCodeProvisioningFailed)
		res.ErrorMessage = p.FailureReason
	}
	return l.FinishRun(ctx, runID, res)
}

// OrphanedRun is a run whose identity org needs manual cleanup.
type OrphanedRun struct {
	RunID         string
	TenantName    string
	IdentityOrgID string
	ErrorCode     string
	UpdatedAt     time.Time
}

// ListOrphaned returns runs in identity_orphaned status, newest first.
func (l *PostgresLedger) ListOrphaned(ctx context.Context, limit int) ([]OrphanedRun, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT run_id, tenant_name, COALESCE(identity_org_id, ''), COALESCE(error_code, ''), updated_at
		   FROM tenant_setup_runs
		  WHERE status = $1
		  ORDER BY updated_at DESC
		  LIMIT $2`,
		string(RunIdentityOrphaned), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query orphaned runs: %w", err)
	}
	defer rows.Close()

	var out []OrphanedRun
	for rows.Next() {
		var r OrphanedRun
		if err := rows.Scan(&r.RunID, &r.TenantName, &r.IdentityOrgID, &r.ErrorCode, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan orphaned run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

type nopLedger struct{}

func (nopLedger) StartRun(context.Context, string, ProvisioningRequest) error { return nil }
func (nopLedger) RecordStep(context.Context, string, string, StepStatus, string, time.Duration) error {
	return nil
}
func (nopLedger) FinishRun(context.Context, string, RunResult) error { return nil }
