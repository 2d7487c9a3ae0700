package provisioning

import (
	"context"
	"database/sql"
	"database/sql/driver"
	stderrors "errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLedgerMock(t *testing.T) (*PostgresLedger, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresLedger(db), mock
}

func TestPostgresLedger_StartRun(t *testing.T) {
	ledger, mock := newLedgerMock(t)

	mock.ExpectExec(`INSERT INTO tenant_setup_runs \(run_id, tenant_name, principal_id, status\)`).
		WithArgs("run-1", "Acme", "user-1", "running").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := ledger.StartRun(context.Background(), "run-1", ProvisioningRequest{TenantName: "Acme", ActingPrincipalID: "user-1"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLedger_RecordStep(t *testing.T) {
	ledger, mock := newLedgerMock(t)

	mock.ExpectExec(`INSERT INTO tenant_setup_steps`).
		WithArgs("run-1", StepAdminGroup, "degraded", sql.NullString{String: "forbidden", Valid: true}, int64(1500)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO tenant_setup_steps`).
		WithArgs("run-1", StepMembership, "ok", sql.NullString{}, int64(0)).
		WillReturnResult(sqlmock.NewResult(2, 1))

	require.NoError(t, ledger.RecordStep(context.Background(), "run-1", StepAdminGroup, StepDegraded, "forbidden", 1500*time.Millisecond))
	require.NoError(t, ledger.RecordStep(context.Background(), "run-1", StepMembership, StepOK, "", 0))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLedger_FinishRun(t *testing.T) {
	tests := []struct {
		name string
		res  RunResult
		args []driver.Value
	}{
		{
			name: "completed",
			res:  RunResult{Status: RunCompleted, IdentityOrgID: "org-1", TenantID: 42, Mode: ModeSynchronousComplete},
			args: []driver.Value{
				"run-1", "completed",
				sql.NullString{String: "org-1", Valid: true},
				sql.NullInt64{Int64: 42, Valid: true},
				sql.NullString{String: "SYNCHRONOUS_COMPLETE", Valid: true},
				sql.NullString{}, sql.NullString{},
			},
		},
		{
			name: "orphaned",
			res: RunResult{
				Status:        RunIdentityOrphaned,
				IdentityOrgID: "org-1",
				ErrorCode:     "TENANT_CREATION_FAILED",
				ErrorMessage:  "quota",
			},
			args: []driver.Value{
				"run-1", "identity_orphaned",
				sql.NullString{String: "org-1", Valid: true},
				sql.NullInt64{},
				sql.NullString{},
				sql.NullString{String: "TENANT_CREATION_FAILED", Valid: true},
				sql.NullString{String: "quota", Valid: true},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger, mock := newLedgerMock(t)

			mock.ExpectExec(`UPDATE tenant_setup_runs`).
				WithArgs(tt.args...).
				WillReturnResult(sqlmock.NewResult(0, 1))

			require.NoError(t, ledger.FinishRun(context.Background(), "run-1", tt.res))
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresLedger_FinishRunKeepsRecordedColumns(t *testing.T) {
	ledger, mock := newLedgerMock(t)

	mock.ExpectExec(`identity_org_id = COALESCE\(\$3, identity_org_id\),\s+tenant_id = COALESCE\(\$4, tenant_id\)`).
		WithArgs("run-1", "completed", sql.NullString{}, sql.NullInt64{}, sql.NullString{}, sql.NullString{}, sql.NullString{}).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, ledger.FinishRun(context.Background(), "run-1", RunResult{Status: RunCompleted}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCloseRun(t *testing.T) {
	ref := TenantRef{TenantID: 42, IdentityOrgID: "org-1"}

	tests := []struct {
		name     string
		runID    string
		progress Progress
		want     []RunResult
	}{
		{
			name:     "completed",
			runID:    "run-1",
			progress: Progress{Phase: PhaseCompleted, Percent: 100},
			want:     []RunResult{{Status: RunCompleted, IdentityOrgID: "org-1", TenantID: 42}},
		},
		{
			name:     "failed leaves the org orphaned",
			runID:    "run-1",
			progress: Progress{Phase: PhaseFailed, Percent: 39, FailureReason: "disk quota exceeded"},
			want: []RunResult{{
				Status:        RunIdentityOrphaned,
				IdentityOrgID: "org-1",
				TenantID:      42,
				ErrorCode:     "TENANT_PROVISIONING_FAILED",
				ErrorMessage:  "disk quota exceeded",
			}},
		},
		{
			name:     "still running",
			runID:    "run-1",
			progress: Progress{Phase: PhaseRunningMigrations, Percent: 39},
		},
		{
			name:     "no run id",
			progress: Progress{Phase: PhaseCompleted, Percent: 100},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := &memoryLedger{}
			require.NoError(t, CloseRun(context.Background(), ledger, tt.runID, ref, tt.progress))
			assert.Equal(t, tt.want, ledger.results)
		})
	}

	assert.NoError(t, CloseRun(context.Background(), nil, "run-1", ref, Progress{Phase: PhaseCompleted}))
}

func TestPostgresLedger_WriteError(t *testing.T) {
	ledger, mock := newLedgerMock(t)

	mock.ExpectExec(`INSERT INTO tenant_setup_runs`).WillReturnError(stderrors.New("relation does not exist"))

	err := ledger.StartRun(context.Background(), "run-1", ProvisioningRequest{TenantName: "Acme"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert setup run")
}

func TestPostgresLedger_ListOrphaned(t *testing.T) {
	ledger, mock := newLedgerMock(t)
	updated := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"run_id", "tenant_name", "identity_org_id", "error_code", "updated_at"}).
		AddRow("run-2", "Globex", "org-2", "MEMBERSHIP_FAILED", updated).
		AddRow("run-1", "Acme", "org-1", "TENANT_CREATION_FAILED", updated.Add(-time.Hour))
	mock.ExpectQuery(`SELECT run_id, tenant_name`).
		WithArgs("identity_orphaned", 10).
		WillReturnRows(rows)

	runs, err := ledger.ListOrphaned(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].RunID)
	assert.Equal(t, "org-2", runs[0].IdentityOrgID)
	assert.Equal(t, "MEMBERSHIP_FAILED", runs[0].ErrorCode)
	assert.Equal(t, updated, runs[0].UpdatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}
