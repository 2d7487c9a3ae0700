package provisioning

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenant-provisioning/internal/common/errors"
	"tenant-provisioning/internal/common/logger"
)

var testOrg = IdentityOrgRef{OrgID: "org-1", Name: "Acme"}

func TestBackendTenantProvisioner_FastSuccess(t *testing.T) {
	app := &fakeApp{}
	p := NewBackendTenantProvisioner(app, time.Second, logger.NewTestLogger(t))

	ref, mode, err := p.Provision(context.Background(), ProvisioningRequest{TenantName: "Acme", Domain: "acme.io"}, testOrg)
	require.NoError(t, err)

	assert.Equal(t, ModeSynchronousComplete, mode)
	assert.Equal(t, int64(42), ref.TenantID)
	assert.Equal(t, "org-1", ref.IdentityOrgID)
	require.Len(t, app.createReqs, 1)
	assert.Equal(t, "Acme", app.createReqs[0].Name)
	assert.Equal(t, "org-1", app.createReqs[0].IdentityOrgID)
	assert.Equal(t, "acme.io", app.createReqs[0].Domain)
}

func TestBackendTenantProvisioner_TimeoutAwaitsProgress(t *testing.T) {
	app := &fakeApp{createFn: func(ctx context.Context) (int64, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	}}
	p := NewBackendTenantProvisioner(app, 20*time.Millisecond, logger.NewTestLogger(t))

	ref, mode, err := p.Provision(context.Background(), ProvisioningRequest{TenantName: "Acme"}, testOrg)

	require.NoError(t, err)
	assert.Equal(t, ModeAwaitingProgress, mode)
	assert.Zero(t, ref.TenantID)
	assert.Equal(t, 1, app.creates())
}

func TestBackendTenantProvisioner_GatewayTimeoutAwaitsProgress(t *testing.T) {
	app := &fakeApp{createFn: func(context.Context) (int64, error) {
		return 0, errors.NewTransportTimeoutError("application-service", stderrors.New("504 Gateway Timeout"))
	}}
	p := NewBackendTenantProvisioner(app, time.Second, logger.NewTestLogger(t))

	_, mode, err := p.Provision(context.Background(), ProvisioningRequest{TenantName: "Acme"}, testOrg)

	require.NoError(t, err)
	assert.Equal(t, ModeAwaitingProgress, mode)
}

func TestBackendTenantProvisioner_CallerCancelIsError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	app := &fakeApp{createFn: func(ctx context.Context) (int64, error) {
		cancel()
		<-ctx.Done()
		return 0, ctx.Err()
	}}
	p := NewBackendTenantProvisioner(app, time.Second, logger.NewTestLogger(t))

	_, mode, err := p.Provision(ctx, ProvisioningRequest{TenantName: "Acme"}, testOrg)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, mode)
}

func TestBackendTenantProvisioner_ExplicitFailure(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantReason string
	}{
		{
			name:       "service reason",
			err:        errors.NewTenantCreationFailedError("Acme", "schema quota reached"),
			wantReason: "schema quota reached",
		},
		{
			name:       "other error",
			err:        stderrors.New("connection refused"),
			wantReason: "connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := &fakeApp{createFn: func(context.Context) (int64, error) { return 0, tt.err }}
			p := NewBackendTenantProvisioner(app, time.Second, logger.NewTestLogger(t))

			_, _, err := p.Provision(context.Background(), ProvisioningRequest{TenantName: "Acme"}, testOrg)

			assert.ErrorIs(t, err, errors.ErrTenantCreationFailed)
			assert.Contains(t, err.Error(), tt.wantReason)
			assert.Equal(t, 1, app.creates())
		})
	}
}
