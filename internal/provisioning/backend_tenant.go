package provisioning

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"tenant-provisioning/internal/common/appservice"
	"tenant-provisioning/internal/common/errors"
	httpclient "tenant-provisioning/internal/common/http"
	"tenant-provisioning/internal/common/logger"
)

// BackendTenantProvisioner creates the tenant in the application service.
// The call is never retried: a timed out request may still be creating the
// tenant.
type BackendTenantProvisioner struct {
	app     ApplicationService
	timeout time.Duration
	logger  logger.Logger
}

func NewBackendTenantProvisioner(app ApplicationService, timeout time.Duration, log logger.Logger) *BackendTenantProvisioner {
	return &BackendTenantProvisioner{app: app, timeout: timeout, logger: log}
}

// Provision returns SYNCHRONOUS_COMPLETE with the tenant id, or
// AWAITING_PROGRESS with a zero id when the call timed out. A caller
// cancellation is an error, not a timeout.
func (p *BackendTenantProvisioner) Provision(ctx context.Context, req ProvisioningRequest, org IdentityOrgRef) (TenantRef, SetupMode, error) {
	ref := TenantRef{IdentityOrgID: org.OrgID}

	callCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	id, err := p.app.CreateTenant(callCtx, appservice.CreateTenantRequest{
		Name:          req.TenantName,
		IdentityOrgID: org.OrgID,
		Domain:        req.Domain,
	})
	if err == nil {
		ref.TenantID = id
		return ref, ModeSynchronousComplete, nil
	}

	if stderrors.Is(ctx.Err(), context.Canceled) {
		return ref, "", fmt.Errorf("tenant creation cancelled: %w", ctx.Err())
	}

	if isTransportTimeout(err) {
		p.logger.Warn("Tenant creation timed out, outcome unknown", map[string]interface{}{
			logger.FieldTenantName: req.TenantName,
			logger.FieldOrgID:      org.OrgID,
			"timeout":              p.timeout.String(),
			"error":                err.Error(),
		})
		return ref, ModeAwaitingProgress, nil
	}

	if errors.CodeOf(err) == errors.ErrCodeTenantCreationFailed {
		return ref, "", err
	}
	return ref, "", errors.NewTenantCreationFailedError(req.TenantName, err.Error())
}

func isTransportTimeout(err error) bool {
	return httpclient.IsTimeout(err) || errors.CodeOf(err) == errors.ErrCodeTransportTimeout
}
