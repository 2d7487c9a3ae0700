package awaitprovisioning

import (
	"context"

	"tenant-provisioning/internal/common/logger"
	"tenant-provisioning/internal/provisioning"
)

type Input struct {
	TenantName    string `json:"tenantName"`
	TenantID      int64  `json:"tenantId,omitempty"`
	IdentityOrgID string `json:"identityOrgId,omitempty"`
	SetupRunID    string `json:"setupRunId,omitempty"`
}

type Output struct {
	Phase       string `json:"provisioningPhase"`
	Percent     int    `json:"provisioningPercent"`
	TenantReady bool   `json:"tenantReady"`
}

// Awaiter blocks until a tenant's provisioning is terminal.
type Awaiter interface {
	Await(ctx context.Context, tenantName string, onUpdate provisioning.UpdateFunc) (provisioning.Progress, error)
}

// ServiceDependencies for the await service. Notifier and Ledger are optional.
type ServiceDependencies struct {
	Poller   Awaiter
	Notifier provisioning.Notifier
	Ledger   provisioning.Ledger
	Logger   logger.Logger
}
