package tenantsetup

import (
	"context"

	"tenant-provisioning/internal/common/logger"
	"tenant-provisioning/internal/provisioning"
)

type Input struct {
	TenantName        string `json:"tenantName"`
	Domain            string `json:"domain,omitempty"`
	ActingPrincipalID string `json:"actingPrincipalId"`
}

// Output is merged into the process instance. awaitProgress routes the
// process to the await-provisioning task.
type Output struct {
	SetupRunID         string   `json:"setupRunId"`
	IdentityOrgID      string   `json:"identityOrgId"`
	TenantID           int64    `json:"tenantId,omitempty"`
	Mode               string   `json:"setupMode"`
	AwaitProgress      bool     `json:"awaitProgress"`
	AdminGroupID       string   `json:"adminGroupId,omitempty"`
	AdminGroupAssigned bool     `json:"adminGroupAssigned"`
	Warnings           []string `json:"setupWarnings,omitempty"`
}

// Orchestrator runs the setup saga.
type Orchestrator interface {
	SetupTenant(ctx context.Context, req provisioning.ProvisioningRequest) (*provisioning.SetupOutcome, error)
}

type ServiceDependencies struct {
	Orchestrator Orchestrator
	Logger       logger.Logger
}
