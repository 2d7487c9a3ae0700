package tenantsetup

import (
	"context"

	"tenant-provisioning/internal/common/logger"
	"tenant-provisioning/internal/provisioning"
)

type Service struct {
	orchestrator Orchestrator
	logger       logger.Logger
}

func NewService(deps ServiceDependencies) *Service {
	return &Service{
		orchestrator: deps.Orchestrator,
		logger:       deps.Logger,
	}
}

// Execute runs the saga and flattens the outcome into process variables.
func (s *Service) Execute(ctx context.Context, input *Input) (*Output, error) {
	outcome, err := s.orchestrator.SetupTenant(ctx, provisioning.ProvisioningRequest{
		TenantName:        input.TenantName,
		Domain:            input.Domain,
		ActingPrincipalID: input.ActingPrincipalID,
	})
	if err != nil {
		return nil, err
	}

	if len(outcome.Warnings) > 0 {
		s.logger.Warn("Tenant setup finished with warnings", map[string]interface{}{
			logger.FieldTenantName: outcome.TenantName,
			logger.FieldRunID:      outcome.RunID,
			"warnings":             outcome.Warnings,
		})
	}

	return &Output{
		SetupRunID:         outcome.RunID,
		IdentityOrgID:      outcome.Org.OrgID,
		TenantID:           outcome.Tenant.TenantID,
		Mode:               string(outcome.Mode),
		AwaitProgress:      outcome.Mode == provisioning.ModeAwaitingProgress,
		AdminGroupID:       outcome.AdminGroup.GroupID,
		AdminGroupAssigned: outcome.AdminGroup.AssignmentSucceeded,
		Warnings:           outcome.Warnings,
	}, nil
}
