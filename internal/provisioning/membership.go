package provisioning

import (
	"context"

	"tenant-provisioning/internal/common/errors"
	"tenant-provisioning/internal/common/logger"
)

// MembershipBinder adds the acting principal to a new organization.
type MembershipBinder struct {
	identity IdentityService
	logger   logger.Logger
}

func NewMembershipBinder(identity IdentityService, log logger.Logger) *MembershipBinder {
	return &MembershipBinder{identity: identity, logger: log}
}

// Bind returns MEMBERSHIP_FAILED on any error.
func (b *MembershipBinder) Bind(ctx context.Context, org IdentityOrgRef, principalID string) error {
	if err := b.identity.AddOrganizationMember(ctx, org.OrgID, principalID); err != nil {
		return errors.NewMembershipFailedError(org.OrgID, principalID, err)
	}

	b.logger.Debug("Principal added to organization", map[string]interface{}{
		logger.FieldOrgID: org.OrgID,
		"principalId":     principalID,
	})
	return nil
}
