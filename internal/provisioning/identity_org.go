package provisioning

import (
	"context"
	"regexp"
	"strings"

	"tenant-provisioning/internal/common/auth"
	"tenant-provisioning/internal/common/errors"
	"tenant-provisioning/internal/common/logger"
)

// IdentityOrgProvisioner creates the identity-side organization for a tenant.
type IdentityOrgProvisioner struct {
	identity IdentityService
	logger   logger.Logger
}

func NewIdentityOrgProvisioner(identity IdentityService, log logger.Logger) *IdentityOrgProvisioner {
	return &IdentityOrgProvisioner{identity: identity, logger: log}
}

// Provision creates the organization and resolves its generated id.
//
// A name collision returns TENANT_ALREADY_EXISTS and nothing else is called.
// An organization that cannot be found right after creation returns
// IDENTITY_INCONSISTENT.
func (p *IdentityOrgProvisioner) Provision(ctx context.Context, req ProvisioningRequest) (IdentityOrgRef, error) {
	org := auth.Organization{
		Name:    req.TenantName,
		Alias:   DeriveAlias(req.TenantName),
		Enabled: true,
		Attributes: map[string][]string{
			"createdBy": {req.ActingPrincipalID},
		},
	}
	if req.Domain != "" {
		org.Domains = []auth.OrganizationDomain{{Name: req.Domain}}
		org.Attributes["domain"] = []string{req.Domain}
	}

	if err := p.identity.CreateOrganization(ctx, org); err != nil {
		if errors.CodeOf(err) == errors.ErrCodeIdentityConflict {
			return IdentityOrgRef{}, errors.NewTenantAlreadyExistsError(req.TenantName)
		}
		return IdentityOrgRef{}, errors.NewIdentityOrgCreationFailedError(req.TenantName, err)
	}

	orgs, err := p.identity.SearchOrganizations(ctx, req.TenantName)
	if err != nil {
		inconsistent := errors.NewIdentityInconsistentError(req.TenantName)
		inconsistent.Details += ", lookup error: " + err.Error()
		return IdentityOrgRef{}, inconsistent
	}

	for _, o := range orgs {
		if strings.EqualFold(o.Name, req.TenantName) && o.ID != "" {
			p.logger.Info("Identity organization created", map[string]interface{}{
				logger.FieldTenantName: req.TenantName,
				logger.FieldOrgID:      o.ID,
			})
			return IdentityOrgRef{OrgID: o.ID, Name: o.Name}, nil
		}
	}

	return IdentityOrgRef{}, errors.NewIdentityInconsistentError(req.TenantName)
}

var aliasInvalid = regexp.MustCompile(`[^a-z0-9]+`)

// DeriveAlias turns a display name into a URL-safe alias: "Acme Corp." ->
// "acme-corp".
func DeriveAlias(name string) string {
	alias := aliasInvalid.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-")
	return strings.Trim(alias, "-")
}
