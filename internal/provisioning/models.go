// Package provisioning implements the tenant setup saga across the identity
// and application services, and the progress tracking that follows it.
package provisioning

import (
	"context"
	"strings"

	"tenant-provisioning/internal/common/appservice"
	"tenant-provisioning/internal/common/auth"
	commonaws "tenant-provisioning/internal/common/aws"
)

// DefaultAdminGroupName is the privileged group created in every new org.
const DefaultAdminGroupName = "Admins"

// ProvisioningRequest is the caller's setup request.
type ProvisioningRequest struct {
	TenantName        string `json:"tenantName"`
	Domain            string `json:"domain,omitempty"`
	ActingPrincipalID string `json:"actingPrincipalId"`
}

// Normalized returns the request with surrounding whitespace removed.
func (r ProvisioningRequest) Normalized() ProvisioningRequest {
	return ProvisioningRequest{
		TenantName:        strings.TrimSpace(r.TenantName),
		Domain:            strings.TrimSpace(r.Domain),
		ActingPrincipalID: strings.TrimSpace(r.ActingPrincipalID),
	}
}

// IdentityOrgRef identifies the organization created in the identity service.
type IdentityOrgRef struct {
	OrgID string `json:"orgId"`
	Name  string `json:"name"`
}

// AdminGroupAssignmentOutcome is the result of the admin group step. It is
// never fatal to the saga.
type AdminGroupAssignmentOutcome struct {
	GroupID             string `json:"groupId,omitempty"`
	GroupName           string `json:"groupName"`
	WasCreated          bool   `json:"wasCreated"`
	AssignmentSucceeded bool   `json:"assignmentSucceeded"`
	VerificationPassed  bool   `json:"verificationPassed"`
	Attempts            int    `json:"attempts"`
	Error               string `json:"error,omitempty"`
}

// TenantRef identifies the application-side tenant. TenantID is 0 when the
// create call timed out; it is provisional until progress reaches COMPLETED.
type TenantRef struct {
	TenantID      int64  `json:"tenantId"`
	IdentityOrgID string `json:"identityOrgId"`
}

// SetupMode tells the caller whether the tenant is ready or still being
// provisioned.
type SetupMode string

const (
	ModeSynchronousComplete SetupMode = "SYNCHRONOUS_COMPLETE"
	ModeAwaitingProgress    SetupMode = "AWAITING_PROGRESS"
)

// SetupOutcome aggregates a successful (possibly degraded) setup.
type SetupOutcome struct {
	RunID      string                      `json:"runId"`
	TenantName string                      `json:"tenantName"`
	Org        IdentityOrgRef              `json:"org"`
	AdminGroup AdminGroupAssignmentOutcome `json:"adminGroup"`
	Tenant     TenantRef                   `json:"tenant"`
	Mode       SetupMode                   `json:"mode"`
	Warnings   []string                    `json:"warnings,omitempty"`
}

// IdentityService is the identity/organization backend.
type IdentityService interface {
	CreateOrganization(ctx context.Context, org auth.Organization) error
	SearchOrganizations(ctx context.Context, name string) ([]auth.Organization, error)
	AddOrganizationMember(ctx context.Context, orgID, userID string) error
	SearchGroups(ctx context.Context, name string) ([]auth.Group, error)
	CreateGroup(ctx context.Context, path string) (string, error)
	AddUserToGroup(ctx context.Context, userID, groupID string) error
	ListUserGroups(ctx context.Context, userID string) ([]auth.Group, error)
}

// ApplicationService is the backend owning tenant schemas and data.
type ApplicationService interface {
	CreateTenant(ctx context.Context, req appservice.CreateTenantRequest) (int64, error)
	ReadProgress(ctx context.Context, tenantName string) (string, error)
}

// TenantEvent is a provisioning milestone published to subscribers.
type TenantEvent = commonaws.TenantEvent

// Notifier receives terminal provisioning events.
type Notifier interface {
	NotifyTenantEvent(ctx context.Context, ev TenantEvent) error
}
