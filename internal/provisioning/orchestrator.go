package provisioning

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"tenant-provisioning/internal/common/errors"
	"tenant-provisioning/internal/common/logger"
	"tenant-provisioning/internal/common/metrics"
	"tenant-provisioning/internal/common/observability"
)

const (
	maxTenantNameLength = 255

	WarningAdminNotAssigned = "admin privileges not assigned, fix later"
	WarningAdminUnverified  = "admin group membership could not be verified"
)

var domainPattern = regexp.MustCompile(`^(?i)[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?(\.[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?)+$`)

// Options tunes the orchestrator. Zero values fall back to defaults.
type Options struct {
	AdminGroupName     string
	AssignRetryBackoff time.Duration
	CreateTimeout      time.Duration
}

// Dependencies are the collaborators of a SetupOrchestrator. Ledger,
// Progress and Observability are optional.
type Dependencies struct {
	Identity      IdentityService
	Application   ApplicationService
	Ledger        Ledger
	Progress      ProgressStore
	Observability *observability.Observability
	Logger        logger.Logger
}

// SetupOrchestrator runs the tenant setup saga: identity org, membership,
// admin group, then the application tenant.
type SetupOrchestrator struct {
	identityOrg *IdentityOrgProvisioner
	membership  *MembershipBinder
	adminGroup  *AdminGroupService
	backend     *BackendTenantProvisioner
	ledger      Ledger
	progress    ProgressStore
	obs         *observability.Observability
	logger      logger.Logger
	newRunID    func() string
}

func NewSetupOrchestrator(deps Dependencies, opts Options) *SetupOrchestrator {
	log := deps.Logger
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	ledger := deps.Ledger
	if ledger == nil {
		ledger = nopLedger{}
	}
	progress := deps.Progress
	if progress == nil {
		progress = nopProgressStore{}
	}

	return &SetupOrchestrator{
		identityOrg: NewIdentityOrgProvisioner(deps.Identity, log),
		membership:  NewMembershipBinder(deps.Identity, log),
		adminGroup:  NewAdminGroupService(deps.Identity, opts.AdminGroupName, opts.AssignRetryBackoff, log),
		backend:     NewBackendTenantProvisioner(deps.Application, opts.CreateTimeout, log),
		ledger:      ledger,
		progress:    progress,
		obs:         deps.Observability,
		logger:      log,
		newRunID:    func() string { return uuid.NewString() },
	}
}

// ValidateRequest checks a normalized request. No service is called for an
// invalid request.
func ValidateRequest(req ProvisioningRequest) error {
	switch {
	case req.TenantName == "":
		return errors.NewInvalidSetupRequestError("tenantName is required")
	case len(req.TenantName) > maxTenantNameLength:
		return errors.NewInvalidSetupRequestError(fmt.Sprintf("tenantName exceeds %d characters", maxTenantNameLength))
	case DeriveAlias(req.TenantName) == "":
		return errors.NewInvalidSetupRequestError("tenantName must contain letters or digits")
	case req.ActingPrincipalID == "":
		return errors.NewInvalidSetupRequestError("actingPrincipalId is required")
	case req.Domain != "" && !domainPattern.MatchString(req.Domain):
		return errors.NewInvalidSetupRequestError(fmt.Sprintf("domain %q is not a valid host name", req.Domain))
	}
	return nil
}

// SetupTenant runs the saga for req.
//
// Errors are *errors.StandardError values: TENANT_ALREADY_EXISTS and
// INVALID_SETUP_REQUEST for caller mistakes, IDENTITY_ORG_CREATION_FAILED,
// IDENTITY_INCONSISTENT, MEMBERSHIP_FAILED and TENANT_CREATION_FAILED for
// fatal ones. An unassigned admin group is reported through the outcome's
// warnings, and a create-tenant timeout as ModeAwaitingProgress.
func (o *SetupOrchestrator) SetupTenant(ctx context.Context, req ProvisioningRequest) (*SetupOutcome, error) {
	req = req.Normalized()
	if err := ValidateRequest(req); err != nil {
		metrics.SetupOutcomes.WithLabelValues(string(errors.ErrCodeInvalidSetupRequest)).Inc()
		return nil, err
	}

	runID := o.newRunID()
	log := o.logger.WithFields(map[string]interface{}{
		logger.FieldRunID:      runID,
		logger.FieldTenantName: req.TenantName,
	})

	ctx, span := o.obs.StartSpan(ctx, "tenant.setup",
		attribute.String("tenant.name", req.TenantName),
		attribute.String("setup.run_id", runID),
	)
	defer span.End()

	if err := o.ledger.StartRun(ctx, runID, req); err != nil {
		log.Warn("Ledger start failed", map[string]interface{}{"error": err.Error()})
	}
	log.Info("Tenant setup started", nil)

	outcome := &SetupOutcome{RunID: runID, TenantName: req.TenantName}

	// 1. identity org
	var org IdentityOrgRef
	err := o.step(ctx, runID, StepIdentityOrg, log, func(ctx context.Context) (StepStatus, string, error) {
		var err error
		org, err = o.identityOrg.Provision(ctx, req)
		if err != nil {
			return StepFailed, "", err
		}
		return StepOK, org.OrgID, nil
	})
	if err != nil {
		return nil, o.fail(ctx, span, runID, RunFailed, "", log, err)
	}
	outcome.Org = org
	log = log.WithFields(map[string]interface{}{logger.FieldOrgID: org.OrgID})

	// a fresh org starts a fresh provisioning history for the name
	if err := o.progress.Reset(ctx, req.TenantName); err != nil {
		log.Warn("Failed to reset progress snapshot", map[string]interface{}{"error": err.Error()})
	}

	// 2. membership
	err = o.step(ctx, runID, StepMembership, log, func(ctx context.Context) (StepStatus, string, error) {
		if err := o.membership.Bind(ctx, org, req.ActingPrincipalID); err != nil {
			return StepFailed, "", err
		}
		return StepOK, "", nil
	})
	if err != nil {
		return nil, o.fail(ctx, span, runID, RunIdentityOrphaned, org.OrgID, log, err)
	}

	// 3. admin group, never fatal
	_ = o.step(ctx, runID, StepAdminGroup, log, func(ctx context.Context) (StepStatus, string, error) {
		outcome.AdminGroup = o.adminGroup.Ensure(ctx, org.OrgID, req.ActingPrincipalID)
		switch {
		case !outcome.AdminGroup.AssignmentSucceeded:
			outcome.Warnings = append(outcome.Warnings, WarningAdminNotAssigned)
			return StepDegraded, outcome.AdminGroup.Error, nil
		case !outcome.AdminGroup.VerificationPassed:
			outcome.Warnings = append(outcome.Warnings, WarningAdminUnverified)
			return StepDegraded, "verification failed", nil
		}
		return StepOK, outcome.AdminGroup.GroupID, nil
	})

	// 4. application tenant
	err = o.step(ctx, runID, StepBackendTenant, log, func(ctx context.Context) (StepStatus, string, error) {
		ref, mode, err := o.backend.Provision(ctx, req, org)
		if err != nil {
			return StepFailed, "", err
		}
		outcome.Tenant = ref
		outcome.Mode = mode
		if mode == ModeAwaitingProgress {
			return StepTimeout, "create-tenant timed out", nil
		}
		return StepOK, fmt.Sprintf("tenantId=%d", ref.TenantID), nil
	})
	if err != nil {
		return nil, o.fail(ctx, span, runID, RunIdentityOrphaned, org.OrgID, log, err)
	}

	status := RunCompleted
	if outcome.Mode == ModeAwaitingProgress {
		status = RunAwaitingProgress
	}
	if err := o.ledger.FinishRun(ctx, runID, RunResult{
		Status:        status,
		IdentityOrgID: org.OrgID,
		TenantID:      outcome.Tenant.TenantID,
		Mode:          outcome.Mode,
	}); err != nil {
		log.Warn("Ledger finish failed", map[string]interface{}{"error": err.Error()})
	}

	span.SetAttributes(attribute.String("setup.mode", string(outcome.Mode)))
	metrics.SetupOutcomes.WithLabelValues(string(outcome.Mode)).Inc()
	log.Info("Tenant setup finished", map[string]interface{}{
		"mode":     string(outcome.Mode),
		"tenantId": outcome.Tenant.TenantID,
		"warnings": outcome.Warnings,
	})

	return outcome, nil
}

// step runs fn inside a span, then records its result in the ledger and
// metrics.
func (o *SetupOrchestrator) step(ctx context.Context, runID, name string, log logger.Logger, fn func(context.Context) (StepStatus, string, error)) error {
	ctx, span := o.obs.StartSpan(ctx, "tenant.setup."+name)
	defer span.End()

	started := time.Now()
	status, detail, err := fn(ctx)
	took := time.Since(started)

	if err != nil {
		detail = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, string(errors.CodeOf(err)))
	}

	metrics.SetupStepsTotal.WithLabelValues(name, string(status)).Inc()
	metrics.SetupStepDuration.WithLabelValues(name).Observe(took.Seconds())

	if lerr := o.ledger.RecordStep(ctx, runID, name, status, detail, took); lerr != nil {
		log.Warn("Ledger step write failed", map[string]interface{}{logger.FieldStep: name, "error": lerr.Error()})
	}

	fields := map[string]interface{}{logger.FieldStep: name, "status": string(status), "durationMs": took.Milliseconds()}
	switch status {
	case StepOK:
		log.Debug("Setup step done", fields)
	case StepFailed:
		fields["error"] = detail
		log.Error("Setup step failed", fields)
	default:
		fields["detail"] = detail
		log.Warn("Setup step degraded", fields)
	}
	return err
}

// fail closes the run in the ledger and returns err. No rollback is
// attempted: when the org already exists the run is marked
// identity_orphaned with the org id for later cleanup.
func (o *SetupOrchestrator) fail(ctx context.Context, span trace.Span, runID string, status RunStatus, orgID string, log logger.Logger, err error) error {
	code := errors.CodeOf(err)
	if code == "" {
		code = "INTERNAL_ERROR"
	}

	if lerr := o.ledger.FinishRun(ctx, runID, RunResult{
		Status:        status,
		IdentityOrgID: orgID,
		ErrorCode:     string(code),
		ErrorMessage:  err.Error(),
	}); lerr != nil {
		log.Warn("Ledger finish failed", map[string]interface{}{"error": lerr.Error()})
	}

	if status == RunIdentityOrphaned {
		log.Warn("Identity organization left without tenant", nil)
	}

	span.SetStatus(codes.Error, string(code))
	metrics.SetupOutcomes.WithLabelValues(string(code)).Inc()
	return err
}
