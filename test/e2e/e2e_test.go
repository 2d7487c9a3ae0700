// test/e2e/e2e_test.go
package e2e

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenant-provisioning/internal/common/appservice"
	"tenant-provisioning/internal/common/auth"
	"tenant-provisioning/internal/common/camunda"
	"tenant-provisioning/internal/common/config"
	"tenant-provisioning/internal/common/database"
	apperrors "tenant-provisioning/internal/common/errors"
	"tenant-provisioning/internal/common/logger"
	"tenant-provisioning/internal/provisioning"
	awaitprovisioning "tenant-provisioning/internal/workers/tenant/await-provisioning"
)

// These tests run against a live stack described by configs/config.yaml.
// Set E2E_ENABLED=1 and E2E_PRINCIPAL_ID to an existing identity user.
var (
	cfg         *config.Config
	principalID string
)

func TestMain(m *testing.M) {
	if os.Getenv("E2E_ENABLED") != "1" {
		fmt.Println("E2E_ENABLED not set, skipping e2e tests")
		os.Exit(0)
	}

	var err error
	cfg, err = config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	principalID = os.Getenv("E2E_PRINCIPAL_ID")
	if principalID == "" {
		panic("E2E_PRINCIPAL_ID is required")
	}

	os.Exit(m.Run())
}

type stack struct {
	identity *auth.KeycloakClient
	app      *appservice.Client
	ledger   provisioning.Ledger
	store    provisioning.ProgressStore
}

func newStack(t *testing.T) *stack {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	kc := cfg.Auth.Keycloak
	s := &stack{
		identity: auth.NewKeycloakClient(kc.URL, kc.Realm, kc.ClientID, kc.ClientSecret, config.GetDuration(kc.RequestTimeout)),
		app: appservice.NewClient(cfg.ApplicationService.BaseURL, cfg.ApplicationService.APIToken,
			config.GetDuration(cfg.ApplicationService.RequestTimeout)),
	}
	require.NoError(t, s.identity.HealthCheck(ctx), "identity service unreachable")
	require.NoError(t, s.app.HealthCheck(ctx), "application service unreachable")

	if cfg.Database.Postgres.Enabled() {
		pg, err := database.NewPostgres(cfg.Database.Postgres)
		require.NoError(t, err)
		t.Cleanup(func() { pg.Close() })
		require.NoError(t, pg.Ping(ctx))
		require.NoError(t, pg.EnsureSchema(ctx))
		s.ledger = provisioning.NewPostgresLedger(pg.DB)
	}
	if cfg.Database.Redis.Enabled() {
		rdb, err := database.NewRedis(cfg.Database.Redis)
		require.NoError(t, err)
		t.Cleanup(func() { rdb.Close() })
		require.NoError(t, rdb.Ping(ctx))
		s.store = provisioning.NewRedisProgressStore(rdb.Client, config.GetDuration(cfg.Provisioning.ProgressTTL))
	}
	return s
}

func (s *stack) orchestrator(t *testing.T) *provisioning.SetupOrchestrator {
	return provisioning.NewSetupOrchestrator(provisioning.Dependencies{
		Identity:    s.identity,
		Application: s.app,
		Ledger:      s.ledger,
		Progress:    s.store,
		Logger:      logger.NewTestLogger(t),
	}, provisioning.Options{
		AdminGroupName:     cfg.Provisioning.AdminGroupName,
		AssignRetryBackoff: config.GetDuration(cfg.Provisioning.AssignRetryBackoff),
		CreateTimeout:      config.GetDuration(cfg.ApplicationService.CreateTimeout),
	})
}

func uniqueTenant() string {
	return "e2e-" + uuid.NewString()[:8]
}

func TestTenantSetup_EndToEnd(t *testing.T) {
	s := newStack(t)
	ctx, cancel := context.WithTimeout(context.Background(), config.GetDuration(cfg.Provisioning.AwaitTimeout)+time.Minute)
	defer cancel()

	req := provisioning.ProvisioningRequest{TenantName: uniqueTenant(), ActingPrincipalID: principalID}
	session := provisioning.NewSession()
	require.NoError(t, session.Begin(req))

	outcome, err := s.orchestrator(t).SetupTenant(ctx, req)
	state, terr := session.OnOutcome(outcome, err)
	require.NoError(t, terr)
	require.NoError(t, err)

	assert.NotEmpty(t, outcome.Org.OrgID)
	assert.Equal(t, outcome.Org.OrgID, outcome.Tenant.IdentityOrgID)

	if state == provisioning.SessionAwaitingProgress {
		poller := provisioning.NewProgressPoller(s.app, s.store, config.GetDuration(cfg.Provisioning.PollInterval), logger.NewTestLogger(t))
		last := 0
		final, err := poller.Await(ctx, req.TenantName, func(p provisioning.Progress) {
			assert.GreaterOrEqual(t, p.Percent, last, "progress went backwards")
			last = p.Percent
			if !p.Terminal() {
				_ = session.OnProgress(p)
			}
		})
		require.NoError(t, err)
		state, err = session.OnTerminal(final)
		require.NoError(t, err)
	}

	assert.Equal(t, provisioning.SessionCompleted, state)
	assert.Equal(t, 100, session.Snapshot().Progress.Percent)

	groups, err := s.identity.ListUserGroups(ctx, principalID)
	require.NoError(t, err)
	if outcome.AdminGroup.AssignmentSucceeded {
		var ids []string
		for _, g := range groups {
			ids = append(ids, g.ID)
		}
		assert.Contains(t, ids, outcome.AdminGroup.GroupID)
	}
}

func TestTenantSetup_DuplicateNameRejected(t *testing.T) {
	s := newStack(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	req := provisioning.ProvisioningRequest{TenantName: uniqueTenant(), ActingPrincipalID: principalID}
	orch := s.orchestrator(t)

	_, err := orch.SetupTenant(ctx, req)
	require.NoError(t, err)

	_, err = orch.SetupTenant(ctx, req)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrTenantAlreadyExists)
}

func TestAwaitWorker_AgainstLiveBackend(t *testing.T) {
	s := newStack(t)
	ctx, cancel := context.WithTimeout(context.Background(), config.GetDuration(cfg.Provisioning.AwaitTimeout)+time.Minute)
	defer cancel()

	req := provisioning.ProvisioningRequest{TenantName: uniqueTenant(), ActingPrincipalID: principalID}
	outcome, err := s.orchestrator(t).SetupTenant(ctx, req)
	require.NoError(t, err)

	h, err := awaitprovisioning.NewHandler(awaitprovisioning.HandlerOptions{
		AppConfig: cfg,
		Poller:    provisioning.NewProgressPoller(s.app, s.store, config.GetDuration(cfg.Provisioning.PollInterval), logger.NewTestLogger(t)),
		Logger:    logger.NewTestLogger(t),
	})
	require.NoError(t, err)

	out, err := h.Execute(ctx, &awaitprovisioning.Input{
		TenantName:    req.TenantName,
		TenantID:      outcome.Tenant.TenantID,
		IdentityOrgID: outcome.Org.OrgID,
	})
	require.NoError(t, err)
	assert.True(t, out.TenantReady)
	assert.Equal(t, 100, out.Percent)
}

func TestBroker_StartOnboardingProcess(t *testing.T) {
	if os.Getenv("E2E_BROKER") != "1" {
		t.Skip("E2E_BROKER not set")
	}
	require.NoError(t, config.RequireBroker(cfg))

	client, err := camunda.NewClient(cfg.Camunda)
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	key, err := client.StartProcess(ctx, "tenant-onboarding", map[string]interface{}{
		"tenantName":        uniqueTenant(),
		"actingPrincipalId": principalID,
	})
	require.NoError(t, err)
	assert.Positive(t, key)
}
