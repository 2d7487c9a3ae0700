// cmd/tools/tenant-setup/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tenant-provisioning/internal/common/appservice"
	"tenant-provisioning/internal/common/auth"
	"tenant-provisioning/internal/common/camunda"
	"tenant-provisioning/internal/common/config"
	"tenant-provisioning/internal/common/database"
	"tenant-provisioning/internal/common/logger"
	"tenant-provisioning/internal/provisioning"
)

const onboardingProcessID = "tenant-onboarding"

func main() {
	runCmd := flag.NewFlagSet("run", flag.ExitOnError)
	startCmd := flag.NewFlagSet("start", flag.ExitOnError)
	orphansCmd := flag.NewFlagSet("orphans", flag.ExitOnError)

	// Run/start command flags
	var runConfig, startConfig string
	runCmd.StringVar(&runConfig, "config", "", "Path to config file (default: configs/config.yaml)")
	startCmd.StringVar(&startConfig, "config", "", "Path to config file (default: configs/config.yaml)")
	tenant := runCmd.String("tenant", "", "Tenant name")
	domain := runCmd.String("domain", "", "Organization domain (optional)")
	principal := runCmd.String("principal", "", "Acting principal (identity user id)")
	noWait := runCmd.Bool("no-wait", false, "Return after setup without polling progress")
	startTenant := startCmd.String("tenant", "", "Tenant name")
	startDomain := startCmd.String("domain", "", "Organization domain (optional)")
	startPrincipal := startCmd.String("principal", "", "Acting principal (identity user id)")

	// Orphans command flags
	orphansConfig := orphansCmd.String("config", "", "Path to config file (default: configs/config.yaml)")
	limit := orphansCmd.Int("limit", 50, "Maximum runs to list")

	if len(os.Args) < 2 {
		help()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "run":
		runCmd.Parse(os.Args[2:])
		if *tenant == "" || *principal == "" {
			fmt.Println("Error: tenant and principal are required for run.")
			runCmd.Usage()
			os.Exit(1)
		}
		err = runSetup(ctx, runConfig, provisioning.ProvisioningRequest{
			TenantName:        *tenant,
			Domain:            *domain,
			ActingPrincipalID: *principal,
		}, !*noWait)
	case "start":
		startCmd.Parse(os.Args[2:])
		if *startTenant == "" || *startPrincipal == "" {
			fmt.Println("Error: tenant and principal are required for start.")
			startCmd.Usage()
			os.Exit(1)
		}
		err = startProcess(ctx, startConfig, provisioning.ProvisioningRequest{
			TenantName:        *startTenant,
			Domain:            *startDomain,
			ActingPrincipalID: *startPrincipal,
		})
	case "orphans":
		orphansCmd.Parse(os.Args[2:])
		err = listOrphans(ctx, *orphansConfig, *limit)
	case "help":
		help()
		return
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		help()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// runSetup drives one session in-process: the setup saga, then progress
// polling until a terminal phase when the backend answered asynchronously.
func runSetup(ctx context.Context, cfgPath string, req provisioning.ProvisioningRequest, wait bool) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}
	log := logger.NewStructured(cfg.Logging.Level, "console")

	var ledger provisioning.Ledger
	if cfg.Database.Postgres.Enabled() {
		pg, err := database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		defer pg.Close()
		if err := pg.EnsureSchema(ctx); err != nil {
			return err
		}
		ledger = provisioning.NewPostgresLedger(pg.DB)
	}

	kc := cfg.Auth.Keycloak
	identity := auth.NewKeycloakClient(kc.URL, kc.Realm, kc.ClientID, kc.ClientSecret, config.GetDuration(kc.RequestTimeout))
	app := appservice.NewClient(
		cfg.ApplicationService.BaseURL,
		cfg.ApplicationService.APIToken,
		config.GetDuration(cfg.ApplicationService.RequestTimeout),
	)

	orchestrator := provisioning.NewSetupOrchestrator(provisioning.Dependencies{
		Identity:    identity,
		Application: app,
		Ledger:      ledger,
		Logger:      log,
	}, provisioning.Options{
		AdminGroupName:     cfg.Provisioning.AdminGroupName,
		AssignRetryBackoff: config.GetDuration(cfg.Provisioning.AssignRetryBackoff),
		CreateTimeout:      config.GetDuration(cfg.ApplicationService.CreateTimeout),
	})

	session := provisioning.NewSession()
	if err := session.Begin(req); err != nil {
		return err
	}
	fmt.Printf("Setting up tenant %q...\n", req.TenantName)

	outcome, setupErr := orchestrator.SetupTenant(ctx, req)
	state, err := session.OnOutcome(outcome, setupErr)
	if err != nil {
		return err
	}
	if outcome != nil {
		fmt.Printf("  run:          %s\n", outcome.RunID)
		fmt.Printf("  identity org: %s\n", outcome.Org.OrgID)
		fmt.Printf("  mode:         %s\n", outcome.Mode)
		for _, w := range outcome.Warnings {
			fmt.Printf("  warning:      %s\n", w)
		}
	}

	if state == provisioning.SessionAwaitingProgress && wait {
		poller := provisioning.NewProgressPoller(app, nil, config.GetDuration(cfg.Provisioning.PollInterval), log)
		done := make(chan struct{})
		cancel := poller.PollProgress(ctx, req.TenantName,
			func(p provisioning.Progress) {
				if p.Terminal() {
					return
				}
				if err := session.OnProgress(p); err == nil {
					fmt.Printf("  %3d%%  %s\n", p.Percent, p.Phase)
				}
			},
			func(p provisioning.Progress) {
				_, _ = session.OnTerminal(p)
				if err := provisioning.CloseRun(ctx, ledger, outcome.RunID, outcome.Tenant, p); err != nil {
					fmt.Fprintf(os.Stderr, "warning: failed to close setup run %s: %v\n", outcome.RunID, err)
				}
				close(done)
			},
		)
		select {
		case <-done:
		case <-ctx.Done():
		}
		cancel()
	}

	return report(session.Snapshot())
}

func report(snap provisioning.SessionSnapshot) error {
	switch snap.State {
	case provisioning.SessionCompleted:
		fmt.Printf("Tenant %q is ready (100%%)\n", snap.Request.TenantName)
		return nil
	case provisioning.SessionAwaitingProgress:
		fmt.Printf("Tenant %q is still provisioning (%d%%)\n", snap.Request.TenantName, snap.Progress.Percent)
		return nil
	case provisioning.SessionFailed:
		return snap.Err
	default:
		return fmt.Errorf("session ended in state %s", snap.State)
	}
}

// startProcess hands the request to the onboarding BPMN process instead of
// running the saga locally.
func startProcess(ctx context.Context, cfgPath string, req provisioning.ProvisioningRequest) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}
	if err := config.RequireBroker(cfg); err != nil {
		return err
	}
	req = req.Normalized()
	if err := provisioning.ValidateRequest(req); err != nil {
		return err
	}

	client, err := camunda.NewClient(cfg.Camunda)
	if err != nil {
		return err
	}
	defer client.Close()

	startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	key, err := client.StartProcess(startCtx, onboardingProcessID, map[string]interface{}{
		"tenantName":        req.TenantName,
		"domain":            req.Domain,
		"actingPrincipalId": req.ActingPrincipalID,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Started %s instance %d for tenant %q\n", onboardingProcessID, key, req.TenantName)
	return nil
}

func listOrphans(ctx context.Context, cfgPath string, limit int) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}
	if !cfg.Database.Postgres.Enabled() {
		return fmt.Errorf("database.postgres.host is required to list orphaned runs")
	}

	pg, err := database.NewPostgres(cfg.Database.Postgres)
	if err != nil {
		return err
	}
	defer pg.Close()

	runs, err := provisioning.NewPostgresLedger(pg.DB).ListOrphaned(ctx, limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No orphaned identity orgs.")
		return nil
	}

	fmt.Printf("%-36s  %-24s  %-36s  %-28s  %s\n", "RUN", "TENANT", "IDENTITY ORG", "ERROR", "UPDATED")
	for _, r := range runs {
		fmt.Printf("%-36s  %-24s  %-36s  %-28s  %s\n",
			r.RunID, r.TenantName, r.IdentityOrgID, r.ErrorCode, r.UpdatedAt.Format(time.RFC3339))
	}
	return nil
}

func help() {
	fmt.Println("Usage: tenant-setup <command> [options]")
	fmt.Println("Commands:")
	fmt.Println("  run      Run tenant setup in-process and follow provisioning progress")
	fmt.Println("  start    Start the tenant-onboarding process on the broker")
	fmt.Println("  orphans  List setup runs that left an identity org behind")
	fmt.Println("  help     Show this help message")
}
