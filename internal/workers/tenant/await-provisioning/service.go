package awaitprovisioning

import (
	"context"
	"time"

	"tenant-provisioning/internal/common/logger"
	"tenant-provisioning/internal/provisioning"
)

type Service struct {
	poller       Awaiter
	notifier     provisioning.Notifier
	ledger       provisioning.Ledger
	awaitTimeout time.Duration
	logger       logger.Logger
}

func NewService(deps ServiceDependencies, config *Config) *Service {
	return &Service{
		poller:       deps.Poller,
		notifier:     deps.Notifier,
		ledger:       deps.Ledger,
		awaitTimeout: config.AwaitTimeout,
		logger:       deps.Logger,
	}
}

// Execute polls until provisioning is terminal or the await budget runs out.
// FAILED returns TENANT_PROVISIONING_FAILED; running out of budget returns
// the retryable PROVISIONING_POLL_TIMEOUT so the job is activated again.
func (s *Service) Execute(ctx context.Context, input *Input) (*Output, error) {
	ctx, cancel := context.WithTimeout(ctx, s.awaitTimeout)
	defer cancel()

	log := s.logger.WithFields(map[string]interface{}{logger.FieldTenantName: input.TenantName})
	lastLogged := -1

	progress, err := s.poller.Await(ctx, input.TenantName, func(p provisioning.Progress) {
		if p.Percent != lastLogged {
			lastLogged = p.Percent
			log.Debug("Provisioning progress", map[string]interface{}{
				"phase":   string(p.Phase),
				"percent": p.Percent,
			})
		}
	})

	if progress.Terminal() {
		ref := provisioning.TenantRef{TenantID: input.TenantID, IdentityOrgID: input.IdentityOrgID}
		// a fresh context so a spent await budget does not drop the event
		// or leave the run awaiting_progress
		finishCtx, finishCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if nerr := provisioning.NotifyTerminal(finishCtx, s.notifier, input.TenantName, ref, progress); nerr != nil {
			log.Warn("Failed to publish provisioning event", map[string]interface{}{"error": nerr.Error()})
		}
		if lerr := provisioning.CloseRun(finishCtx, s.ledger, input.SetupRunID, ref, progress); lerr != nil {
			log.Warn("Failed to close setup run", map[string]interface{}{
				logger.FieldRunID: input.SetupRunID,
				"error":           lerr.Error(),
			})
		}
		finishCancel()
	}

	if err != nil {
		return nil, err
	}

	return &Output{
		Phase:       string(progress.Phase),
		Percent:     progress.Percent,
		TenantReady: progress.Phase == provisioning.PhaseCompleted,
	}, nil
}
