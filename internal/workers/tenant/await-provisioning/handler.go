package awaitprovisioning

import (
	"context"
	"fmt"
	"time"

	"tenant-provisioning/internal/common/camunda"
	"tenant-provisioning/internal/common/config"
	"tenant-provisioning/internal/common/errors"
	"tenant-provisioning/internal/common/logger"
	"tenant-provisioning/internal/common/metrics"
	"tenant-provisioning/internal/common/observability"
	"tenant-provisioning/internal/common/validation"
	"tenant-provisioning/internal/provisioning"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType   = "tenant.provisioning.await"
	WorkerName = "await-provisioning"
)

type Handler struct {
	config       *Config
	logger       logger.Logger
	service      *Service
	errorHandler *errors.ErrorHandler
	obs          *observability.Observability
}

type HandlerOptions struct {
	AppConfig     *config.Config
	Poller        Awaiter
	Notifier      provisioning.Notifier
	Ledger        provisioning.Ledger
	CustomConfig  *Config
	Logger        logger.Logger
	Observability *observability.Observability
}

func NewHandler(opts HandlerOptions) (*Handler, error) {
	workerConfig := createConfigFromAppConfig(opts.AppConfig, opts.CustomConfig)

	if err := workerConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration for %s: %w", WorkerName, err)
	}
	if opts.Poller == nil {
		return nil, fmt.Errorf("%s requires a progress poller", WorkerName)
	}

	loggerInstance := opts.Logger
	if loggerInstance == nil {
		loggerInstance = logger.NewStructured("info", "json")
	}
	loggerInstance = loggerInstance.WithFields(map[string]interface{}{logger.FieldTaskType: TaskType})

	return &Handler{
		config: workerConfig,
		logger: loggerInstance,
		service: NewService(ServiceDependencies{
			Poller:   opts.Poller,
			Notifier: opts.Notifier,
			Ledger:   opts.Ledger,
			Logger:   loggerInstance,
		}, workerConfig),
		errorHandler: errors.NewErrorHandler(loggerInstance),
		obs:          opts.Observability,
	}, nil
}

// Handle runs one await job. A poll timeout fails the job with retries, so
// the broker re-activates it; the progress snapshot carries over.
func (h *Handler) Handle(client worker.JobClient, job entities.Job) error {
	startTime := time.Now()
	metrics.WorkerJobsActive.WithLabelValues(TaskType).Inc()
	defer metrics.WorkerJobsActive.WithLabelValues(TaskType).Dec()

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	h.logger.Info("Awaiting tenant provisioning", map[string]interface{}{
		logger.FieldJobKey:   job.GetKey(),
		"processInstanceKey": job.GetProcessInstanceKey(),
		"retries":            job.GetRetries(),
	})

	input, err := h.parseInput(job)
	if err == nil {
		var output *Output
		output, err = h.Execute(ctx, input)
		if err == nil {
			err = h.completeJob(ctx, client, job, output)
			h.record(ctx, startTime, err)
			return err
		}
	}

	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(errors.Normalize(err).Code)).Inc()
	h.errorHandler.HandleJobError(ctx, client, job, err)
	h.record(ctx, startTime, err)
	return nil
}

func (h *Handler) parseInput(job entities.Job) (*Input, error) {
	variables, err := job.GetVariablesAsMap()
	if err != nil {
		return nil, &errors.StandardError{
			Code:      errors.ErrCodeInputParsingFailed,
			Message:   "Failed to parse job variables",
			Details:   err.Error(),
			Retryable: false,
			Timestamp: time.Now().UTC(),
		}
	}

	result := validation.ValidateInput(variables, GetInputSchema())
	if !result.Valid {
		return nil, &errors.StandardError{
			Code:      errors.ErrCodeValidationFailed,
			Message:   "Input validation failed",
			Details:   fmt.Sprintf("Validation errors: %v", result.GetErrorMessages()),
			Retryable: false,
			Timestamp: time.Now().UTC(),
		}
	}

	input := &Input{TenantName: variables["tenantName"].(string)}
	if id, ok := variables["tenantId"].(float64); ok {
		input.TenantID = int64(id)
	}
	if orgID, ok := variables["identityOrgId"].(string); ok {
		input.IdentityOrgID = orgID
	}
	if runID, ok := variables["setupRunId"].(string); ok {
		input.SetupRunID = runID
	}
	return input, nil
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) error {
	request, err := client.NewCompleteJobCommand().JobKey(job.GetKey()).VariablesFromObject(output)
	if err != nil {
		h.logger.Error("Failed to create complete job command", map[string]interface{}{
			logger.FieldJobKey: job.GetKey(),
			"error":            err.Error(),
		})
		return err
	}

	if _, err := request.Send(ctx); err != nil {
		h.logger.Error("Failed to complete job", map[string]interface{}{
			logger.FieldJobKey: job.GetKey(),
			"error":            err.Error(),
		})
		return err
	}

	h.logger.Info("Tenant provisioning completed", map[string]interface{}{
		logger.FieldJobKey: job.GetKey(),
		"phase":            output.Phase,
	})
	return nil
}

func (h *Handler) record(ctx context.Context, started time.Time, err error) {
	status := "completed"
	if err != nil {
		status = "failed"
	} else {
		metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	}
	took := time.Since(started)
	metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(took.Seconds())
	h.obs.RecordJobProcessed(ctx, TaskType, status)
	h.obs.RecordJobDuration(ctx, TaskType, took, status)
}

func (h *Handler) WorkerOptions() camunda.WorkerOptions {
	return camunda.WorkerOptions{
		MaxJobsActive: h.config.MaxJobsActive,
		Timeout:       h.config.Timeout,
	}
}

func (h *Handler) GetTaskType() string {
	return TaskType
}

func (h *Handler) IsEnabled() bool {
	return h.config.Enabled
}

func (h *Handler) GetConfig() *Config {
	return h.config
}

// Execute runs the business logic without a job client.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.service.Execute(ctx, input)
}

func createConfigFromAppConfig(appConfig *config.Config, customConfig *Config) *Config {
	if customConfig != nil {
		return customConfig
	}

	cfg := DefaultConfig()
	if appConfig == nil {
		return cfg
	}

	if appConfig.Provisioning.AwaitTimeout > 0 {
		cfg.AwaitTimeout = config.GetDuration(appConfig.Provisioning.AwaitTimeout)
		cfg.Timeout = cfg.AwaitTimeout + time.Minute
	}
	if workerCfg, exists := appConfig.Workers[WorkerName]; exists {
		cfg.Enabled = workerCfg.Enabled
		if workerCfg.MaxJobsActive > 0 {
			cfg.MaxJobsActive = workerCfg.MaxJobsActive
		}
		if workerCfg.Timeout > 0 {
			cfg.Timeout = config.GetDuration(workerCfg.Timeout)
		}
	}
	return cfg
}
