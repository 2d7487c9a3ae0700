package provisioning

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"tenant-provisioning/internal/common/errors"
	"tenant-provisioning/internal/common/logger"
	"tenant-provisioning/internal/common/metrics"
)

// DefaultPollInterval is used when the poller is built with a zero interval.
const DefaultPollInterval = 3 * time.Second

// UpdateFunc receives the tracked progress after every successful read.
type UpdateFunc func(Progress)

// TerminalFunc receives the progress once, when COMPLETED or FAILED is
// reached.
type TerminalFunc func(Progress)

// ProgressPoller reads a tenant's progress channel at a fixed interval.
type ProgressPoller struct {
	app      ApplicationService
	store    ProgressStore
	interval time.Duration
	logger   logger.Logger
}

func NewProgressPoller(app ApplicationService, store ProgressStore, interval time.Duration, log logger.Logger) *ProgressPoller {
	if store == nil {
		store = nopProgressStore{}
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &ProgressPoller{app: app, store: store, interval: interval, logger: log}
}

// PollProgress starts polling tenantName in the background. The first read
// happens immediately. Read errors are logged and polling continues; the loop
// ends on a terminal phase, on ctx cancellation, or when the returned cancel
// is called.
//
// cancel is idempotent and returns once the loop has exited, so it must not
// be called from inside onUpdate or onTerminal.
func (p *ProgressPoller) PollProgress(ctx context.Context, tenantName string, onUpdate UpdateFunc, onTerminal TerminalFunc) (cancel func()) {
	ctx, stop := context.WithCancel(ctx)
	log := p.logger.WithFields(map[string]interface{}{logger.FieldTenantName: tenantName})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		metrics.ActivePollers.Inc()
		defer metrics.ActivePollers.Dec()
		p.loop(ctx, tenantName, log, onUpdate, onTerminal)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			stop()
			wg.Wait()
		})
	}
}

func (p *ProgressPoller) loop(ctx context.Context, tenantName string, log logger.Logger, onUpdate UpdateFunc, onTerminal TerminalFunc) {
	seed, err := p.store.Load(ctx, tenantName)
	if err != nil {
		log.Warn("Progress snapshot unavailable, starting from zero", map[string]interface{}{"error": err.Error()})
	}
	// Only a channel read ends a session. A terminal snapshot is left over
	// from an earlier session and is no floor for this one.
	if seed != nil && seed.Terminal() {
		log.Debug("Ignoring terminal progress snapshot", map[string]interface{}{"phase": string(seed.Phase)})
		seed = nil
	}
	tracker := NewTracker(seed)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if done := p.pollOnce(ctx, tenantName, tracker, log, onUpdate, onTerminal); done {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// pollOnce performs one read and reports whether the loop should stop.
func (p *ProgressPoller) pollOnce(ctx context.Context, tenantName string, tracker *Tracker, log logger.Logger, onUpdate UpdateFunc, onTerminal TerminalFunc) bool {
	raw, err := p.app.ReadProgress(ctx, tenantName)
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		metrics.ProgressPolls.WithLabelValues("read_error").Inc()
		log.Warn("Progress read failed, retrying next tick", map[string]interface{}{"error": err.Error()})
		return false
	}

	sig := ParseSignal(raw)
	progress, changed := tracker.Apply(sig)

	if _, ok := sig.(UnrecognizedSignal); ok {
		metrics.ProgressPolls.WithLabelValues("unrecognized").Inc()
		log.Debug("Unrecognized progress signal", map[string]interface{}{"raw": sig.raw()})
	} else {
		metrics.ProgressPolls.WithLabelValues("ok").Inc()
	}

	if changed {
		if err := p.store.Save(ctx, tenantName, progress); err != nil {
			log.Warn("Failed to save progress snapshot", map[string]interface{}{"error": err.Error()})
		}
	}

	if onUpdate != nil {
		onUpdate(progress)
	}

	if progress.Terminal() {
		log.Info("Provisioning reached terminal phase", map[string]interface{}{
			"phase":         string(progress.Phase),
			"percent":       progress.Percent,
			"failureReason": progress.FailureReason,
		})
		if onTerminal != nil {
			onTerminal(progress)
		}
		return true
	}
	return false
}

// Await blocks until tenantName reaches a terminal phase or ctx ends.
//
// COMPLETED returns the progress and nil. FAILED returns the progress and
// TENANT_PROVISIONING_FAILED. A ctx deadline returns the last progress and
// PROVISIONING_POLL_TIMEOUT; a cancellation returns ctx.Err().
func (p *ProgressPoller) Await(ctx context.Context, tenantName string, onUpdate UpdateFunc) (Progress, error) {
	terminal := make(chan Progress, 1)

	var mu sync.Mutex
	var last Progress

	cancel := p.PollProgress(ctx, tenantName,
		func(pr Progress) {
			mu.Lock()
			last = pr
			mu.Unlock()
			if onUpdate != nil {
				onUpdate(pr)
			}
		},
		func(pr Progress) { terminal <- pr },
	)
	defer cancel()

	select {
	case pr := <-terminal:
		return terminalResult(tenantName, pr)

	case <-ctx.Done():
		// a terminal read may have raced the deadline
		select {
		case pr := <-terminal:
			return terminalResult(tenantName, pr)
		default:
		}

		mu.Lock()
		defer mu.Unlock()
		if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
			return last, errors.NewProvisioningPollTimeoutError(tenantName, last.Percent)
		}
		return last, ctx.Err()
	}
}

func terminalResult(tenantName string, pr Progress) (Progress, error) {
	if pr.Phase == PhaseFailed {
		return pr, errors.NewProvisioningFailedError(tenantName, pr.FailureReason)
	}
	return pr, nil
}
