package provisioning

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenant-provisioning/internal/common/errors"
)

func TestSession_AwaitingThenCompleted(t *testing.T) {
	s := NewSession()
	require.NoError(t, s.Begin(validRequest))
	assert.Equal(t, SessionSettingUp, s.State())

	state, err := s.OnOutcome(&SetupOutcome{Mode: ModeAwaitingProgress, Warnings: []string{WarningAdminNotAssigned}}, nil)
	require.NoError(t, err)
	assert.Equal(t, SessionAwaitingProgress, state)

	require.NoError(t, s.OnProgress(Progress{Phase: PhaseRunningMigrations, Percent: 39}))
	require.NoError(t, s.OnProgress(Progress{Phase: PhaseCreatingSchema, Percent: 25}))
	assert.Equal(t, 39, s.Snapshot().Progress.Percent)

	state, err = s.OnTerminal(Progress{Phase: PhaseCompleted, Percent: 100})
	require.NoError(t, err)
	assert.Equal(t, SessionCompleted, state)

	snap := s.Snapshot()
	assert.Equal(t, 100, snap.Progress.Percent)
	assert.Equal(t, []string{WarningAdminNotAssigned}, snap.Warnings)
	assert.NoError(t, snap.Err)
}

func TestSession_SynchronousCompleteSkipsPolling(t *testing.T) {
	s := NewSession()
	require.NoError(t, s.Begin(validRequest))

	state, err := s.OnOutcome(&SetupOutcome{Mode: ModeSynchronousComplete}, nil)
	require.NoError(t, err)
	assert.Equal(t, SessionCompleted, state)

	assert.ErrorIs(t, s.OnProgress(Progress{Percent: 50}), ErrInvalidTransition)
}

func TestSession_SetupError(t *testing.T) {
	s := NewSession()
	require.NoError(t, s.Begin(validRequest))

	state, err := s.OnOutcome(nil, errors.NewTenantAlreadyExistsError("Acme"))
	require.NoError(t, err)
	assert.Equal(t, SessionFailed, state)
	assert.ErrorIs(t, s.Snapshot().Err, errors.ErrTenantAlreadyExists)
}

func TestSession_ProvisioningFailed(t *testing.T) {
	s := NewSession()
	require.NoError(t, s.Begin(validRequest))
	_, _ = s.OnOutcome(&SetupOutcome{Mode: ModeAwaitingProgress}, nil)

	state, err := s.OnTerminal(Progress{Phase: PhaseFailed, FailureReason: "disk quota exceeded"})
	require.NoError(t, err)
	assert.Equal(t, SessionFailed, state)
	assert.Contains(t, s.Snapshot().Err.Error(), "disk quota exceeded")
}

func TestSession_InvalidTransitions(t *testing.T) {
	s := NewSession()

	_, err := s.OnOutcome(&SetupOutcome{}, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = s.OnTerminal(Progress{Phase: PhaseCompleted})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, s.Begin(validRequest))
	assert.ErrorIs(t, s.Begin(validRequest), ErrInvalidTransition)

	_, _ = s.OnOutcome(&SetupOutcome{Mode: ModeAwaitingProgress}, nil)
	_, err = s.OnTerminal(Progress{Phase: PhaseRunningMigrations})
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, SessionAwaitingProgress, s.State())
}

func TestSession_DrivenByPoller(t *testing.T) {
	app := &fakeApp{progress: script("Initializing setup", "Running migrations 40%", "COMPLETED")}
	poller := NewProgressPoller(app, nil, testInterval, nil)

	s := NewSession()
	require.NoError(t, s.Begin(validRequest))
	_, _ = s.OnOutcome(&SetupOutcome{Mode: ModeAwaitingProgress}, nil)

	done := make(chan struct{})
	cancel := poller.PollProgress(context.Background(), validRequest.TenantName,
		func(p Progress) {
			if !p.Terminal() {
				_ = s.OnProgress(p)
			}
		},
		func(p Progress) {
			_, _ = s.OnTerminal(p)
			close(done)
		},
	)
	defer cancel()

	<-done
	assert.Equal(t, SessionCompleted, s.State())
}

type recordingNotifier struct {
	events []TenantEvent
	err    error
}

func (n *recordingNotifier) NotifyTenantEvent(_ context.Context, ev TenantEvent) error {
	n.events = append(n.events, ev)
	return n.err
}

func TestNotifyTerminal(t *testing.T) {
	n := &recordingNotifier{}
	ref := TenantRef{TenantID: 7, IdentityOrgID: "org-1"}

	require.NoError(t, NotifyTerminal(context.Background(), n, "acme", ref, Progress{Phase: PhaseRunningMigrations}))
	assert.Empty(t, n.events)

	require.NoError(t, NotifyTerminal(context.Background(), n, "acme", ref, Progress{
		Phase:         PhaseFailed,
		Percent:       60,
		FailureReason: "disk quota exceeded",
	}))
	require.Len(t, n.events, 1)
	ev := n.events[0]
	assert.Equal(t, "acme", ev.TenantName)
	assert.Equal(t, int64(7), ev.TenantID)
	assert.Equal(t, "org-1", ev.IdentityOrgID)
	assert.Equal(t, "FAILED", ev.Phase)
	assert.Equal(t, "disk quota exceeded", ev.FailureReason)
	assert.False(t, ev.OccurredAt.IsZero())

	n.err = stderrors.New("sns down")
	assert.Error(t, NotifyTerminal(context.Background(), n, "acme", ref, Progress{Phase: PhaseCompleted, Percent: 100}))
	assert.NoError(t, NotifyTerminal(context.Background(), nil, "acme", ref, Progress{Phase: PhaseCompleted}))
}
