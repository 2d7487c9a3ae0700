package provisioning

import (
	stderrors "errors"
	"fmt"
	"sync"
)

// SessionState is where a caller stands in the setup flow.
type SessionState string

const (
	SessionIdle             SessionState = "idle"
	SessionSettingUp        SessionState = "setting_up"
	SessionAwaitingProgress SessionState = "awaiting_progress"
	SessionCompleted        SessionState = "completed"
	SessionFailed           SessionState = "failed"
)

// ErrInvalidTransition is returned when an event does not apply to the
// current state.
var ErrInvalidTransition = stderrors.New("invalid session transition")

// Session is the caller-side state of one setup. It only changes through
// Begin, OnOutcome, OnProgress and OnTerminal, and is safe for concurrent
// use so poller callbacks can drive it.
type Session struct {
	mu       sync.Mutex
	state    SessionState
	request  ProvisioningRequest
	outcome  *SetupOutcome
	progress Progress
	err      error
}

// SessionSnapshot is a copy of a Session's state.
type SessionSnapshot struct {
	State    SessionState
	Request  ProvisioningRequest
	Outcome  *SetupOutcome
	Progress Progress
	Err      error
	Warnings []string
}

func NewSession() *Session {
	return &Session{state: SessionIdle}
}

// Begin moves idle to setting_up.
func (s *Session) Begin(req ProvisioningRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != SessionIdle {
		return s.invalid("begin")
	}
	s.request = req
	s.state = SessionSettingUp
	return nil
}

// OnOutcome applies the result of SetupTenant. An error fails the session,
// AWAITING_PROGRESS waits for the poller and SYNCHRONOUS_COMPLETE completes
// it. The returned state tells the caller whether to start polling.
func (s *Session) OnOutcome(outcome *SetupOutcome, err error) (SessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != SessionSettingUp {
		return s.state, s.invalid("outcome")
	}

	switch {
	case err != nil:
		s.err = err
		s.state = SessionFailed
	case outcome == nil:
		s.err = fmt.Errorf("setup returned no outcome")
		s.state = SessionFailed
	case outcome.Mode == ModeAwaitingProgress:
		s.outcome = outcome
		s.state = SessionAwaitingProgress
	default:
		s.outcome = outcome
		s.progress = Progress{Phase: PhaseCompleted, Percent: 100}
		s.state = SessionCompleted
	}
	return s.state, nil
}

// OnProgress records a non-terminal update. Lower percents are ignored.
func (s *Session) OnProgress(p Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != SessionAwaitingProgress {
		return s.invalid("progress")
	}
	if p.Percent >= s.progress.Percent {
		s.progress = p
	}
	return nil
}

// OnTerminal completes or fails an awaiting session.
func (s *Session) OnTerminal(p Progress) (SessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != SessionAwaitingProgress {
		return s.state, s.invalid("terminal")
	}
	if !p.Terminal() {
		return s.state, fmt.Errorf("%w: phase %s is not terminal", ErrInvalidTransition, p.Phase)
	}

	s.progress = p
	if p.Phase == PhaseFailed {
		s.err = fmt.Errorf("provisioning failed: %s", p.FailureReason)
		s.state = SessionFailed
	} else {
		s.state = SessionCompleted
	}
	return s.state, nil
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Snapshot() SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := SessionSnapshot{
		State:    s.state,
		Request:  s.request,
		Outcome:  s.outcome,
		Progress: s.progress,
		Err:      s.err,
	}
	if s.outcome != nil {
		snap.Warnings = append([]string(nil), s.outcome.Warnings...)
	}
	return snap
}

func (s *Session) invalid(event string) error {
	return fmt.Errorf("%w: %s in state %s", ErrInvalidTransition, event, s.state)
}
