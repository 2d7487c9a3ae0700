package provisioning

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Phase is a stage of asynchronous tenant provisioning.
type Phase string

const (
	PhaseInitializing       Phase = "INITIALIZING"
	PhaseCreatingSchema     Phase = "CREATING_SCHEMA"
	PhaseRunningMigrations  Phase = "RUNNING_MIGRATIONS"
	PhaseLoadingDefaultData Phase = "LOADING_DEFAULT_DATA"
	PhaseCompleted          Phase = "COMPLETED"
	PhaseFailed             Phase = "FAILED"
)

var phaseRank = map[Phase]int{
	PhaseInitializing:       1,
	PhaseCreatingSchema:     2,
	PhaseRunningMigrations:  3,
	PhaseLoadingDefaultData: 4,
	PhaseCompleted:          5,
	PhaseFailed:             5,
}

// Terminal reports whether no further progress follows p.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// Overall percent bands per phase.
const (
	basePercent       = 25
	migrationsSpan    = 0.35
	migrationsDefault = 60
	loadingBase       = 85
	loadingSpan       = 0.10
)

var subPercentPattern = regexp.MustCompile(`(\d{1,3}(?:\.\d+)?)\s*%`)

// Signal is one parsed read of the progress channel. It is one of
// PhaseSignal, CompletedSignal, FailedSignal or UnrecognizedSignal.
type Signal interface {
	raw() string
}

// PhaseSignal is a non-terminal phase with its mapped overall percent.
type PhaseSignal struct {
	Phase      Phase
	SubPercent *int
	Percent    int
	Raw        string
}

type CompletedSignal struct {
	Raw string
}

type FailedSignal struct {
	Reason string
	Raw    string
}

// UnrecognizedSignal carries text that matches no known phase. Trackers
// ignore it.
type UnrecognizedSignal struct {
	Raw string
}

func (s PhaseSignal) raw() string        { return s.Raw }
func (s CompletedSignal) raw() string    { return s.Raw }
func (s FailedSignal) raw() string       { return s.Raw }
func (s UnrecognizedSignal) raw() string { return s.Raw }

// ParseSignal maps free-form status text onto a Signal.
func ParseSignal(raw string) Signal {
	text := strings.TrimSpace(raw)

	switch {
	case text == "COMPLETED":
		return CompletedSignal{Raw: raw}

	case strings.HasPrefix(text, "FAILED"):
		reason := strings.TrimPrefix(text, "FAILED")
		reason = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(reason), ":"))
		return FailedSignal{Reason: reason, Raw: raw}

	case strings.Contains(text, "Initializing setup"):
		return PhaseSignal{Phase: PhaseInitializing, Percent: basePercent, Raw: raw}

	case strings.Contains(text, "Creating workspace schema"):
		return PhaseSignal{Phase: PhaseCreatingSchema, Percent: basePercent, Raw: raw}

	case strings.Contains(text, "Running migrations"):
		sig := PhaseSignal{Phase: PhaseRunningMigrations, Percent: migrationsDefault, Raw: raw}
		if sub, ok := extractSubPercent(text); ok {
			rounded := roundPercent(sub)
			sig.SubPercent = &rounded
			sig.Percent = roundPercent(basePercent + migrationsSpan*sub)
		}
		return sig

	case strings.Contains(text, "Loading") && strings.Contains(text, "data"):
		sig := PhaseSignal{Phase: PhaseLoadingDefaultData, Percent: loadingBase, Raw: raw}
		if sub, ok := extractSubPercent(text); ok {
			rounded := roundPercent(sub)
			sig.SubPercent = &rounded
			sig.Percent = roundPercent(loadingBase + loadingSpan*sub)
		}
		return sig
	}

	return UnrecognizedSignal{Raw: raw}
}

// extractSubPercent returns the first embedded "N%" clamped to 0..100.
func extractSubPercent(text string) (float64, bool) {
	m := subPercentPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return math.Max(0, math.Min(100, v)), true
}

func roundPercent(v float64) int {
	return int(math.Round(math.Max(0, math.Min(100, v))))
}

// Progress is the tracked state of one tenant's provisioning.
type Progress struct {
	Phase         Phase     `json:"phase,omitempty"`
	SubPercent    *int      `json:"subPercent,omitempty"`
	Percent       int       `json:"percent"`
	RawMessage    string    `json:"rawMessage,omitempty"`
	FailureReason string    `json:"failureReason,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt,omitempty"`
}

// Terminal reports whether p is COMPLETED or FAILED.
func (p Progress) Terminal() bool { return p.Phase.Terminal() }

// Tracker folds signals into a Progress whose percent and phase never move
// backwards. It is safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	current Progress
	now     func() time.Time
}

// NewTracker starts from seed, typically a stored snapshot, or from zero.
func NewTracker(seed *Progress) *Tracker {
	t := &Tracker{now: time.Now}
	if seed != nil {
		t.current = *seed
	}
	return t
}

// Current returns the tracked progress.
func (t *Tracker) Current() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Apply folds sig into the tracked progress and reports whether anything
// changed. Once terminal the progress is frozen.
func (t *Tracker) Apply(sig Signal) (Progress, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current.Terminal() {
		return t.current, false
	}

	next := t.current
	switch s := sig.(type) {
	case PhaseSignal:
		if phaseRank[s.Phase] >= phaseRank[next.Phase] {
			next.Phase = s.Phase
			next.SubPercent = s.SubPercent
			next.RawMessage = s.Raw
		}
		if s.Percent > next.Percent {
			next.Percent = s.Percent
		}

	case CompletedSignal:
		next.Phase = PhaseCompleted
		next.SubPercent = nil
		next.Percent = 100
		next.RawMessage = s.Raw

	case FailedSignal:
		next.Phase = PhaseFailed
		next.SubPercent = nil
		next.FailureReason = s.Reason
		next.RawMessage = s.Raw

	default:
		return t.current, false
	}

	if equalProgress(next, t.current) {
		return t.current, false
	}
	next.UpdatedAt = t.now().UTC()
	t.current = next
	return next, true
}

func equalProgress(a, b Progress) bool {
	if a.Phase != b.Phase || a.Percent != b.Percent || a.RawMessage != b.RawMessage || a.FailureReason != b.FailureReason {
		return false
	}
	if (a.SubPercent == nil) != (b.SubPercent == nil) {
		return false
	}
	return a.SubPercent == nil || *a.SubPercent == *b.SubPercent
}
