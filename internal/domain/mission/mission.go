// Package mission defines the Mission: an injection job against one target,
// and the Validation Result evidence produced by verification probes.
package mission

import "time"

// State enumerates the mission lifecycle states.
type State string

const (
	StatePending      State = "pending"
	StateStarting     State = "starting"
	StateDeployingVM  State = "deploying_vm"
	StateInjecting    State = "injecting"
	StateVerifying    State = "verifying"
	StateCompleted    State = "completed"
	StateFailed       State = "failed"
	StateCancelled    State = "cancelled"
)

// Terminal reports whether a state is absorbing.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// StepOutcome enumerates the result of one exploit injection step.
type StepOutcome string

const (
	StepSuccess       StepOutcome = "success"
	StepFailed        StepOutcome = "failed"
	StepTimeout       StepOutcome = "timeout"
	StepCancelled     StepOutcome = "cancelled"
	StepIncompatible  StepOutcome = "incompatible_os"
)

// StepLog is one entry in a mission's per-step log.
type StepLog struct {
	ExploitName string
	Outcome     StepOutcome
	Stdout      string
	Stderr      string
	ExitCode    int
	Error       string
	StartedAt   time.Time
	FinishedAt  time.Time
}

// EphemeralVMSpec describes an ad hoc VM to deploy as a mission target when
// no existing VM id is supplied.
type EphemeralVMSpec struct {
	TemplateRef string
	CPU         int
	MemoryMB    int
}

// Mission is an injection job against one target.
type Mission struct {
	ID           string
	PlatformKind string
	TargetVMID   string          // set when targeting an existing VM
	Ephemeral    EphemeralVMSpec // used when TargetVMID is empty
	ExploitNames []string        // ordered
	State        State
	Progress     int // 0..100, monotonically non-decreasing
	Steps        []StepLog
	TargetIP     string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Outcome enumerates a verification probe's result.
type Outcome string

const (
	OutcomeFound    Outcome = "found"
	OutcomeNotFound Outcome = "not_found"
	OutcomeError    Outcome = "error"
)

// ValidationResult is evidence that an injected exploit is exercisable.
type ValidationResult struct {
	MissionID string
	TestName  string
	Outcome   Outcome
	Latency   time.Duration
	Evidence  []byte
	Timestamp time.Time
}

// AdvanceProgress sets progress to the given value if it does not regress
// the monotonic invariant from spec.md §3.
func (m *Mission) AdvanceProgress(pct int) {
	if pct > m.Progress {
		m.Progress = pct
	}
}
