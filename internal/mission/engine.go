// Package mission implements the Mission Engine (Reaper/WhiteKnight,
// spec.md §4.8): it sequences exploit injections against a target VM,
// followed by verification probes, advancing a per-mission state machine
// and an append-only step log.
package mission

import (
	"context"
	"sync"
	"time"

	"github.com/r3e-network/cyberrange/internal/domain/exploit"
	"github.com/r3e-network/cyberrange/internal/domain/mission"
	"github.com/r3e-network/cyberrange/internal/domain/resource"
	"github.com/r3e-network/cyberrange/internal/errs"
	"github.com/r3e-network/cyberrange/internal/logger"
	"github.com/r3e-network/cyberrange/internal/mission/verify"
	"github.com/r3e-network/cyberrange/internal/platform"
	"github.com/r3e-network/cyberrange/internal/playbook"
	"github.com/r3e-network/cyberrange/internal/registry"
	"github.com/r3e-network/cyberrange/internal/secrets"
)

// ExploitLibrary resolves exploit definitions by stable name, implemented by
// internal/store/postgres.Store in production and an in-memory map in tests.
type ExploitLibrary interface {
	GetExploit(ctx context.Context, name string) (exploit.Exploit, error)
}

// Store is the subset of the Persisted Store the engine writes mission
// state through, kept narrow so tests can supply an in-memory fake without
// pulling in a database driver.
type Store interface {
	SaveMission(ctx context.Context, m mission.Mission) error
	AppendStep(ctx context.Context, missionID string, seq int, step mission.StepLog) error
	SaveValidationResult(ctx context.Context, missionID string, v mission.ValidationResult) error
}

// CredentialResolver fetches the credential a mission step needs from the
// secret oracle, keyed by exploit variable "credential_secret" when set.
type CredentialResolver func(ctx context.Context, e exploit.Exploit) (playbook.Credential, error)

// ProbeFactory builds the verification probes to run against target once a
// mission enters "verifying", one call per mission since probe definitions
// may depend on the exploits that were actually applied.
type ProbeFactory func(target playbook.Target, applied []exploit.Exploit) []verify.Probe

// Engine coordinates missions: sequential exploit injection, then
// verification, against a target resolved either from an existing VM id or
// an ephemeral VM spec deployed through the dispatcher.
type Engine struct {
	library    ExploitLibrary
	store      Store
	registry   registry.Store
	dispatcher *platform.Dispatcher
	runner     playbook.Runner
	oracle     secrets.Oracle
	probes     ProbeFactory
	log        *logger.Logger

	mu       sync.Mutex
	cancels  map[string]context.CancelFunc
	statuses map[string]*mission.Mission
}

// NewEngine builds a Mission Engine from its collaborators.
func NewEngine(library ExploitLibrary, store Store, reg registry.Store, dispatcher *platform.Dispatcher, runner playbook.Runner, oracle secrets.Oracle, probes ProbeFactory, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.NewDefault("mission-engine")
	}
	return &Engine{
		library: library, store: store, registry: reg, dispatcher: dispatcher,
		runner: runner, oracle: oracle, probes: probes, log: log,
		cancels: make(map[string]context.CancelFunc), statuses: make(map[string]*mission.Mission),
	}
}

// Start runs m to completion (or cancellation) synchronously; callers that
// want a background mission spawn Start in their own goroutine, mirroring
// the teacher's pattern of engines not owning their own scheduling.
func (e *Engine) Start(ctx context.Context, m mission.Mission) (mission.Mission, error) {
	ctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancels[m.ID] = cancel
	stored := m
	e.statuses[m.ID] = &stored
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.cancels, m.ID)
		e.mu.Unlock()
	}()

	m.State = mission.StateStarting
	e.persist(ctx, m)

	target, osFamily, err := e.resolveTarget(ctx, &m)
	if err != nil {
		m.State = mission.StateFailed
		e.persist(ctx, m)
		return m, err
	}

	m.State = mission.StateInjecting
	e.persist(ctx, m)

	exploits, err := e.loadExploits(ctx, m.ExploitNames)
	if err != nil {
		m.State = mission.StateFailed
		e.persist(ctx, m)
		return m, err
	}

	applied, cancelled, fatalErr := e.injectSequential(ctx, &m, target, osFamily, exploits)
	if fatalErr != nil {
		m.State = mission.StateFailed
		e.persist(ctx, m)
		return m, fatalErr
	}
	if cancelled {
		m.State = mission.StateCancelled
		e.persist(ctx, m)
		return m, nil
	}

	m.State = mission.StateVerifying
	e.persist(ctx, m)

	if e.probes != nil {
		results := verify.RunAll(ctx, m.ID, target.Host, e.probes(target, applied))
		for _, r := range results {
			if err := e.store.SaveValidationResult(ctx, m.ID, r); err != nil {
				e.log.WithError(err).WithField("mission_id", m.ID).Warn("save validation result failed")
			}
		}
	}

	m.State = mission.StateCompleted
	m.AdvanceProgress(100)
	e.persist(ctx, m)
	return m, nil
}

// Cancel requests cooperative cancellation of a running mission. Per
// spec.md §4.8 the current step finishes before the mission transitions to
// cancelled; Cancel only signals, it does not block for that transition.
func (e *Engine) Cancel(missionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	cancel, ok := e.cancels[missionID]
	if !ok {
		return false
	}
	cancel()
	return true
}

// Status returns the last known in-memory state for missionID, for callers
// that want a progress read without round-tripping the Persisted Store.
func (e *Engine) Status(missionID string) (mission.Mission, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.statuses[missionID]
	if !ok {
		return mission.Mission{}, false
	}
	return *m, true
}

func (e *Engine) persist(ctx context.Context, m mission.Mission) {
	m.UpdatedAt = time.Now()
	e.mu.Lock()
	if stored, ok := e.statuses[m.ID]; ok {
		*stored = m
	}
	e.mu.Unlock()
	if err := e.store.SaveMission(ctx, m); err != nil {
		e.log.WithError(err).WithField("mission_id", m.ID).Warn("save mission failed")
	}
}

// resolveTarget deploys an ephemeral VM when the mission spec requests one
// (entering StateDeployingVM first), or resolves the existing target VM id
// against the registry, returning the playbook target and its observed OS
// family (carried in the resource's tag bag under "os_family", defaulting
// to linux when absent — see DESIGN.md for this Open Question resolution).
func (e *Engine) resolveTarget(ctx context.Context, m *mission.Mission) (playbook.Target, exploit.OSFamily, error) {
	if m.TargetVMID == "" && m.Ephemeral.TemplateRef != "" {
		m.State = mission.StateDeployingVM
		e.persist(ctx, *m)
		return e.deployEphemeral(ctx, m)
	}

	found, err := e.findByNativeID(ctx, m.TargetVMID)
	if err != nil {
		return playbook.Target{}, "", err
	}
	m.TargetIP = found.Config.ObservedIP
	osFamily := exploit.OSFamily(found.Config.Tags["os_family"])
	if osFamily == "" {
		osFamily = exploit.OSLinux
	}
	return playbook.Target{Host: found.Config.ObservedIP, OSFamily: osFamily}, osFamily, nil
}

func (e *Engine) findByNativeID(ctx context.Context, nativeID string) (resource.Resource, error) {
	// The registry keys by full Identity, but a mission only knows the
	// native id; snapshotting the kind:vm channel's backing set and
	// filtering is the same trade-off the drift detector makes scanning a
	// lab's resource set rather than keeping a secondary index.
	all, err := e.registry.Snapshot(ctx, "")
	if err != nil {
		return resource.Resource{}, errs.Wrap(errs.Internal, "snapshot registry for mission target lookup", err)
	}
	for _, r := range all {
		if r.Identity.NativeID == nativeID {
			return r, nil
		}
	}
	return resource.Resource{}, errs.New(errs.ResourceMissing, "mission target vm not found").WithResource(nativeID)
}

func (e *Engine) deployEphemeral(ctx context.Context, m *mission.Mission) (playbook.Target, exploit.OSFamily, error) {
	key := platform.Key{Kind: m.PlatformKind}
	var observedIP string
	var nativeID string
	err := e.dispatcher.Dispatch(ctx, key, func(ctx context.Context, a platform.Adapter) error {
		id, err := a.CloneFromTemplate(ctx, platform.CloneSpec{
			RequestID: "mission:" + m.ID, TemplateRef: m.Ephemeral.TemplateRef,
			Name: "mission-" + m.ID, CPU: m.Ephemeral.CPU, MemoryMB: m.Ephemeral.MemoryMB,
		})
		if err != nil {
			return err
		}
		nativeID = id
		if err := a.SetPower(ctx, id, platform.PowerOn); err != nil {
			return err
		}
		ip, err := a.WaitForLiveness(ctx, id, time.Now().Add(10*time.Minute))
		if err != nil {
			return err
		}
		observedIP = ip
		return nil
	})
	if err != nil {
		return playbook.Target{}, "", err
	}
	m.TargetVMID = nativeID
	m.TargetIP = observedIP
	return playbook.Target{Host: observedIP, OSFamily: exploit.OSLinux}, exploit.OSLinux, nil
}

func (e *Engine) loadExploits(ctx context.Context, names []string) ([]exploit.Exploit, error) {
	out := make([]exploit.Exploit, 0, len(names))
	for _, name := range names {
		ex, err := e.library.GetExploit(ctx, name)
		if err != nil {
			return nil, err
		}
		out = append(out, ex)
	}
	return out, nil
}

// injectSequential applies exploits in order to target, one at a time,
// preserving deterministic state per spec.md §4.8. It returns the exploits
// actually applied (compatible and attempted), whether cancellation ended
// the sequence early, and a fatal error if a step's FatalOnFail flag fired.
func (e *Engine) injectSequential(ctx context.Context, m *mission.Mission, target playbook.Target, osFamily exploit.OSFamily, exploits []exploit.Exploit) ([]exploit.Exploit, bool, error) {
	applied := make([]exploit.Exploit, 0, len(exploits))
	total := len(exploits)

	for i, ex := range exploits {
		select {
		case <-ctx.Done():
			return applied, true, nil
		default:
		}

		if !ex.CompatibleWith(osFamily) {
			e.appendStep(ctx, m.ID, i, mission.StepLog{
				ExploitName: ex.Name, Outcome: mission.StepIncompatible,
				Error: "exploit targets " + string(ex.TargetOS) + ", observed " + string(osFamily),
				StartedAt: time.Now(), FinishedAt: time.Now(),
			})
			m.AdvanceProgress(100 * (i + 1) / total)
			e.persist(ctx, *m)
			continue
		}

		step, fatal := e.runStep(ctx, target, ex)
		e.appendStep(ctx, m.ID, i, step)
		applied = append(applied, ex)
		m.AdvanceProgress(100 * (i + 1) / total)
		e.persist(ctx, *m)

		if fatal {
			return applied, false, errs.New(errs.Internal, "exploit "+ex.Name+" failed and is marked fatal_on_fail").WithResource(ex.Name)
		}
	}
	return applied, false, nil
}

func (e *Engine) appendStep(ctx context.Context, missionID string, seq int, step mission.StepLog) {
	if err := e.store.AppendStep(ctx, missionID, seq, step); err != nil {
		e.log.WithError(err).WithField("mission_id", missionID).WithField("exploit", step.ExploitName).Warn("append step log failed")
	}
}

// runStep executes one exploit against target with the default 10-minute
// step deadline (spec.md §4.8), returning its StepLog and whether the
// failure is fatal to the mission. The step's context is deliberately
// stripped of the mission's cancellation signal via context.WithoutCancel:
// Cancel must let the in-flight step run to completion and only take
// effect at the next step boundary in injectSequential, not abort a
// playbook or SSH session mid-command.
func (e *Engine) runStep(ctx context.Context, target playbook.Target, ex exploit.Exploit) (mission.StepLog, bool) {
	stepCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), playbook.DefaultStepTimeout)
	defer cancel()

	started := time.Now()
	cred, err := e.resolveCredential(stepCtx, ex)
	if err != nil {
		return mission.StepLog{ExploitName: ex.Name, Outcome: mission.StepFailed, Error: err.Error(), StartedAt: started, FinishedAt: time.Now()}, ex.FatalOnFail
	}

	var stdout, stderr string
	var exitCode int
	var runErr error

	if ex.ScriptBody != "" {
		var res playbook.ScriptResult
		res, runErr = e.runner.RunScript(stepCtx, target, cred, ex.ScriptBody)
		stdout, stderr, exitCode = res.Stdout, res.Stderr, res.ExitCode
	} else {
		var res playbook.PlaybookResult
		res, runErr = e.runner.RunPlaybook(stepCtx, []playbook.Target{target}, ex.PlaybookRef, ex.Variables)
		stdout = res.Log
		if res.Status != "ok" {
			exitCode = 1
		}
	}

	finished := time.Now()
	log := mission.StepLog{ExploitName: ex.Name, Stdout: stdout, Stderr: stderr, ExitCode: exitCode, StartedAt: started, FinishedAt: finished}

	switch {
	case stepCtx.Err() == context.DeadlineExceeded:
		log.Outcome = mission.StepTimeout
		log.Error = "step exceeded its deadline"
		return log, ex.FatalOnFail
	case runErr != nil:
		log.Outcome = mission.StepFailed
		log.Error = runErr.Error()
		return log, ex.FatalOnFail
	case exitCode != 0:
		log.Outcome = mission.StepFailed
		log.Error = "exploit exited non-zero"
		return log, ex.FatalOnFail
	default:
		log.Outcome = mission.StepSuccess
		return log, false
	}
}

func (e *Engine) resolveCredential(ctx context.Context, ex exploit.Exploit) (playbook.Credential, error) {
	secretName, ok := ex.Variables["credential_secret"]
	if !ok || secretName == "" || e.oracle == nil {
		return playbook.Credential{}, nil
	}
	raw, err := e.oracle.GetSecret(ctx, secretName)
	if err != nil {
		return playbook.Credential{}, errs.Wrap(errs.AuthFailed, "resolve credential secret "+secretName, err)
	}
	return playbook.Credential{Username: ex.Variables["credential_user"], Password: string(raw)}, nil
}
