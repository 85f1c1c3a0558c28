package mission

import (
	"context"
	"testing"
	"time"

	"github.com/r3e-network/cyberrange/internal/domain/exploit"
	"github.com/r3e-network/cyberrange/internal/domain/mission"
	"github.com/r3e-network/cyberrange/internal/domain/resource"
	"github.com/r3e-network/cyberrange/internal/mission/verify"
	"github.com/r3e-network/cyberrange/internal/playbook"
	"github.com/r3e-network/cyberrange/internal/registry"
)

type fakeLibrary struct {
	exploits map[string]exploit.Exploit
}

func (f fakeLibrary) GetExploit(ctx context.Context, name string) (exploit.Exploit, error) {
	ex, ok := f.exploits[name]
	if !ok {
		return exploit.Exploit{}, errNotFound(name)
	}
	return ex, nil
}

type notFoundErr struct{ name string }

func (e notFoundErr) Error() string { return "exploit not found: " + e.name }
func errNotFound(name string) error { return notFoundErr{name} }

type fakeStore struct {
	missions []mission.Mission
	steps    []mission.StepLog
	results  []mission.ValidationResult
}

func (s *fakeStore) SaveMission(ctx context.Context, m mission.Mission) error {
	s.missions = append(s.missions, m)
	return nil
}
func (s *fakeStore) AppendStep(ctx context.Context, missionID string, seq int, step mission.StepLog) error {
	s.steps = append(s.steps, step)
	return nil
}
func (s *fakeStore) SaveValidationResult(ctx context.Context, missionID string, v mission.ValidationResult) error {
	s.results = append(s.results, v)
	return nil
}

type fakeRunner struct {
	failName string
}

func (r fakeRunner) RunScript(ctx context.Context, target playbook.Target, cred playbook.Credential, body string) (playbook.ScriptResult, error) {
	return playbook.ScriptResult{ExitCode: 0, Stdout: "ok"}, nil
}
func (r fakeRunner) RunPlaybook(ctx context.Context, hosts []playbook.Target, path string, vars map[string]string) (playbook.PlaybookResult, error) {
	return playbook.PlaybookResult{Status: "ok"}, nil
}

type fakeRegistry struct {
	resources []resource.Resource
}

func (f *fakeRegistry) Register(ctx context.Context, r resource.Resource) error { return nil }
func (f *fakeRegistry) MarkMissing(ctx context.Context, id resource.Identity, grace time.Duration) error {
	return nil
}
func (f *fakeRegistry) Get(ctx context.Context, id resource.Identity) (resource.Resource, bool, error) {
	return resource.Resource{}, false, nil
}
func (f *fakeRegistry) Snapshot(ctx context.Context, labID string) ([]resource.Resource, error) {
	return f.resources, nil
}
func (f *fakeRegistry) Subscribe(ctx context.Context, channel string) (registry.Subscription, error) {
	return nil, nil
}
func (f *fakeRegistry) Delete(ctx context.Context, id resource.Identity) error { return nil }
func (f *fakeRegistry) Publish(ctx context.Context, evt registry.Event) error  { return nil }

func testTarget() *fakeRegistry {
	return &fakeRegistry{resources: []resource.Resource{
		{
			Identity: resource.Identity{BackendKind: "onprem", BackendInstance: "lab1", NativeID: "vm-1"},
			Kind:     resource.KindVM,
			Config:   resource.Config{ObservedIP: "10.0.0.5", Tags: map[string]string{"os_family": "linux"}},
		},
	}}
}

func TestEngineCompletesMissionOnSuccessfulExploitAndProbe(t *testing.T) {
	lib := fakeLibrary{exploits: map[string]exploit.Exploit{
		"weak-ssh": {Name: "weak-ssh", TargetOS: exploit.OSLinux, ScriptBody: "echo hi"},
	}}
	store := &fakeStore{}
	reg := testTarget()
	runner := fakeRunner{}
	probes := func(target playbook.Target, applied []exploit.Exploit) []verify.Probe {
		return nil
	}

	eng := NewEngine(lib, store, reg, nil, runner, nil, probes, nil)
	m := mission.Mission{ID: "m1", TargetVMID: "vm-1", ExploitNames: []string{"weak-ssh"}}

	result, err := eng.Start(context.Background(), m)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if result.State != mission.StateCompleted {
		t.Fatalf("expected completed, got %s", result.State)
	}
	if result.Progress != 100 {
		t.Fatalf("expected progress 100, got %d", result.Progress)
	}
	if len(store.steps) != 1 || store.steps[0].Outcome != mission.StepSuccess {
		t.Fatalf("expected one successful step, got %+v", store.steps)
	}
}

func TestEngineSkipsIncompatibleExploit(t *testing.T) {
	lib := fakeLibrary{exploits: map[string]exploit.Exploit{
		"windows-only": {Name: "windows-only", TargetOS: exploit.OSWindows, ScriptBody: "whoami"},
	}}
	store := &fakeStore{}
	reg := testTarget()
	eng := NewEngine(lib, store, reg, nil, fakeRunner{}, nil, nil, nil)
	m := mission.Mission{ID: "m2", TargetVMID: "vm-1", ExploitNames: []string{"windows-only"}}

	result, err := eng.Start(context.Background(), m)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if result.State != mission.StateCompleted {
		t.Fatalf("expected completed despite incompatible skip, got %s", result.State)
	}
	if len(store.steps) != 1 || store.steps[0].Outcome != mission.StepIncompatible {
		t.Fatalf("expected incompatible_os step, got %+v", store.steps)
	}
}

func TestEngineFailsMissionOnFatalExploit(t *testing.T) {
	lib := fakeLibrary{exploits: map[string]exploit.Exploit{
		"critical": {Name: "critical", TargetOS: exploit.OSLinux, ScriptBody: "false", FatalOnFail: true},
	}}
	store := &fakeStore{}
	reg := testTarget()
	runner := fakeFailingRunner{}
	eng := NewEngine(lib, store, reg, nil, runner, nil, nil, nil)
	m := mission.Mission{ID: "m3", TargetVMID: "vm-1", ExploitNames: []string{"critical"}}

	result, err := eng.Start(context.Background(), m)
	if err == nil {
		t.Fatalf("expected fatal error")
	}
	if result.State != mission.StateFailed {
		t.Fatalf("expected failed, got %s", result.State)
	}
}

type fakeFailingRunner struct{}

func (fakeFailingRunner) RunScript(ctx context.Context, target playbook.Target, cred playbook.Credential, body string) (playbook.ScriptResult, error) {
	return playbook.ScriptResult{ExitCode: 1, Stderr: "boom"}, nil
}
func (fakeFailingRunner) RunPlaybook(ctx context.Context, hosts []playbook.Target, path string, vars map[string]string) (playbook.PlaybookResult, error) {
	return playbook.PlaybookResult{Status: "failed"}, nil
}

func TestEngineCancelStopsSequenceBeforeNextStep(t *testing.T) {
	lib := fakeLibrary{exploits: map[string]exploit.Exploit{
		"one": {Name: "one", TargetOS: exploit.OSLinux, ScriptBody: "echo 1"},
		"two": {Name: "two", TargetOS: exploit.OSLinux, ScriptBody: "echo 2"},
	}}
	store := &fakeStore{}
	reg := testTarget()
	eng := NewEngine(lib, store, reg, nil, fakeRunner{}, nil, nil, nil)
	m := mission.Mission{ID: "m4", TargetVMID: "vm-1", ExploitNames: []string{"one", "two"}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := eng.Start(ctx, m)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if result.State != mission.StateCancelled {
		t.Fatalf("expected cancelled, got %s", result.State)
	}
}

type cancelMidStepRunner struct {
	cancel          context.CancelFunc
	ran             int
	sawCancelledCtx bool
}

func (r *cancelMidStepRunner) RunScript(ctx context.Context, target playbook.Target, cred playbook.Credential, body string) (playbook.ScriptResult, error) {
	r.ran++
	r.cancel()
	time.Sleep(5 * time.Millisecond)
	if ctx.Err() != nil {
		r.sawCancelledCtx = true
	}
	return playbook.ScriptResult{ExitCode: 0, Stdout: "ok"}, nil
}
func (r *cancelMidStepRunner) RunPlaybook(ctx context.Context, hosts []playbook.Target, path string, vars map[string]string) (playbook.PlaybookResult, error) {
	return playbook.PlaybookResult{Status: "ok"}, nil
}

func TestEngineCancelDuringStepLetsStepFinish(t *testing.T) {
	lib := fakeLibrary{exploits: map[string]exploit.Exploit{
		"one": {Name: "one", TargetOS: exploit.OSLinux, ScriptBody: "echo 1"},
		"two": {Name: "two", TargetOS: exploit.OSLinux, ScriptBody: "echo 2"},
	}}
	store := &fakeStore{}
	reg := testTarget()
	ctx, cancel := context.WithCancel(context.Background())
	runner := &cancelMidStepRunner{cancel: cancel}
	eng := NewEngine(lib, store, reg, nil, runner, nil, nil, nil)
	m := mission.Mission{ID: "m6", TargetVMID: "vm-1", ExploitNames: []string{"one", "two"}}

	result, err := eng.Start(ctx, m)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if result.State != mission.StateCancelled {
		t.Fatalf("expected cancelled, got %s", result.State)
	}
	if runner.ran != 1 {
		t.Fatalf("expected exactly the first step to run, got %d", runner.ran)
	}
	if runner.sawCancelledCtx {
		t.Fatalf("step context must not observe mission cancellation mid-step")
	}
}

func TestEngineFailsWhenTargetVMNotFound(t *testing.T) {
	lib := fakeLibrary{exploits: map[string]exploit.Exploit{}}
	store := &fakeStore{}
	reg := &fakeRegistry{}
	eng := NewEngine(lib, store, reg, nil, fakeRunner{}, nil, nil, nil)
	m := mission.Mission{ID: "m5", TargetVMID: "missing-vm"}

	result, err := eng.Start(context.Background(), m)
	if err == nil {
		t.Fatalf("expected error for missing target vm")
	}
	if result.State != mission.StateFailed {
		t.Fatalf("expected failed, got %s", result.State)
	}
}
