package deploy

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/r3e-network/cyberrange/internal/domain/intent"
	"github.com/r3e-network/cyberrange/internal/domain/resource"
	"github.com/r3e-network/cyberrange/internal/netalloc"
	"github.com/r3e-network/cyberrange/internal/platform"
	"github.com/r3e-network/cyberrange/internal/registry"
)

type fakeAdapter struct {
	kind, instance string
	mu             sync.Mutex
	cloned         int
	deleted        []string
	failClone      map[string]bool
}

func (a *fakeAdapter) BackendKind() string     { return a.kind }
func (a *fakeAdapter) BackendInstance() string { return a.instance }

func (a *fakeAdapter) CloneFromTemplate(ctx context.Context, spec platform.CloneSpec) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cloned++
	if a.failClone != nil && a.failClone[spec.Name] {
		return "", errTestFail
	}
	return "native-" + spec.Name, nil
}
func (a *fakeAdapter) SetPower(ctx context.Context, nativeID string, state platform.PowerState) error {
	return nil
}
func (a *fakeAdapter) WaitForLiveness(ctx context.Context, nativeID string, deadline time.Time) (string, error) {
	return "10.10.0.5", nil
}
func (a *fakeAdapter) Delete(ctx context.Context, nativeID string, force bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deleted = append(a.deleted, nativeID)
	return nil
}
func (a *fakeAdapter) ListResources(ctx context.Context, kind resource.Kind, visit platform.ResourceVisitor) error {
	return nil
}
func (a *fakeAdapter) DiscoverLeases(ctx context.Context, visit platform.LeaseVisitor) error {
	return nil
}
func (a *fakeAdapter) AttachNetwork(ctx context.Context, nativeID string, vlan int, cidr string) error {
	return nil
}
func (a *fakeAdapter) ExecCommand(ctx context.Context, nativeID string, cred platform.Credential, command string) (platform.ExecResult, error) {
	return platform.ExecResult{}, nil
}

type testErr struct{ s string }

func (e testErr) Error() string { return e.s }

var errTestFail = testErr{"clone failed"}

type fakeRegistry struct {
	mu        sync.Mutex
	resources []resource.Resource
}

func (f *fakeRegistry) Register(ctx context.Context, r resource.Resource) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resources = append(f.resources, r)
	return nil
}
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

func testIntent() intent.LabIntent {
	return intent.LabIntent{
		LabID:    "lab-1",
		IntentID: "intent-1",
		Nodes: []intent.NodeSpec{
			{Name: "gw", Kind: intent.NodeGateway, TemplateRef: "tmpl-gw", CPU: 1, MemoryMB: 512},
			{Name: "vm-a", Kind: intent.NodeVM, TemplateRef: "tmpl-vm", CPU: 2, MemoryMB: 1024},
			{Name: "vm-b", Kind: intent.NodeVM, TemplateRef: "tmpl-vm", CPU: 2, MemoryMB: 1024},
		},
	}
}

func newTestAllocator(t *testing.T) *netalloc.Allocator {
	t.Helper()
	a, err := netalloc.New(100, 110, "10.200.0.0/16", 24, time.Millisecond, nil)
	if err != nil {
		t.Fatalf("new allocator: %v", err)
	}
	return a
}

func TestExecuteDeploysGatewayAndTenantsSuccessfully(t *testing.T) {
	in := testIntent()
	plan, err := BuildPlan("deploy-1", in)
	if err != nil {
		t.Fatalf("build plan: %v", err)
	}

	adapter := &fakeAdapter{kind: "onprem", instance: "lab1"}
	dispatcher := platform.NewDispatcher()
	dispatcher.Register(adapter, 4)
	reg := &fakeRegistry{}
	alloc := newTestAllocator(t)

	eng := NewEngine(alloc, dispatcher, reg, "onprem", 4, nil)
	result, err := eng.Execute(context.Background(), plan, "lab1")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.State != DeployCompleted {
		t.Fatalf("expected completed, got %s", result.State)
	}
	if adapter.cloned != 3 {
		t.Fatalf("expected 3 clones (gateway + 2 tenants), got %d", adapter.cloned)
	}
	if len(reg.resources) == 0 {
		t.Fatalf("expected resources recorded in registry")
	}
	for _, task := range plan.TenantTasks() {
		if task.State != TaskLive {
			t.Fatalf("expected tenant task live, got %s for %s", task.State, task.Node.Name)
		}
	}
}

func TestExecuteTearsDownAndReleasesLeaseOnGatewayFailure(t *testing.T) {
	in := testIntent()
	plan, err := BuildPlan("deploy-2", in)
	if err != nil {
		t.Fatalf("build plan: %v", err)
	}

	adapter := &fakeAdapter{kind: "onprem", instance: "lab1", failClone: map[string]bool{"gw": true}}
	dispatcher := platform.NewDispatcher()
	dispatcher.Register(adapter, 4)
	reg := &fakeRegistry{}
	alloc := newTestAllocator(t)

	eng := NewEngine(alloc, dispatcher, reg, "onprem", 4, nil)
	result, err := eng.Execute(context.Background(), plan, "lab1")
	if err == nil {
		t.Fatalf("expected error on gateway clone failure")
	}
	if result.State != DeployFailed {
		t.Fatalf("expected failed, got %s", result.State)
	}
	if adapter.cloned != 1 {
		t.Fatalf("expected only the gateway clone attempt, got %d", adapter.cloned)
	}

	time.Sleep(10 * time.Millisecond)
	if alloc.Available() != 11 {
		t.Fatalf("expected vlan returned after cooldown window passes, available=%d", alloc.Available())
	}
}

func TestExecuteCompletesWithErrorsWhenOneTenantFails(t *testing.T) {
	in := testIntent()
	plan, err := BuildPlan("deploy-3", in)
	if err != nil {
		t.Fatalf("build plan: %v", err)
	}

	adapter := &fakeAdapter{kind: "onprem", instance: "lab1", failClone: map[string]bool{"vm-a": true}}
	dispatcher := platform.NewDispatcher()
	dispatcher.Register(adapter, 4)
	reg := &fakeRegistry{}
	alloc := newTestAllocator(t)

	eng := NewEngine(alloc, dispatcher, reg, "onprem", 4, nil)
	result, err := eng.Execute(context.Background(), plan, "lab1")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.State != DeployCompletedWithError {
		t.Fatalf("expected completed_with_errors, got %s", result.State)
	}
}
