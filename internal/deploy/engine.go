package deploy

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/r3e-network/cyberrange/internal/domain/intent"
	"github.com/r3e-network/cyberrange/internal/domain/lease"
	"github.com/r3e-network/cyberrange/internal/domain/resource"
	"github.com/r3e-network/cyberrange/internal/errs"
	"github.com/r3e-network/cyberrange/internal/logger"
	"github.com/r3e-network/cyberrange/internal/netalloc"
	"github.com/r3e-network/cyberrange/internal/platform"
	"github.com/r3e-network/cyberrange/internal/registry"
)

// DeployState enumerates the deploy-level outcome, distinct from the
// per-task TaskState.
type DeployState string

const (
	DeployRunning            DeployState = "running"
	DeployCompleted          DeployState = "completed"
	DeployCompletedWithError DeployState = "completed_with_errors"
	DeployFailed             DeployState = "failed"
)

// Result is the outcome of one Execute call.
type Result struct {
	DeployID string
	LabID    string
	State    DeployState
	Lease    lease.Lease
	Plan     *Plan
}

// DefaultDeployDeadline bounds a whole deployment, gateway plus every
// tenant VM, per spec.md §4.7.
const DefaultDeployDeadline = 30 * time.Minute

// Engine turns an accepted Lab Intent into running resources: it leases a
// network, clones and powers the gateway, waits for it live, then fans the
// tenant VMs out with bounded parallelism, recording each into the Lab
// Registry as soon as its native id is known.
type Engine struct {
	alloc        *netalloc.Allocator
	dispatcher   *platform.Dispatcher
	registry     registry.Store
	backendKind  string
	maxConcurrency int
	log          *logger.Logger
}

// NewEngine builds a Deployment Engine. backendKind selects which platform
// adapter family new clones are dispatched to; today's topology always
// deploys a lab onto a single backend kind, chosen when the deploy is
// created.
func NewEngine(alloc *netalloc.Allocator, dispatcher *platform.Dispatcher, reg registry.Store, backendKind string, maxConcurrency int, log *logger.Logger) *Engine {
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	if log == nil {
		log = logger.NewDefault("deploy-engine")
	}
	return &Engine{alloc: alloc, dispatcher: dispatcher, registry: reg, backendKind: backendKind, maxConcurrency: maxConcurrency, log: log}
}

// Execute runs plan to completion. It acquires the network lease first and
// releases it on any failure that aborts before tenant VMs are attempted,
// so a rejected deploy leaves no dangling lease (spec.md §4.7).
func (e *Engine) Execute(ctx context.Context, plan *Plan, backendInstance string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultDeployDeadline)
	defer cancel()

	result := Result{DeployID: plan.DeployID, LabID: plan.LabID, Plan: plan, State: DeployRunning}

	l, err := e.alloc.Acquire(ctx, plan.LabID)
	if err != nil {
		result.State = DeployFailed
		return result, err
	}
	result.Lease = l

	key := platform.Key{Kind: e.backendKind, Instance: backendInstance}

	gw := plan.Gateway()
	if gw == nil {
		e.alloc.Release(l)
		result.State = DeployFailed
		return result, errs.New(errs.ConfigInvalid, "plan has no gateway task")
	}

	if err := e.runTask(ctx, plan, key, gw, l); err != nil {
		for _, t := range plan.TenantTasks() {
			t.State = TaskSkipped
		}
		e.teardown(context.Background(), plan, key, append([]*Task{gw}, plan.TenantTasks()...))
		e.alloc.Release(l)
		result.State = DeployFailed
		return result, err
	}

	tenantErr := e.runTenantsBounded(ctx, plan, key, l)
	if tenantErr != nil {
		e.log.WithField("deploy_id", plan.DeployID).WithError(tenantErr).Warn("deploy completed with tenant errors")
		result.State = DeployCompletedWithError
		return result, nil
	}

	result.State = DeployCompleted
	return result, nil
}

// runTenantsBounded runs every tenant task with e.maxConcurrency in flight
// at once, recording the first error encountered but letting the rest
// finish so unrelated tenant VMs in the same lab are not starved by one
// sibling's failure.
func (e *Engine) runTenantsBounded(ctx context.Context, plan *Plan, key platform.Key, l lease.Lease) error {
	tasks := plan.TenantTasks()
	if len(tasks) == 0 {
		return nil
	}

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(e.maxConcurrency)

	var mu sync.Mutex
	var firstErr error

	for _, t := range tasks {
		t := t
		group.Go(func() error {
			if err := e.runTask(gctx, plan, key, t, l); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				t.State = TaskFailed
				t.Err = err
				return nil // do not cancel siblings
			}
			return nil
		})
	}
	_ = group.Wait()
	return firstErr
}

// runTask clones, attaches the lab network, powers on, and waits for
// liveness for one node, recording the resulting Resource into the Lab
// Registry as soon as the native id is known (spec.md §4.7 — partial
// progress must be observable mid-deploy).
func (e *Engine) runTask(ctx context.Context, plan *Plan, key platform.Key, t *Task, l lease.Lease) error {
	requestID := "deploy:" + plan.DeployID + ":" + t.Node.Name

	t.State = TaskCloning
	var nativeID string
	err := e.dispatcher.Dispatch(ctx, key, func(ctx context.Context, a platform.Adapter) error {
		id, err := a.CloneFromTemplate(ctx, platform.CloneSpec{
			RequestID: requestID, TemplateRef: t.Node.TemplateRef, Name: t.Node.Name,
			CPU: t.Node.CPU, MemoryMB: t.Node.MemoryMB, DiskGB: t.Node.DiskGB, UserData: t.Node.UserData,
		})
		nativeID = id
		return err
	})
	if err != nil {
		t.State = TaskFailed
		t.Err = err
		return err
	}
	t.NativeID = nativeID

	t.State = TaskConfiguring
	identity := resource.Identity{BackendKind: key.Kind, BackendInstance: key.Instance, NativeID: nativeID}
	e.recordResource(ctx, identity, t.Node, plan.LabID, resource.StateStopped)

	err = e.dispatcher.Dispatch(ctx, key, func(ctx context.Context, a platform.Adapter) error {
		return a.AttachNetwork(ctx, nativeID, l.VLAN, l.CIDR)
	})
	if err != nil {
		t.State = TaskFailed
		t.Err = err
		return err
	}

	t.State = TaskStarting
	err = e.dispatcher.Dispatch(ctx, key, func(ctx context.Context, a platform.Adapter) error {
		return a.SetPower(ctx, nativeID, platform.PowerOn)
	})
	if err != nil {
		t.State = TaskFailed
		t.Err = err
		return err
	}

	t.State = TaskWaitingIP
	deadline, _ := ctx.Deadline()
	var observedIP string
	err = e.dispatcher.Dispatch(ctx, key, func(ctx context.Context, a platform.Adapter) error {
		ip, err := a.WaitForLiveness(ctx, nativeID, deadline)
		observedIP = ip
		return err
	})
	if err != nil {
		t.State = TaskFailed
		t.Err = err
		return err
	}
	t.ObservedIP = observedIP
	t.State = TaskLive

	e.recordResource(ctx, identity, t.Node, plan.LabID, resource.StateRunning)
	return nil
}

func (e *Engine) recordResource(ctx context.Context, id resource.Identity, node intent.NodeSpec, labID string, state resource.State) {
	r := resource.Resource{
		Identity: id, Kind: resource.KindVM, State: state, Name: node.Name, LabID: labID,
		Config:   resource.Config{CPU: node.CPU, MemoryMB: node.MemoryMB},
		LastSeen: time.Now(), CreatedAt: time.Now(),
	}
	if err := e.registry.Register(ctx, r); err != nil {
		e.log.WithError(err).WithField("resource_id", id.String()).Warn("register deployed resource failed")
	}
}

// teardown deletes every task whose clone returned a native id from both
// the backend and the Lab Registry, used as compensation when the gateway
// task fails and the deploy aborts. The gateway itself is included in
// tasks whenever its own clone succeeded before a later stage failed, so
// its native VM does not leak (spec.md §2's compensating teardown).
func (e *Engine) teardown(ctx context.Context, plan *Plan, key platform.Key, tasks []*Task) {
	for _, t := range tasks {
		if t.NativeID == "" {
			continue
		}
		err := e.dispatcher.Dispatch(ctx, key, func(ctx context.Context, a platform.Adapter) error {
			return a.Delete(ctx, t.NativeID, true)
		})
		if err != nil {
			e.log.WithError(err).WithField("native_id", t.NativeID).Warn("compensating teardown delete failed")
		}

		identity := resource.Identity{BackendKind: key.Kind, BackendInstance: key.Instance, NativeID: t.NativeID}
		if err := e.registry.Delete(ctx, identity); err != nil {
			e.log.WithError(err).WithField("native_id", t.NativeID).Warn("compensating teardown registry delete failed")
		}
	}
}
