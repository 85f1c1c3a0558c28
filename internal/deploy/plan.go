// Package deploy implements the Deployment Engine: it turns a Lab Intent
// into an execution plan (a DAG of per-node tasks), obtains a network
// lease, runs the gateway task to completion, then fans the remaining
// tenant VM tasks out with bounded parallelism, recording every task's
// outcome as it happens.
package deploy

import (
	"fmt"

	"github.com/r3e-network/cyberrange/internal/domain/intent"
)

// TaskState enumerates the observable lifecycle of one deploy task.
type TaskState string

const (
	TaskPending      TaskState = "pending"
	TaskCloning      TaskState = "cloning"
	TaskConfiguring  TaskState = "configuring"
	TaskStarting     TaskState = "starting"
	TaskWaitingIP    TaskState = "waiting_ip"
	TaskLive         TaskState = "live"
	TaskFailed       TaskState = "failed"
	TaskSkipped      TaskState = "skipped"
)

// Terminal reports whether s is one of the plan's terminal states.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskLive, TaskFailed, TaskSkipped:
		return true
	default:
		return false
	}
}

// Task is one node's deployment unit: its spec, its place in the
// dependency graph, and its observed outcome.
type Task struct {
	Node       intent.NodeSpec
	DependsOn  []string
	State      TaskState
	NativeID   string
	ObservedIP string
	Err        error
}

// Plan is the DAG built from a Lab Intent: the gateway task with no
// dependency, and one task per tenant VM depending on the gateway.
type Plan struct {
	DeployID string
	LabID    string
	Tasks    map[string]*Task // keyed by node name
	order    []string         // topological order, gateway first
}

// BuildPlan validates in and constructs its deploy plan. The gateway node
// has no predecessor; every tenant VM depends on the gateway. Cycles are
// rejected even though the star topology this derives from cannot produce
// one today — the check runs the same generic topological sort the plan's
// execution order relies on.
func BuildPlan(deployID string, in intent.LabIntent) (*Plan, error) {
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("invalid lab intent: %w", err)
	}

	gw, _ := in.Gateway()
	tasks := make(map[string]*Task, len(in.Nodes))
	tasks[gw.Name] = &Task{Node: gw, State: TaskPending}
	for _, vm := range in.TenantVMs() {
		tasks[vm.Name] = &Task{Node: vm, DependsOn: []string{gw.Name}, State: TaskPending}
	}

	order, err := topoSort(tasks)
	if err != nil {
		return nil, err
	}

	return &Plan{DeployID: deployID, LabID: in.LabID, Tasks: tasks, order: order}, nil
}

// Order returns the plan's tasks in topological (gateway-first) order.
func (p *Plan) Order() []*Task {
	out := make([]*Task, 0, len(p.order))
	for _, name := range p.order {
		out = append(out, p.Tasks[name])
	}
	return out
}

// Gateway returns the plan's single gateway task.
func (p *Plan) Gateway() *Task {
	for _, t := range p.Tasks {
		if t.Node.Kind == intent.NodeGateway {
			return t
		}
	}
	return nil
}

// TenantTasks returns every non-gateway task.
func (p *Plan) TenantTasks() []*Task {
	out := make([]*Task, 0, len(p.Tasks))
	for _, name := range p.order {
		t := p.Tasks[name]
		if t.Node.Kind != intent.NodeGateway {
			out = append(out, t)
		}
	}
	return out
}

// topoSort runs Kahn's algorithm over tasks' DependsOn edges, returning an
// error if a cycle is present.
func topoSort(tasks map[string]*Task) ([]string, error) {
	inDegree := make(map[string]int, len(tasks))
	dependents := make(map[string][]string, len(tasks))
	for name, t := range tasks {
		if _, ok := inDegree[name]; !ok {
			inDegree[name] = 0
		}
		for _, dep := range t.DependsOn {
			if _, ok := tasks[dep]; !ok {
				return nil, fmt.Errorf("task %q depends on unknown node %q", name, dep)
			}
			inDegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var queue []string
	for name, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, name)
		}
	}

	var order []string
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		order = append(order, n)
		for _, dep := range dependents[n] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if len(order) != len(tasks) {
		return nil, fmt.Errorf("dependency graph contains a cycle")
	}
	return order, nil
}
