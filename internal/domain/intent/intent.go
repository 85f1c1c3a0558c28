// Package intent defines the Lab Intent: the declarative design a trainee
// or instructor submits for deployment.
package intent

// NodeKind enumerates the kinds of node a lab graph can declare.
type NodeKind string

const (
	NodeGateway NodeKind = "gateway"
	NodeVM      NodeKind = "vm"
)

// NodeSpec describes one node (gateway or tenant VM) in a lab graph.
type NodeSpec struct {
	Name         string
	Kind         NodeKind
	TemplateRef  string
	CPU          int
	MemoryMB     int
	DiskGB       int
	NetworkEdges []string // network names this node attaches to
	UserData     string
}

// LabIntent is the declarative design submitted for deployment. It is
// immutable after acceptance; reconfiguration is a new intent with the same
// LabID but a new IntentID.
type LabIntent struct {
	LabID     string
	IntentID  string
	Nodes     []NodeSpec
	MissionID string // optional
}

// Gateway returns the intent's single gateway node, if any.
func (i LabIntent) Gateway() (NodeSpec, bool) {
	for _, n := range i.Nodes {
		if n.Kind == NodeGateway {
			return n, true
		}
	}
	return NodeSpec{}, false
}

// TenantVMs returns every non-gateway node.
func (i LabIntent) TenantVMs() []NodeSpec {
	out := make([]NodeSpec, 0, len(i.Nodes))
	for _, n := range i.Nodes {
		if n.Kind != NodeGateway {
			out = append(out, n)
		}
	}
	return out
}

// Validate enforces the acceptance-time invariants: exactly one gateway and
// no duplicate node names. NetworkEdges entries are not checked.
func (i LabIntent) Validate() error {
	seen := make(map[string]bool, len(i.Nodes))
	gateways := 0
	for _, n := range i.Nodes {
		if seen[n.Name] {
			return &ValidationError{Reason: "duplicate node name: " + n.Name}
		}
		seen[n.Name] = true
		if n.Kind == NodeGateway {
			gateways++
		}
	}
	if gateways != 1 {
		return &ValidationError{Reason: "lab intent must declare exactly one gateway"}
	}
	return nil
}

// ValidationError reports why a LabIntent failed acceptance-time checks.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }
