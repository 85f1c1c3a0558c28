// Package corekit holds small cross-cutting types shared by every
// long-running component: a placement descriptor for the lifecycle manager,
// observation hooks for tracing, and list-limit clamping for CLI output.
package corekit

// Layer describes the architectural slice a component belongs to.
type Layer string

const (
	LayerAdapter  Layer = "adapter"
	LayerRegistry Layer = "registry"
	LayerEngine   Layer = "engine"
	LayerPolling  Layer = "polling"
)

// Descriptor advertises a component's placement and capabilities to the
// lifecycle manager and to CLI introspection. It never changes runtime
// behavior.
type Descriptor struct {
	Name         string
	Layer        Layer
	Capabilities []string
}

// WithCapabilities returns a copy of the descriptor with capabilities
// appended.
func (d Descriptor) WithCapabilities(caps ...string) Descriptor {
	if len(caps) == 0 {
		return d
	}
	combined := make([]string, 0, len(d.Capabilities)+len(caps))
	combined = append(combined, d.Capabilities...)
	combined = append(combined, caps...)
	d.Capabilities = combined
	return d
}
