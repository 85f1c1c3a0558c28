// Package system implements the control plane's lifecycle manager: the
// deterministic start/stop ordering for every long-running component
// (registry, dispatcher-backed pollers, drift watchers, deploy and mission
// engines), grounded on the teacher's applications/system.Manager.
package system

import (
	"context"

	"github.com/r3e-network/cyberrange/internal/corekit"
)

// Service is a lifecycle-managed component. Every long-running piece of the
// control plane implements this so Manager can start and stop it
// deterministically.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// DescriptorProvider optionally advertises a service's placement and
// capabilities for CLI introspection.
type DescriptorProvider interface {
	Descriptor() corekit.Descriptor
}
