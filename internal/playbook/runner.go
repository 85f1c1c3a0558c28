// Package playbook implements the Playbook Runner (spec.md §4.9): a uniform
// interface over two execution modes against a target VM — a direct script
// body over SSH/WinRM, or an external configuration-management playbook
// invoked as a subprocess. Both paths surface the same internal/errs
// taxonomy and never write credentials to their own logs.
package playbook

import (
	"context"
	"time"

	"github.com/r3e-network/cyberrange/internal/domain/exploit"
	"github.com/r3e-network/cyberrange/internal/secrets"
)

// Credential is an opaque bundle resolved from the secret oracle
// immediately before use and never retained past the call that needs it.
type Credential struct {
	Username string
	Password string
	KeyPEM   []byte // private key material; mutually exclusive with Password for SSH
}

// ScriptResult is the outcome of run_script.
type ScriptResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// PlaybookResult is the outcome of run_playbook.
type PlaybookResult struct {
	Status string // e.g. "ok", "failed", "unreachable", mirrors the wrapped tool's own exit taxonomy
	Log    string
}

// Target identifies the host a script or playbook runs against.
type Target struct {
	Host     string
	Port     int
	OSFamily exploit.OSFamily
}

// Runner is the uniform interface every mission step executes through.
type Runner interface {
	// RunScript executes body against target using cred, choosing bash-over-SSH
	// for Unix-family targets and PowerShell-over-WinRM for Windows-family.
	RunScript(ctx context.Context, target Target, cred Credential, body string) (ScriptResult, error)

	// RunPlaybook invokes an external configuration-management tool against
	// the given hosts with extraVars. CompositeRunner passes extraVars to the
	// tool as given; it does not resolve credential placeholders in them.
	RunPlaybook(ctx context.Context, hosts []Target, playbookPath string, extraVars map[string]string) (PlaybookResult, error)
}

// DefaultStepTimeout is the per-exploit-step deadline from spec.md §4.8.
const DefaultStepTimeout = 10 * time.Minute

// DefaultProbeTimeout is the per-verification-probe deadline from spec.md §4.8.
const DefaultProbeTimeout = 30 * time.Second

// CompositeRunner dispatches RunScript to an SSH or WinRM executor by
// target OS family, and RunPlaybook to an external CLI wrapper. It is the
// Runner implementation wired into the Mission Engine in production.
type CompositeRunner struct {
	SSH     ScriptExecutor
	WinRM   ScriptExecutor
	Ansible PlaybookExecutor
	Secrets secrets.Oracle
}

// ScriptExecutor runs one script body against one target, already resolved
// to a concrete transport (SSH or WinRM).
type ScriptExecutor interface {
	Run(ctx context.Context, target Target, cred Credential, body string) (ScriptResult, error)
}

// PlaybookExecutor wraps an external configuration-management tool.
type PlaybookExecutor interface {
	Run(ctx context.Context, hosts []Target, playbookPath string, extraVars map[string]string) (PlaybookResult, error)
}

// NewCompositeRunner builds a Runner from its three execution legs.
func NewCompositeRunner(ssh, winrm ScriptExecutor, ansible PlaybookExecutor, oracle secrets.Oracle) *CompositeRunner {
	return &CompositeRunner{SSH: ssh, WinRM: winrm, Ansible: ansible, Secrets: oracle}
}

// RunScript routes to SSH for Unix-family and WinRM for Windows-family targets.
func (r *CompositeRunner) RunScript(ctx context.Context, target Target, cred Credential, body string) (ScriptResult, error) {
	if target.OSFamily == exploit.OSWindows {
		return r.WinRM.Run(ctx, target, cred, body)
	}
	return r.SSH.Run(ctx, target, cred, body)
}

// RunPlaybook delegates to the configured external configuration-management
// wrapper.
func (r *CompositeRunner) RunPlaybook(ctx context.Context, hosts []Target, playbookPath string, extraVars map[string]string) (PlaybookResult, error) {
	return r.Ansible.Run(ctx, hosts, playbookPath, extraVars)
}
