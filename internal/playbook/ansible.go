package playbook

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/r3e-network/cyberrange/internal/errs"
)

// inventoryHost is one entry in the generated ansible inventory.
type inventoryHost struct {
	AnsibleHost           string `yaml:"ansible_host"`
	AnsiblePort           int    `yaml:"ansible_port,omitempty"`
	AnsibleUser           string `yaml:"ansible_user,omitempty"`
	AnsiblePassword       string `yaml:"ansible_password,omitempty"`
	AnsibleConnection     string `yaml:"ansible_connection,omitempty"`
	AnsibleWinrmTransport string `yaml:"ansible_winrm_transport,omitempty"`
}

type inventoryGroup struct {
	Hosts map[string]inventoryHost `yaml:"hosts"`
}

type inventory struct {
	All struct {
		Children map[string]inventoryGroup `yaml:"children"`
	} `yaml:"all"`
}

// AnsibleExecutor wraps an external configuration-management CLI
// (ansible-playbook-shaped) via os/exec, auto-generating a YAML inventory
// with gopkg.in/yaml.v3 (a direct teacher dependency) from the provided
// host list. Credentials are resolved from the secret oracle by the caller
// and passed in as part of each host's Credential; the inventory file is
// written to a private temp directory and removed once the subprocess
// exits, so credentials never reach this package's own logs or a
// world-readable path.
type AnsibleExecutor struct {
	BinaryPath string // defaults to "ansible-playbook" on PATH
}

// NewAnsibleExecutor builds an AnsibleExecutor invoking binaryPath, or
// "ansible-playbook" if empty.
func NewAnsibleExecutor(binaryPath string) *AnsibleExecutor {
	if binaryPath == "" {
		binaryPath = "ansible-playbook"
	}
	return &AnsibleExecutor{BinaryPath: binaryPath}
}

// hostCredentials pairs each target with its resolved credential for
// inventory generation; callers building a []Target for RunPlaybook should
// instead call RunWithCredentials when per-host auth is needed.
type hostCredentials struct {
	target Target
	cred   Credential
}

// Run generates an inventory with no per-host credentials (playbooks that
// authenticate via an already-trusted SSH CA or a credential embedded in
// extraVars) and invokes the wrapped CLI.
func (e *AnsibleExecutor) Run(ctx context.Context, hosts []Target, playbookPath string, extraVars map[string]string) (PlaybookResult, error) {
	pairs := make([]hostCredentials, len(hosts))
	for i, h := range hosts {
		pairs[i] = hostCredentials{target: h}
	}
	return e.run(ctx, pairs, playbookPath, extraVars)
}

// RunWithCredentials is identical to Run but embeds a resolved credential
// per host into the generated inventory (ansible_user/ansible_password),
// for playbooks that need password or WinRM authentication.
func (e *AnsibleExecutor) RunWithCredentials(ctx context.Context, hosts []Target, creds []Credential, playbookPath string, extraVars map[string]string) (PlaybookResult, error) {
	if len(hosts) != len(creds) {
		return PlaybookResult{}, errs.New(errs.Internal, "hosts and credentials must be the same length")
	}
	pairs := make([]hostCredentials, len(hosts))
	for i, h := range hosts {
		pairs[i] = hostCredentials{target: h, cred: creds[i]}
	}
	return e.run(ctx, pairs, playbookPath, extraVars)
}

func (e *AnsibleExecutor) run(ctx context.Context, hosts []hostCredentials, playbookPath string, extraVars map[string]string) (PlaybookResult, error) {
	dir, err := os.MkdirTemp("", "rangectl-inventory-*")
	if err != nil {
		return PlaybookResult{}, errs.Wrap(errs.Internal, "create inventory temp dir", err)
	}
	defer os.RemoveAll(dir)

	inventoryPath := filepath.Join(dir, "inventory.yaml")
	if err := writeInventory(inventoryPath, hosts); err != nil {
		return PlaybookResult{}, err
	}

	args := []string{"-i", inventoryPath, playbookPath}
	for k, v := range extraVars {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, v))
	}

	cmd := exec.CommandContext(ctx, e.BinaryPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	result := PlaybookResult{Log: stdout.String() + stderr.String()}
	if runErr == nil {
		result.Status = "ok"
		return result, nil
	}

	if ctx.Err() != nil {
		return result, errs.Wrap(errs.Timeout, "ansible-playbook deadline exceeded", ctx.Err())
	}
	if _, ok := runErr.(*exec.ExitError); ok {
		result.Status = "failed"
		return result, nil
	}
	return result, errs.Wrap(errs.Internal, "run ansible-playbook", runErr)
}

func writeInventory(path string, hosts []hostCredentials) error {
	inv := inventory{}
	inv.All.Children = map[string]inventoryGroup{
		"targets": {Hosts: make(map[string]inventoryHost, len(hosts))},
	}
	group := inv.All.Children["targets"]
	for i, hc := range hosts {
		entry := inventoryHost{AnsibleHost: hc.target.Host, AnsiblePort: hc.target.Port}
		if hc.cred.Username != "" {
			entry.AnsibleUser = hc.cred.Username
			entry.AnsiblePassword = hc.cred.Password
		}
		if hc.target.OSFamily == "windows" {
			entry.AnsibleConnection = "winrm"
			entry.AnsibleWinrmTransport = "basic"
		}
		group.Hosts[fmt.Sprintf("target%d", i)] = entry
	}
	inv.All.Children["targets"] = group

	data, err := yaml.Marshal(inv)
	if err != nil {
		return errs.Wrap(errs.Internal, "encode inventory", err)
	}
	return os.WriteFile(path, data, 0o600)
}
