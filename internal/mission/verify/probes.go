// Package verify implements the WhiteKnight verification probes run during
// a mission's "verifying" phase (spec.md §4.8): TCP reachability, an
// authenticated login attempt with a known-weak credential, and an HTTP GET
// against an endpoint. Each probe respects the 30-second deadline spec.md
// §4.8 prescribes and reports exactly one of {found, not_found, error}.
package verify

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/r3e-network/cyberrange/internal/domain/mission"
	"github.com/r3e-network/cyberrange/internal/playbook"
)

// Probe runs one verification check against a target and reports its
// outcome as a mission.ValidationResult (minus MissionID, which the caller
// fills in).
type Probe interface {
	Name() string
	Run(ctx context.Context, target string) mission.ValidationResult
}

// clampDeadline ensures ctx carries no more than playbook.DefaultProbeTimeout
// remaining, per spec.md §4.8 — verification probes have their own,
// shorter deadline than the surrounding mission step.
func clampDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, playbook.DefaultProbeTimeout)
}

// TCPProbe reports found when it can complete a TCP handshake against
// host:port within the probe deadline.
type TCPProbe struct {
	TestName string
	Address  string // host:port
}

func (p TCPProbe) Name() string { return p.TestName }

func (p TCPProbe) Run(ctx context.Context, target string) mission.ValidationResult {
	ctx, cancel := clampDeadline(ctx)
	defer cancel()

	start := time.Now()
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", p.Address)
	latency := time.Since(start)

	result := mission.ValidationResult{TestName: p.TestName, Latency: latency, Timestamp: time.Now()}
	if err != nil {
		if ctx.Err() != nil {
			result.Outcome = mission.OutcomeError
			result.Evidence = []byte("probe deadline exceeded: " + err.Error())
			return result
		}
		result.Outcome = mission.OutcomeNotFound
		result.Evidence = []byte(err.Error())
		return result
	}
	conn.Close()
	result.Outcome = mission.OutcomeFound
	return result
}

// HTTPProbe reports found when an HTTP GET against URL returns a status
// code in ExpectStatuses (or any 2xx if unset).
type HTTPProbe struct {
	TestName       string
	URL            string
	ExpectStatuses []int
	Client         *http.Client
}

func (p HTTPProbe) Name() string { return p.TestName }

func (p HTTPProbe) Run(ctx context.Context, target string) mission.ValidationResult {
	ctx, cancel := clampDeadline(ctx)
	defer cancel()

	start := time.Now()
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	result := mission.ValidationResult{TestName: p.TestName, Timestamp: time.Now()}
	if err != nil {
		result.Outcome = mission.OutcomeError
		result.Evidence = []byte(err.Error())
		return result
	}

	resp, err := client.Do(req)
	result.Latency = time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			result.Outcome = mission.OutcomeError
		} else {
			result.Outcome = mission.OutcomeNotFound
		}
		result.Evidence = []byte(err.Error())
		return result
	}
	defer resp.Body.Close()

	if p.matches(resp.StatusCode) {
		result.Outcome = mission.OutcomeFound
	} else {
		result.Outcome = mission.OutcomeNotFound
	}
	result.Evidence = []byte(fmt.Sprintf("status=%d", resp.StatusCode))
	return result
}

func (p HTTPProbe) matches(status int) bool {
	if len(p.ExpectStatuses) == 0 {
		return status >= 200 && status < 300
	}
	for _, s := range p.ExpectStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// CredentialProbe attempts an authenticated session against a target via
// the Playbook Runner's run_script path using a known-weak credential;
// success of the remote session (not of any command inside it) is the
// signal the vulnerable condition is exercisable.
type CredentialProbe struct {
	TestName string
	Target   playbook.Target
	Cred     playbook.Credential
	Runner   playbook.Runner
}

func (p CredentialProbe) Name() string { return p.TestName }

func (p CredentialProbe) Run(ctx context.Context, target string) mission.ValidationResult {
	ctx, cancel := clampDeadline(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.Runner.RunScript(ctx, p.Target, p.Cred, "true")
	result := mission.ValidationResult{TestName: p.TestName, Latency: time.Since(start), Timestamp: time.Now()}
	if err != nil {
		if ctx.Err() != nil {
			result.Outcome = mission.OutcomeError
		} else {
			result.Outcome = mission.OutcomeNotFound
		}
		result.Evidence = []byte(err.Error())
		return result
	}
	result.Outcome = mission.OutcomeFound
	return result
}

// RunAll runs every probe against target, stamping each result's MissionID.
func RunAll(ctx context.Context, missionID, target string, probes []Probe) []mission.ValidationResult {
	out := make([]mission.ValidationResult, 0, len(probes))
	for _, p := range probes {
		r := p.Run(ctx, target)
		r.MissionID = missionID
		out = append(out, r)
	}
	return out
}
