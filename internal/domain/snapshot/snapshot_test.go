package snapshot

import "testing"

func TestHealthyRequiresNoDriftsAndAllRunning(t *testing.T) {
	healthy := LabSnapshot{VMs: []VMStatus{{NodeName: "a", Observed: true, Running: true}}}
	if !healthy.Healthy() {
		t.Fatalf("expected healthy snapshot")
	}

	withDrift := healthy
	withDrift.Drifts = []DriftEntry{{Kind: DriftExtraResource, Severity: SeverityInformational}}
	if withDrift.Healthy() {
		t.Fatalf("expected unhealthy snapshot when drifts present")
	}

	notRunning := LabSnapshot{VMs: []VMStatus{{NodeName: "a", Observed: true, Running: false}}}
	if notRunning.Healthy() {
		t.Fatalf("expected unhealthy snapshot when a VM isn't running")
	}

	missing := LabSnapshot{VMs: []VMStatus{{NodeName: "a", Observed: false}}}
	if missing.Healthy() {
		t.Fatalf("expected unhealthy snapshot when a VM wasn't observed")
	}
}
