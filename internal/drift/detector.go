// Package drift implements the Drift Detector: it compares a Lab Intent
// against the Resources currently registered for that lab and reports the
// divergence as a snapshot.LabSnapshot, publishing drift_detected and
// drift_resolved events onto the Lab Registry bus as the comparison result
// changes between runs.
package drift

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/r3e-network/cyberrange/internal/domain/intent"
	"github.com/r3e-network/cyberrange/internal/domain/resource"
	"github.com/r3e-network/cyberrange/internal/domain/snapshot"
	"github.com/r3e-network/cyberrange/internal/errs"
	"github.com/r3e-network/cyberrange/internal/registry"
)

// Detector computes Lab Snapshots and tracks which drift entries are
// currently outstanding per lab, so it can emit drift_resolved the moment
// a previously-reported entry stops reproducing.
type Detector struct {
	store registry.Store

	mu       sync.Mutex
	previous map[string]map[string]snapshot.DriftEntry // labID -> driftKey -> entry
}

// NewDetector builds a Detector against store.
func NewDetector(store registry.Store) *Detector {
	return &Detector{
		store:    store,
		previous: make(map[string]map[string]snapshot.DriftEntry),
	}
}

// Compute assembles the current Lab Snapshot for in against the Resources
// registered in the lab's set, applying the five comparison rules from
// spec.md §4.5 in order, then diffs against the previously reported drift
// set for this lab, publishing drift_detected for newly observed entries
// and drift_resolved for entries that stopped reproducing.
func (d *Detector) Compute(ctx context.Context, in intent.LabIntent, labCIDR string) (snapshot.LabSnapshot, error) {
	resources, err := d.store.Snapshot(ctx, in.LabID)
	if err != nil {
		return snapshot.LabSnapshot{}, errs.Wrap(errs.Internal, "snapshot lab resources", err)
	}

	byExactName := make(map[string]resource.Resource, len(resources))
	for _, r := range resources {
		byExactName[r.Name] = r
	}
	matched := make(map[string]bool, len(resources)) // resource identity strings consumed by a node match

	snap := snapshot.LabSnapshot{LabID: in.LabID}

	for _, node := range in.Nodes {
		r, found := byExactName[node.Name]
		if !found {
			if cand, ok := findNameDrift(node.Name, resources, matched); ok {
				r = cand
				found = true
				matched[r.Identity.String()] = true
				snap.Drifts = append(snap.Drifts, snapshot.DriftEntry{
					Kind: snapshot.DriftNameMismatch, NodeName: node.Name, Severity: snapshot.SeverityInformational,
					Detail: "observed name " + r.Name + " does not exactly match expected " + node.Name,
				})
			}
		} else {
			matched[r.Identity.String()] = true
		}

		if !found {
			snap.VMs = append(snap.VMs, snapshot.VMStatus{NodeName: node.Name, Observed: false, Running: false})
			snap.Drifts = append(snap.Drifts, snapshot.DriftEntry{
				Kind: snapshot.DriftMissingResource, NodeName: node.Name, Severity: snapshot.SeverityHigh,
				Detail: "no resource registered for node " + node.Name,
			})
			continue
		}

		running := r.State == resource.StateRunning
		snap.VMs = append(snap.VMs, snapshot.VMStatus{NodeName: node.Name, Observed: true, Running: running})
		if !running {
			snap.Drifts = append(snap.Drifts, snapshot.DriftEntry{
				Kind: snapshot.DriftStateMismatch, NodeName: node.Name, Severity: snapshot.SeverityHigh,
				Detail: "observed state " + string(r.State) + ", expected running",
			})
		}

		if labCIDR != "" && r.Config.ObservedIP != "" && !ipInCIDR(r.Config.ObservedIP, labCIDR) {
			snap.Drifts = append(snap.Drifts, snapshot.DriftEntry{
				Kind: snapshot.DriftIPMismatch, NodeName: node.Name, Severity: snapshot.SeverityHigh,
				Detail: "observed ip " + r.Config.ObservedIP + " is not in lab subnet " + labCIDR,
			})
		}
	}

	for _, r := range resources {
		if matched[r.Identity.String()] {
			continue
		}
		snap.Drifts = append(snap.Drifts, snapshot.DriftEntry{
			Kind: snapshot.DriftExtraResource, NodeName: r.Name, Severity: snapshot.SeverityInformational,
			Detail: "resource " + r.Identity.String() + " is registered in the lab but not declared in the intent",
		})
	}

	if err := d.reconcileEvents(ctx, in.LabID, snap.Drifts); err != nil {
		return snap, err
	}
	return snap, nil
}

// findNameDrift looks for a resource whose name differs from expected only
// by case or a trailing numeric/alpha suffix (e.g. "web-1" vs "WEB-1-clone"),
// skipping resources already matched to another node.
func findNameDrift(expected string, resources []resource.Resource, matched map[string]bool) (resource.Resource, bool) {
	lowerExpected := strings.ToLower(expected)
	for _, r := range resources {
		if matched[r.Identity.String()] {
			continue
		}
		lowerObserved := strings.ToLower(r.Name)
		if lowerObserved == lowerExpected {
			return r, true
		}
		if strings.HasPrefix(lowerObserved, lowerExpected) || strings.HasPrefix(lowerExpected, lowerObserved) {
			return r, true
		}
	}
	return resource.Resource{}, false
}

func ipInCIDR(ip, cidr string) bool {
	_, network, err := net.ParseCIDR(cidr)
	if err != nil {
		return true // an unparsable lab CIDR is a config problem, not evidence of IP drift
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return true
	}
	return network.Contains(parsed)
}

func driftKey(e snapshot.DriftEntry) string {
	return string(e.Kind) + ":" + e.NodeName
}

// reconcileEvents diffs current against the lab's previously reported
// drift set, publishing drift_detected for entries new this round and
// drift_resolved for entries that no longer reproduce.
func (d *Detector) reconcileEvents(ctx context.Context, labID string, current []snapshot.DriftEntry) error {
	currentByKey := make(map[string]snapshot.DriftEntry, len(current))
	for _, e := range current {
		currentByKey[driftKey(e)] = e
	}

	d.mu.Lock()
	prior := d.previous[labID]
	d.previous[labID] = currentByKey
	d.mu.Unlock()

	for key, e := range currentByKey {
		if _, existed := prior[key]; !existed {
			if err := d.publish(ctx, registry.EventDriftDetected, labID, e); err != nil {
				return err
			}
		}
	}
	for key, e := range prior {
		if _, stillThere := currentByKey[key]; !stillThere {
			if err := d.publish(ctx, registry.EventDriftResolved, labID, e); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *Detector) publish(ctx context.Context, evtType registry.EventType, labID string, e snapshot.DriftEntry) error {
	return d.store.Publish(ctx, registry.Event{
		Type:       evtType,
		ResourceID: labID + ":" + e.NodeName,
		LabID:      labID,
		Timestamp:  time.Now(),
		Data:       resource.Resource{LabID: labID, Name: e.NodeName, Kind: resource.KindVM},
	})
}
