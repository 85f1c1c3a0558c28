// Package lease defines the Network Lease: a reserved isolated subnet
// identity (VLAN tag, CIDR, gateway IP) owned by exactly one lab at a time.
package lease

import "time"

// Lease is a reserved isolated subnet owned by one lab.
type Lease struct {
	ID         string
	VLAN       int
	CIDR       string
	GatewayIP  string
	LabID      string
	AcquiredAt time.Time
	ReleasedAt time.Time // zero while active
}

// Active reports whether the lease is currently owned by a lab.
func (l Lease) Active() bool {
	return l.LabID != "" && l.ReleasedAt.IsZero()
}
