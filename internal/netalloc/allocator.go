// Package netalloc owns the pool of VLAN tags and derived CIDR blocks
// leased to labs for the lifetime of a deployment. It is the same shape as
// leasing an account out of a pool of reusable identities: acquisition is
// serialized behind one mutex, and a released tag sits in a cooldown queue
// before it returns to the free list, so a stale ARP or DHCP lease from the
// previous tenant cannot bleed into the next one.
package netalloc

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/r3e-network/cyberrange/internal/domain/lease"
	"github.com/r3e-network/cyberrange/internal/errs"
	"github.com/r3e-network/cyberrange/internal/logger"
)

// Allocator hands out VLAN-tagged subnet leases from an ordered pool.
// Acquire is serialized by mu; the cooldown timers that return a tag to the
// free list run independently and also take mu only for the duration of
// the list mutation.
type Allocator struct {
	cidrBase  [4]byte
	cidrBits  int
	cooldown  time.Duration
	now       func() time.Time
	log       *logger.Logger

	mu     sync.Mutex
	free   []int // ascending VLAN tags available now
	owned  map[int]lease.Lease
}

// New builds an Allocator over the inclusive VLAN range [start, end], deriving
// each lab's CIDR from base by overwriting its third octet with the VLAN tag
// (e.g. base 10.200.0.0/16 and VLAN 42 yields 10.200.42.0/prefixBits).
func New(start, end int, base string, prefixBits int, cooldown time.Duration, log *logger.Logger) (*Allocator, error) {
	if start <= 0 || end <= 0 || start > end {
		return nil, errs.New(errs.ConfigInvalid, fmt.Sprintf("invalid vlan range [%d, %d]", start, end))
	}
	if end > 255 {
		return nil, errs.New(errs.ConfigInvalid, "vlan range end must fit in a CIDR third octet (<= 255)")
	}
	baseIP, err := parseIPv4(base)
	if err != nil {
		return nil, errs.Wrap(errs.ConfigInvalid, "parse cidr base", err)
	}
	if log == nil {
		log = logger.NewDefault("netalloc")
	}

	free := make([]int, 0, end-start+1)
	for v := start; v <= end; v++ {
		free = append(free, v)
	}

	return &Allocator{
		cidrBase: baseIP,
		cidrBits: prefixBits,
		cooldown: cooldown,
		now:      time.Now,
		log:      log,
		free:     free,
		owned:    make(map[int]lease.Lease),
	}, nil
}

// Acquire finds the lowest-numbered free VLAN tag, marks it owned by labID,
// and returns the resulting lease. Exhaustion is reported as
// errs.PoolExhausted, which per the propagation policy is fatal to the
// requesting deploy.
func (a *Allocator) Acquire(ctx context.Context, labID string) (lease.Lease, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.free) == 0 {
		return lease.Lease{}, errs.New(errs.PoolExhausted, "no vlan tags available in pool").WithResource(labID)
	}

	vlan := a.free[0]
	a.free = a.free[1:]

	cidr := a.cidrFor(vlan)
	l := lease.Lease{
		ID:         uuid.New().String(),
		VLAN:       vlan,
		CIDR:       cidr,
		GatewayIP:  gatewayFor(cidr),
		LabID:      labID,
		AcquiredAt: a.now(),
	}
	a.owned[vlan] = l

	a.log.WithField("lab_id", labID).WithField("vlan", vlan).WithField("cidr", cidr).Info("vlan lease acquired")
	return l, nil
}

// Release returns l's VLAN tag to the free list after the configured
// cooldown elapses, to avoid ARP and DHCP artifacts from the previous
// tenant being observed by the next one. Release is unordered: multiple
// leases may be cooling down concurrently.
func (a *Allocator) Release(l lease.Lease) {
	a.mu.Lock()
	owned, ok := a.owned[l.VLAN]
	if !ok || owned.ID != l.ID {
		a.mu.Unlock()
		return
	}
	owned.ReleasedAt = a.now()
	a.owned[l.VLAN] = owned
	a.mu.Unlock()

	a.log.WithField("lab_id", l.LabID).WithField("vlan", l.VLAN).WithField("cooldown", a.cooldown).Info("vlan lease released, cooling down")

	time.AfterFunc(a.cooldown, func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.owned, l.VLAN)
		idx := sort.SearchInts(a.free, l.VLAN)
		a.free = append(a.free, 0)
		copy(a.free[idx+1:], a.free[idx:])
		a.free[idx] = l.VLAN
		a.log.WithField("vlan", l.VLAN).Debug("vlan tag returned to pool")
	})
}

// Available reports how many VLAN tags are currently free, for metrics.
func (a *Allocator) Available() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.free)
}

func (a *Allocator) cidrFor(vlan int) string {
	ip := a.cidrBase
	ip[2] = byte(vlan)
	return fmt.Sprintf("%d.%d.%d.%d/%d", ip[0], ip[1], ip[2], ip[3], a.cidrBits)
}

func gatewayFor(cidr string) string {
	var a, b, c, d, bits int
	if _, err := fmt.Sscanf(cidr, "%d.%d.%d.%d/%d", &a, &b, &c, &d, &bits); err != nil {
		return ""
	}
	return fmt.Sprintf("%d.%d.%d.1", a, b, c)
}

func parseIPv4(s string) ([4]byte, error) {
	var a, b, c, d, bits int
	if n, err := fmt.Sscanf(s, "%d.%d.%d.%d/%d", &a, &b, &c, &d, &bits); err != nil || n != 5 {
		return [4]byte{}, fmt.Errorf("invalid cidr %q", s)
	}
	for _, octet := range []int{a, b, c, d} {
		if octet < 0 || octet > 255 {
			return [4]byte{}, fmt.Errorf("invalid cidr %q", s)
		}
	}
	return [4]byte{byte(a), byte(b), byte(c), byte(d)}, nil
}
