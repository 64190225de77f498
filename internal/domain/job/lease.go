package job

import (
	"errors"
	"time"
)

// ErrInvalidDefaultLease indicates the configured default lease duration is not positive.
var ErrInvalidDefaultLease = errors.New("default lease must be positive")

// minLease is the shortest lease a reservation may hold.
const minLease = time.Second

// LeasePolicy resolves how long a reserved job stays owned by its worker before
// another worker may reclaim it.
type LeasePolicy struct {
	defaultLease time.Duration
}

// NewLeasePolicy constructs a LeasePolicy with the provided default lease duration.
func NewLeasePolicy(defaultLease time.Duration) (*LeasePolicy, error) {
	if defaultLease <= 0 {
		return nil, ErrInvalidDefaultLease
	}
	return &LeasePolicy{defaultLease: defaultLease}, nil
}

// Default returns the configured default lease duration.
func (p *LeasePolicy) Default() time.Duration {
	if p == nil {
		return 0
	}
	return p.defaultLease
}

// Lease is a resolved lease length in whole seconds.
type Lease struct {
	Seconds   int
	Defaulted bool
	Clamped   bool
}

// Duration returns the lease as a time.Duration.
func (l Lease) Duration() time.Duration { return time.Duration(l.Seconds) * time.Second }

// Resolve normalises a requested lock duration. Zero selects the default; anything
// shorter than one second is raised to one second.
func (p *LeasePolicy) Resolve(request time.Duration) Lease {
	var out Lease
	d := request
	if d == 0 && p != nil {
		d = p.defaultLease
		out.Defaulted = true
	}
	if d < minLease {
		d = minLease
		out.Clamped = true
	}
	out.Seconds = int(d / time.Second)
	return out
}

// HeartbeatInterval returns how often a worker should extend a lease of the given length.
func HeartbeatInterval(lease time.Duration) time.Duration {
	interval := lease / 2
	if interval < 500*time.Millisecond {
		return 500 * time.Millisecond
	}
	return interval
}
