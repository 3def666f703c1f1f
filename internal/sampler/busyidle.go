package sampler

import (
	"context"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// Accountant turns GPU active/idle transitions into utilization samples. The
// host driver calls SetActive on every transition; each Sample reports the
// busy share of the window since the previous Sample and starts a new window.
type Accountant struct {
	clock clock.PassiveClock

	mu          sync.Mutex
	active      bool
	compute     bool
	since       time.Time
	busy        time.Duration
	idle        time.Duration
	computeBusy time.Duration
	last        Sample
}

// NewAccountant creates an Accountant that starts idle.
func NewAccountant(clk clock.PassiveClock) *Accountant {
	return &Accountant{clock: clk, since: clk.Now()}
}

// SetActive records a transition. compute marks the activity as compute work.
func (a *Accountant) SetActive(active, compute bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.accrue(a.clock.Now())
	a.active = active
	a.compute = active && compute
}

func (a *Accountant) accrue(now time.Time) {
	d := now.Sub(a.since)
	if d < 0 {
		d = 0
	}
	if a.active {
		a.busy += d
		if a.compute {
			a.computeBusy += d
		}
	} else {
		a.idle += d
	}
	a.since = now
}

// Sample closes the current window. An empty window repeats the previous
// utilization.
func (a *Accountant) Sample(_ context.Context) (Sample, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.accrue(a.clock.Now())
	if a.busy+a.idle == 0 {
		return a.last, nil
	}

	s := Sample{
		Utilization:  Percent(a.busy, a.idle),
		ComputeBound: a.busy > 0 && a.idle == 0 && a.computeBusy == a.busy,
		Busy:         a.busy,
		Idle:         a.idle,
	}
	a.busy, a.idle, a.computeBusy = 0, 0, 0
	a.last = s
	return s, nil
}
