// Package sim is a software-modelled GPU. It implements the clock backend,
// the bus QoS sink and a utilization sampler driven by a synthetic workload,
// so the DVFS engine can run without hardware.
package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/kubeadapt/kubeadapt-dvfs/internal/backend"
	"github.com/kubeadapt/kubeadapt-dvfs/internal/sampler"
)

// ErrInjected is returned by an injected fault.
var ErrInjected = errors.New("sim: injected fault")

// GPU is a simulated GPU.
type GPU struct {
	clock       clock.PassiveClock
	granularity int
	workload    Workload
	start       time.Time

	mu          sync.Mutex
	cur         int
	voltage     int
	qos         backend.QoSRequest
	transitions int
	faults      int
}

// NewGPU creates a GPU running workload. granularity is the clock step the
// hardware can actually produce; requests are rounded down to it.
func NewGPU(clk clock.PassiveClock, granularity int, w Workload) *GPU {
	if granularity <= 0 {
		granularity = 1
	}
	return &GPU{clock: clk, granularity: granularity, workload: w, start: clk.Now()}
}

// SetClock implements backend.ClockBackend.
func (g *GPU) SetClock(ctx context.Context, mhz int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.faults > 0 {
		g.faults--
		return 0, ErrInjected
	}
	if mhz <= 0 {
		return 0, fmt.Errorf("sim: clock %d must be positive", mhz)
	}
	applied := max(mhz-mhz%g.granularity, g.granularity)
	if applied != g.cur {
		g.transitions++
	}
	g.cur = applied
	return applied, nil
}

// SetVoltage implements backend.ClockBackend.
func (g *GPU) SetVoltage(_ context.Context, microvolts int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.voltage = microvolts
	return nil
}

// SetBusQoS implements backend.BusQoS.
func (g *GPU) SetBusQoS(_ context.Context, req backend.QoSRequest) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.qos = req
	return nil
}

// ResetBusQoS implements backend.BusQoS.
func (g *GPU) ResetBusQoS(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.qos = backend.QoSRequest{}
	return nil
}

// InjectFaults makes the next n SetClock calls fail.
func (g *GPU) InjectFaults(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.faults = n
}

// Clock returns the current clock.
func (g *GPU) Clock() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cur
}

// Voltage returns the current regulator voltage.
func (g *GPU) Voltage() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.voltage
}

// QoS returns the current bus QoS request.
func (g *GPU) QoS() backend.QoSRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.qos
}

// Transitions returns the number of clock changes granted.
func (g *GPU) Transitions() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.transitions
}

// Sample implements sampler.Sampler: the workload's current demand as a share
// of the current clock.
func (g *GPU) Sample(ctx context.Context) (sampler.Sample, error) {
	if err := ctx.Err(); err != nil {
		return sampler.Sample{}, err
	}
	load, compute := g.load()
	util := sampler.ClampUtilization(int(load*100 + 0.5))
	return sampler.Sample{Utilization: util, ComputeBound: compute && util >= 100}, nil
}

// load returns demand over the current clock, unclamped. It is zero while no
// clock has been set.
func (g *GPU) load() (float64, bool) {
	demand, compute := g.workload.Demand(g.clock.Since(g.start))

	g.mu.Lock()
	cur := g.cur
	g.mu.Unlock()

	if cur <= 0 {
		return 0, false
	}
	return demand / float64(cur), compute
}
