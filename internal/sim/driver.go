package sim

import (
	"context"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/kubeadapt/kubeadapt-dvfs/internal/sampler"
)

// DefaultSlice is the scheduling slice of a Driver.
const DefaultSlice = 10 * time.Millisecond

// Driver plays the host GPU driver for a simulated GPU: every slice it marks
// the GPU active for the share of the slice the workload needs at the current
// clock and idle for the rest, feeding the transitions to a busy/idle
// accountant.
type Driver struct {
	gpu   *GPU
	acc   *sampler.Accountant
	clock clock.Clock
	slice time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}

	syncOnce sync.Once
	synced   chan struct{}
}

// NewDriver creates a Driver. A non-positive slice means DefaultSlice.
func NewDriver(gpu *GPU, acc *sampler.Accountant, clk clock.Clock, slice time.Duration) *Driver {
	if slice <= 0 {
		slice = DefaultSlice
	}
	return &Driver{
		gpu:    gpu,
		acc:    acc,
		clock:  clk,
		slice:  slice,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
		synced: make(chan struct{}),
	}
}

// Name returns the source name.
func (d *Driver) Name() string { return "busyidle" }

// Start launches the driver goroutine.
func (d *Driver) Start(ctx context.Context) error {
	go d.run(ctx)
	return nil
}

// WaitForSync blocks until the first slice completed.
func (d *Driver) WaitForSync(ctx context.Context) error {
	select {
	case <-d.synced:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop ends the driver goroutine and waits for it. The GPU is left idle.
func (d *Driver) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
	<-d.done
}

func (d *Driver) run(ctx context.Context) {
	defer close(d.done)
	defer d.acc.SetActive(false, false)

	for {
		load, compute := d.gpu.load()
		busy := time.Duration(min(max(load, 0), 1) * float64(d.slice))

		if busy > 0 {
			d.acc.SetActive(true, compute)
			if !d.wait(ctx, busy) {
				return
			}
		}
		if busy < d.slice {
			d.acc.SetActive(false, false)
			if !d.wait(ctx, d.slice-busy) {
				return
			}
		}
		d.syncOnce.Do(func() { close(d.synced) })
	}
}

func (d *Driver) wait(ctx context.Context, dur time.Duration) bool {
	t := d.clock.NewTimer(dur)
	defer t.Stop()
	select {
	case <-t.C():
		return true
	case <-d.stopCh:
		return false
	case <-ctx.Done():
		return false
	}
}
