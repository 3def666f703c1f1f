package dvfs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	dvfserrors "github.com/kubeadapt/kubeadapt-dvfs/internal/errors"
	"github.com/kubeadapt/kubeadapt-dvfs/internal/lock"
)

// Boost holds a min lock at clock for dur. A new boost replaces the running
// one and restarts its timer.
func (d *Device) Boost(ctx context.Context, clock int, dur time.Duration) error {
	if dur <= 0 {
		return dvfserrors.New(dvfserrors.CodeInvalidConfig, "boost",
			fmt.Sprintf("boost: duration %s must be positive", dur), nil)
	}
	d.fast.Lock()
	snapped, err := d.tbl.NearestSupportedClock(clock)
	d.fast.Unlock()
	if err != nil {
		return fmt.Errorf("boost: %w", err)
	}

	d.boostMu.Lock()
	defer d.boostMu.Unlock()

	err = d.AssertMin(ctx, lock.SourceBoost, snapped)
	if errors.Is(err, dvfserrors.ErrInvalidClock) {
		return err
	}
	d.stopBoostLocked()
	gen := d.boostGen
	d.boostTimer = d.clk.AfterFunc(dur, func() { d.expireBoost(gen) })

	slog.Info("dvfs boost started", "device", d.params.Name, "clock", snapped, "duration", dur)
	return err
}

// CancelBoost ends a running boost immediately.
func (d *Device) CancelBoost() error {
	d.boostMu.Lock()
	defer d.boostMu.Unlock()
	d.stopBoostLocked()
	return d.ReleaseMin(lock.SourceBoost)
}

// BoostActive reports whether a boost timer is armed.
func (d *Device) BoostActive() bool {
	d.boostMu.Lock()
	defer d.boostMu.Unlock()
	return d.boostTimer != nil
}

// stopBoostLocked disarms the boost timer and invalidates a callback that
// already fired. d.boostMu must be held.
func (d *Device) stopBoostLocked() {
	if d.boostTimer != nil {
		d.boostTimer.Stop()
		d.boostTimer = nil
	}
	d.boostGen++
}

func (d *Device) expireBoost(gen uint64) {
	d.boostMu.Lock()
	defer d.boostMu.Unlock()
	if gen != d.boostGen {
		return
	}
	d.boostTimer = nil
	_ = d.ReleaseMin(lock.SourceBoost)
	slog.Info("dvfs boost expired", "device", d.params.Name)
}

// SetComputeBoost toggles the compute-bound override of the governor.
func (d *Device) SetComputeBoost(enabled bool) {
	d.fast.Lock()
	d.gov.SetComputeBoostDisabled(!enabled)
	d.fast.Unlock()
	slog.Info("dvfs compute boost changed", "device", d.params.Name, "enabled", enabled)
}
