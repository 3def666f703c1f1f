package dvfs

import (
	"context"
	"log/slog"
)

// PowerOnNotify marks the GPU powered. A clock requested while it was off is
// applied now; otherwise the last target is re-programmed.
func (d *Device) PowerOnNotify(ctx context.Context) error {
	d.clockMu.Lock()
	defer d.clockMu.Unlock()

	d.fast.Lock()
	if d.powered {
		d.fast.Unlock()
		return nil
	}
	d.powered = true
	d.tisSince = d.clk.Now()
	target := d.deferred
	d.deferred = 0
	if target == 0 {
		target = d.lastTarget
	}
	d.resync = true
	d.fast.Unlock()

	slog.Debug("dvfs power on", "device", d.params.Name, "clock", target)
	if target <= 0 {
		return nil
	}
	return d.setTargetLocked(ctx, target, false)
}

// PowerOffNotify flushes a pending DVS reduction and marks the GPU
// unpowered. Clock requests are deferred until the next power on.
func (d *Device) PowerOffNotify(ctx context.Context) error {
	d.clockMu.Lock()
	defer d.clockMu.Unlock()

	d.fast.Lock()
	if !d.powered {
		d.fast.Unlock()
		return nil
	}
	pending := d.pending
	d.pending = 0
	d.fast.Unlock()

	var err error
	if pending > 0 {
		err = d.setTargetLocked(ctx, pending, false)
		if err != nil {
			slog.Warn("dvfs: pending clock flush failed", "device", d.params.Name, "clock", pending, "error", err)
		}
	}

	d.fast.Lock()
	d.accrueLocked(d.clk.Now())
	d.powered = false
	d.fast.Unlock()

	slog.Debug("dvfs power off", "device", d.params.Name)
	return err
}

// Powered reports whether the GPU is powered.
func (d *Device) Powered() bool {
	d.fast.Lock()
	defer d.fast.Unlock()
	return d.powered
}
