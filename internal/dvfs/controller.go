package dvfs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kubeadapt/kubeadapt-dvfs/internal/backend"
	dvfserrors "github.com/kubeadapt/kubeadapt-dvfs/internal/errors"
)

// setTargetLocked is the only path that changes the hardware clock. The
// caller holds clockMu. allowPending lets a tick-driven reduction be deferred
// when DVS is enabled.
//
// Increases program QoS, then voltage, then clock. Decreases run the reverse
// order so the regulator never undervolts the current clock.
func (d *Device) setTargetLocked(ctx context.Context, target int, allowPending bool) error {
	d.fast.Lock()
	if !d.powered {
		d.deferred = target
		d.restoreStepLocked()
		d.fast.Unlock()
		return dvfserrors.New(dvfserrors.CodePoweredOff, "controller",
			fmt.Sprintf("controller: clock %d deferred until power on", target), nil)
	}

	prev := d.curClock
	if d.resync {
		prev = 0
	}
	if d.params.DVSEnabled && allowPending && prev > 0 {
		if target < prev {
			d.pending = target
			d.restoreStepLocked()
			d.fast.Unlock()
			return nil
		}
		d.pending = 0
	}

	if _, err := d.tbl.LevelForClock(target); err != nil {
		d.restoreStepLocked()
		d.fast.Unlock()
		if d.errs != nil {
			d.errs.ReportErr("controller", dvfserrors.CodeInvalidClock, err)
		}
		return fmt.Errorf("controller: %w", err)
	}

	w := d.arb.Window()
	if w.MaxLock > 0 && target > w.MaxLock {
		target = w.MaxLock
	}
	if d.enabled && w.MinLock > 0 && target < w.MinLock {
		target = w.MinLock
	}
	level := d.levelFloorLocked(target)
	row := d.tbl.At(level)
	volt := d.targetVoltageLocked(row.Voltage)
	qos := backend.QoSRequest{MemFreq: row.MemFreq, CPUMinFreq: row.CPUMinFreq, CPUMaxFreq: row.CPUMaxFreq}
	d.accrueLocked(d.clk.Now())
	d.fast.Unlock()

	start := time.Now()
	var (
		applied int
		err     error
	)
	switch {
	case target > prev:
		d.applyQoS(ctx, qos)
		if volt > 0 {
			if verr := d.backend.SetVoltage(ctx, volt); verr != nil {
				d.metrics.ApplyFailuresTotal.WithLabelValues("voltage").Inc()
				d.fast.Lock()
				d.restoreStepLocked()
				d.fast.Unlock()
				e := dvfserrors.New(dvfserrors.CodeVoltageApplyFailed, "controller",
					fmt.Sprintf("controller: raise voltage to %d for clock %d", volt, target), verr)
				d.report(e)
				return e
			}
			d.setVoltage(volt)
		}
		applied, err = d.backend.SetClock(ctx, target)
	case target < prev:
		applied, err = d.backend.SetClock(ctx, target)
		if err == nil {
			if volt > 0 {
				if verr := d.backend.SetVoltage(ctx, volt); verr != nil {
					d.metrics.ApplyFailuresTotal.WithLabelValues("voltage").Inc()
					d.logs.Warn("dvfs: lowering voltage failed, keeping the higher voltage",
						"device", d.params.Name, "voltage", volt, "error", verr)
					d.report(dvfserrors.New(dvfserrors.CodeVoltageApplyFailed, "controller",
						fmt.Sprintf("controller: lower voltage to %d", volt), verr))
				} else {
					d.setVoltage(volt)
				}
			}
			d.applyQoS(ctx, qos)
		}
	default:
		applied = prev
	}
	d.metrics.ApplyDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		d.metrics.ApplyFailuresTotal.WithLabelValues("clock").Inc()
		d.fast.Lock()
		d.restoreStepLocked()
		d.fast.Unlock()
		e := dvfserrors.New(dvfserrors.CodeClockApplyFailed, "controller",
			fmt.Sprintf("controller: set clock %d", target), err)
		d.report(e)
		return e
	}

	d.fast.Lock()
	if applied != d.curClock {
		d.transitions++
		d.metrics.TransitionsTotal.Inc()
	}
	d.curClock = applied
	d.lastTarget = target
	d.resync = false
	if l, lerr := d.tbl.LevelFloor(applied); lerr == nil {
		d.gs.Step = l
	} else {
		d.gs.Step = level
	}
	step := d.gs.Step
	d.fast.Unlock()

	d.metrics.ClockMHz.Set(float64(applied))
	d.metrics.Step.Set(float64(step))
	if applied != prev {
		slog.Debug("dvfs: clock applied", "device", d.params.Name, "from", prev, "to", applied, "target", target)
	}
	return nil
}

// restoreStepLocked re-derives the step from the clock actually running so a
// failed or deferred apply does not desynchronize the governor.
func (d *Device) restoreStepLocked() {
	if d.curClock <= 0 {
		return
	}
	if l, err := d.tbl.LevelFloor(d.curClock); err == nil {
		d.gs.Step = l
	}
}

// targetVoltageLocked applies the margin and cold floor, capped at the
// voltage of the fastest row. Zero means the row does not manage voltage.
func (d *Device) targetVoltageLocked(v int) int {
	if v <= 0 {
		return 0
	}
	v = max(v+d.params.VoltageMargin, d.params.ColdMinVoltage)
	if top := d.tbl.At(0).Voltage; top > 0 {
		v = min(v, top)
	}
	return v
}

func (d *Device) setVoltage(v int) {
	d.fast.Lock()
	d.curVoltage = v
	d.fast.Unlock()
	d.metrics.VoltageMicrovolts.Set(float64(v))
}

func (d *Device) applyQoS(ctx context.Context, req backend.QoSRequest) {
	if err := d.qos.SetBusQoS(ctx, req); err != nil {
		d.metrics.ApplyFailuresTotal.WithLabelValues("qos").Inc()
		d.logs.Warn("dvfs: bus qos request failed", "device", d.params.Name, "mem_freq", req.MemFreq, "error", err)
		d.report(dvfserrors.New(dvfserrors.CodeQoSFailed, "qos", "qos: set bus qos", err))
	}
}

func (d *Device) report(err *dvfserrors.DVFSError) {
	if d.errs != nil {
		d.errs.Report(*err)
	}
}

// SetClock applies clock directly, outside the governor. Locks still clamp
// it. It is used while DVFS is disabled and by the control API.
func (d *Device) SetClock(ctx context.Context, clock int) error {
	d.clockMu.Lock()
	defer d.clockMu.Unlock()
	err := d.setTargetLocked(ctx, clock, false)
	if errors.Is(err, dvfserrors.ErrPoweredOff) {
		slog.Info("dvfs: clock request deferred until power on", "device", d.params.Name, "clock", clock)
	}
	return err
}
