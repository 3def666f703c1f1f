package dvfs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	dvfserrors "github.com/kubeadapt/kubeadapt-dvfs/internal/errors"
	"github.com/kubeadapt/kubeadapt-dvfs/internal/lock"
)

// AssertMax records a max-clock request for src. When the running clock is at
// or above the new effective max it is lowered immediately.
func (d *Device) AssertMax(ctx context.Context, src lock.Source, clock int) error {
	d.clockMu.Lock()
	defer d.clockMu.Unlock()

	d.fast.Lock()
	ch, err := d.arb.AssertMax(src, clock)
	cur := d.curClock
	d.fast.Unlock()
	if err != nil {
		return d.rejectLock(src, "max", clock, err)
	}
	d.noteWindow(src, ch)

	if w := ch.Window; w.MaxLock > 0 && cur >= w.MaxLock {
		return d.applyLockLocked(ctx, w.MaxLock)
	}
	return nil
}

// ReleaseMax clears src's max request. The clock is not raised here; the
// next tick may do so.
func (d *Device) ReleaseMax(src lock.Source) error {
	if !src.Valid() {
		return invalidSource(src)
	}
	d.fast.Lock()
	ch := d.arb.ReleaseMax(src)
	d.fast.Unlock()
	d.noteWindow(src, ch)
	return nil
}

// AssertMin records a min-clock request for src. When the new effective min
// is above the running clock it is raised immediately, unless the max lock
// forbids it.
func (d *Device) AssertMin(ctx context.Context, src lock.Source, clock int) error {
	d.clockMu.Lock()
	defer d.clockMu.Unlock()

	d.fast.Lock()
	ch, err := d.arb.AssertMin(src, clock)
	cur := d.curClock
	d.fast.Unlock()
	if err != nil {
		return d.rejectLock(src, "min", clock, err)
	}
	d.noteWindow(src, ch)

	w := ch.Window
	if w.MinLock > cur && (w.MaxLock == 0 || w.MinLock <= w.MaxLock) {
		return d.applyLockLocked(ctx, w.MinLock)
	}
	return nil
}

// ReleaseMin clears src's min request.
func (d *Device) ReleaseMin(src lock.Source) error {
	if !src.Valid() {
		return invalidSource(src)
	}
	d.fast.Lock()
	ch := d.arb.ReleaseMin(src)
	d.fast.Unlock()
	d.noteWindow(src, ch)
	return nil
}

// SetUserMaxLock is the sysfs-style max lock entry. The request is snapped
// down to a supported clock; zero or the upper clock releases the lock.
func (d *Device) SetUserMaxLock(ctx context.Context, clock int) error {
	if clock <= 0 {
		return d.ReleaseMax(lock.SourceSysfs)
	}
	d.fast.Lock()
	snapped, err := d.tbl.NearestSupportedClock(clock)
	upper := d.tbl.UpperClock()
	d.fast.Unlock()
	if err != nil {
		return d.rejectLock(lock.SourceSysfs, "max", clock, err)
	}
	if snapped >= upper {
		return d.ReleaseMax(lock.SourceSysfs)
	}
	return d.AssertMax(ctx, lock.SourceSysfs, snapped)
}

// SetUserMinLock is the sysfs-style min lock entry. Zero or gpu_min_clock
// releases the lock.
func (d *Device) SetUserMinLock(ctx context.Context, clock int) error {
	if clock <= 0 {
		return d.ReleaseMin(lock.SourceSysfs)
	}
	d.fast.Lock()
	snapped, err := d.tbl.NearestSupportedClock(clock)
	lowest := d.tbl.MinClock()
	d.fast.Unlock()
	if err != nil {
		return d.rejectLock(lock.SourceSysfs, "min", clock, err)
	}
	if snapped == lowest {
		return d.ReleaseMin(lock.SourceSysfs)
	}
	return d.AssertMin(ctx, lock.SourceSysfs, snapped)
}

// applyLockLocked moves the clock to satisfy a lock. A powered-off device
// keeps the lock and picks it up on power on.
func (d *Device) applyLockLocked(ctx context.Context, target int) error {
	err := d.setTargetLocked(ctx, target, false)
	if errors.Is(err, dvfserrors.ErrPoweredOff) {
		return nil
	}
	return err
}

func (d *Device) rejectLock(src lock.Source, bound string, clock int, err error) error {
	if d.errs != nil {
		d.errs.ReportErr("lock", dvfserrors.CodeInvalidClock, err)
	}
	slog.Warn("dvfs: lock request rejected",
		"device", d.params.Name,
		"source", src.String(),
		"bound", bound,
		"clock", clock,
		"error", err,
	)
	return err
}

func (d *Device) noteWindow(src lock.Source, ch lock.Change) {
	d.metrics.LockClockMHz.WithLabelValues("min").Set(float64(ch.Window.MinLock))
	d.metrics.LockClockMHz.WithLabelValues("max").Set(float64(ch.Window.MaxLock))
	if !ch.Conflict {
		return
	}
	d.metrics.LockConflictsTotal.Inc()
	d.report(dvfserrors.New(dvfserrors.CodeLockConflict, "lock",
		fmt.Sprintf("lock: min %d clamped to max %d", ch.Window.MinLock, ch.Window.MaxLock), nil))
	d.logs.Warn("dvfs: min lock above max lock, max wins",
		"device", d.params.Name,
		"source", src.String(),
		"min_lock", ch.Window.MinLock,
		"max_lock", ch.Window.MaxLock,
	)
}

func invalidSource(src lock.Source) error {
	return dvfserrors.New(dvfserrors.CodeInvalidSource, "lock", fmt.Sprintf("lock: unknown source %d", int(src)), nil)
}

// SetPMQoS sets the PM-QoS throughput request. A zero bound releases that
// side; non-zero bounds are snapped to the table.
func (d *Device) SetPMQoS(ctx context.Context, minClock, maxClock int) error {
	d.fast.Lock()
	lo, hi := d.resolveClockLocked(minClock), d.resolveClockLocked(maxClock)
	d.fast.Unlock()

	if maxClock <= 0 {
		if err := d.ReleaseMax(lock.SourcePMQoS); err != nil {
			return err
		}
	} else if err := d.AssertMax(ctx, lock.SourcePMQoS, hi); err != nil {
		return err
	}
	if minClock <= 0 {
		return d.ReleaseMin(lock.SourcePMQoS)
	}
	return d.AssertMin(ctx, lock.SourcePMQoS, lo)
}
