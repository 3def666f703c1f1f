package dvfs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	dvfserrors "github.com/kubeadapt/kubeadapt-dvfs/internal/errors"
	"github.com/kubeadapt/kubeadapt-dvfs/internal/governor"
	"github.com/kubeadapt/kubeadapt-dvfs/internal/lock"
	"github.com/kubeadapt/kubeadapt-dvfs/internal/observability"
	"github.com/kubeadapt/kubeadapt-dvfs/internal/sampler"
	"github.com/kubeadapt/kubeadapt-dvfs/internal/table"
	"github.com/kubeadapt/kubeadapt-dvfs/pkg/model"
)

// HandlerState is the state of the polling loop.
type HandlerState string

// Handler states.
const (
	StateDisabled HandlerState = "disabled"
	StateIdle     HandlerState = "idle"
	StateSampling HandlerState = "sampling"
)

var handlerStates = []string{string(StateDisabled), string(StateIdle), string(StateSampling)}

// Tick results, used as the ticks_total label.
const (
	resultOK          = "ok"
	resultSampleError = "sample_error"
	resultApplyError  = "apply_error"
	resultPoweredOff  = "powered_off"
)

func (d *Device) setHandlerState(s HandlerState) {
	d.fast.Lock()
	d.state = s
	d.fast.Unlock()
	observability.SetState(d.metrics.HandlerState, handlerStates, string(s))
}

// Enabled reports whether the polling loop is running.
func (d *Device) Enabled() bool {
	d.fast.Lock()
	defer d.fast.Unlock()
	return d.enabled
}

// Enable starts DVFS: the governor is reset to its start clock, one decision
// is taken immediately, and the polling loop starts. Existing locks are kept.
func (d *Device) Enable(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		return nil
	}

	d.clockMu.Lock()
	d.fast.Lock()
	d.enabled = true
	kind := d.gov.Kind()
	level := d.levelFloorLocked(d.startClockLocked(kind))
	d.gs.Reset(level, d.tbl.At(level).DownStayCount)
	row := d.tbl.At(level)
	fast, slow := d.arb.Window().Levels(d.tbl)
	d.gov.Decide(&d.gs, governor.Input{
		Table:       d.tbl,
		Fast:        fast,
		Slow:        slow,
		CurClock:    d.curClock,
		Utilization: (row.MinThreshold + row.MaxThreshold) / 2,
	})
	target := d.tbl.At(d.gs.Step).Clock
	polling := d.polling
	d.fast.Unlock()
	err := d.setTargetLocked(ctx, target, false)
	d.clockMu.Unlock()

	if err != nil && !errors.Is(err, dvfserrors.ErrPoweredOff) {
		slog.Warn("dvfs: initial clock apply failed, loop will retry",
			"device", d.params.Name, "clock", target, "error", err)
	}

	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	go d.loop(d.stop, d.done)
	d.setHandlerState(StateIdle)

	slog.Info("dvfs enabled",
		"device", d.params.Name,
		"governor", kind.String(),
		"start_clock", target,
		"polling", polling,
	)
	return nil
}

// Disable stops the polling loop and waits for an in-flight tick to finish.
// The PM-QoS locks and bus QoS are released and the config clock applied.
func (d *Device) Disable(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.clockMu.Lock()
	d.fast.Lock()
	d.enabled = false
	d.pending = 0
	d.fast.Unlock()
	d.clockMu.Unlock()

	if d.stop == nil {
		return nil
	}
	close(d.stop)
	<-d.done
	d.stop, d.done = nil, nil

	_ = d.ReleaseMax(lock.SourcePMQoS)
	_ = d.ReleaseMin(lock.SourcePMQoS)

	d.clockMu.Lock()
	d.fast.Lock()
	target := d.configClockLocked()
	d.fast.Unlock()
	err := d.setTargetLocked(ctx, target, false)
	d.clockMu.Unlock()

	if qerr := d.qos.ResetBusQoS(ctx); qerr != nil {
		d.report(dvfserrors.New(dvfserrors.CodeQoSFailed, "qos", "qos: reset bus qos", qerr))
		slog.Warn("dvfs: bus qos reset failed", "device", d.params.Name, "error", qerr)
	}

	d.setHandlerState(StateDisabled)
	slog.Info("dvfs disabled", "device", d.params.Name, "config_clock", target)
	if err != nil && !errors.Is(err, dvfserrors.ErrPoweredOff) {
		return err
	}
	return nil
}

// loop re-arms the timer after each tick, so a slow tick delays the next one
// rather than queuing ticks.
func (d *Device) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		t := d.clk.NewTimer(d.PollingInterval())
		select {
		case <-stop:
			t.Stop()
			return
		case <-t.C():
		}
		d.Tick()
	}
}

// Tick runs one sample -> decide -> apply pass. It is a no-op while disabled.
func (d *Device) Tick() {
	started := time.Now()
	now := d.clk.Now()
	polling := d.PollingInterval()

	ctx, cancel := context.WithTimeout(context.Background(), polling)
	defer cancel()

	if !d.Enabled() {
		return
	}
	d.setHandlerState(StateSampling)
	s, sampleErr := d.sampler.Sample(ctx)

	rec, result, ok := d.decideAndApply(ctx, now, s, sampleErr)
	if !ok {
		return
	}
	d.setHandlerState(StateIdle)

	d.metrics.TicksTotal.WithLabelValues(result).Inc()
	d.metrics.TickDuration.Observe(time.Since(started).Seconds())
	if d.onTick != nil {
		d.onTick(rec)
	}
}

func (d *Device) decideAndApply(ctx context.Context, now time.Time, s sampler.Sample, sampleErr error) (model.TickRecord, string, bool) {
	d.clockMu.Lock()
	defer d.clockMu.Unlock()

	d.fast.Lock()
	if !d.enabled {
		d.fast.Unlock()
		return model.TickRecord{}, "", false
	}
	w := d.arb.Window()
	rec := model.TickRecord{
		TimeUnixMs: now.UnixMilli(),
		Device:     d.params.Name,
		Governor:   d.gov.Kind().String(),
		FromStep:   d.gs.Step,
		ToStep:     d.gs.Step,
		Clock:      d.curClock,
		MinLock:    w.MinLock,
		MaxLock:    w.MaxLock,
	}
	if sampleErr != nil {
		d.fast.Unlock()
		d.logs.Warn("dvfs: sample failed, skipping tick", "device", d.params.Name, "error", sampleErr)
		if d.errs != nil {
			d.errs.ReportErr("sampler", dvfserrors.CodeSampleFailed, sampleErr)
		}
		rec.Error = sampleErr.Error()
		return rec, resultSampleError, true
	}

	util := sampler.ClampUtilization(s.Utilization)
	d.lastUtil = util
	fast, slow := w.Levels(d.tbl)
	out := d.gov.Decide(&d.gs, governor.Input{
		Table:        d.tbl,
		Fast:         fast,
		Slow:         slow,
		CurClock:     d.curClock,
		Utilization:  util,
		ComputeBound: s.ComputeBound,
	})
	target := d.tbl.At(d.gs.Step).Clock
	d.fast.Unlock()

	d.metrics.UtilizationPercent.Set(float64(util))
	if out.Boosted {
		d.metrics.ComputeBoostTotal.Inc()
	}
	if out.Violation {
		d.metrics.GovernorViolationsTotal.Inc()
		d.report(dvfserrors.New(dvfserrors.CodeGovernorInvariant, "governor", "governor: step clamped into lock window", nil))
	}

	rec.Utilization = util
	rec.ComputeBound = s.ComputeBound
	rec.FromStep = out.From
	rec.ToStep = out.To
	rec.TargetClock = target
	rec.Boosted = out.Boosted

	result := resultOK
	if err := d.setTargetLocked(ctx, target, true); err != nil {
		rec.Error = err.Error()
		if errors.Is(err, dvfserrors.ErrPoweredOff) {
			rec.PoweredOff = true
			result = resultPoweredOff
		} else {
			result = resultApplyError
			d.logs.Warn("dvfs: apply failed, keeping current clock", "device", d.params.Name, "target", target, "error", err)
		}
	}

	d.fast.Lock()
	rec.Clock = d.curClock
	d.fast.Unlock()
	return rec, result, true
}

// PollingInterval returns the current polling interval.
func (d *Device) PollingInterval() time.Duration {
	d.fast.Lock()
	defer d.fast.Unlock()
	return d.polling
}

// SetPollingInterval changes the interval. It takes effect after the next
// tick.
func (d *Device) SetPollingInterval(v time.Duration) error {
	if err := checkPolling(v, d.params.MinPolling, d.params.MaxPolling); err != nil {
		return err
	}
	d.fast.Lock()
	d.polling = v
	d.fast.Unlock()
	slog.Info("dvfs polling interval changed", "device", d.params.Name, "polling", v)
	return nil
}

// Governor returns the active governor kind.
func (d *Device) Governor() governor.Kind {
	d.fast.Lock()
	defer d.fast.Unlock()
	return d.gov.Kind()
}

// SetGovernor switches policy. Locks are cleared along with the thermal level
// and any running boost, the step is reset to the new governor's start clock
// and, when enabled, that clock is applied.
func (d *Device) SetGovernor(ctx context.Context, k governor.Kind) error {
	d.boostMu.Lock()
	defer d.boostMu.Unlock()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clockMu.Lock()
	defer d.clockMu.Unlock()

	d.fast.Lock()
	gov, err := governor.New(k, d.gov.Params())
	if err != nil {
		d.fast.Unlock()
		return err
	}
	from := d.gov.Kind()
	d.gov = gov
	d.arb.Reset()
	d.thermal = ThermalNormal
	start := d.startClockLocked(k)
	level := d.levelFloorLocked(start)
	d.gs.Reset(level, d.tbl.At(level).DownStayCount)
	enabled := d.enabled
	d.fast.Unlock()
	d.stopBoostLocked()

	d.metrics.LockClockMHz.WithLabelValues("min").Set(0)
	d.metrics.LockClockMHz.WithLabelValues("max").Set(0)
	slog.Info("dvfs governor changed", "device", d.params.Name, "from", from.String(), "to", k.String(), "start_clock", start)

	if !enabled {
		return nil
	}
	if err := d.setTargetLocked(ctx, start, false); err != nil && !errors.Is(err, dvfserrors.ErrPoweredOff) {
		return err
	}
	return nil
}

// SetHighspeed replaces the interactive tunables. They are kept across
// governor changes.
func (d *Device) SetHighspeed(h governor.Highspeed) error {
	d.fast.Lock()
	defer d.fast.Unlock()
	return d.gov.SetHighspeed(h, d.tbl)
}

// ReloadTable swaps the operating-point table. Locks, governor state and
// time-in-state restart from scratch.
func (d *Device) ReloadTable(ctx context.Context, t *table.Table) error {
	if t == nil {
		return dvfserrors.New(dvfserrors.CodeInvalidConfig, "dvfs", "dvfs: no operating-point table", nil)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.clockMu.Lock()
	defer d.clockMu.Unlock()

	d.fast.Lock()
	if hs := d.gov.Params().Highspeed; hs.Clock > 0 && d.gov.Kind() == governor.KindInteractive {
		if err := hs.Validate(t); err != nil {
			d.fast.Unlock()
			return err
		}
	}
	d.accrueLocked(d.clk.Now())
	d.tbl = t
	d.arb = lock.NewArbitrator(t)
	d.tis = make(map[int]time.Duration)
	d.pending, d.deferred = 0, 0
	start := d.startClockLocked(d.gov.Kind())
	level := d.levelFloorLocked(start)
	d.gs.Reset(level, t.At(level).DownStayCount)
	enabled := d.enabled
	if !enabled {
		start = d.configClockLocked()
	}
	d.resync = true
	d.fast.Unlock()

	slog.Info("dvfs table reloaded", "device", d.params.Name, "levels", t.Len(), "max_clock", t.MaxClock(), "min_clock", t.MinClock())
	if err := d.setTargetLocked(ctx, start, false); err != nil && !errors.Is(err, dvfserrors.ErrPoweredOff) {
		return err
	}
	return nil
}
