package agent

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"k8s.io/utils/clock"

	"github.com/kubeadapt/kubeadapt-dvfs/internal/dvfs"
	dvfserrors "github.com/kubeadapt/kubeadapt-dvfs/internal/errors"
	"github.com/kubeadapt/kubeadapt-dvfs/internal/trace"
	"github.com/kubeadapt/kubeadapt-dvfs/pkg/model"
)

// Source is a utilization source with a background lifecycle, such as the
// dcgm-exporter poller.
type Source interface {
	Name() string
	Start(ctx context.Context) error
	WaitForSync(ctx context.Context) error
	Stop()
}

// Options configures an Agent.
type Options struct {
	StatusInterval time.Duration
	// SyncTimeout bounds the wait for the first reading of Source.
	SyncTimeout time.Duration
	// ShutdownTimeout bounds the disable and power-off sequence.
	ShutdownTimeout time.Duration
}

// Agent is the daemon orchestrator: it powers the device on, enables the
// governor loop, logs status periodically and tears everything down on
// shutdown.
type Agent struct {
	dev          *dvfs.Device
	source       Source
	recorder     *trace.Recorder
	stateMachine *StateMachine
	errs         *dvfserrors.ErrorCollector
	clock        clock.WithTicker
	opts         Options

	ready     atomic.Bool
	ticks     atomic.Uint64
	startedAt time.Time
}

// NewAgent creates an Agent. source and recorder may be nil.
func NewAgent(
	dev *dvfs.Device,
	source Source,
	recorder *trace.Recorder,
	stateMachine *StateMachine,
	errCollector *dvfserrors.ErrorCollector,
	clk clock.WithTicker,
	opts Options,
) *Agent {
	if opts.StatusInterval <= 0 {
		opts.StatusInterval = time.Minute
	}
	if opts.SyncTimeout <= 0 {
		opts.SyncTimeout = 30 * time.Second
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	return &Agent{
		dev:          dev,
		source:       source,
		recorder:     recorder,
		stateMachine: stateMachine,
		errs:         errCollector,
		clock:        clk,
		opts:         opts,
		startedAt:    clk.Now(),
	}
}

// IsReady reports whether the governor loop is running and healthy.
// Implements health.ReadinessChecker.
func (a *Agent) IsReady() bool {
	return a.ready.Load() && a.stateMachine.State() == StateRunning
}

// ObserveTick is the device's tick hook: it feeds the state machine and the
// trace recorder. Ticks deferred by a powered-off GPU leave the failure count
// alone.
func (a *Agent) ObserveTick(rec model.TickRecord) {
	a.ticks.Add(1)
	if !rec.PoweredOff {
		a.stateMachine.HandleTick(rec.Error != "", rec.Error)
	}
	if a.recorder != nil {
		a.recorder.Record(rec)
	}
}

// Run executes the daemon lifecycle until ctx is canceled.
func (a *Agent) Run(ctx context.Context) error {
	// 1. Start the utilization source and wait for its first reading.
	if a.source != nil {
		if err := a.source.Start(ctx); err != nil {
			a.stateMachine.TransitionTo(StateStopped, "sampler failed to start")
			return err
		}
		defer a.source.Stop()

		syncCtx, cancel := context.WithTimeout(ctx, a.opts.SyncTimeout)
		err := a.source.WaitForSync(syncCtx)
		cancel()
		if err != nil {
			// Continue: the device ticks through sample errors until the source catches up.
			slog.Warn("sampler sync incomplete, continuing",
				"sampler", a.source.Name(),
				"timeout", a.opts.SyncTimeout,
				"error", err,
			)
		} else {
			slog.Info("sampler synced", "sampler", a.source.Name())
		}
	}

	// 2. Power on and start the governor loop.
	if err := a.dev.PowerOnNotify(ctx); err != nil {
		a.stateMachine.TransitionTo(StateStopped, "power on failed")
		return err
	}
	if err := a.dev.Enable(ctx); err != nil {
		a.stateMachine.TransitionTo(StateStopped, "enable failed")
		return err
	}

	// 3. Transition to Running.
	a.stateMachine.TransitionTo(StateRunning, "governor loop started")
	a.ready.Store(true)
	st := a.dev.Status()
	slog.Info("dvfs agent is ready",
		"device", st.Device,
		"governor", st.Governor,
		"clock", st.CurClock,
		"polling_ms", st.PollingIntervalMs,
	)

	// 4. Periodic status until shutdown.
	ticker := a.clock.NewTicker(a.opts.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return a.shutdown()
		case <-ticker.C():
			a.logStatus()
		}
	}
}

func (a *Agent) logStatus() {
	st := a.dev.Status()
	slog.Info("dvfs status",
		"state", a.stateMachine.State(),
		"reason", a.stateMachine.StateReason(),
		"governor", st.Governor,
		"clock", st.CurClock,
		"step", st.Step,
		"utilization", st.Utilization,
		"min_lock", st.MinLock,
		"max_lock", st.MaxLock,
		"transitions", st.Transitions,
		"ticks", a.ticks.Load(),
		"active_errors", st.ActiveErrors,
		"uptime", a.clock.Since(a.startedAt).Round(time.Second),
	)
}

// shutdown disables the loop, parks the clock at the config clock and powers
// the device off. It runs on a fresh context since the run context is done.
func (a *Agent) shutdown() error {
	a.ready.Store(false)
	ctx, cancel := context.WithTimeout(context.Background(), a.opts.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.dev.Disable(ctx); err != nil {
		slog.Warn("disable on shutdown failed", "error", err)
		errs = append(errs, err)
	}
	if err := a.dev.PowerOffNotify(ctx); err != nil {
		errs = append(errs, err)
	}
	if a.recorder != nil {
		if err := a.recorder.Close(); err != nil {
			slog.Warn("closing trace failed", "error", err)
			errs = append(errs, err)
		} else {
			slog.Info("trace closed", "records", a.recorder.Records(), "bytes", a.recorder.Bytes())
		}
	}

	a.stateMachine.TransitionTo(StateStopped, "shutdown")
	var active []string
	if a.errs != nil {
		active = a.errs.GetActiveErrorCodes()
	}
	slog.Info("dvfs agent stopped", "ticks", a.ticks.Load(), "active_errors", active)
	return errors.Join(errs...)
}

// Ticks returns the number of governor ticks observed.
func (a *Agent) Ticks() uint64 { return a.ticks.Load() }
