package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/KimMachineGun/automemlimit"
	_ "go.uber.org/automaxprocs"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/kubeadapt/kubeadapt-dvfs/internal/agent"
	"github.com/kubeadapt/kubeadapt-dvfs/internal/config"
	"github.com/kubeadapt/kubeadapt-dvfs/internal/dvfs"
	dvfserrors "github.com/kubeadapt/kubeadapt-dvfs/internal/errors"
	"github.com/kubeadapt/kubeadapt-dvfs/internal/health"
	"github.com/kubeadapt/kubeadapt-dvfs/internal/observability"
	"github.com/kubeadapt/kubeadapt-dvfs/internal/sampler"
	"github.com/kubeadapt/kubeadapt-dvfs/internal/sim"
	"github.com/kubeadapt/kubeadapt-dvfs/internal/trace"
	"github.com/kubeadapt/kubeadapt-dvfs/pkg/model"
)

func main() {
	// 1. Load and validate config.
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	platform, err := config.LoadPlatform(cfg.PlatformFile)
	if err != nil {
		slog.Error("failed to load platform", "error", err)
		os.Exit(1)
	}
	tbl, err := platform.BuildTable()
	if err != nil {
		slog.Error("invalid platform table", "error", err)
		os.Exit(1)
	}
	params, err := platform.DeviceParams(cfg)
	if err != nil {
		slog.Error("invalid platform parameters", "error", err)
		os.Exit(1)
	}

	// 2. Create context with signal handling.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	slog.Info("kubeadapt-dvfs starting",
		"device", cfg.DeviceName,
		"device_id", cfg.DeviceID,
		"platform", platform.Name,
		"levels", tbl.Len(),
		"governor", cfg.Governor,
		"polling", cfg.PollingInterval,
		"sampler", cfg.Sampler,
	)

	// 3. Create shared infrastructure.
	clk := clock.RealClock{}
	metrics := observability.NewMetrics()
	errCollector := dvfserrors.NewErrorCollector(clk)
	sm := agent.NewStateMachine(clk, agent.DefaultDegradedAfter, metrics)

	// 4. Clock backend and utilization source.
	workload, err := sim.ParseWorkload(cfg.SimWorkload, float64(cfg.SimPeakMHz), cfg.SimPeriod)
	if err != nil {
		slog.Error("invalid simulated workload", "error", err)
		os.Exit(1)
	}
	gpu := sim.NewGPU(clk, cfg.SimGranularity, workload)

	var (
		src    sampler.Sampler = gpu
		source agent.Source
	)
	switch cfg.Sampler {
	case "busyidle":
		acc := sampler.NewAccountant(clk)
		src, source = acc, sim.NewDriver(gpu, acc, clk, sim.DefaultSlice)
	case "dcgm":
		dcgm := sampler.NewDCGM(
			sampler.NewDCGMExporterClient(&http.Client{Timeout: 10 * time.Second}),
			sampler.DCGMConfig{
				Endpoint:         cfg.DCGMEndpoint,
				GPU:              cfg.DCGMGPU,
				Interval:         cfg.DCGMInterval,
				ComputeThreshold: float64(cfg.ComputeThreshold),
			},
			clk,
		)
		src, source = dcgm, dcgm
	}

	// 5. Optional tick trace.
	var recorder *trace.Recorder
	if cfg.TraceFile != "" {
		recorder, err = trace.Create(cfg.TraceFile, metrics)
		if err != nil {
			slog.Error("failed to create trace file", "error", err)
			os.Exit(1)
		}
		slog.Info("recording tick trace", "path", cfg.TraceFile)
	}

	// 6. Device and agent. The tick hook is bound once the agent exists; the
	// device only ticks after the agent enables it.
	var ag *agent.Agent
	dev, err := dvfs.NewDevice(tbl, params, dvfs.Deps{
		Clock:   clk,
		Backend: gpu,
		QoS:     gpu,
		Sampler: src,
		Metrics: metrics,
		Errors:  errCollector,
		OnTick:  func(rec model.TickRecord) { ag.ObserveTick(rec) },
	})
	if err != nil {
		slog.Error("failed to create dvfs device", "error", err)
		os.Exit(1)
	}
	ag = agent.NewAgent(dev, source, recorder, sm, errCollector, clk, agent.Options{
		StatusInterval: cfg.StatusInterval,
	})

	// 7. Start health and control server.
	var errs health.ErrorLister
	if cfg.DebugEndpoints {
		errs = errCollector
	}
	srv := health.NewServer(health.Options{
		Port:        cfg.HealthPort,
		EnableDebug: cfg.DebugEndpoints,
		Token:       cfg.ControlToken,
		Rate:        cfg.ControlRate,
		Burst:       cfg.ControlBurst,
	}, metrics, ag, dev, errs)
	if err := srv.Start(); err != nil {
		slog.Error("failed to start health server", "error", err)
		os.Exit(1)
	}
	slog.Info("health server listening", "addr", srv.Addr(), "control_auth", cfg.ControlToken != "")

	// 8. Run the agent and server until a signal or the first failure.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ag.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Stop(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("kubeadapt-dvfs exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("kubeadapt-dvfs stopped")
}
