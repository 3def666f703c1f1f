package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics of the DVFS daemon.
// It uses a custom registry to avoid polluting the global default.
type Metrics struct {
	Registry *prometheus.Registry

	// Device state
	ClockMHz           prometheus.Gauge
	VoltageMicrovolts  prometheus.Gauge
	Step               prometheus.Gauge
	UtilizationPercent prometheus.Gauge
	LockClockMHz       *prometheus.GaugeVec
	HandlerState       *prometheus.GaugeVec
	TimeInStateSeconds *prometheus.CounterVec

	// Loop
	TicksTotal   *prometheus.CounterVec
	TickDuration prometheus.Histogram

	// Controller
	TransitionsTotal   prometheus.Counter
	ApplyFailuresTotal *prometheus.CounterVec
	ApplyDuration      prometheus.Histogram

	// Governor and locks
	GovernorViolationsTotal prometheus.Counter
	ComputeBoostTotal       prometheus.Counter
	LockConflictsTotal      prometheus.Counter

	// Control API
	ControlRequestsTotal *prometheus.CounterVec

	// Tick trace
	TraceRecordsTotal prometheus.Counter
	TraceBytesTotal   prometheus.Counter

	// Agent lifecycle
	AgentState *prometheus.GaugeVec
}

// NewMetrics creates a new Metrics instance with all Prometheus metrics
// registered on a custom registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	// Ticks and applies are sub-millisecond on a healthy backend.
	fastBuckets := prometheus.ExponentialBuckets(0.00005, 4, 10)

	m := &Metrics{
		Registry: reg,

		ClockMHz: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kubeadapt_dvfs_clock_mhz",
			Help: "Clock last applied to the GPU in MHz.",
		}),
		VoltageMicrovolts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kubeadapt_dvfs_voltage_microvolts",
			Help: "Regulator voltage last applied in microvolts.",
		}),
		Step: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kubeadapt_dvfs_step",
			Help: "Current operating-point table level (0 is fastest).",
		}),
		UtilizationPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kubeadapt_dvfs_utilization_percent",
			Help: "Utilization of the last sample.",
		}),
		LockClockMHz: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kubeadapt_dvfs_lock_clock_mhz",
			Help: "Effective arbitrated clock lock in MHz (0 = unconstrained).",
		}, []string{"bound"}),
		HandlerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kubeadapt_dvfs_handler_state",
			Help: "Current DVFS handler state (1 = active, 0 = inactive).",
		}, []string{"state"}),
		TimeInStateSeconds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kubeadapt_dvfs_time_in_state_seconds_total",
			Help: "Powered time spent at each clock.",
		}, []string{"clock"}),

		TicksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kubeadapt_dvfs_ticks_total",
			Help: "Total number of DVFS loop ticks by result.",
		}, []string{"result"}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kubeadapt_dvfs_tick_duration_seconds",
			Help:    "Duration of sample, decide and apply in seconds.",
			Buckets: fastBuckets,
		}),

		TransitionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kubeadapt_dvfs_transitions_total",
			Help: "Total number of clock changes applied.",
		}),
		ApplyFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kubeadapt_dvfs_apply_failures_total",
			Help: "Total number of backend failures while applying a clock.",
		}, []string{"stage"}),
		ApplyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kubeadapt_dvfs_apply_duration_seconds",
			Help:    "Duration of backend clock/voltage/QoS sequences in seconds.",
			Buckets: fastBuckets,
		}),

		GovernorViolationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kubeadapt_dvfs_governor_violations_total",
			Help: "Total number of governor decisions clamped back into the lock window.",
		}),
		ComputeBoostTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kubeadapt_dvfs_compute_boost_total",
			Help: "Total number of decisions forced to the fastest level by compute boost.",
		}),
		LockConflictsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kubeadapt_dvfs_lock_conflicts_total",
			Help: "Total number of min lock requests clamped down to the max lock.",
		}),

		ControlRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kubeadapt_dvfs_control_requests_total",
			Help: "Total number of control API requests by route and status code.",
		}, []string{"route", "code"}),

		TraceRecordsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kubeadapt_dvfs_trace_records_total",
			Help: "Total number of tick records written to the trace.",
		}),
		TraceBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kubeadapt_dvfs_trace_bytes_total",
			Help: "Total number of compressed trace bytes written.",
		}),

		AgentState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kubeadapt_dvfs_agent_state",
			Help: "Current agent state (1 = active, 0 = inactive).",
		}, []string{"state"}),
	}

	// Register all metrics with the custom registry.
	reg.MustRegister(
		m.ClockMHz,
		m.VoltageMicrovolts,
		m.Step,
		m.UtilizationPercent,
		m.LockClockMHz,
		m.HandlerState,
		m.TimeInStateSeconds,
		m.TicksTotal,
		m.TickDuration,
		m.TransitionsTotal,
		m.ApplyFailuresTotal,
		m.ApplyDuration,
		m.GovernorViolationsTotal,
		m.ComputeBoostTotal,
		m.LockConflictsTotal,
		m.ControlRequestsTotal,
		m.TraceRecordsTotal,
		m.TraceBytesTotal,
		m.AgentState,
	)

	return m
}

// SetState marks state as the only active label of vec.
func SetState(vec *prometheus.GaugeVec, states []string, state string) {
	for _, s := range states {
		v := 0.0
		if s == state {
			v = 1
		}
		vec.WithLabelValues(s).Set(v)
	}
}
