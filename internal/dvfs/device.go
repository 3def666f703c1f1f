// Package dvfs runs the DVFS engine of one GPU: the periodic
// sample -> decide -> apply loop, the clock/voltage controller, and the entry
// points through which thermal, boost, PM-QoS and user requests constrain the
// clock.
//
// Locking: mu (lifecycle) is always taken before clockMu (one apply at a
// time), which is always taken before fast (in-memory state). fast is never
// held across a backend call.
package dvfs

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/kubeadapt/kubeadapt-dvfs/internal/backend"
	dvfserrors "github.com/kubeadapt/kubeadapt-dvfs/internal/errors"
	"github.com/kubeadapt/kubeadapt-dvfs/internal/governor"
	"github.com/kubeadapt/kubeadapt-dvfs/internal/lock"
	"github.com/kubeadapt/kubeadapt-dvfs/internal/observability"
	"github.com/kubeadapt/kubeadapt-dvfs/internal/sampler"
	"github.com/kubeadapt/kubeadapt-dvfs/internal/table"
	"github.com/kubeadapt/kubeadapt-dvfs/pkg/model"
)

// Polling interval bounds used when Params leaves them unset.
const (
	DefaultMinPolling = 100 * time.Millisecond
	DefaultMaxPolling = 1000 * time.Millisecond
)

// Params is the static device configuration.
type Params struct {
	Name     string
	ID       string
	Governor governor.Kind
	// GovernorParams seeds the governor. Runtime changes (highspeed, compute
	// boost) survive a governor change.
	GovernorParams governor.Params

	// StartClocks is the clock applied on enable and governor change, per
	// governor. Kinds without an entry use DefaultClock; a zero DefaultClock
	// means the effective upper clock.
	StartClocks  map[governor.Kind]int
	DefaultClock int
	// ConfigClock is applied when DVFS is disabled. Zero means gpu_min_clock.
	ConfigClock int

	PollingInterval time.Duration
	MinPolling      time.Duration
	MaxPolling      time.Duration

	VoltageMargin  int
	ColdMinVoltage int
	// DVSEnabled defers tick-driven clock reductions until the next increase
	// or power off.
	DVSEnabled bool

	// ThermalClocks maps each throttle level to its max clock.
	ThermalClocks map[ThermalLevel]int
}

// Deps are the collaborators of a Device.
type Deps struct {
	Clock   clock.WithDelayedExecution
	Backend backend.ClockBackend
	QoS     backend.BusQoS
	Sampler sampler.Sampler
	Metrics *observability.Metrics
	Errors  *dvfserrors.ErrorCollector
	// OnTick, when set, receives a record of every completed tick.
	OnTick func(model.TickRecord)
}

// Device is the DVFS state and engine of one GPU.
type Device struct {
	params  Params
	clk     clock.WithDelayedExecution
	backend backend.ClockBackend
	qos     backend.BusQoS
	sampler sampler.Sampler
	metrics *observability.Metrics
	errs    *dvfserrors.ErrorCollector
	onTick  func(model.TickRecord)
	logs    *observability.RateLimitedLogger

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}

	clockMu sync.Mutex

	fast        sync.Mutex
	tbl         *table.Table
	arb         *lock.Arbitrator
	gov         *governor.Governor
	gs          governor.State
	enabled     bool
	powered     bool
	resync      bool
	state       HandlerState
	curClock    int
	lastTarget  int
	curVoltage  int
	pending     int
	deferred    int
	polling     time.Duration
	lastUtil    int
	thermal     ThermalLevel
	tis         map[int]time.Duration
	tisSince    time.Time
	transitions uint64

	// boostMu is taken before mu and clockMu; it serializes boost changes
	// with their expiry.
	boostMu    sync.Mutex
	boostTimer clock.Timer
	boostGen   uint64
}

// NewDevice validates p against t and builds a disabled, powered-off Device.
func NewDevice(t *table.Table, p Params, deps Deps) (*Device, error) {
	if t == nil {
		return nil, dvfserrors.New(dvfserrors.CodeInvalidConfig, "dvfs", "dvfs: no operating-point table", nil)
	}
	if deps.Clock == nil || deps.Backend == nil || deps.Sampler == nil {
		return nil, dvfserrors.New(dvfserrors.CodeInvalidConfig, "dvfs", "dvfs: clock, backend and sampler are required", nil)
	}
	if deps.QoS == nil {
		deps.QoS = backend.Noop{}
	}
	if deps.Metrics == nil {
		deps.Metrics = observability.NewMetrics()
	}
	if p.Name == "" {
		p.Name = "gpu0"
	}
	if p.MinPolling <= 0 {
		p.MinPolling = DefaultMinPolling
	}
	if p.MaxPolling <= 0 {
		p.MaxPolling = DefaultMaxPolling
	}
	if p.PollingInterval == 0 {
		p.PollingInterval = p.MinPolling
	}
	if err := checkPolling(p.PollingInterval, p.MinPolling, p.MaxPolling); err != nil {
		return nil, err
	}

	gov, err := governor.New(p.Governor, p.GovernorParams)
	if err != nil {
		return nil, err
	}
	if p.Governor == governor.KindInteractive && p.GovernorParams.Highspeed.Clock > 0 {
		if err := p.GovernorParams.Highspeed.Validate(t); err != nil {
			return nil, err
		}
	}

	d := &Device{
		params:  p,
		clk:     deps.Clock,
		backend: deps.Backend,
		qos:     deps.QoS,
		sampler: deps.Sampler,
		metrics: deps.Metrics,
		errs:    deps.Errors,
		onTick:  deps.OnTick,
		logs:    observability.NewRateLimitedLogger(10 * time.Second),
		tbl:     t,
		arb:     lock.NewArbitrator(t),
		gov:     gov,
		state:   StateDisabled,
		polling: p.PollingInterval,
		tis:     make(map[int]time.Duration),
	}
	level := d.levelFloorLocked(d.startClockLocked(p.Governor))
	d.gs.Reset(level, t.At(level).DownStayCount)
	observability.SetState(d.metrics.HandlerState, handlerStates, string(StateDisabled))
	return d, nil
}

// Name returns the device label.
func (d *Device) Name() string { return d.params.Name }

// Table returns the current operating-point table.
func (d *Device) Table() *table.Table {
	d.fast.Lock()
	defer d.fast.Unlock()
	return d.tbl
}

// resolveClockLocked snaps c to a supported clock. Zero means the upper clock;
// a clock below the table means gpu_min_clock.
func (d *Device) resolveClockLocked(c int) int {
	if c <= 0 {
		return d.tbl.UpperClock()
	}
	snapped, err := d.tbl.NearestSupportedClock(c)
	if err != nil {
		return d.tbl.MinClock()
	}
	return snapped
}

func (d *Device) startClockLocked(k governor.Kind) int {
	if c, ok := d.params.StartClocks[k]; ok {
		return d.resolveClockLocked(c)
	}
	return d.resolveClockLocked(d.params.DefaultClock)
}

func (d *Device) configClockLocked() int {
	if d.params.ConfigClock <= 0 {
		return d.tbl.MinClock()
	}
	return d.resolveClockLocked(d.params.ConfigClock)
}

func (d *Device) levelFloorLocked(c int) int {
	level, err := d.tbl.LevelFloor(c)
	if err != nil {
		return d.tbl.MinLevel()
	}
	return level
}

func checkPolling(v, lo, hi time.Duration) error {
	if v < lo || v > hi {
		return dvfserrors.New(dvfserrors.CodeInvalidConfig, "dvfs",
			fmt.Sprintf("dvfs: polling interval %s outside [%s, %s]", v, lo, hi), nil)
	}
	return nil
}

// Status returns a snapshot of the device state.
func (d *Device) Status() model.Status {
	d.boostMu.Lock()
	boosting := d.boostTimer != nil
	d.boostMu.Unlock()

	d.fast.Lock()
	d.accrueLocked(d.clk.Now())

	w := d.arb.Window()
	b := d.tbl.Bounds()
	hs := d.gov.Params().Highspeed
	s := model.Status{
		Device:            d.params.Name,
		DeviceID:          d.params.ID,
		Enabled:           d.enabled,
		Powered:           d.powered,
		HandlerState:      string(d.state),
		Governor:          d.gov.Kind().String(),
		Step:              d.gs.Step,
		CurClock:          d.curClock,
		CurVoltage:        d.curVoltage,
		DownRequirement:   d.gs.DownRequirement,
		PendingClock:      d.pending,
		Utilization:       d.lastUtil,
		MaxClock:          b.MaxClock,
		MinClock:          b.MinClock,
		MaxClockLimit:     b.MaxClockLimit,
		MinLock:           w.MinLock,
		MaxLock:           w.MaxLock,
		PollingIntervalMs: d.polling.Milliseconds(),
		ComputeBoost:      !d.gov.Params().ComputeBoostDisabled,
		BoostActive:       boosting,
		ThermalLevel:      d.thermal.String(),
		Highspeed:         model.Highspeed{Clock: hs.Clock, Load: hs.Load, Delay: hs.Delay},
		Transitions:       d.transitions,
	}
	for _, r := range d.arb.Requests() {
		s.Locks = append(s.Locks, model.LockState{Source: r.Source.String(), Min: r.Min, Max: r.Max})
	}
	for c, dur := range d.tis {
		s.TimeInState = append(s.TimeInState, model.TimeInState{Clock: c, Seconds: dur.Seconds()})
	}
	d.fast.Unlock()

	sort.Slice(s.TimeInState, func(i, j int) bool { return s.TimeInState[i].Clock > s.TimeInState[j].Clock })
	if d.errs != nil {
		s.ActiveErrors = d.errs.GetActiveErrorCodes()
		sort.Strings(s.ActiveErrors)
	}
	return s
}

// TableModel returns the operating-point table in its JSON form.
func (d *Device) TableModel() model.Table {
	return TableModel(d.Table())
}

// TableModel converts t to its JSON form.
func TableModel(t *table.Table) model.Table {
	b := t.Bounds()
	out := model.Table{MaxClock: b.MaxClock, MinClock: b.MinClock, MaxClockLimit: b.MaxClockLimit}
	for i, p := range t.Points() {
		out.Points = append(out.Points, model.OperatingPoint{
			Level:         i,
			Clock:         p.Clock,
			Voltage:       p.Voltage,
			MinThreshold:  p.MinThreshold,
			MaxThreshold:  p.MaxThreshold,
			DownStayCount: p.DownStayCount,
			MemFreq:       p.MemFreq,
			CPUMinFreq:    p.CPUMinFreq,
			CPUMaxFreq:    p.CPUMaxFreq,
		})
	}
	return out
}

// ResetTimeInState clears the time-in-state counters.
func (d *Device) ResetTimeInState() {
	d.fast.Lock()
	defer d.fast.Unlock()
	d.tis = make(map[int]time.Duration)
	d.tisSince = d.clk.Now()
}

// accrueLocked charges the time since the last accrual to the current clock
// while powered.
func (d *Device) accrueLocked(now time.Time) {
	if d.powered && d.curClock > 0 {
		dt := now.Sub(d.tisSince)
		if dt > 0 {
			c := d.resolveClockLocked(d.curClock)
			d.tis[c] += dt
			d.metrics.TimeInStateSeconds.WithLabelValues(strconv.Itoa(c)).Add(dt.Seconds())
		}
	}
	d.tisSince = now
}
