// Package table holds the ordered operating-point table of a GPU and the
// clock <-> level lookups used by the governor, the lock arbitrator and the
// clock controller.
//
// Level 0 is the fastest operating point; the last level is the slowest.
// Clocks are in MHz and voltages in microvolts.
package table

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/google/btree"

	dvfserrors "github.com/kubeadapt/kubeadapt-dvfs/internal/errors"
)

// OperatingPoint is one row of the table.
type OperatingPoint struct {
	Clock         int `yaml:"clock" json:"clock"`
	Voltage       int `yaml:"voltage" json:"voltage"`
	MinThreshold  int `yaml:"min_threshold" json:"min_threshold"`
	MaxThreshold  int `yaml:"max_threshold" json:"max_threshold"`
	DownStayCount int `yaml:"down_staycount" json:"down_staycount"`

	// Co-scaling hints sent as a bus QoS request while this row is current.
	MemFreq    int `yaml:"mem_freq,omitempty" json:"mem_freq,omitempty"`
	CPUMinFreq int `yaml:"cpu_min_freq,omitempty" json:"cpu_min_freq,omitempty"`
	CPUMaxFreq int `yaml:"cpu_max_freq,omitempty" json:"cpu_max_freq,omitempty"`
}

// Bounds are the platform clock bounds applied on top of the table rows.
// MaxClockLimit is an optional stricter cap; zero means MaxClock.
type Bounds struct {
	MaxClock      int
	MinClock      int
	MaxClockLimit int
}

type levelEntry struct {
	clock int
	level int
}

func lessEntry(a, b levelEntry) bool { return a.clock < b.clock }

// Table is an immutable, validated operating-point table.
type Table struct {
	points []OperatingPoint
	bounds Bounds
	index  *btree.BTreeG[levelEntry]
}

// New validates points and bounds and builds a Table. Rows may be given in
// any order; they are stored fastest first.
func New(points []OperatingPoint, b Bounds) (*Table, error) {
	if len(points) == 0 {
		return nil, invalidConfig("table has no operating points")
	}

	sorted := slices.Clone(points)
	slices.SortFunc(sorted, func(x, y OperatingPoint) int { return cmp.Compare(y.Clock, x.Clock) })

	index := btree.NewG[levelEntry](8, lessEntry)
	for i, p := range sorted {
		if p.Clock <= 0 {
			return nil, invalidConfig(fmt.Sprintf("level %d: clock must be > 0, got %d", i, p.Clock))
		}
		if p.Voltage < 0 {
			return nil, invalidConfig(fmt.Sprintf("clock %d: voltage must be >= 0, got %d", p.Clock, p.Voltage))
		}
		if p.MinThreshold < 0 || p.MaxThreshold > 100 || p.MinThreshold > p.MaxThreshold {
			return nil, invalidConfig(fmt.Sprintf("clock %d: thresholds must satisfy 0 <= min <= max <= 100, got %d/%d",
				p.Clock, p.MinThreshold, p.MaxThreshold))
		}
		if p.DownStayCount < 0 {
			return nil, invalidConfig(fmt.Sprintf("clock %d: down_staycount must be >= 0, got %d", p.Clock, p.DownStayCount))
		}
		if _, dup := index.ReplaceOrInsert(levelEntry{clock: p.Clock, level: i}); dup {
			return nil, invalidConfig(fmt.Sprintf("duplicate clock %d", p.Clock))
		}
	}

	if b.MaxClock == 0 {
		b.MaxClock = sorted[0].Clock
	}
	if b.MinClock == 0 {
		b.MinClock = sorted[len(sorted)-1].Clock
	}
	if b.MaxClockLimit == 0 {
		b.MaxClockLimit = b.MaxClock
	}
	for name, c := range map[string]int{
		"gpu_max_clock":       b.MaxClock,
		"gpu_min_clock":       b.MinClock,
		"gpu_max_clock_limit": b.MaxClockLimit,
	} {
		if _, ok := index.Get(levelEntry{clock: c}); !ok {
			return nil, invalidConfig(fmt.Sprintf("%s %d is not a table clock", name, c))
		}
	}
	if b.MinClock > b.MaxClock {
		return nil, invalidConfig(fmt.Sprintf("gpu_min_clock %d above gpu_max_clock %d", b.MinClock, b.MaxClock))
	}
	if b.MaxClockLimit < b.MinClock {
		return nil, invalidConfig(fmt.Sprintf("gpu_max_clock_limit %d below gpu_min_clock %d", b.MaxClockLimit, b.MinClock))
	}

	return &Table{points: sorted, bounds: b, index: index}, nil
}

func invalidConfig(msg string) error {
	return dvfserrors.New(dvfserrors.CodeInvalidConfig, "table", "table: "+msg, nil)
}

func invalidClock(msg string) error {
	return dvfserrors.New(dvfserrors.CodeInvalidClock, "table", "table: "+msg, nil)
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.points) }

// Points returns a copy of the rows, fastest first.
func (t *Table) Points() []OperatingPoint { return slices.Clone(t.points) }

// Bounds returns the resolved platform bounds.
func (t *Table) Bounds() Bounds { return t.bounds }

// MaxClock is gpu_max_clock.
func (t *Table) MaxClock() int { return t.bounds.MaxClock }

// MinClock is gpu_min_clock.
func (t *Table) MinClock() int { return t.bounds.MinClock }

// UpperClock is the effective upper bound: min(gpu_max_clock, gpu_max_clock_limit).
func (t *Table) UpperClock() int { return min(t.bounds.MaxClock, t.bounds.MaxClockLimit) }

// MaxLevel is the level of UpperClock (the fastest allowed level).
func (t *Table) MaxLevel() int {
	e, _ := t.index.Get(levelEntry{clock: t.UpperClock()})
	return e.level
}

// MinLevel is the level of gpu_min_clock (the slowest allowed level).
func (t *Table) MinLevel() int {
	e, _ := t.index.Get(levelEntry{clock: t.bounds.MinClock})
	return e.level
}

// Point returns the row at level.
func (t *Table) Point(level int) (OperatingPoint, error) {
	if level < 0 || level >= len(t.points) {
		return OperatingPoint{}, invalidClock(fmt.Sprintf("level %d out of range [0,%d)", level, len(t.points)))
	}
	return t.points[level], nil
}

// At returns the row at level without bounds reporting. Callers must pass a
// level obtained from this table.
func (t *Table) At(level int) OperatingPoint { return t.points[level] }

// LevelForClock resolves an exact clock to its level. Clocks outside
// [gpu_min_clock, UpperClock] or not present in the table are rejected.
func (t *Table) LevelForClock(clock int) (int, error) {
	if clock < t.bounds.MinClock || clock > t.UpperClock() {
		return -1, invalidClock(fmt.Sprintf("clock %d outside [%d,%d]", clock, t.bounds.MinClock, t.UpperClock()))
	}
	e, ok := t.index.Get(levelEntry{clock: clock})
	if !ok {
		return -1, invalidClock(fmt.Sprintf("clock %d is not a table clock", clock))
	}
	return e.level, nil
}

// ClockForLevel returns the clock of level.
func (t *Table) ClockForLevel(level int) (int, error) {
	p, err := t.Point(level)
	if err != nil {
		return 0, err
	}
	return p.Clock, nil
}

// VoltageForClock returns the voltage of the row whose clock is exactly clock.
func (t *Table) VoltageForClock(clock int) (int, error) {
	level, err := t.LevelForClock(clock)
	if err != nil {
		return 0, err
	}
	return t.points[level].Voltage, nil
}

// NearestSupportedClock returns the largest allowed table clock that is <=
// requested. Requests above UpperClock snap to UpperClock; requests below
// gpu_min_clock have no supported clock.
func (t *Table) NearestSupportedClock(requested int) (int, error) {
	found := -1
	pivot := min(requested, t.UpperClock())
	t.index.DescendLessOrEqual(levelEntry{clock: pivot}, func(e levelEntry) bool {
		if e.clock >= t.bounds.MinClock {
			found = e.clock
		}
		return false
	})
	if found < 0 {
		return 0, invalidClock(fmt.Sprintf("no supported clock at or below %d (min %d)", requested, t.bounds.MinClock))
	}
	return found, nil
}

// LevelFloor returns the level of NearestSupportedClock(clock). It is used to
// re-derive a level from a clock granted by hardware that may not match a row.
func (t *Table) LevelFloor(clock int) (int, error) {
	c, err := t.NearestSupportedClock(clock)
	if err != nil {
		return -1, err
	}
	return t.LevelForClock(c)
}

// ClampLevel clamps level into [fast, slow].
func ClampLevel(level, fast, slow int) int {
	return max(fast, min(level, slow))
}
