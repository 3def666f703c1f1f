// Package lock arbitrates the min/max clock requests of the independent
// subsystems that may constrain the GPU clock (thermal, boost, PM-QoS, user).
//
// An Arbitrator is not safe for concurrent use; the owning device guards it
// with its fast-path lock.
package lock

import (
	"fmt"
	"strings"

	dvfserrors "github.com/kubeadapt/kubeadapt-dvfs/internal/errors"
	"github.com/kubeadapt/kubeadapt-dvfs/internal/table"
)

// Source identifies a lock requester.
type Source int

// Lock sources.
const (
	SourceThermal Source = iota
	SourceSysfs
	SourceIPA
	SourceBoost
	SourcePMQoS
	SourceCalibration
	SourceComputeBoost

	NumSources
)

var sourceNames = [NumSources]string{
	SourceThermal:      "thermal",
	SourceSysfs:        "sysfs",
	SourceIPA:          "ipa",
	SourceBoost:        "boost",
	SourcePMQoS:        "pmqos",
	SourceCalibration:  "calibration",
	SourceComputeBoost: "compute_boost",
}

func (s Source) String() string {
	if s < 0 || s >= NumSources {
		return fmt.Sprintf("source(%d)", int(s))
	}
	return sourceNames[s]
}

// Valid reports whether s is one of the fixed sources.
func (s Source) Valid() bool { return s >= 0 && s < NumSources }

// ParseSource resolves a source name.
func ParseSource(name string) (Source, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "tmu" {
		return SourceThermal, nil
	}
	for i, s := range sourceNames {
		if s == n {
			return Source(i), nil
		}
	}
	return -1, dvfserrors.New(dvfserrors.CodeInvalidSource, "lock", fmt.Sprintf("lock: unknown source %q", name), nil)
}

// Window is the effective arbitrated clock window. Zero means unconstrained.
type Window struct {
	MinLock int `json:"min_lock"`
	MaxLock int `json:"max_lock"`
}

// Upper returns the effective fastest allowed clock for t.
func (w Window) Upper(t *table.Table) int {
	if w.MaxLock > 0 {
		return min(w.MaxLock, t.UpperClock())
	}
	return t.UpperClock()
}

// Lower returns the effective slowest allowed clock for t.
func (w Window) Lower(t *table.Table) int {
	if w.MinLock > 0 {
		return max(w.MinLock, t.MinClock())
	}
	return t.MinClock()
}

// Levels returns the fastest and slowest allowed levels for t.
func (w Window) Levels(t *table.Table) (fast, slow int) {
	fast, slow = t.MaxLevel(), t.MinLevel()
	if l, err := t.LevelFloor(w.Upper(t)); err == nil {
		fast = l
	}
	if l, err := t.LevelFloor(w.Lower(t)); err == nil {
		slow = l
	}
	if fast > slow {
		fast = slow
	}
	return fast, slow
}

// Change describes the effect of an assert or release.
type Change struct {
	Window Window
	// Conflict is set when the min requests exceed the max requests and the
	// effective min was clamped down to the effective max.
	Conflict bool
}

// Request is one source's current request.
type Request struct {
	Source Source
	Min    int
	Max    int
}

// Arbitrator combines per-source requests into one Window.
type Arbitrator struct {
	table   *table.Table
	userMax [NumSources]int
	userMin [NumSources]int
	window  Window
}

// NewArbitrator creates an Arbitrator with no requests.
func NewArbitrator(t *table.Table) *Arbitrator {
	return &Arbitrator{table: t}
}

// Window returns the current effective window.
func (a *Arbitrator) Window() Window { return a.window }

// Requests returns every source holding a min or max request.
func (a *Arbitrator) Requests() []Request {
	var out []Request
	for s := Source(0); s < NumSources; s++ {
		if a.userMax[s] > 0 || a.userMin[s] > 0 {
			out = append(out, Request{Source: s, Min: a.userMin[s], Max: a.userMax[s]})
		}
	}
	return out
}

// Reset drops all requests and returns the window to unconstrained (zero).
func (a *Arbitrator) Reset() {
	a.userMax = [NumSources]int{}
	a.userMin = [NumSources]int{}
	a.window = Window{}
}

func (a *Arbitrator) validate(src Source, clock int) error {
	if !src.Valid() {
		return dvfserrors.New(dvfserrors.CodeInvalidSource, "lock", fmt.Sprintf("lock: invalid source %d", int(src)), nil)
	}
	if _, err := a.table.LevelForClock(clock); err != nil {
		return fmt.Errorf("lock: %s request %d: %w", src, clock, err)
	}
	return nil
}

// AssertMax records a max-clock request for src and recomputes the window.
func (a *Arbitrator) AssertMax(src Source, clock int) (Change, error) {
	if err := a.validate(src, clock); err != nil {
		return Change{Window: a.window}, err
	}
	a.userMax[src] = clock
	a.window.MaxLock = a.combineMax()
	return a.settle(), nil
}

// ReleaseMax clears src's max request. With no max requests left the
// effective max reverts to gpu_max_clock. Releasing an empty slot is a no-op.
func (a *Arbitrator) ReleaseMax(src Source) Change {
	if !src.Valid() || a.userMax[src] == 0 {
		return Change{Window: a.window}
	}
	a.userMax[src] = 0
	a.window.MaxLock = a.combineMax()
	if a.window.MaxLock == 0 {
		a.window.MaxLock = a.table.MaxClock()
	}
	return a.settle()
}

// AssertMin records a min-clock request for src and recomputes the window.
func (a *Arbitrator) AssertMin(src Source, clock int) (Change, error) {
	if err := a.validate(src, clock); err != nil {
		return Change{Window: a.window}, err
	}
	a.userMin[src] = clock
	return a.settle(), nil
}

// ReleaseMin clears src's min request. With no min requests left the
// effective min reverts to gpu_min_clock. Releasing an empty slot is a no-op.
func (a *Arbitrator) ReleaseMin(src Source) Change {
	if !src.Valid() || a.userMin[src] == 0 {
		return Change{Window: a.window}
	}
	a.userMin[src] = 0
	ch := a.settle()
	if ch.Window.MinLock == 0 {
		a.window.MinLock = a.table.MinClock()
		ch.Window = a.window
	}
	return ch
}

// MaxRequest returns src's max request, 0 when none.
func (a *Arbitrator) MaxRequest(src Source) int {
	if !src.Valid() {
		return 0
	}
	return a.userMax[src]
}

// MinRequest returns src's min request, 0 when none.
func (a *Arbitrator) MinRequest(src Source) int {
	if !src.Valid() {
		return 0
	}
	return a.userMin[src]
}

func (a *Arbitrator) combineMax() int {
	out := 0
	for _, c := range a.userMax {
		if c > 0 && (out == 0 || c < out) {
			out = c
		}
	}
	return out
}

func (a *Arbitrator) combineMin() int {
	out := 0
	for _, c := range a.userMin {
		if c > out {
			out = c
		}
	}
	return out
}

// settle recomputes the effective min against the effective max. The max
// always wins: an effective min above it is clamped down to it.
func (a *Arbitrator) settle() Change {
	wantMin := a.combineMin()
	if wantMin == 0 {
		// Keep a released floor (gpu_min_clock) rather than dropping back to 0.
		if a.window.MinLock != 0 && a.window.MinLock != a.table.MinClock() {
			a.window.MinLock = a.table.MinClock()
		}
		return Change{Window: a.window}
	}
	ch := Change{}
	if a.window.MaxLock > 0 && wantMin > a.window.MaxLock {
		wantMin = a.window.MaxLock
		ch.Conflict = true
	}
	a.window.MinLock = wantMin
	ch.Window = a.window
	return ch
}
