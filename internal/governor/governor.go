// Package governor implements the DVFS scaling policies. A policy consumes a
// utilization sample and moves the per-device State (step and hysteresis
// counter) within the lock window handed to it.
package governor

import (
	"fmt"
	"log/slog"
	"strings"

	dvfserrors "github.com/kubeadapt/kubeadapt-dvfs/internal/errors"
	"github.com/kubeadapt/kubeadapt-dvfs/internal/table"
)

// Kind selects a policy.
type Kind int

// Governor kinds.
const (
	KindDefault Kind = iota
	KindInteractive
	KindStatic
	KindBooster
	KindDynamic

	NumKinds
)

var kindNames = [NumKinds]string{
	KindDefault:     "default",
	KindInteractive: "interactive",
	KindStatic:      "static",
	KindBooster:     "booster",
	KindDynamic:     "dynamic",
}

func (k Kind) String() string {
	if k < 0 || k >= NumKinds {
		return fmt.Sprintf("governor(%d)", int(k))
	}
	return kindNames[k]
}

// ParseKind resolves a governor name.
func ParseKind(name string) (Kind, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for i, s := range kindNames {
		if s == n {
			return Kind(i), nil
		}
	}
	return -1, dvfserrors.New(dvfserrors.CodeInvalidConfig, "governor",
		fmt.Sprintf("governor: unknown type %q (want one of %s)", name, strings.Join(kindNames[:], ", ")), nil)
}

// DefaultStaticPeriod is the number of samples the static sweep holds a step.
const DefaultStaticPeriod = 10

// Highspeed configures the interactive shortcut.
type Highspeed struct {
	Clock int `json:"clock"`
	Load  int `json:"load"`
	Delay int `json:"delay"`
}

// Validate checks h against t.
func (h Highspeed) Validate(t *table.Table) error {
	if h.Load < 0 || h.Load > 100 {
		return dvfserrors.New(dvfserrors.CodeInvalidConfig, "governor",
			fmt.Sprintf("governor: highspeed load %d outside 0..100", h.Load), nil)
	}
	if h.Delay < 0 {
		return dvfserrors.New(dvfserrors.CodeInvalidConfig, "governor",
			fmt.Sprintf("governor: highspeed delay %d is negative", h.Delay), nil)
	}
	if _, err := t.LevelForClock(h.Clock); err != nil {
		return fmt.Errorf("governor: highspeed clock: %w", err)
	}
	return nil
}

// Params are the construction-time tunables of a Governor.
type Params struct {
	Highspeed    Highspeed
	StaticPeriod int
	// ComputeBoostDisabled turns off the compute-bound override.
	ComputeBoostDisabled bool
	// Strict panics on a post-decide bounds violation instead of clamping.
	Strict bool
}

// State is the per-device governor state. Step and DownRequirement are the
// DVFS state proper; the unexported fields are policy memory.
type State struct {
	Step            int
	DownRequirement int

	delayCount  int
	staticCount int
	sweepSlow   bool
	weight      int
}

// Reset sets the step and counter and clears policy memory.
func (s *State) Reset(step, downRequirement int) {
	*s = State{Step: step, DownRequirement: downRequirement}
}

// countDown runs one under-threshold sample through the hysteresis counter
// and reports whether the step may move down. A counter at 0 is armed from
// stay first, so a row with stay 0 moves immediately.
func (s *State) countDown(stay int) bool {
	if s.DownRequirement <= 0 {
		s.DownRequirement = stay
		return stay == 0
	}
	s.DownRequirement--
	return s.DownRequirement <= 0
}

// Input is one decision's read-only view of the device.
type Input struct {
	Table *table.Table
	// Fast and Slow are the allowed level range from the lock window
	// (Fast <= Slow, level 0 fastest).
	Fast int
	Slow int
	// CurClock is the clock last applied.
	CurClock     int
	Utilization  int
	ComputeBound bool
}

func (in Input) stay(level int) int { return in.Table.At(level).DownStayCount }

// Policy is one scaling algorithm.
type Policy interface {
	Kind() Kind
	Decide(s *State, in Input)
}

// Outcome summarizes a Decide call.
type Outcome struct {
	From    int
	To      int
	Boosted bool
	// Violation is set when the policy left the step outside [Fast, Slow]
	// and it was clamped.
	Violation bool
}

// Governor wraps a Policy with the cross-cutting override and the bounds
// post-condition. It is not safe for concurrent use.
type Governor struct {
	policy Policy
	params Params
}

// New builds the governor of kind k.
func New(k Kind, p Params) (*Governor, error) {
	if p.StaticPeriod <= 0 {
		p.StaticPeriod = DefaultStaticPeriod
	}
	g := &Governor{params: p}
	switch k {
	case KindDefault:
		g.policy = defaultPolicy{}
	case KindInteractive:
		g.policy = &interactivePolicy{hs: &g.params.Highspeed}
	case KindStatic:
		g.policy = staticPolicy{period: p.StaticPeriod}
	case KindBooster:
		g.policy = boosterPolicy{}
	case KindDynamic:
		g.policy = dynamicPolicy{}
	default:
		return nil, dvfserrors.New(dvfserrors.CodeInvalidConfig, "governor",
			fmt.Sprintf("governor: unknown kind %d", int(k)), nil)
	}
	return g, nil
}

// Kind returns the active policy kind.
func (g *Governor) Kind() Kind { return g.policy.Kind() }

// Params returns the current tunables.
func (g *Governor) Params() Params { return g.params }

// SetComputeBoostDisabled toggles the compute-bound override.
func (g *Governor) SetComputeBoostDisabled(disabled bool) { g.params.ComputeBoostDisabled = disabled }

// SetHighspeed replaces the interactive tunables after validating them against t.
func (g *Governor) SetHighspeed(h Highspeed, t *table.Table) error {
	if err := h.Validate(t); err != nil {
		return err
	}
	g.params.Highspeed = h
	return nil
}

// Decide runs one sample through the policy. On return s.Step is within
// [in.Fast, in.Slow].
func (g *Governor) Decide(s *State, in Input) Outcome {
	in.Utilization = max(0, min(in.Utilization, 100))
	in.Fast = max(in.Fast, 0)
	in.Slow = min(in.Slow, in.Table.Len()-1)
	if in.Fast > in.Slow {
		in.Fast = in.Slow
	}

	out := Outcome{From: s.Step}

	// The window may have narrowed since the last decision.
	s.Step = table.ClampLevel(s.Step, in.Fast, in.Slow)

	if in.ComputeBound && !g.params.ComputeBoostDisabled {
		s.Step = in.Fast
		s.DownRequirement = in.stay(in.Fast)
		out.Boosted = true
	} else {
		g.policy.Decide(s, in)
	}

	if s.Step < in.Fast || s.Step > in.Slow {
		if g.params.Strict {
			panic(fmt.Sprintf("governor %s: step %d outside [%d,%d]", g.policy.Kind(), s.Step, in.Fast, in.Slow))
		}
		slog.Error("governor left step out of bounds, clamping",
			"governor", g.policy.Kind().String(),
			"step", s.Step,
			"fast", in.Fast,
			"slow", in.Slow,
		)
		s.Step = table.ClampLevel(s.Step, in.Fast, in.Slow)
		s.DownRequirement = in.stay(s.Step)
		out.Violation = true
	}

	out.To = s.Step
	return out
}
