package governor

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dvfserrors "github.com/kubeadapt/kubeadapt-dvfs/internal/errors"
	"github.com/kubeadapt/kubeadapt-dvfs/internal/table"
)

func newTable(t *testing.T, rows ...table.OperatingPoint) *table.Table {
	t.Helper()
	tbl, err := table.New(rows, table.Bounds{})
	require.NoError(t, err)
	return tbl
}

// scenarioTable is the three-row table 800/600/400.
func scenarioTable(t *testing.T) *table.Table {
	return newTable(t,
		table.OperatingPoint{Clock: 800, MaxThreshold: 90, MinThreshold: 0, DownStayCount: 0},
		table.OperatingPoint{Clock: 600, MaxThreshold: 90, MinThreshold: 20, DownStayCount: 2},
		table.OperatingPoint{Clock: 400, MaxThreshold: 90, MinThreshold: 20, DownStayCount: 2},
	)
}

func mustGovernor(t *testing.T, k Kind, p Params) *Governor {
	t.Helper()
	g, err := New(k, p)
	require.NoError(t, err)
	return g
}

func fullRange(tbl *table.Table, util int) Input {
	return Input{Table: tbl, Fast: tbl.MaxLevel(), Slow: tbl.MinLevel(), Utilization: util}
}

func TestParseKind(t *testing.T) {
	for k := Kind(0); k < NumKinds; k++ {
		got, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}

	got, err := ParseKind(" Interactive ")
	require.NoError(t, err)
	assert.Equal(t, KindInteractive, got)

	_, err = ParseKind("ondemand")
	assert.ErrorIs(t, err, dvfserrors.ErrInvalidConfig)

	_, err = New(Kind(99), Params{})
	assert.ErrorIs(t, err, dvfserrors.ErrInvalidConfig)
}

func TestDefault_StepsDownOnThirdLowSample(t *testing.T) {
	tbl := scenarioTable(t)
	g := mustGovernor(t, KindDefault, Params{})
	s := &State{Step: 1}

	g.Decide(s, fullRange(tbl, 10))
	assert.Equal(t, 1, s.Step, "first sample arms the counter")
	g.Decide(s, fullRange(tbl, 10))
	assert.Equal(t, 1, s.Step)
	out := g.Decide(s, fullRange(tbl, 10))
	assert.Equal(t, 2, s.Step)
	assert.Equal(t, Outcome{From: 1, To: 2}, out)
	assert.Equal(t, 2, s.DownRequirement, "counter reset from the new row")
}

func TestDefault_HysteresisNeedsStayCountSamples(t *testing.T) {
	for _, k := range []int{1, 2, 3, 5} {
		tbl := newTable(t,
			table.OperatingPoint{Clock: 800, MaxThreshold: 90},
			table.OperatingPoint{Clock: 600, MaxThreshold: 90, MinThreshold: 20, DownStayCount: k},
			table.OperatingPoint{Clock: 400, MaxThreshold: 90, MinThreshold: 20, DownStayCount: k},
		)
		g := mustGovernor(t, KindDefault, Params{})
		s := &State{}
		s.Reset(1, k)

		for i := 0; i < k-1; i++ {
			g.Decide(s, fullRange(tbl, 5))
			require.Equal(t, 1, s.Step, "k=%d sample %d", k, i+1)
		}
		g.Decide(s, fullRange(tbl, 5))
		assert.Equal(t, 2, s.Step, "k=%d: k-th sample must step down", k)
	}
}

func TestDefault_ZeroStayCountStepsImmediately(t *testing.T) {
	tbl := newTable(t,
		table.OperatingPoint{Clock: 800, MaxThreshold: 90, MinThreshold: 50},
		table.OperatingPoint{Clock: 600, MaxThreshold: 90, MinThreshold: 20},
	)
	g := mustGovernor(t, KindDefault, Params{})
	s := &State{Step: 0}

	g.Decide(s, fullRange(tbl, 30))
	assert.Equal(t, 1, s.Step)
}

func TestDefault_InBandResetsCounter(t *testing.T) {
	tbl := scenarioTable(t)
	g := mustGovernor(t, KindDefault, Params{})
	s := &State{Step: 1, DownRequirement: 1}

	g.Decide(s, fullRange(tbl, 50))

	assert.Equal(t, 1, s.Step)
	assert.Equal(t, 2, s.DownRequirement)
}

func TestDefault_StepsUpOneLevel(t *testing.T) {
	tbl := scenarioTable(t)
	g := mustGovernor(t, KindDefault, Params{})
	s := &State{Step: 2}

	g.Decide(s, fullRange(tbl, 95))
	assert.Equal(t, 1, s.Step)
	assert.Equal(t, 2, s.DownRequirement)

	g.Decide(s, fullRange(tbl, 95))
	assert.Equal(t, 0, s.Step)

	// Already at the fastest level.
	g.Decide(s, fullRange(tbl, 100))
	assert.Equal(t, 0, s.Step)
}

func TestDefault_RespectsLockWindow(t *testing.T) {
	tbl := scenarioTable(t)
	g := mustGovernor(t, KindDefault, Params{})

	s := &State{Step: 1}
	g.Decide(s, Input{Table: tbl, Fast: 1, Slow: 1, Utilization: 100})
	assert.Equal(t, 1, s.Step)

	// The window narrowed below the current step.
	s = &State{Step: 0}
	out := g.Decide(s, Input{Table: tbl, Fast: 1, Slow: 2, Utilization: 50})
	assert.Equal(t, 1, s.Step)
	assert.False(t, out.Violation)
}

func TestComputeBoost_OverridesEveryGovernor(t *testing.T) {
	tbl := scenarioTable(t)
	for k := Kind(0); k < NumKinds; k++ {
		t.Run(k.String(), func(t *testing.T) {
			g := mustGovernor(t, k, Params{Highspeed: Highspeed{Clock: 800, Load: 99}})
			// In the middle of a down-count at the slowest level.
			s := &State{Step: 2, DownRequirement: 1}

			in := fullRange(tbl, 0)
			in.ComputeBound = true
			out := g.Decide(s, in)

			assert.True(t, out.Boosted)
			assert.Equal(t, 0, s.Step)
			assert.Equal(t, 0, s.DownRequirement)

			// Honours a max lock.
			s = &State{Step: 2, DownRequirement: 1}
			in.Fast = 1
			g.Decide(s, in)
			assert.Equal(t, 1, s.Step)
			assert.Equal(t, 2, s.DownRequirement)
		})
	}
}

func TestComputeBoost_Disabled(t *testing.T) {
	tbl := scenarioTable(t)
	g := mustGovernor(t, KindDefault, Params{ComputeBoostDisabled: true})
	s := &State{Step: 2, DownRequirement: 2}

	in := fullRange(tbl, 50)
	in.ComputeBound = true
	out := g.Decide(s, in)

	assert.False(t, out.Boosted)
	assert.Equal(t, 2, s.Step)

	g.SetComputeBoostDisabled(false)
	g.Decide(s, in)
	assert.Equal(t, 0, s.Step)
}

func fiveRowTable(t *testing.T) *table.Table {
	return newTable(t,
		table.OperatingPoint{Clock: 800, MaxThreshold: 90, MinThreshold: 20, DownStayCount: 1},
		table.OperatingPoint{Clock: 700, MaxThreshold: 90, MinThreshold: 20, DownStayCount: 1},
		table.OperatingPoint{Clock: 600, MaxThreshold: 90, MinThreshold: 20, DownStayCount: 1},
		table.OperatingPoint{Clock: 500, MaxThreshold: 90, MinThreshold: 20, DownStayCount: 1},
		table.OperatingPoint{Clock: 400, MaxThreshold: 90, MinThreshold: 20, DownStayCount: 1},
	)
}

func TestInteractive_HighspeedJumpAfterDelay(t *testing.T) {
	tbl := fiveRowTable(t)
	g := mustGovernor(t, KindInteractive, Params{Highspeed: Highspeed{Clock: 700, Load: 95, Delay: 2}})
	s := &State{Step: 4}

	g.Decide(s, fullRange(tbl, 99))
	assert.Equal(t, 4, s.Step)
	g.Decide(s, fullRange(tbl, 99))
	assert.Equal(t, 4, s.Step)
	g.Decide(s, fullRange(tbl, 99))
	assert.Equal(t, 1, s.Step, "third qualifying sample jumps to the highspeed clock")

	// At the highspeed clock the walk is single-step again.
	g.Decide(s, fullRange(tbl, 99))
	assert.Equal(t, 0, s.Step)
}

func TestInteractive_NoDelayJumpsImmediately(t *testing.T) {
	tbl := fiveRowTable(t)
	g := mustGovernor(t, KindInteractive, Params{Highspeed: Highspeed{Clock: 700, Load: 95}})
	s := &State{Step: 4}

	g.Decide(s, fullRange(tbl, 99))
	assert.Equal(t, 1, s.Step)
}

func TestInteractive_BelowHighspeedLoadSingleSteps(t *testing.T) {
	tbl := fiveRowTable(t)
	g := mustGovernor(t, KindInteractive, Params{Highspeed: Highspeed{Clock: 700, Load: 95, Delay: 1}})
	s := &State{Step: 4}

	g.Decide(s, fullRange(tbl, 99))
	assert.Equal(t, 4, s.Step)
	// A non-qualifying sample breaks the streak.
	g.Decide(s, fullRange(tbl, 92))
	assert.Equal(t, 3, s.Step)
	g.Decide(s, fullRange(tbl, 99))
	assert.Equal(t, 3, s.Step, "delay restarts after the streak broke")
	g.Decide(s, fullRange(tbl, 99))
	assert.Equal(t, 1, s.Step)
}

func TestInteractive_JumpHonoursMaxLock(t *testing.T) {
	tbl := fiveRowTable(t)
	g := mustGovernor(t, KindInteractive, Params{Highspeed: Highspeed{Clock: 700, Load: 95}})
	s := &State{Step: 4}

	g.Decide(s, Input{Table: tbl, Fast: 2, Slow: 4, Utilization: 99})
	assert.Equal(t, 2, s.Step)
}

func TestSetHighspeed(t *testing.T) {
	tbl := fiveRowTable(t)
	g := mustGovernor(t, KindInteractive, Params{})

	err := g.SetHighspeed(Highspeed{Clock: 650, Load: 90}, tbl)
	assert.ErrorIs(t, err, dvfserrors.ErrInvalidClock)
	err = g.SetHighspeed(Highspeed{Clock: 600, Load: 101}, tbl)
	assert.ErrorIs(t, err, dvfserrors.ErrInvalidConfig)
	err = g.SetHighspeed(Highspeed{Clock: 600, Load: 90, Delay: -1}, tbl)
	assert.ErrorIs(t, err, dvfserrors.ErrInvalidConfig)

	require.NoError(t, g.SetHighspeed(Highspeed{Clock: 600, Load: 80}, tbl))
	assert.Equal(t, Highspeed{Clock: 600, Load: 80}, g.Params().Highspeed)

	s := &State{Step: 4}
	g.Decide(s, fullRange(tbl, 95))
	assert.Equal(t, 2, s.Step, "new tunables take effect on the next decision")
}

func TestStatic_SweepsBetweenBounds(t *testing.T) {
	tbl := scenarioTable(t)
	g := mustGovernor(t, KindStatic, Params{})
	s := &State{Step: 1}

	var steps []int
	for i := 0; i < 4*DefaultStaticPeriod; i++ {
		g.Decide(s, fullRange(tbl, 100-i%100))
		if (i+1)%DefaultStaticPeriod == 0 {
			steps = append(steps, s.Step)
		} else if i%DefaultStaticPeriod == 0 && i > 0 {
			require.Equal(t, steps[len(steps)-1], s.Step, "static must hold between periods")
		}
	}
	assert.Equal(t, []int{0, 1, 2, 1}, steps)
}

func TestStatic_CustomPeriodWithinLocks(t *testing.T) {
	tbl := fiveRowTable(t)
	g := mustGovernor(t, KindStatic, Params{StaticPeriod: 1})
	s := &State{Step: 3}

	var steps []int
	for i := 0; i < 6; i++ {
		g.Decide(s, Input{Table: tbl, Fast: 2, Slow: 3, Utilization: 50})
		steps = append(steps, s.Step)
	}
	assert.Equal(t, []int{2, 3, 2, 3, 2, 3}, steps)
}

func TestBooster_DoubleStepOnLoadSurge(t *testing.T) {
	tbl := newTable(t,
		table.OperatingPoint{Clock: 800, MaxThreshold: 90},
		table.OperatingPoint{Clock: 600, MaxThreshold: 90, MinThreshold: 20, DownStayCount: 2},
		table.OperatingPoint{Clock: 400, MaxThreshold: 90, MinThreshold: 20, DownStayCount: 2},
	)
	g := mustGovernor(t, KindBooster, Params{})
	s := &State{Step: 2, DownRequirement: 2}

	in := fullRange(tbl, 10)
	in.CurClock = 400
	g.Decide(s, in)
	assert.Equal(t, 2, s.Step)

	// 400*90 - 400*10 = 32000 > 400*50.
	in.Utilization = 90
	g.Decide(s, in)
	assert.Equal(t, 0, s.Step)
}

func TestBooster_SmallRiseFollowsDefault(t *testing.T) {
	tbl := scenarioTable(t)
	g := mustGovernor(t, KindBooster, Params{})
	s := &State{Step: 2}

	// 400*50 is not above the 400*50 threshold.
	in := fullRange(tbl, 50)
	in.CurClock = 400
	g.Decide(s, in)
	in.Utilization = 95
	g.Decide(s, in)

	assert.Equal(t, 1, s.Step)
}

func TestDynamic_DoubleSteps(t *testing.T) {
	tbl := newTable(t,
		table.OperatingPoint{Clock: 800, MaxThreshold: 90},
		table.OperatingPoint{Clock: 600, MaxThreshold: 40, MinThreshold: 10},
		table.OperatingPoint{Clock: 400, MaxThreshold: 40, MinThreshold: 10},
		table.OperatingPoint{Clock: 200, MaxThreshold: 40, MinThreshold: 5},
	)
	g := mustGovernor(t, KindDynamic, Params{})

	// 100*200 exceeds 40*400: the next row would be overloaded too.
	s := &State{Step: 3}
	g.Decide(s, fullRange(tbl, 100))
	assert.Equal(t, 1, s.Step)

	// 5*600 is below 10*400: the next row would be underloaded too.
	s = &State{Step: 1}
	g.Decide(s, fullRange(tbl, 5))
	assert.Equal(t, 3, s.Step)

	// 50*400 is not above 40*600: single step.
	s = &State{Step: 2}
	g.Decide(s, fullRange(tbl, 50))
	assert.Equal(t, 1, s.Step)
}

func TestDynamic_DoubleStepClampedToWindow(t *testing.T) {
	tbl := newTable(t,
		table.OperatingPoint{Clock: 800, MaxThreshold: 90},
		table.OperatingPoint{Clock: 600, MaxThreshold: 40, MinThreshold: 10},
		table.OperatingPoint{Clock: 400, MaxThreshold: 40, MinThreshold: 10},
		table.OperatingPoint{Clock: 200, MaxThreshold: 40, MinThreshold: 5},
	)
	g := mustGovernor(t, KindDynamic, Params{})

	s := &State{Step: 3}
	g.Decide(s, Input{Table: tbl, Fast: 2, Slow: 3, Utilization: 100})
	assert.Equal(t, 2, s.Step)
}

type runawayPolicy struct{}

func (runawayPolicy) Kind() Kind               { return KindDefault }
func (runawayPolicy) Decide(s *State, _ Input) { s.Step = -3 }

func TestDecide_ViolationIsClampedAndFlagged(t *testing.T) {
	tbl := scenarioTable(t)
	g := &Governor{policy: runawayPolicy{}}
	s := &State{Step: 2}

	out := g.Decide(s, Input{Table: tbl, Fast: 1, Slow: 2, Utilization: 50})

	assert.True(t, out.Violation)
	assert.Equal(t, 1, s.Step)
	assert.Equal(t, 1, out.To)
}

func TestDecide_StrictPanicsOnViolation(t *testing.T) {
	tbl := scenarioTable(t)
	g := &Governor{policy: runawayPolicy{}, params: Params{Strict: true}}

	assert.Panics(t, func() {
		g.Decide(&State{Step: 2}, fullRange(tbl, 50))
	})
}

func TestDecide_StepAlwaysWithinWindow(t *testing.T) {
	tbl := fiveRowTable(t)
	rng := rand.New(rand.NewPCG(7, 11))

	for k := Kind(0); k < NumKinds; k++ {
		g := mustGovernor(t, k, Params{Highspeed: Highspeed{Clock: 700, Load: 80, Delay: 1}, StaticPeriod: 2, Strict: true})
		s := &State{Step: rng.IntN(tbl.Len())}
		for i := 0; i < 2000; i++ {
			fast := rng.IntN(tbl.Len())
			slow := fast + rng.IntN(tbl.Len()-fast)
			in := Input{
				Table:        tbl,
				Fast:         fast,
				Slow:         slow,
				CurClock:     tbl.At(s.Step).Clock,
				Utilization:  rng.IntN(130) - 10,
				ComputeBound: rng.IntN(20) == 0,
			}
			out := g.Decide(s, in)
			require.False(t, out.Violation)
			require.GreaterOrEqual(t, s.Step, fast, "%s iteration %d", k, i)
			require.LessOrEqual(t, s.Step, slow, "%s iteration %d", k, i)
		}
	}
}
