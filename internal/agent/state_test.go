package agent

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/kubeadapt/kubeadapt-dvfs/internal/observability"
)

func stateGauge(t *testing.T, m *observability.Metrics, state AgentState) float64 {
	t.Helper()
	pb := &dto.Metric{}
	require.NoError(t, m.AgentState.WithLabelValues(string(state)).(prometheus.Metric).Write(pb))
	return pb.GetGauge().GetValue()
}

func TestStateInitial(t *testing.T) {
	clk := testingclock.NewFakePassiveClock(time.Now())
	m := observability.NewMetrics()
	sm := NewStateMachine(clk, 0, m)

	assert.Equal(t, StateStarting, sm.State())
	assert.Equal(t, "", sm.StateReason())
	assert.Equal(t, 1.0, stateGauge(t, m, StateStarting))
	assert.Equal(t, 0.0, stateGauge(t, m, StateRunning))
}

func TestStateTransitionToRunning(t *testing.T) {
	clk := testingclock.NewFakePassiveClock(time.Now())
	m := observability.NewMetrics()
	sm := NewStateMachine(clk, 0, m)

	clk.SetTime(clk.Now().Add(3 * time.Second))
	sm.TransitionTo(StateRunning, "governor loop started")

	assert.Equal(t, StateRunning, sm.State())
	assert.Equal(t, "governor loop started", sm.StateReason())
	assert.Equal(t, time.Duration(0), sm.InStateFor())
	assert.Equal(t, 0.0, stateGauge(t, m, StateStarting))
	assert.Equal(t, 1.0, stateGauge(t, m, StateRunning))

	clk.SetTime(clk.Now().Add(time.Minute))
	assert.Equal(t, time.Minute, sm.InStateFor())
}

func TestStateFailedTicksDegrade(t *testing.T) {
	clk := testingclock.NewFakePassiveClock(time.Now())
	sm := NewStateMachine(clk, 3, nil)
	sm.TransitionTo(StateRunning, "")

	sm.HandleTick(true, "CLOCK_SET_FAILED")
	sm.HandleTick(true, "CLOCK_SET_FAILED")
	assert.Equal(t, StateRunning, sm.State())
	assert.Equal(t, 2, sm.ConsecutiveFailures())

	sm.HandleTick(true, "CLOCK_SET_FAILED")
	assert.Equal(t, StateDegraded, sm.State())
	assert.Contains(t, sm.StateReason(), "3 consecutive failed ticks")
	assert.Contains(t, sm.StateReason(), "CLOCK_SET_FAILED")
}

func TestStateSuccessResetsFailures(t *testing.T) {
	clk := testingclock.NewFakePassiveClock(time.Now())
	sm := NewStateMachine(clk, 2, nil)
	sm.TransitionTo(StateRunning, "")

	sm.HandleTick(true, "x")
	sm.HandleTick(false, "")
	sm.HandleTick(true, "x")

	assert.Equal(t, StateRunning, sm.State())
	assert.Equal(t, 1, sm.ConsecutiveFailures())
}

func TestStateRecoversFromDegraded(t *testing.T) {
	clk := testingclock.NewFakePassiveClock(time.Now())
	m := observability.NewMetrics()
	sm := NewStateMachine(clk, 1, m)
	sm.TransitionTo(StateRunning, "")

	sm.HandleTick(true, "SAMPLE_FAILED")
	require.Equal(t, StateDegraded, sm.State())
	assert.Equal(t, 1.0, stateGauge(t, m, StateDegraded))

	sm.HandleTick(false, "")
	assert.Equal(t, StateRunning, sm.State())
	assert.Equal(t, "ticks recovered", sm.StateReason())
	assert.Equal(t, 0.0, stateGauge(t, m, StateDegraded))
}

func TestStateFailuresOutsideRunningDoNotDegrade(t *testing.T) {
	clk := testingclock.NewFakePassiveClock(time.Now())
	sm := NewStateMachine(clk, 1, nil)

	sm.HandleTick(true, "x")
	assert.Equal(t, StateStarting, sm.State())

	sm.TransitionTo(StateStopped, "shutdown")
	sm.HandleTick(true, "x")
	assert.Equal(t, StateStopped, sm.State())
}

func TestStateDefaultThreshold(t *testing.T) {
	clk := testingclock.NewFakePassiveClock(time.Now())
	sm := NewStateMachine(clk, 0, nil)
	sm.TransitionTo(StateRunning, "")

	for i := 0; i < DefaultDegradedAfter-1; i++ {
		sm.HandleTick(true, "x")
	}
	assert.Equal(t, StateRunning, sm.State())
	sm.HandleTick(true, "x")
	assert.Equal(t, StateDegraded, sm.State())
}
