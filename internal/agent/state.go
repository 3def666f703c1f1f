package agent

import (
	"fmt"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/kubeadapt/kubeadapt-dvfs/internal/observability"
)

// AgentState represents the current lifecycle state of the daemon.
type AgentState string

// Agent lifecycle states.
const (
	StateStarting AgentState = "starting"
	StateRunning  AgentState = "running"
	StateDegraded AgentState = "degraded"
	StateStopped  AgentState = "stopped"
)

var allStates = []string{
	string(StateStarting),
	string(StateRunning),
	string(StateDegraded),
	string(StateStopped),
}

// DefaultDegradedAfter is the number of consecutive failed ticks that moves a
// running agent to StateDegraded.
const DefaultDegradedAfter = 10

// StateMachine tracks the daemon's lifecycle state and handles transitions
// driven by tick outcomes.
type StateMachine struct {
	mu            sync.RWMutex
	state         AgentState
	stateReason   string
	since         time.Time
	failures      int
	degradedAfter int
	clock         clock.PassiveClock
	metrics       *observability.Metrics
}

// NewStateMachine creates a StateMachine starting in StateStarting. metrics
// may be nil.
func NewStateMachine(clk clock.PassiveClock, degradedAfter int, metrics *observability.Metrics) *StateMachine {
	if degradedAfter <= 0 {
		degradedAfter = DefaultDegradedAfter
	}
	sm := &StateMachine{
		state:         StateStarting,
		since:         clk.Now(),
		degradedAfter: degradedAfter,
		clock:         clk,
		metrics:       metrics,
	}
	sm.publish()
	return sm
}

// State returns the current agent state.
func (sm *StateMachine) State() AgentState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.state
}

// StateReason returns the human-readable reason for the current state.
func (sm *StateMachine) StateReason() string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.stateReason
}

// InStateFor returns how long the agent has been in its current state.
func (sm *StateMachine) InStateFor() time.Duration {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.clock.Since(sm.since)
}

// TransitionTo directly sets the agent state with a reason.
func (sm *StateMachine) TransitionTo(state AgentState, reason string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.setLocked(state, reason)
	sm.failures = 0
}

// HandleTick records a tick outcome. Consecutive failures past the threshold
// degrade a running agent; the next successful tick recovers it.
func (sm *StateMachine) HandleTick(failed bool, reason string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !failed {
		sm.failures = 0
		if sm.state == StateDegraded {
			sm.setLocked(StateRunning, "ticks recovered")
		}
		return
	}

	sm.failures++
	if sm.state == StateRunning && sm.failures >= sm.degradedAfter {
		sm.setLocked(StateDegraded, fmt.Sprintf("%d consecutive failed ticks: %s", sm.failures, reason))
	}
}

// ConsecutiveFailures returns the current run of failed ticks.
func (sm *StateMachine) ConsecutiveFailures() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.failures
}

func (sm *StateMachine) setLocked(state AgentState, reason string) {
	if state != sm.state {
		sm.since = sm.clock.Now()
	}
	sm.state = state
	sm.stateReason = reason
	sm.publish()
}

func (sm *StateMachine) publish() {
	if sm.metrics != nil {
		observability.SetState(sm.metrics.AgentState, allStates, string(sm.state))
	}
}
