// Package sampler produces the utilization readings consumed by the DVFS
// tick. A Sampler is pulled once per tick.
package sampler

import (
	"context"
	"time"
)

// Sample is one utilization reading.
type Sample struct {
	// Utilization is the busy percentage over the sampling window, 0..100.
	Utilization int `json:"utilization"`
	// ComputeBound reports a fully compute-bound workload.
	ComputeBound bool `json:"compute_bound"`

	Busy time.Duration `json:"busy,omitempty"`
	Idle time.Duration `json:"idle,omitempty"`
}

// Sampler produces utilization samples.
type Sampler interface {
	Sample(ctx context.Context) (Sample, error)
}

// Func adapts a function to a Sampler.
type Func func(ctx context.Context) (Sample, error)

// Sample calls f.
func (f Func) Sample(ctx context.Context) (Sample, error) { return f(ctx) }

// ClampUtilization clamps a percentage into 0..100.
func ClampUtilization(u int) int {
	return max(0, min(u, 100))
}

// Percent returns busy as a rounded percentage of busy+idle.
func Percent(busy, idle time.Duration) int {
	total := busy + idle
	if total <= 0 {
		return 0
	}
	return ClampUtilization(int((busy*100 + total/2) / total))
}
