package sim

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Workload is the GPU demand over time, in MHz of work per second of wall
// time. A demand equal to the current clock is 100% utilization.
type Workload interface {
	Demand(elapsed time.Duration) (mhz float64, compute bool)
}

// Constant demands the same clock forever.
type Constant struct {
	MHz     float64
	Compute bool
}

func (c Constant) Demand(time.Duration) (float64, bool) { return c.MHz, c.Compute }

// Burst alternates between Peak for the first half of each period and a tenth
// of Peak for the second half.
type Burst struct {
	Peak   float64
	Period time.Duration
}

func (b Burst) Demand(elapsed time.Duration) (float64, bool) {
	if b.Period <= 0 {
		return b.Peak, false
	}
	if elapsed%b.Period < b.Period/2 {
		return b.Peak, false
	}
	return b.Peak / 10, false
}

// Sine swings between 0 and Peak over Period.
type Sine struct {
	Peak   float64
	Period time.Duration
}

func (s Sine) Demand(elapsed time.Duration) (float64, bool) {
	if s.Period <= 0 {
		return s.Peak, false
	}
	phase := 2 * math.Pi * float64(elapsed%s.Period) / float64(s.Period)
	return s.Peak * (1 - math.Cos(phase)) / 2, false
}

// ComputeBurst is Burst whose busy half is compute work.
type ComputeBurst struct {
	Burst
}

func (c ComputeBurst) Demand(elapsed time.Duration) (float64, bool) {
	mhz, _ := c.Burst.Demand(elapsed)
	return mhz, mhz == c.Peak
}

// ParseWorkload builds a named workload.
func ParseWorkload(name string, peak float64, period time.Duration) (Workload, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "constant":
		return Constant{MHz: peak}, nil
	case "burst":
		return Burst{Peak: peak, Period: period}, nil
	case "sine":
		return Sine{Peak: peak, Period: period}, nil
	case "compute":
		return ComputeBurst{Burst{Peak: peak, Period: period}}, nil
	case "idle":
		return Constant{}, nil
	default:
		return nil, fmt.Errorf("sim: unknown workload %q (want constant, burst, sine, compute or idle)", name)
	}
}
