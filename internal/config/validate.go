package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kubeadapt/kubeadapt-dvfs/internal/governor"
)

// Validate checks that the Config contains valid values.
// Returns an error describing the first invalid field found.
func (c Config) Validate() error {
	if c.DeviceName == "" {
		return fmt.Errorf("config: DVFS_DEVICE_NAME must not be empty")
	}

	if _, err := governor.ParseKind(c.Governor); err != nil {
		return fmt.Errorf("config: DVFS_GOVERNOR: %w", err)
	}

	if c.PollingInterval <= 0 {
		return fmt.Errorf("config: PollingInterval must be > 0, got %v", c.PollingInterval)
	}

	if c.StatusInterval < time.Second {
		return fmt.Errorf("config: StatusInterval must be >= 1s, got %v", c.StatusInterval)
	}

	if c.HealthPort < 1 || c.HealthPort > 65535 {
		return fmt.Errorf("config: HealthPort must be 1-65535, got %d", c.HealthPort)
	}

	if c.ControlRate < 0 {
		return fmt.Errorf("config: ControlRate must be >= 0, got %v", c.ControlRate)
	}
	if c.ControlBurst < 1 {
		return fmt.Errorf("config: ControlBurst must be >= 1, got %d", c.ControlBurst)
	}

	switch c.Sampler {
	case "sim", "busyidle":
		if c.SimPeakMHz <= 0 {
			return fmt.Errorf("config: SimPeakMHz must be > 0, got %d", c.SimPeakMHz)
		}
		if c.SimPeriod <= 0 {
			return fmt.Errorf("config: SimPeriod must be > 0, got %v", c.SimPeriod)
		}
		if c.SimGranularity < 1 {
			return fmt.Errorf("config: SimGranularity must be >= 1, got %d", c.SimGranularity)
		}
	case "dcgm":
		if c.DCGMEndpoint == "" {
			return fmt.Errorf("config: DVFS_DCGM_ENDPOINT is required when DVFS_SAMPLER=dcgm")
		}
		if !strings.HasPrefix(c.DCGMEndpoint, "http://") && !strings.HasPrefix(c.DCGMEndpoint, "https://") {
			return fmt.Errorf("config: DVFS_DCGM_ENDPOINT must be an http(s) URL (got %q)", c.DCGMEndpoint)
		}
		if c.DCGMInterval < 100*time.Millisecond {
			return fmt.Errorf("config: DCGMInterval must be >= 100ms, got %v", c.DCGMInterval)
		}
	default:
		return fmt.Errorf("config: DVFS_SAMPLER must be sim, busyidle or dcgm, got %q", c.Sampler)
	}

	if c.ComputeThreshold < 0 || c.ComputeThreshold > 100 {
		return fmt.Errorf("config: ComputeThreshold must be 0-100, got %d", c.ComputeThreshold)
	}

	return nil
}
