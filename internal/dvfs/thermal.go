package dvfs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	dvfserrors "github.com/kubeadapt/kubeadapt-dvfs/internal/errors"
	"github.com/kubeadapt/kubeadapt-dvfs/internal/lock"
)

// ThermalLevel is a thermal throttling state reported by the TMU.
type ThermalLevel int

// Thermal levels, in order of severity.
const (
	ThermalNormal ThermalLevel = iota
	ThermalThrottle1
	ThermalThrottle2
	ThermalThrottle3
	ThermalThrottle4
	ThermalTripping

	NumThermalLevels
)

var thermalNames = [NumThermalLevels]string{
	ThermalNormal:    "normal",
	ThermalThrottle1: "throttle1",
	ThermalThrottle2: "throttle2",
	ThermalThrottle3: "throttle3",
	ThermalThrottle4: "throttle4",
	ThermalTripping:  "tripping",
}

func (l ThermalLevel) String() string {
	if l < 0 || l >= NumThermalLevels {
		return fmt.Sprintf("thermal(%d)", int(l))
	}
	return thermalNames[l]
}

// ParseThermalLevel resolves a level name.
func ParseThermalLevel(name string) (ThermalLevel, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for i, s := range thermalNames {
		if s == n {
			return ThermalLevel(i), nil
		}
	}
	return -1, dvfserrors.New(dvfserrors.CodeInvalidConfig, "thermal", fmt.Sprintf("thermal: unknown level %q", name), nil)
}

// SetThermalLevel applies the max lock configured for level. Normal releases
// the thermal lock.
func (d *Device) SetThermalLevel(ctx context.Context, level ThermalLevel) error {
	if level == ThermalNormal {
		if err := d.ReleaseMax(lock.SourceThermal); err != nil {
			return err
		}
		d.setThermal(level)
		return nil
	}

	clock, ok := d.params.ThermalClocks[level]
	if !ok || clock <= 0 {
		return dvfserrors.New(dvfserrors.CodeInvalidConfig, "thermal",
			fmt.Sprintf("thermal: no clock configured for %s", level), nil)
	}
	d.fast.Lock()
	snapped := d.resolveClockLocked(clock)
	d.fast.Unlock()

	d.setThermal(level)
	return d.AssertMax(ctx, lock.SourceThermal, snapped)
}

func (d *Device) setThermal(level ThermalLevel) {
	d.fast.Lock()
	prev := d.thermal
	d.thermal = level
	d.fast.Unlock()
	if prev != level {
		slog.Info("dvfs thermal level changed", "device", d.params.Name, "from", prev.String(), "to", level.String())
	}
}
