package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kubeadapt/kubeadapt-dvfs/internal/dvfs"
	"github.com/kubeadapt/kubeadapt-dvfs/internal/governor"
	"github.com/kubeadapt/kubeadapt-dvfs/internal/table"
)

//go:embed default_platform.yaml
var defaultPlatform []byte

// Platform is the static per-SoC data: the operating-point table and the
// clocks and tunables that go with it.
type Platform struct {
	Name string `yaml:"name"`

	MaxClock      int `yaml:"gpu_max_clock"`
	MinClock      int `yaml:"gpu_min_clock"`
	MaxClockLimit int `yaml:"gpu_max_clock_limit"`
	StartClock    int `yaml:"gpu_dvfs_start_clock"`
	ConfigClock   int `yaml:"gpu_dvfs_config_clock"`

	// GovernorStartClocks overrides StartClock per governor name.
	GovernorStartClocks map[string]int `yaml:"governor_start_clocks"`

	Interactive struct {
		HighspeedClock int `yaml:"highspeed_clock"`
		HighspeedLoad  int `yaml:"highspeed_load"`
		HighspeedDelay int `yaml:"highspeed_delay"`
	} `yaml:"interactive"`
	StaticPeriod int `yaml:"static_period"`

	PollingMin time.Duration `yaml:"polling_min"`
	PollingMax time.Duration `yaml:"polling_max"`

	VoltageMargin  int `yaml:"voltage_margin"`
	ColdMinVoltage int `yaml:"cold_min_voltage"`

	// Thermal maps a thermal level name to its max clock.
	Thermal map[string]int `yaml:"thermal"`

	Table []table.OperatingPoint `yaml:"table"`
}

// DefaultPlatform returns the built-in platform.
func DefaultPlatform() (*Platform, error) {
	return ParsePlatform(bytes.NewReader(defaultPlatform))
}

// LoadPlatform reads the platform file at path, or the built-in platform
// when path is empty.
func LoadPlatform(path string) (*Platform, error) {
	if path == "" {
		return DefaultPlatform()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open platform file: %w", err)
	}
	defer f.Close()
	p, err := ParsePlatform(f)
	if err != nil {
		return nil, fmt.Errorf("%w (file %s)", err, path)
	}
	return p, nil
}

// ParsePlatform decodes a YAML platform. Unknown fields are rejected.
func ParsePlatform(r io.Reader) (*Platform, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var p Platform
	if err := dec.Decode(&p); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("config: platform is empty")
		}
		return nil, fmt.Errorf("config: decode platform: %w", err)
	}
	if _, err := p.BuildTable(); err != nil {
		return nil, err
	}
	return &p, nil
}

// BuildTable validates the operating points and bounds.
func (p *Platform) BuildTable() (*table.Table, error) {
	t, err := table.New(p.Table, table.Bounds{
		MaxClock:      p.MaxClock,
		MinClock:      p.MinClock,
		MaxClockLimit: p.MaxClockLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("config: platform table: %w", err)
	}
	return t, nil
}

// DeviceParams combines the platform with the runtime configuration.
func (p *Platform) DeviceParams(c Config) (dvfs.Params, error) {
	kind, err := governor.ParseKind(c.Governor)
	if err != nil {
		return dvfs.Params{}, fmt.Errorf("config: DVFS_GOVERNOR: %w", err)
	}

	starts := make(map[governor.Kind]int, len(p.GovernorStartClocks))
	for name, clock := range p.GovernorStartClocks {
		k, err := governor.ParseKind(name)
		if err != nil {
			return dvfs.Params{}, fmt.Errorf("config: governor_start_clocks: %w", err)
		}
		starts[k] = clock
	}

	thermal := make(map[dvfs.ThermalLevel]int, len(p.Thermal))
	for name, clock := range p.Thermal {
		l, err := dvfs.ParseThermalLevel(name)
		if err != nil {
			return dvfs.Params{}, fmt.Errorf("config: thermal: %w", err)
		}
		thermal[l] = clock
	}

	return dvfs.Params{
		Name:     c.DeviceName,
		ID:       c.DeviceID,
		Governor: kind,
		GovernorParams: governor.Params{
			Highspeed: governor.Highspeed{
				Clock: p.Interactive.HighspeedClock,
				Load:  p.Interactive.HighspeedLoad,
				Delay: p.Interactive.HighspeedDelay,
			},
			StaticPeriod:         p.StaticPeriod,
			ComputeBoostDisabled: c.ComputeBoostDisabled,
			Strict:               c.StrictInvariants,
		},
		StartClocks:     starts,
		DefaultClock:    p.StartClock,
		ConfigClock:     p.ConfigClock,
		PollingInterval: c.PollingInterval,
		MinPolling:      p.PollingMin,
		MaxPolling:      p.PollingMax,
		VoltageMargin:   p.VoltageMargin,
		ColdMinVoltage:  p.ColdMinVoltage,
		DVSEnabled:      c.DVSEnabled,
		ThermalClocks:   thermal,
	}, nil
}
