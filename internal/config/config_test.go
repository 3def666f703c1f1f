package config

import (
	"os"
	"testing"
	"time"
)

// helper to clear all DVFS_ env vars before each test
func clearEnv(t *testing.T) {
	t.Helper()
	envVars := []string{
		"DVFS_DEVICE_NAME",
		"DVFS_DEVICE_ID",
		"DVFS_PLATFORM_FILE",
		"DVFS_GOVERNOR",
		"DVFS_POLLING_INTERVAL",
		"DVFS_HEALTH_PORT",
		"DVFS_STATUS_INTERVAL",
		"DVFS_DEBUG_ENDPOINTS",
		"DVFS_CONTROL_TOKEN",
		"DVFS_CONTROL_RATE",
		"DVFS_CONTROL_BURST",
		"DVFS_SAMPLER",
		"DVFS_DCGM_ENDPOINT",
		"DVFS_DCGM_GPU",
		"DVFS_DCGM_INTERVAL",
		"DVFS_COMPUTE_THRESHOLD",
		"DVFS_SIM_WORKLOAD",
		"DVFS_SIM_PEAK_MHZ",
		"DVFS_SIM_PERIOD",
		"DVFS_SIM_GRANULARITY",
		"DVFS_TRACE_FILE",
		"DVFS_STRICT_INVARIANTS",
		"DVFS_CL_BOOST_DISABLED",
		"DVFS_DVS_ENABLED",
	}
	for _, v := range envVars {
		os.Unsetenv(v)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg := Load()

	if cfg.DeviceName != "gpu0" {
		t.Errorf("DeviceName = %q, want %q", cfg.DeviceName, "gpu0")
	}
	if cfg.DeviceID == "" {
		t.Error("DeviceID should be auto-generated when empty")
	}
	if cfg.PlatformFile != "" {
		t.Errorf("PlatformFile = %q, want empty", cfg.PlatformFile)
	}
	if cfg.Governor != "interactive" {
		t.Errorf("Governor = %q, want %q", cfg.Governor, "interactive")
	}
	if cfg.PollingInterval != 100*time.Millisecond {
		t.Errorf("PollingInterval = %v, want 100ms", cfg.PollingInterval)
	}
	if cfg.HealthPort != 8080 {
		t.Errorf("HealthPort = %d, want 8080", cfg.HealthPort)
	}
	if cfg.StatusInterval != 60*time.Second {
		t.Errorf("StatusInterval = %v, want 60s", cfg.StatusInterval)
	}
	if cfg.ControlRate != 10 || cfg.ControlBurst != 5 {
		t.Errorf("ControlRate/Burst = %v/%d, want 10/5", cfg.ControlRate, cfg.ControlBurst)
	}
	if cfg.Sampler != "sim" {
		t.Errorf("Sampler = %q, want sim", cfg.Sampler)
	}
	if cfg.DCGMGPU != "0" {
		t.Errorf("DCGMGPU = %q, want 0", cfg.DCGMGPU)
	}
	if cfg.DCGMInterval != time.Second {
		t.Errorf("DCGMInterval = %v, want 1s", cfg.DCGMInterval)
	}
	if cfg.ComputeThreshold != 95 {
		t.Errorf("ComputeThreshold = %d, want 95", cfg.ComputeThreshold)
	}
	if cfg.SimWorkload != "burst" || cfg.SimPeakMHz != 500 || cfg.SimPeriod != 10*time.Second || cfg.SimGranularity != 1 {
		t.Errorf("sim defaults = %q/%d/%v/%d", cfg.SimWorkload, cfg.SimPeakMHz, cfg.SimPeriod, cfg.SimGranularity)
	}
	if cfg.DebugEndpoints || cfg.StrictInvariants || cfg.ComputeBoostDisabled || cfg.DVSEnabled {
		t.Error("boolean flags should default to false")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestLoad_AllEnvVars(t *testing.T) {
	clearEnv(t)
	t.Setenv("DVFS_DEVICE_NAME", "mali")
	t.Setenv("DVFS_DEVICE_ID", "dev-42")
	t.Setenv("DVFS_PLATFORM_FILE", "/etc/dvfs/platform.yaml")
	t.Setenv("DVFS_GOVERNOR", "booster")
	t.Setenv("DVFS_POLLING_INTERVAL", "250ms")
	t.Setenv("DVFS_HEALTH_PORT", "9090")
	t.Setenv("DVFS_DEBUG_ENDPOINTS", "true")
	t.Setenv("DVFS_CONTROL_TOKEN", "secret")
	t.Setenv("DVFS_CONTROL_RATE", "2.5")
	t.Setenv("DVFS_CONTROL_BURST", "1")
	t.Setenv("DVFS_SAMPLER", "dcgm")
	t.Setenv("DVFS_DCGM_ENDPOINT", "http://10.0.0.5:9400/metrics")
	t.Setenv("DVFS_DCGM_GPU", "3")
	t.Setenv("DVFS_DCGM_INTERVAL", "500ms")
	t.Setenv("DVFS_COMPUTE_THRESHOLD", "80")
	t.Setenv("DVFS_TRACE_FILE", "/var/log/dvfs.trace.zst")
	t.Setenv("DVFS_STRICT_INVARIANTS", "true")
	t.Setenv("DVFS_CL_BOOST_DISABLED", "1")
	t.Setenv("DVFS_DVS_ENABLED", "true")

	cfg := Load()

	if cfg.DeviceName != "mali" || cfg.DeviceID != "dev-42" {
		t.Errorf("identity = %q/%q", cfg.DeviceName, cfg.DeviceID)
	}
	if cfg.PlatformFile != "/etc/dvfs/platform.yaml" {
		t.Errorf("PlatformFile = %q", cfg.PlatformFile)
	}
	if cfg.Governor != "booster" {
		t.Errorf("Governor = %q", cfg.Governor)
	}
	if cfg.PollingInterval != 250*time.Millisecond {
		t.Errorf("PollingInterval = %v", cfg.PollingInterval)
	}
	if cfg.HealthPort != 9090 {
		t.Errorf("HealthPort = %d", cfg.HealthPort)
	}
	if !cfg.DebugEndpoints || cfg.ControlToken != "secret" {
		t.Errorf("security = %v/%q", cfg.DebugEndpoints, cfg.ControlToken)
	}
	if cfg.ControlRate != 2.5 || cfg.ControlBurst != 1 {
		t.Errorf("ControlRate/Burst = %v/%d", cfg.ControlRate, cfg.ControlBurst)
	}
	if cfg.Sampler != "dcgm" || cfg.DCGMEndpoint != "http://10.0.0.5:9400/metrics" || cfg.DCGMGPU != "3" {
		t.Errorf("dcgm = %q/%q/%q", cfg.Sampler, cfg.DCGMEndpoint, cfg.DCGMGPU)
	}
	if cfg.DCGMInterval != 500*time.Millisecond || cfg.ComputeThreshold != 80 {
		t.Errorf("dcgm interval/threshold = %v/%d", cfg.DCGMInterval, cfg.ComputeThreshold)
	}
	if cfg.TraceFile != "/var/log/dvfs.trace.zst" {
		t.Errorf("TraceFile = %q", cfg.TraceFile)
	}
	if !cfg.StrictInvariants || !cfg.ComputeBoostDisabled || !cfg.DVSEnabled {
		t.Error("boolean flags should be set")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}
}

func TestLoad_DurationParsing(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		value string
		want  time.Duration
	}{
		{"200ms", 200 * time.Millisecond},
		{"1s", time.Second},
		{"300", 300 * time.Millisecond}, // bare integers are milliseconds
		{"soon", 100 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Setenv("DVFS_POLLING_INTERVAL", tt.value)
		if got := Load().PollingInterval; got != tt.want {
			t.Errorf("DVFS_POLLING_INTERVAL=%q: got %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestLoad_InvalidNumbersFallBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("DVFS_HEALTH_PORT", "http")
	t.Setenv("DVFS_CONTROL_RATE", "fast")
	t.Setenv("DVFS_DVS_ENABLED", "maybe")

	cfg := Load()
	if cfg.HealthPort != 8080 || cfg.ControlRate != 10 || cfg.DVSEnabled {
		t.Errorf("expected defaults, got port=%d rate=%v dvs=%v", cfg.HealthPort, cfg.ControlRate, cfg.DVSEnabled)
	}
}

func validConfig() Config {
	return Config{
		DeviceName:       "gpu0",
		Governor:         "interactive",
		PollingInterval:  100 * time.Millisecond,
		HealthPort:       8080,
		StatusInterval:   time.Minute,
		ControlRate:      10,
		ControlBurst:     5,
		Sampler:          "sim",
		DCGMInterval:     time.Second,
		ComputeThreshold: 95,
		SimWorkload:      "burst",
		SimPeakMHz:       500,
		SimPeriod:        10 * time.Second,
		SimGranularity:   1,
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty device name", func(c *Config) { c.DeviceName = "" }},
		{"unknown governor", func(c *Config) { c.Governor = "ondemand" }},
		{"zero polling", func(c *Config) { c.PollingInterval = 0 }},
		{"short status interval", func(c *Config) { c.StatusInterval = 10 * time.Millisecond }},
		{"port zero", func(c *Config) { c.HealthPort = 0 }},
		{"port too high", func(c *Config) { c.HealthPort = 70000 }},
		{"negative rate", func(c *Config) { c.ControlRate = -1 }},
		{"zero burst", func(c *Config) { c.ControlBurst = 0 }},
		{"unknown sampler", func(c *Config) { c.Sampler = "perf" }},
		{"sim peak", func(c *Config) { c.SimPeakMHz = 0 }},
		{"sim period", func(c *Config) { c.SimPeriod = 0 }},
		{"sim granularity", func(c *Config) { c.SimGranularity = 0 }},
		{"dcgm without endpoint", func(c *Config) { c.Sampler = "dcgm" }},
		{"dcgm bad endpoint", func(c *Config) { c.Sampler = "dcgm"; c.DCGMEndpoint = "10.0.0.5:9400" }},
		{"dcgm fast interval", func(c *Config) {
			c.Sampler = "dcgm"
			c.DCGMEndpoint = "http://dcgm:9400/metrics"
			c.DCGMInterval = time.Millisecond
		}},
		{"compute threshold", func(c *Config) { c.ComputeThreshold = 101 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestValidate_Valid(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidate_BusyIdleSampler(t *testing.T) {
	cfg := validConfig()
	cfg.Sampler = "busyidle"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("busyidle sampler should validate, got %v", err)
	}
	cfg.SimGranularity = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("busyidle sampler drives the simulated GPU and needs its settings")
	}
}
