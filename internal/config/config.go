package config

import (
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Config holds all daemon configuration values.
type Config struct {
	DeviceName      string
	DeviceID        string
	PlatformFile    string // DVFS_PLATFORM_FILE, default: ""; built-in platform
	Governor        string
	PollingInterval time.Duration
	HealthPort      int
	StatusInterval  time.Duration

	// Security
	DebugEndpoints bool    // DVFS_DEBUG_ENDPOINTS, default: false; enables pprof/debug on health port
	ControlToken   string  // DVFS_CONTROL_TOKEN, default: ""; bearer token for control writes
	ControlRate    float64 // DVFS_CONTROL_RATE, default: 10; control writes per second
	ControlBurst   int     // DVFS_CONTROL_BURST, default: 5

	// Utilization source
	Sampler          string        // DVFS_SAMPLER, default: "sim"; sim, busyidle or dcgm
	DCGMEndpoint     string        // DVFS_DCGM_ENDPOINT, e.g. http://10.0.0.5:9400/metrics
	DCGMGPU          string        // DVFS_DCGM_GPU, default: "0"
	DCGMInterval     time.Duration // DVFS_DCGM_INTERVAL, default: 1s
	ComputeThreshold int           // DVFS_COMPUTE_THRESHOLD, default: 95

	// Simulated GPU
	SimWorkload    string        // DVFS_SIM_WORKLOAD, default: "burst"
	SimPeakMHz     int           // DVFS_SIM_PEAK_MHZ, default: 500
	SimPeriod      time.Duration // DVFS_SIM_PERIOD, default: 10s
	SimGranularity int           // DVFS_SIM_GRANULARITY, default: 1

	TraceFile string // DVFS_TRACE_FILE, default: ""; no trace

	// Governor behaviour
	StrictInvariants     bool // DVFS_STRICT_INVARIANTS, default: false; panic on invariant violation
	ComputeBoostDisabled bool // DVFS_CL_BOOST_DISABLED, default: false
	DVSEnabled           bool // DVFS_DVS_ENABLED, default: false
}

// Load reads configuration from environment variables and returns a Config
// with defaults applied for any unset values.
func Load() Config {
	cfg := Config{
		DeviceName:      envOrDefault("DVFS_DEVICE_NAME", "gpu0"),
		DeviceID:        os.Getenv("DVFS_DEVICE_ID"),
		PlatformFile:    os.Getenv("DVFS_PLATFORM_FILE"),
		Governor:        envOrDefault("DVFS_GOVERNOR", "interactive"),
		PollingInterval: parseDuration("DVFS_POLLING_INTERVAL", 100*time.Millisecond),
		HealthPort:      parseInt("DVFS_HEALTH_PORT", 8080),
		StatusInterval:  parseDuration("DVFS_STATUS_INTERVAL", 60*time.Second),
	}

	if cfg.DeviceID == "" {
		cfg.DeviceID = uuid.New().String()
	}

	cfg.DebugEndpoints = parseBool("DVFS_DEBUG_ENDPOINTS", false)
	cfg.ControlToken = os.Getenv("DVFS_CONTROL_TOKEN")
	cfg.ControlRate = parseFloat("DVFS_CONTROL_RATE", 10)
	cfg.ControlBurst = parseInt("DVFS_CONTROL_BURST", 5)

	cfg.Sampler = envOrDefault("DVFS_SAMPLER", "sim")
	cfg.DCGMEndpoint = os.Getenv("DVFS_DCGM_ENDPOINT")
	cfg.DCGMGPU = envOrDefault("DVFS_DCGM_GPU", "0")
	cfg.DCGMInterval = parseDuration("DVFS_DCGM_INTERVAL", time.Second)
	cfg.ComputeThreshold = parseInt("DVFS_COMPUTE_THRESHOLD", 95)

	cfg.SimWorkload = envOrDefault("DVFS_SIM_WORKLOAD", "burst")
	cfg.SimPeakMHz = parseInt("DVFS_SIM_PEAK_MHZ", 500)
	cfg.SimPeriod = parseDuration("DVFS_SIM_PERIOD", 10*time.Second)
	cfg.SimGranularity = parseInt("DVFS_SIM_GRANULARITY", 1)

	cfg.TraceFile = os.Getenv("DVFS_TRACE_FILE")

	cfg.StrictInvariants = parseBool("DVFS_STRICT_INVARIANTS", false)
	cfg.ComputeBoostDisabled = parseBool("DVFS_CL_BOOST_DISABLED", false)
	cfg.DVSEnabled = parseBool("DVFS_DVS_ENABLED", false)

	return cfg
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// parseDuration tries time.ParseDuration first, then falls back to treating
// the value as integer milliseconds.
func parseDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}

	d, err := time.ParseDuration(v)
	if err == nil {
		return d
	}

	// Fallback: treat as integer milliseconds, the sysfs unit
	ms, err := strconv.Atoi(v)
	if err == nil {
		return time.Duration(ms) * time.Millisecond
	}

	return defaultVal
}

func parseBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func parseInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

func parseFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}
