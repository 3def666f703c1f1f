package sampler

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"
)

// sentinelThreshold is the threshold above which DCGM metric values are
// treated as "blank" sentinel values (~1.8e19) and rejected.
const sentinelThreshold = 1e15

const (
	metricProfGrEngineActive = "DCGM_FI_PROF_GR_ENGINE_ACTIVE"
	metricProfTensorActive   = "DCGM_FI_PROF_PIPE_TENSOR_ACTIVE"
	metricDevGPUUtil         = "DCGM_FI_DEV_GPU_UTIL"
	metricDevGPUTemp         = "DCGM_FI_DEV_GPU_TEMP"
	metricDevPowerUsage      = "DCGM_FI_DEV_POWER_USAGE"
	metricDevSMClock         = "DCGM_FI_DEV_SM_CLOCK"
)

// DeviceReading is one GPU's state as reported by dcgm-exporter.
type DeviceReading struct {
	GPU       string `json:"gpu"`
	UUID      string `json:"uuid"`
	ModelName string `json:"model_name,omitempty"`

	// Utilization is a percentage. DCGM_FI_PROF_GR_ENGINE_ACTIVE is preferred
	// over DCGM_FI_DEV_GPU_UTIL when the GPU supports profiling metrics.
	Utilization  *float64 `json:"utilization,omitempty"`
	TensorActive *float64 `json:"tensor_active,omitempty"`
	SMClockMHz   *float64 `json:"sm_clock_mhz,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
	PowerUsage   *float64 `json:"power_usage,omitempty"`

	Timestamp int64 `json:"timestamp"`
}

type dcgmLabels struct {
	gpu       string
	uuid      string
	modelName string
}

type parsedSample struct {
	name   string
	labels dcgmLabels
	value  float64
}

// ParseDCGMMetrics parses Prometheus exposition text from dcgm-exporter into
// per-GPU readings.
func ParseDCGMMetrics(data []byte) []DeviceReading {
	gpus := make(map[string]*DeviceReading)
	var order []string
	hasProf := make(map[string]bool)

	for _, s := range parsePrometheusText(data) {
		if s.labels.uuid == "" && s.labels.gpu == "" {
			continue
		}
		if isSentinel(s.value) {
			continue
		}

		key := s.labels.uuid
		if key == "" {
			key = s.labels.gpu
		}
		d, ok := gpus[key]
		if !ok {
			d = &DeviceReading{GPU: s.labels.gpu, UUID: s.labels.uuid, ModelName: s.labels.modelName}
			gpus[key] = d
			order = append(order, key)
		}

		v := s.value
		switch s.name {
		case metricProfGrEngineActive:
			pct := v * 100
			d.Utilization = &pct
			hasProf[key] = true
		case metricDevGPUUtil:
			if !hasProf[key] {
				d.Utilization = &v
			}
		case metricProfTensorActive:
			pct := v * 100
			d.TensorActive = &pct
		case metricDevSMClock:
			d.SMClockMHz = &v
		case metricDevGPUTemp:
			d.Temperature = &v
		case metricDevPowerUsage:
			d.PowerUsage = &v
		}
	}

	out := make([]DeviceReading, 0, len(order))
	for _, k := range order {
		out = append(out, *gpus[k])
	}
	return out
}

func parsePrometheusText(data []byte) []parsedSample {
	var samples []parsedSample
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		if s, ok := parseSampleLine(line); ok {
			samples = append(samples, s)
		}
	}
	return samples
}

// parseSampleLine parses a single Prometheus metric line:
//
//	metric_name{label1="val1",label2="val2"} value [timestamp]
func parseSampleLine(line string) (parsedSample, bool) {
	var s parsedSample

	braceStart := strings.IndexByte(line, '{')
	if braceStart < 0 {
		parts := strings.Fields(line)
		if len(parts) < 2 {
			return s, false
		}
		v, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return s, false
		}
		s.name, s.value = parts[0], v
		return s, true
	}

	s.name = line[:braceStart]
	braceEnd := strings.LastIndexByte(line, '}')
	if braceEnd <= braceStart {
		return s, false
	}
	s.labels = parseLabels(line[braceStart+1 : braceEnd])

	parts := strings.Fields(line[braceEnd+1:])
	if len(parts) == 0 {
		return s, false
	}
	v, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return s, false
	}
	s.value = v
	return s, true
}

// parseLabels parses label1="val1",label2="val2" with escaped quotes.
func parseLabels(s string) dcgmLabels {
	var l dcgmLabels
	for len(s) > 0 {
		eq := strings.IndexByte(s, '=')
		if eq < 0 {
			break
		}
		key := strings.TrimSpace(s[:eq])
		s = s[eq+1:]
		if len(s) == 0 || s[0] != '"' {
			break
		}
		s = s[1:]

		var val strings.Builder
		i := 0
		for i < len(s) {
			if s[i] == '\\' && i+1 < len(s) {
				switch s[i+1] {
				case '"':
					val.WriteByte('"')
				case '\\':
					val.WriteByte('\\')
				case 'n':
					val.WriteByte('\n')
				default:
					val.WriteByte('\\')
					val.WriteByte(s[i+1])
				}
				i += 2
				continue
			}
			if s[i] == '"' {
				break
			}
			val.WriteByte(s[i])
			i++
		}
		if i < len(s) {
			s = s[i+1:]
		} else {
			s = ""
		}
		if len(s) > 0 && s[0] == ',' {
			s = s[1:]
		}

		switch key {
		case "gpu":
			l.gpu = val.String()
		case "UUID", "uuid":
			l.uuid = val.String()
		case "modelName":
			l.modelName = val.String()
		}
	}
	return l
}

// isSentinel reports a DCGM blank value.
func isSentinel(v float64) bool {
	return v > sentinelThreshold
}
