package model

// OperatingPoint is one row of the operating-point table as served by the
// control API.
type OperatingPoint struct {
	Level         int `json:"level"`
	Clock         int `json:"clock"`
	Voltage       int `json:"voltage"`
	MinThreshold  int `json:"min_threshold"`
	MaxThreshold  int `json:"max_threshold"`
	DownStayCount int `json:"down_staycount"`
	MemFreq       int `json:"mem_freq,omitempty"`
	CPUMinFreq    int `json:"cpu_min_freq,omitempty"`
	CPUMaxFreq    int `json:"cpu_max_freq,omitempty"`
}

// Table is the operating-point table with its platform bounds.
type Table struct {
	MaxClock      int              `json:"max_clock"`
	MinClock      int              `json:"min_clock"`
	MaxClockLimit int              `json:"max_clock_limit"`
	Points        []OperatingPoint `json:"points"`
}
