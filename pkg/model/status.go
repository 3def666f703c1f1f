package model

// Status is the JSON view of one DVFS device.
type Status struct {
	Device   string `json:"device"`
	DeviceID string `json:"device_id,omitempty"`

	Enabled      bool   `json:"enabled"`
	Powered      bool   `json:"powered"`
	HandlerState string `json:"handler_state"`
	Governor     string `json:"governor"`

	Step            int `json:"step"`
	CurClock        int `json:"cur_clock"`
	CurVoltage      int `json:"cur_voltage,omitempty"`
	DownRequirement int `json:"down_requirement"`
	PendingClock    int `json:"pending_clock,omitempty"`
	Utilization     int `json:"utilization"`

	MaxClock      int `json:"max_clock"`
	MinClock      int `json:"min_clock"`
	MaxClockLimit int `json:"max_clock_limit"`

	MinLock int         `json:"min_lock"`
	MaxLock int         `json:"max_lock"`
	Locks   []LockState `json:"locks,omitempty"`

	PollingIntervalMs int64     `json:"polling_interval_ms"`
	ComputeBoost      bool      `json:"compute_boost"`
	BoostActive       bool      `json:"boost_active"`
	ThermalLevel      string    `json:"thermal_level"`
	Highspeed         Highspeed `json:"highspeed"`

	Transitions uint64        `json:"transitions"`
	TimeInState []TimeInState `json:"time_in_state,omitempty"`

	ActiveErrors []string `json:"active_errors,omitempty"`
}

// LockState is one lock source's request.
type LockState struct {
	Source string `json:"source"`
	Min    int    `json:"min,omitempty"`
	Max    int    `json:"max,omitempty"`
}

// Highspeed mirrors the interactive governor tunables.
type Highspeed struct {
	Clock int `json:"clock"`
	Load  int `json:"load"`
	Delay int `json:"delay"`
}

// TimeInState is the powered time spent at one clock.
type TimeInState struct {
	Clock   int     `json:"clock"`
	Seconds float64 `json:"seconds"`
}
