package model

// TickRecord describes one pass of the sample -> decide -> apply loop. It is
// the line format of the tick trace.
type TickRecord struct {
	// TimeUnixMs is the tick start in Unix milliseconds.
	TimeUnixMs int64  `json:"t"`
	Device     string `json:"device"`
	Governor   string `json:"governor"`

	Utilization  int  `json:"util"`
	ComputeBound bool `json:"compute,omitempty"`

	FromStep    int  `json:"from"`
	ToStep      int  `json:"to"`
	TargetClock int  `json:"target"`
	Clock       int  `json:"clock"`
	MinLock     int  `json:"min_lock,omitempty"`
	MaxLock     int  `json:"max_lock,omitempty"`
	Boosted     bool `json:"boosted,omitempty"`
	// PoweredOff marks a tick whose target was deferred until power on.
	PoweredOff bool `json:"powered_off,omitempty"`

	Error string `json:"error,omitempty"`
}
