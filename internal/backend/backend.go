// Package backend declares the outbound hardware interfaces of the DVFS
// engine: the clock/voltage backend and the bus/memory QoS sink.
package backend

import (
	"context"
	"log/slog"
)

// ClockBackend programs the GPU clock and regulator.
type ClockBackend interface {
	// SetClock requests clock (MHz) and returns the clock actually granted,
	// which may differ when hardware rounds.
	SetClock(ctx context.Context, clock int) (int, error)
	// SetVoltage programs the regulator (microvolts).
	SetVoltage(ctx context.Context, microvolts int) error
}

// QoSRequest is the bus/CPU throughput floor requested alongside a GPU clock.
// Zero fields mean "no request".
type QoSRequest struct {
	MemFreq    int `json:"mem_freq"`
	CPUMinFreq int `json:"cpu_min_freq"`
	CPUMaxFreq int `json:"cpu_max_freq"`
}

// BusQoS receives bus/memory QoS requests.
type BusQoS interface {
	SetBusQoS(ctx context.Context, req QoSRequest) error
	ResetBusQoS(ctx context.Context) error
}

// Noop is a BusQoS that only logs. It is used when the platform has no bus
// QoS sink.
type Noop struct{}

func (Noop) SetBusQoS(_ context.Context, req QoSRequest) error {
	slog.Debug("bus qos request ignored", "mem_freq", req.MemFreq, "cpu_min_freq", req.CPUMinFreq)
	return nil
}

func (Noop) ResetBusQoS(context.Context) error { return nil }
