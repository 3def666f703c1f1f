package observability

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewMetrics_NoRegistrationPanic(t *testing.T) {
	// Creating metrics should not panic.
	m := NewMetrics()
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
	if m.Registry == nil {
		t.Fatal("Registry is nil")
	}
}

func TestNewMetrics_CustomRegistry(t *testing.T) {
	m := NewMetrics()

	// Gather from our custom registry: should have metrics.
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	// Gather from the default registry: our metrics should NOT be there.
	defaultFamilies, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("DefaultGatherer.Gather failed: %v", err)
	}

	customNames := make(map[string]bool)
	for _, f := range families {
		customNames[f.GetName()] = true
	}

	for _, f := range defaultFamilies {
		if customNames[f.GetName()] {
			t.Errorf("metric %q found in default registry: should only be in custom registry", f.GetName())
		}
	}
}

func TestNewMetrics_AllNamesHavePrefix(t *testing.T) {
	m := NewMetrics()
	m.LockClockMHz.WithLabelValues("max").Set(0)
	m.TicksTotal.WithLabelValues("ok").Inc()

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	if len(families) == 0 {
		t.Fatal("no metric families gathered")
	}

	for _, f := range families {
		name := f.GetName()
		if !strings.HasPrefix(name, "kubeadapt_dvfs_") {
			t.Errorf("metric %q does not start with kubeadapt_dvfs_ prefix", name)
		}
	}
}

func TestNewMetrics_CounterIncrement(t *testing.T) {
	m := NewMetrics()

	m.TransitionsTotal.Inc()

	pb := &dto.Metric{}
	if err := m.TransitionsTotal.Write(pb); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := pb.GetCounter().GetValue(); got != 1 {
		t.Errorf("TransitionsTotal = %v, want 1", got)
	}

	m.TicksTotal.WithLabelValues("ok").Inc()
	m.TicksTotal.WithLabelValues("ok").Inc()
	m.TicksTotal.WithLabelValues("sample_error").Inc()

	pb = &dto.Metric{}
	if err := m.TicksTotal.WithLabelValues("ok").(prometheus.Metric).Write(pb); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := pb.GetCounter().GetValue(); got != 2 {
		t.Errorf("TicksTotal(ok) = %v, want 2", got)
	}
}

func TestNewMetrics_HistogramObserve(t *testing.T) {
	m := NewMetrics()

	m.TickDuration.Observe(0.0005)
	m.TickDuration.Observe(0.002)

	pb := &dto.Metric{}
	if err := m.TickDuration.Write(pb); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := pb.GetHistogram().GetSampleCount(); got != 2 {
		t.Errorf("TickDuration sample count = %v, want 2", got)
	}
}

func TestSetState(t *testing.T) {
	m := NewMetrics()
	states := []string{"disabled", "idle", "sampling"}

	SetState(m.HandlerState, states, "idle")
	SetState(m.HandlerState, states, "sampling")

	for state, want := range map[string]float64{"disabled": 0, "idle": 0, "sampling": 1} {
		pb := &dto.Metric{}
		if err := m.HandlerState.WithLabelValues(state).(prometheus.Metric).Write(pb); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		if got := pb.GetGauge().GetValue(); got != want {
			t.Errorf("HandlerState(%s) = %v, want %v", state, got, want)
		}
	}
}

func TestNewMetrics_NoDuplicateRegistrationPanic(t *testing.T) {
	// Creating two separate Metrics instances should not panic
	// because each uses its own registry.
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("creating Metrics twice panicked: %v", r)
		}
	}()

	_ = NewMetrics()
	_ = NewMetrics()
}
