package sampler

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"k8s.io/utils/clock"

	dvfserrors "github.com/kubeadapt/kubeadapt-dvfs/internal/errors"
)

// DCGMConfig configures a DCGM sampler.
type DCGMConfig struct {
	Endpoint string
	// GPU selects the device by index label or UUID.
	GPU      string
	Interval time.Duration
	// ComputeThreshold is the tensor-pipe active percentage at or above which
	// a reading is treated as compute bound.
	ComputeThreshold float64
}

// DCGM polls dcgm-exporter in the background and serves the latest reading
// of one GPU as a utilization sample. Readings older than three poll
// intervals are rejected.
type DCGM struct {
	api      DCGMAPI
	cfg      DCGMConfig
	clock    clock.WithTicker
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}

	syncOnce sync.Once
	synced   chan struct{}

	mu     sync.RWMutex
	latest *DeviceReading
}

// NewDCGM creates a DCGM sampler.
func NewDCGM(api DCGMAPI, cfg DCGMConfig, clk clock.WithTicker) *DCGM {
	return &DCGM{
		api:    api,
		cfg:    cfg,
		clock:  clk,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
		synced: make(chan struct{}),
	}
}

// Name returns the sampler name.
func (d *DCGM) Name() string { return "dcgm" }

// Start launches the background polling goroutine.
func (d *DCGM) Start(ctx context.Context) error {
	go d.run(ctx)
	return nil
}

// WaitForSync blocks until the first poll completes or the context is canceled.
func (d *DCGM) WaitForSync(ctx context.Context) error {
	select {
	case <-d.synced:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop signals the poller to stop and waits for the goroutine to exit. It is
// safe to call more than once.
func (d *DCGM) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
	<-d.done
}

// Latest returns a copy of the most recent reading for the configured GPU.
func (d *DCGM) Latest() (DeviceReading, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.latest == nil {
		return DeviceReading{}, false
	}
	return *d.latest, true
}

// Sample implements Sampler.
func (d *DCGM) Sample(_ context.Context) (Sample, error) {
	r, ok := d.Latest()
	if !ok {
		return Sample{}, sampleFailed(fmt.Sprintf("no reading for gpu %q yet", d.cfg.GPU))
	}
	if age := d.clock.Since(time.UnixMilli(r.Timestamp)); age > 3*d.cfg.Interval {
		return Sample{}, sampleFailed(fmt.Sprintf("reading for gpu %q is stale (%s old)", d.cfg.GPU, age.Round(time.Millisecond)))
	}
	if r.Utilization == nil {
		return Sample{}, sampleFailed(fmt.Sprintf("gpu %q reports no utilization", d.cfg.GPU))
	}
	return Sample{
		Utilization:  ClampUtilization(int(math.Round(*r.Utilization))),
		ComputeBound: r.TensorActive != nil && *r.TensorActive >= d.cfg.ComputeThreshold,
	}, nil
}

func sampleFailed(msg string) error {
	return dvfserrors.New(dvfserrors.CodeSampleFailed, "sampler", "dcgm: "+msg, nil)
}

func (d *DCGM) run(ctx context.Context) {
	defer close(d.done)

	d.poll(ctx)
	d.syncOnce.Do(func() { close(d.synced) })

	ticker := d.clock.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			d.poll(ctx)
		case <-d.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (d *DCGM) poll(ctx context.Context) {
	readings, err := d.api.ScrapeDevices(ctx, d.cfg.Endpoint)
	if err != nil {
		slog.Warn("dcgm sampler: failed to scrape", "endpoint", d.cfg.Endpoint, "error", err)
		return
	}

	for i := range readings {
		r := readings[i]
		if r.GPU != d.cfg.GPU && r.UUID != d.cfg.GPU {
			continue
		}
		r.Timestamp = d.clock.Now().UnixMilli()
		d.mu.Lock()
		d.latest = &r
		d.mu.Unlock()
		slog.Debug("dcgm sampler: poll complete", "gpu", d.cfg.GPU, "uuid", r.UUID)
		return
	}
	slog.Warn("dcgm sampler: gpu not found in scrape", "gpu", d.cfg.GPU, "devices", len(readings))
}
