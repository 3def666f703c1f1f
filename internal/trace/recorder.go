// Package trace records the DVFS tick stream as zstd-compressed NDJSON, one
// model.TickRecord per line, and reads it back for offline replay.
package trace

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/kubeadapt/kubeadapt-dvfs/internal/observability"
	"github.com/kubeadapt/kubeadapt-dvfs/pkg/model"
)

// Recorder appends tick records to a compressed stream. It is safe for
// concurrent use.
type Recorder struct {
	metrics *observability.Metrics

	mu       sync.Mutex
	dst      io.WriteCloser
	cw       *CountingWriter
	zw       *zstd.Encoder
	enc      *json.Encoder
	reported int64
	records  int64
	closed   bool
}

// NewRecorder writes the trace to dst, which is closed by Close. metrics may
// be nil.
func NewRecorder(dst io.WriteCloser, metrics *observability.Metrics) (*Recorder, error) {
	cw := NewCountingWriter(dst)
	zw, err := zstd.NewWriter(cw, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("trace: failed to create zstd encoder: %w", err)
	}
	return &Recorder{
		metrics: metrics,
		dst:     dst,
		cw:      cw,
		zw:      zw,
		enc:     json.NewEncoder(zw),
	}, nil
}

// Create truncates path and records into it.
func Create(path string, metrics *observability.Metrics) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("trace: %w", err)
	}
	r, err := NewRecorder(f, metrics)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return r, nil
}

// Record appends rec. Its signature fits dvfs.Deps.OnTick; failures are
// logged, never returned, so a full disk cannot stall the tick loop.
func (r *Recorder) Record(rec model.TickRecord) {
	if err := r.Write(rec); err != nil {
		slog.Warn("trace: dropping tick record", "error", err)
	}
}

// Write appends rec.
func (r *Recorder) Write(rec model.TickRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("trace: recorder closed")
	}
	if err := r.enc.Encode(rec); err != nil {
		return fmt.Errorf("trace: encode: %w", err)
	}
	r.records++
	if r.metrics != nil {
		r.metrics.TraceRecordsTotal.Inc()
	}
	r.reportBytesLocked()
	return nil
}

// Flush pushes buffered records through the compressor.
func (r *Recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	if err := r.zw.Flush(); err != nil {
		return fmt.Errorf("trace: flush: %w", err)
	}
	r.reportBytesLocked()
	return nil
}

// Close finishes the zstd frame and closes the destination.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	zerr := r.zw.Close()
	r.reportBytesLocked()
	derr := r.dst.Close()
	if zerr != nil {
		return fmt.Errorf("trace: close encoder: %w", zerr)
	}
	if derr != nil {
		return fmt.Errorf("trace: close: %w", derr)
	}
	return nil
}

// Records returns the number of records written.
func (r *Recorder) Records() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records
}

// Bytes returns the number of compressed bytes written so far.
func (r *Recorder) Bytes() int64 { return r.cw.Count() }

func (r *Recorder) reportBytesLocked() {
	n := r.cw.Count()
	if r.metrics != nil && n > r.reported {
		r.metrics.TraceBytesTotal.Add(float64(n - r.reported))
	}
	r.reported = n
}
