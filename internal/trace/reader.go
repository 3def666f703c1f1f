package trace

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"

	"github.com/kubeadapt/kubeadapt-dvfs/pkg/model"
)

// Reader decodes a trace written by Recorder.
type Reader struct {
	zr  *zstd.Decoder
	dec *json.Decoder
}

// NewReader reads a compressed trace from src.
func NewReader(src io.Reader) (*Reader, error) {
	zr, err := zstd.NewReader(src)
	if err != nil {
		return nil, fmt.Errorf("trace: failed to create zstd decoder: %w", err)
	}
	return &Reader{zr: zr, dec: json.NewDecoder(zr)}, nil
}

// Next returns the next record, or io.EOF at the end of the trace.
func (r *Reader) Next() (model.TickRecord, error) {
	var rec model.TickRecord
	if err := r.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return rec, io.EOF
		}
		return rec, fmt.Errorf("trace: decode: %w", err)
	}
	return rec, nil
}

// Close releases the decoder.
func (r *Reader) Close() { r.zr.Close() }

// ReadAll decodes every record in src.
func ReadAll(src io.Reader) ([]model.TickRecord, error) {
	r, err := NewReader(src)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var out []model.TickRecord
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}

// ReadFile decodes the trace at path.
func ReadFile(path string) ([]model.TickRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("trace: %w", err)
	}
	defer f.Close()
	return ReadAll(f)
}
