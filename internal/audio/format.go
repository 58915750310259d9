// Package audio provides the frame model and the capture hub that fans
// microphone blocks out to independent subscribers.
package audio

import (
	"time"

	"github.com/wakescribe/platform/internal/errors"
)

// DType identifies the sample encoding of a stream.
type DType string

const (
	Float32 DType = "float32"
	Int16   DType = "int16"
	Float64 DType = "float64"
)

func (d DType) valid() bool {
	switch d {
	case Float32, Int16, Float64:
		return true
	}
	return false
}

// SampleSize returns the byte width of one sample.
func (d DType) SampleSize() int {
	switch d {
	case Int16:
		return 2
	case Float64:
		return 8
	default:
		return 4
	}
}

// Format describes the shape of every frame a stream produces.
type Format struct {
	SampleRate int   `json:"sample_rate" yaml:"sample_rate"`
	Channels   int   `json:"channels" yaml:"channels"`
	Blocksize  int   `json:"blocksize" yaml:"blocksize"`
	DType      DType `json:"dtype" yaml:"dtype"`
}

// Validate checks all fields are positive and the dtype is supported.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return errors.Newf(errors.InvalidFormat, "sample_rate must be positive, got %d", f.SampleRate)
	}
	if f.Channels <= 0 {
		return errors.Newf(errors.InvalidFormat, "channels must be positive, got %d", f.Channels)
	}
	if f.Blocksize <= 0 {
		return errors.Newf(errors.InvalidFormat, "blocksize must be positive, got %d", f.Blocksize)
	}
	if !f.DType.valid() {
		return errors.Newf(errors.InvalidFormat, "unsupported dtype %q", f.DType)
	}
	return nil
}

// FramesPerSecond returns how many blocks the stream emits per second.
func (f Format) FramesPerSecond() float64 {
	return float64(f.SampleRate) / float64(f.Blocksize)
}

// BlockDuration returns the wall-clock span of one frame.
func (f Format) BlockDuration() time.Duration {
	return time.Duration(float64(f.Blocksize) / float64(f.SampleRate) * float64(time.Second))
}
