package audio

import (
	"time"

	"github.com/wakescribe/platform/internal/errors"
)

// Recording is a normalized audio capture. Data holds the interleaved
// samples until the recording is persisted; afterwards Path points at
// the encoded file and the payload is released.
type Recording struct {
	Data       *Samples
	Path       string
	SampleRate int
	Channels   int
	DType      DType
	Blocksize  int
	DeviceName string
	CapturedAt time.Time
}

// NewRecording wraps captured samples with their stream parameters.
func NewRecording(data Samples, format Format, device string) Recording {
	return Recording{
		Data:       &data,
		SampleRate: format.SampleRate,
		Channels:   format.Channels,
		DType:      format.DType,
		Blocksize:  format.Blocksize,
		DeviceName: device,
		CapturedAt: time.Now().UTC(),
	}
}

// HasData reports whether the sample payload is still in memory.
func (r *Recording) HasData() bool {
	return r.Data != nil && r.Data.Len() > 0
}

// ReleaseData drops the in-memory payload. The recording must already
// be backed by a file.
func (r *Recording) ReleaseData() error {
	if r.Path == "" {
		return errors.New(errors.InvalidRecording, "cannot release samples without a backing file")
	}
	r.Data = nil
	return nil
}

// Duration returns the captured span, zero once the payload is released.
func (r *Recording) Duration() time.Duration {
	if r.Data == nil || r.SampleRate <= 0 || r.Channels <= 0 {
		return 0
	}
	frames := r.Data.Len() / r.Channels
	return time.Duration(float64(frames) / float64(r.SampleRate) * float64(time.Second))
}

// Clone returns a deep copy so callers cannot alias a stored sample
// buffer.
func (r Recording) Clone() Recording {
	out := r
	if r.Data != nil {
		c := r.Data.Clone()
		out.Data = &c
	}
	return out
}
