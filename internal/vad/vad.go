// Package vad detects speech boundaries in the capture stream. The
// underlying model consumes fixed 512-sample windows; Detector hides
// that by buffering arbitrary frames and invoking the engine once per
// complete window.
package vad

import (
	"github.com/wakescribe/platform/internal/audio"
	"github.com/wakescribe/platform/internal/errors"
)

// Event is a speech boundary transition. Engines emit one only when
// the voice state actually changes.
type Event int

const (
	None Event = iota
	SpeechStart
	SpeechEnd
)

func (e Event) String() string {
	switch e {
	case SpeechStart:
		return "speech_start"
	case SpeechEnd:
		return "speech_end"
	default:
		return "none"
	}
}

// Engine evaluates voice activity over fixed-size windows of mono
// float32 audio. Implementations are stateful across calls and not
// safe for concurrent use.
type Engine interface {
	// ProcessChunk consumes exactly WindowSize samples and reports the
	// boundary transition they produced, if any.
	ProcessChunk(chunk []float32) (Event, error)
	// WindowSize is the number of samples ProcessChunk expects.
	WindowSize() int
	// Reset clears all detection state.
	Reset() error
	// Close releases model resources.
	Close() error
}

// Detector feeds capture frames of any size and channel layout into an
// Engine. Samples are accumulated in arrival order and handed to the
// engine in complete windows; a partial window is retained for the
// next call.
type Detector struct {
	engine Engine
	buf    []float32
}

func NewDetector(engine Engine) *Detector {
	return &Detector{engine: engine}
}

// Process consumes one frame and returns the last transition the
// engine emitted for the windows completed by this call. A SpeechEnd
// is never shadowed by a later SpeechStart from the same call, so an
// utterance boundary survives input bursts that complete several
// windows at once.
func (d *Detector) Process(frame audio.Frame) (Event, error) {
	d.buf = append(d.buf, frame.MonoFloat32()...)

	win := d.engine.WindowSize()
	if win <= 0 {
		return None, errors.Newf(errors.Internal, "vad engine reports window size %d", win)
	}

	last := None
	ended := false
	off := 0
	for off+win <= len(d.buf) {
		ev, err := d.engine.ProcessChunk(d.buf[off : off+win])
		off += win
		if err != nil {
			d.compact(off)
			return None, err
		}
		switch ev {
		case SpeechEnd:
			ended = true
		case SpeechStart:
			last = SpeechStart
		}
	}
	d.compact(off)

	if ended {
		return SpeechEnd, nil
	}
	return last, nil
}

// Reset clears the engine's model state and the sample accumulator.
func (d *Detector) Reset() error {
	d.buf = d.buf[:0]
	return d.engine.Reset()
}

// Close releases the engine. The detector must not be used afterwards.
func (d *Detector) Close() error {
	return d.engine.Close()
}

// Buffered returns the number of samples waiting for a complete window.
func (d *Detector) Buffered() int {
	return len(d.buf)
}

// compact discards consumed samples, keeping the remainder at the head.
func (d *Detector) compact(off int) {
	if off == 0 {
		return
	}
	d.buf = append(d.buf[:0], d.buf[off:]...)
}
