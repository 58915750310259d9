package audio

import "time"

// Frame is one captured block. Timestamp is measured on the monotonic
// clock relative to stream start, Sequence increases by one per frame
// produced regardless of subscriber drops.
type Frame struct {
	Samples   Samples
	Format    Format
	Timestamp time.Duration
	Sequence  uint64
}

// MonoFloat32 returns the frame downmixed to mono float32.
func (f Frame) MonoFloat32() []float32 {
	return f.Samples.MonoFloat32(f.Format.Channels)
}

// MonoInt16 returns the frame downmixed and quantized to mono int16.
func (f Frame) MonoInt16() []int16 {
	return f.Samples.MonoInt16(f.Format.Channels)
}

// Duration returns the wall-clock span this frame covers.
func (f Frame) Duration() time.Duration {
	return f.Format.BlockDuration()
}
