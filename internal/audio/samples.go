package audio

import (
	"encoding/binary"
	"math"

	"github.com/wakescribe/platform/internal/errors"
)

// Samples is a dtype-tagged interleaved sample buffer. Exactly one of the
// backing slices is populated, matching the dtype.
type Samples struct {
	dtype DType
	f32   []float32
	i16   []int16
	f64   []float64
}

// F32Samples wraps an interleaved float32 buffer.
func F32Samples(data []float32) Samples { return Samples{dtype: Float32, f32: data} }

// I16Samples wraps an interleaved int16 buffer.
func I16Samples(data []int16) Samples { return Samples{dtype: Int16, i16: data} }

// F64Samples wraps an interleaved float64 buffer.
func F64Samples(data []float64) Samples { return Samples{dtype: Float64, f64: data} }

// DType returns the sample encoding.
func (s Samples) DType() DType { return s.dtype }

// Len returns the total sample count across all channels.
func (s Samples) Len() int {
	switch s.dtype {
	case Int16:
		return len(s.i16)
	case Float64:
		return len(s.f64)
	default:
		return len(s.f32)
	}
}

// Float32 returns the backing float32 slice, nil for other dtypes.
func (s Samples) Float32() []float32 { return s.f32 }

// Int16 returns the backing int16 slice, nil for other dtypes.
func (s Samples) Int16() []int16 { return s.i16 }

// Float64 returns the backing float64 slice, nil for other dtypes.
func (s Samples) Float64() []float64 { return s.f64 }

// Clone returns a deep copy sharing no memory with the receiver.
func (s Samples) Clone() Samples {
	switch s.dtype {
	case Int16:
		return I16Samples(append([]int16(nil), s.i16...))
	case Float64:
		return F64Samples(append([]float64(nil), s.f64...))
	default:
		return F32Samples(append([]float32(nil), s.f32...))
	}
}

// MonoFloat32 downmixes interleaved samples to a mono float32 buffer.
// Multi-channel input is averaged per block, int16 is scaled by 1/32768,
// float64 is narrowed. The result is always freshly allocated.
func (s Samples) MonoFloat32(channels int) []float32 {
	if channels < 1 {
		channels = 1
	}
	n := s.Len() / channels
	out := make([]float32, n)
	switch s.dtype {
	case Int16:
		for i := 0; i < n; i++ {
			var sum float32
			for c := 0; c < channels; c++ {
				sum += float32(s.i16[i*channels+c]) / 32768.0
			}
			out[i] = sum / float32(channels)
		}
	case Float64:
		for i := 0; i < n; i++ {
			var sum float64
			for c := 0; c < channels; c++ {
				sum += s.f64[i*channels+c]
			}
			out[i] = float32(sum / float64(channels))
		}
	default:
		if channels == 1 {
			copy(out, s.f32)
			return out
		}
		for i := 0; i < n; i++ {
			var sum float32
			for c := 0; c < channels; c++ {
				sum += s.f32[i*channels+c]
			}
			out[i] = sum / float32(channels)
		}
	}
	return out
}

// MonoInt16 downmixes to mono and quantizes to int16. Values are clipped
// to [-1, 1] before scaling by 32767 and rounding to nearest.
func (s Samples) MonoInt16(channels int) []int16 {
	mono := s.MonoFloat32(channels)
	out := make([]int16, len(mono))
	for i, v := range mono {
		if v > 1.0 {
			v = 1.0
		} else if v < -1.0 {
			v = -1.0
		}
		out[i] = int16(math.Round(float64(v) * 32767.0))
	}
	return out
}

// Bytes serializes the native buffer as little-endian PCM.
func (s Samples) Bytes() []byte {
	switch s.dtype {
	case Int16:
		buf := make([]byte, len(s.i16)*2)
		for i, v := range s.i16 {
			binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
		}
		return buf
	case Float64:
		buf := make([]byte, len(s.f64)*8)
		for i, v := range s.f64 {
			binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
		}
		return buf
	default:
		buf := make([]byte, len(s.f32)*4)
		for i, v := range s.f32 {
			binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
		}
		return buf
	}
}

// ConcatSamples joins buffers of the same dtype in order. It returns
// InvalidFormat when dtypes are mixed and an empty float32 buffer when
// the input is empty.
func ConcatSamples(parts []Samples) (Samples, error) {
	if len(parts) == 0 {
		return F32Samples(nil), nil
	}
	dtype := parts[0].dtype
	total := 0
	for _, p := range parts {
		if p.dtype != dtype {
			return Samples{}, errors.Newf(errors.InvalidFormat, "cannot concat %s with %s", dtype, p.dtype)
		}
		total += p.Len()
	}
	switch dtype {
	case Int16:
		out := make([]int16, 0, total)
		for _, p := range parts {
			out = append(out, p.i16...)
		}
		return I16Samples(out), nil
	case Float64:
		out := make([]float64, 0, total)
		for _, p := range parts {
			out = append(out, p.f64...)
		}
		return F64Samples(out), nil
	default:
		out := make([]float32, 0, total)
		for _, p := range parts {
			out = append(out, p.f32...)
		}
		return F32Samples(out), nil
	}
}
