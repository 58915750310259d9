package vad

import (
	"testing"

	"github.com/streamer45/silero-vad-go/speech"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/wakescribe/platform/internal/audio"
	"github.com/wakescribe/platform/internal/errors"
)

// fakeEngine records every chunk it receives and replays scripted
// events keyed by call number.
type fakeEngine struct {
	win    int
	chunks [][]float32
	script []Event
	errAt  int // 1-based call that fails, 0 for never
	resets int
	closed bool
}

func (f *fakeEngine) ProcessChunk(chunk []float32) (Event, error) {
	cp := make([]float32, len(chunk))
	copy(cp, chunk)
	f.chunks = append(f.chunks, cp)

	n := len(f.chunks)
	if f.errAt != 0 && n == f.errAt {
		return None, errors.New(errors.Internal, "inference failed")
	}
	if n <= len(f.script) {
		return f.script[n-1], nil
	}
	return None, nil
}

func (f *fakeEngine) WindowSize() int { return f.win }
func (f *fakeEngine) Reset() error    { f.resets++; return nil }
func (f *fakeEngine) Close() error    { f.closed = true; return nil }

func monoFrame(samples []float32) audio.Frame {
	return audio.Frame{
		Samples: audio.F32Samples(samples),
		Format:  audio.Format{SampleRate: 16000, Channels: 1, Blocksize: len(samples), DType: audio.Float32},
	}
}

func ramp(start, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(start + i)
	}
	return out
}

func TestDetectorBuffersPartialWindows(t *testing.T) {
	eng := &fakeEngine{win: 4}
	d := NewDetector(eng)

	ev, err := d.Process(monoFrame(ramp(0, 3)))
	require.NoError(t, err)
	assert.Equal(t, None, ev)
	assert.Empty(t, eng.chunks)
	assert.Equal(t, 3, d.Buffered())

	ev, err = d.Process(monoFrame(ramp(3, 3)))
	require.NoError(t, err)
	assert.Equal(t, None, ev)
	require.Len(t, eng.chunks, 1)
	assert.Equal(t, []float32{0, 1, 2, 3}, eng.chunks[0])
	assert.Equal(t, 2, d.Buffered())
}

func TestDetectorChunksInArrivalOrder(t *testing.T) {
	eng := &fakeEngine{win: 4}
	d := NewDetector(eng)

	for _, size := range []int{3, 3, 4} {
		_, err := d.Process(monoFrame(ramp(len(eng.chunks)*4+d.Buffered(), size)))
		require.NoError(t, err)
	}

	require.Len(t, eng.chunks, 2)
	assert.Equal(t, []float32{0, 1, 2, 3}, eng.chunks[0])
	assert.Equal(t, []float32{4, 5, 6, 7}, eng.chunks[1])
	assert.Equal(t, 2, d.Buffered())
}

func TestDetectorEventSelection(t *testing.T) {
	tests := []struct {
		name   string
		script []Event
		want   Event
	}{
		{"no transitions", []Event{None, None}, None},
		{"start reported", []Event{SpeechStart, None}, SpeechStart},
		{"latest transition wins", []Event{None, SpeechStart}, SpeechStart},
		{"end after start", []Event{SpeechStart, SpeechEnd}, SpeechEnd},
		{"end not shadowed by later start", []Event{SpeechEnd, SpeechStart}, SpeechEnd},
		{"end sticky across many chunks", []Event{SpeechEnd, None, SpeechStart}, SpeechEnd},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := &fakeEngine{win: 4, script: tt.script}
			d := NewDetector(eng)

			ev, err := d.Process(monoFrame(ramp(0, 4*len(tt.script))))
			require.NoError(t, err)
			assert.Equal(t, tt.want, ev)
			assert.Len(t, eng.chunks, len(tt.script))
		})
	}
}

func TestDetectorResetClearsAccumulator(t *testing.T) {
	eng := &fakeEngine{win: 4}
	d := NewDetector(eng)

	_, err := d.Process(monoFrame(ramp(0, 3)))
	require.NoError(t, err)
	require.Equal(t, 3, d.Buffered())

	require.NoError(t, d.Reset())
	assert.Equal(t, 1, eng.resets)
	assert.Equal(t, 0, d.Buffered())

	// Samples buffered before the reset must not leak into new windows.
	_, err = d.Process(monoFrame(ramp(100, 4)))
	require.NoError(t, err)
	require.Len(t, eng.chunks, 1)
	assert.Equal(t, []float32{100, 101, 102, 103}, eng.chunks[0])
}

func TestDetectorPropagatesEngineError(t *testing.T) {
	eng := &fakeEngine{win: 4, errAt: 2}
	d := NewDetector(eng)

	_, err := d.Process(monoFrame(ramp(0, 13)))
	require.Error(t, err)
	assert.Equal(t, errors.Internal, errors.CodeOf(err))
	// The failing window is consumed, the unprocessed tail stays buffered.
	assert.Len(t, eng.chunks, 2)
	assert.Equal(t, 5, d.Buffered())
}

func TestDetectorDownmixesChannels(t *testing.T) {
	eng := &fakeEngine{win: 2}
	d := NewDetector(eng)

	frame := audio.Frame{
		Samples: audio.F32Samples([]float32{1, 3, 2, 4}),
		Format:  audio.Format{SampleRate: 16000, Channels: 2, Blocksize: 2, DType: audio.Float32},
	}
	_, err := d.Process(frame)
	require.NoError(t, err)
	require.Len(t, eng.chunks, 1)
	assert.Equal(t, []float32{2, 3}, eng.chunks[0])
}

func TestDetectorClose(t *testing.T) {
	eng := &fakeEngine{win: 4}
	d := NewDetector(eng)
	require.NoError(t, d.Close())
	assert.True(t, eng.closed)
}

// Any split of a sample stream into frames must produce the same
// window sequence as slicing the stream directly.
func TestChunkingMatchesDirectSlices(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		total := rapid.IntRange(0, 4096).Draw(t, "total")
		stream := ramp(0, total)

		eng := &fakeEngine{win: 512}
		d := NewDetector(eng)

		for off := 0; off < total; {
			size := rapid.IntRange(1, 900).Draw(t, "frame")
			if off+size > total {
				size = total - off
			}
			_, err := d.Process(monoFrame(stream[off : off+size]))
			require.NoError(t, err)
			off += size
		}

		var want [][]float32
		for off := 0; off+512 <= total; off += 512 {
			want = append(want, stream[off:off+512])
		}
		require.Len(t, eng.chunks, len(want))
		for i := range want {
			require.Equal(t, want[i], eng.chunks[i])
		}
		require.Equal(t, total%512, d.Buffered())
	})
}

func TestSlidingWindowSamples(t *testing.T) {
	// 250 ms silence + 100 ms pad + 0.5 s context at 16 kHz.
	assert.Equal(t, 13600, slidingWindowSamples(16000, 250, 100))
	// Zero silence still keeps the half-second context.
	assert.Equal(t, 8000, slidingWindowSamples(16000, 0, 0))
	// The floor is two model windows.
	assert.Equal(t, 2*sileroWindow, slidingWindowSamples(1000, 0, 0))
}

func TestSileroPushEvictsOldest(t *testing.T) {
	e := &SileroEngine{maxWindow: 6}

	e.push([]float32{0, 1, 2, 3})
	assert.Equal(t, []float32{0, 1, 2, 3}, e.window)

	e.push([]float32{4, 5, 6, 7})
	assert.Equal(t, []float32{2, 3, 4, 5, 6, 7}, e.window)

	// A chunk larger than the window keeps only its tail.
	e.push(ramp(10, 9))
	assert.Equal(t, []float32{13, 14, 15, 16, 17, 18}, e.window)
}

func TestLastSegmentOpen(t *testing.T) {
	assert.False(t, lastSegmentOpen(nil))
	assert.False(t, lastSegmentOpen([]speech.Segment{{SpeechStartAt: 0.5, SpeechEndAt: 1.2}}))
	assert.True(t, lastSegmentOpen([]speech.Segment{{SpeechStartAt: 0.5}}))
	assert.True(t, lastSegmentOpen([]speech.Segment{
		{SpeechStartAt: 0.1, SpeechEndAt: 0.4},
		{SpeechStartAt: 0.9},
	}))
}

// nopEngine consumes windows without recording them so the benchmark
// measures only the detector's buffering and chunking.
type nopEngine struct{ win int }

func (nopEngine) ProcessChunk([]float32) (Event, error) { return None, nil }
func (e nopEngine) WindowSize() int                     { return e.win }
func (nopEngine) Reset() error                          { return nil }
func (nopEngine) Close() error                          { return nil }

func BenchmarkDetectorProcess(b *testing.B) {
	d := NewDetector(nopEngine{win: 512})
	// 480-sample blocks never align with the window, so every call
	// exercises the remainder carry.
	frame := monoFrame(ramp(0, 480))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := d.Process(frame); err != nil {
			b.Fatal(err)
		}
	}
}
