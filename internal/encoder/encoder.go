// Package encoder persists captured audio by piping raw samples
// through an external ffmpeg process.
package encoder

import (
	"github.com/wakescribe/platform/internal/audio"
)

// Encoder turns in-memory recordings into files and re-encodes
// existing audio files into the configured container.
type Encoder interface {
	// SaveRecording encodes the recording's samples into a file under
	// the tmp dir, sets rec.Path and releases the payload.
	SaveRecording(rec *audio.Recording) error
	// ConvertFile re-encodes src into dst. An empty dst derives the
	// destination from src's stem under the tmp dir. Returns the path
	// written.
	ConvertFile(src, dst string) (string, error)
}

// Config carries the ffmpeg invocation knobs. SampleRate and Channels
// apply to ConvertFile output; SaveRecording reads them from the
// recording itself.
type Config struct {
	Binary      string
	OutputCodec string
	Container   string
	TmpDir      string
	SampleRate  int
	Channels    int
}
