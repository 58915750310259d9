package encoder

import (
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wakescribe/platform/internal/audio"
	"github.com/wakescribe/platform/internal/errors"
)

func newTestEncoder(t *testing.T) *FFmpeg {
	t.Helper()
	f, err := NewFFmpeg(Config{TmpDir: t.TempDir(), SampleRate: 16000, Channels: 1})
	require.NoError(t, err)
	return f
}

func TestNewFFmpegDefaults(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "cache")
	f, err := NewFFmpeg(Config{TmpDir: dir})
	require.NoError(t, err)

	assert.Equal(t, "ffmpeg", f.binary)
	assert.Equal(t, "pcm_s16le", f.outputCodec)
	assert.Equal(t, "wav", f.container)
	assert.DirExists(t, dir)
}

func TestNewFFmpegRequiresTmpDir(t *testing.T) {
	_, err := NewFFmpeg(Config{})
	require.Error(t, err)
	assert.Equal(t, errors.Internal, errors.CodeOf(err))
}

func TestRecordingName(t *testing.T) {
	f := newTestEncoder(t)

	name := f.recordingName()
	assert.Regexp(t, regexp.MustCompile(`^rec-[0-9a-f]{32}\.wav$`), name)
	assert.NotEqual(t, name, f.recordingName())
}

func TestConvertDestination(t *testing.T) {
	f := newTestEncoder(t)

	assert.Equal(t, "/out/clip.wav", f.convertDestination("/in/clip.mp3", "/out/clip.wav"))
	assert.Equal(t, filepath.Join(f.tmpDir, "clip.wav"), f.convertDestination("/in/clip.mp3", ""))
	assert.Equal(t, filepath.Join(f.tmpDir, "noext.wav"), f.convertDestination("/in/noext", ""))
}

func TestRawInputFormat(t *testing.T) {
	tests := []struct {
		dtype audio.DType
		want  string
	}{
		{audio.Float32, "f32le"},
		{audio.Int16, "s16le"},
		{audio.Float64, "f64le"},
	}
	for _, tt := range tests {
		got, err := rawInputFormat(tt.dtype)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := rawInputFormat(audio.DType("uint8"))
	require.Error(t, err)
	assert.Equal(t, errors.InvalidRecording, errors.CodeOf(err))
}

func TestSaveRecordingRejectsBadInput(t *testing.T) {
	f := newTestEncoder(t)
	format := audio.Format{SampleRate: 16000, Channels: 1, Blocksize: 512, DType: audio.Float32}

	tests := []struct {
		name string
		rec  *audio.Recording
	}{
		{"nil recording", nil},
		{"no payload", &audio.Recording{SampleRate: 16000, Channels: 1}},
		{"zero sample rate", func() *audio.Recording {
			rec := audio.NewRecording(audio.F32Samples([]float32{0.1}), format, "")
			rec.SampleRate = 0
			return &rec
		}()},
		{"unknown dtype", func() *audio.Recording {
			rec := audio.NewRecording(audio.F32Samples([]float32{0.1}), format, "")
			rec.DType = "uint8"
			return &rec
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.SaveRecording(tt.rec)
			require.Error(t, err)
			assert.Equal(t, errors.InvalidRecording, errors.CodeOf(err))
		})
	}
}

func TestConvertFileMissingSource(t *testing.T) {
	f := newTestEncoder(t)

	_, err := f.ConvertFile(filepath.Join(t.TempDir(), "absent.mp3"), "")
	require.Error(t, err)
	assert.Equal(t, errors.NotFound, errors.CodeOf(err))
}

func TestStderrTail(t *testing.T) {
	assert.Equal(t, "broken pipe", stderrTail("  broken pipe\n"))

	long := strings.Repeat("x", stderrTailBytes) + "tail marker"
	got := stderrTail(long)
	assert.Len(t, got, stderrTailBytes)
	assert.True(t, strings.HasSuffix(got, "tail marker"))
}
