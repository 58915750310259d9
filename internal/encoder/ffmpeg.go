package encoder

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/wakescribe/platform/internal/audio"
	"github.com/wakescribe/platform/internal/errors"
	"github.com/wakescribe/platform/internal/metrics"
)

// stderr is only attached to errors; keep enough for the actual
// failure reason, which ffmpeg prints last.
const stderrTailBytes = 2048

// FFmpeg shells out to ffmpeg for encoding. Raw samples are streamed
// over stdin so no intermediate file is written.
type FFmpeg struct {
	binary      string
	outputCodec string
	container   string
	tmpDir      string
	sampleRate  int
	channels    int
	log         *logrus.Entry
}

// NewFFmpeg prepares the tmp dir and fills config defaults.
func NewFFmpeg(cfg Config) (*FFmpeg, error) {
	if cfg.TmpDir == "" {
		return nil, errors.New(errors.Internal, "encoder tmp dir is not configured")
	}
	if err := os.MkdirAll(cfg.TmpDir, 0o755); err != nil {
		return nil, errors.Wrapf(err, errors.Internal, "create tmp dir %s", cfg.TmpDir)
	}
	f := &FFmpeg{
		binary:      cfg.Binary,
		outputCodec: cfg.OutputCodec,
		container:   cfg.Container,
		tmpDir:      cfg.TmpDir,
		sampleRate:  cfg.SampleRate,
		channels:    cfg.Channels,
		log:         logrus.WithField("component", "encoder"),
	}
	if f.binary == "" {
		f.binary = "ffmpeg"
	}
	if f.outputCodec == "" {
		f.outputCodec = "pcm_s16le"
	}
	if f.container == "" {
		f.container = "wav"
	}
	return f, nil
}

// SaveRecording pipes the raw interleaved samples to ffmpeg and writes
// a container file named rec-<hex>.<container> under the tmp dir. On
// success the recording points at the file and its payload is dropped.
func (f *FFmpeg) SaveRecording(rec *audio.Recording) error {
	if rec == nil || !rec.HasData() {
		return errors.New(errors.InvalidRecording, "recording has no samples to encode")
	}
	if rec.SampleRate <= 0 || rec.Channels <= 0 {
		return errors.Newf(errors.InvalidRecording,
			"recording has invalid stream parameters: rate=%d channels=%d", rec.SampleRate, rec.Channels)
	}
	raw, err := rawInputFormat(rec.DType)
	if err != nil {
		return err
	}

	path := filepath.Join(f.tmpDir, f.recordingName())
	payload := rec.Data.Bytes()

	var stderr bytes.Buffer
	cmd := ffmpeg.Input("pipe:0", ffmpeg.KwArgs{
		"f":  raw,
		"ar": strconv.Itoa(rec.SampleRate),
		"ac": strconv.Itoa(rec.Channels),
	}).
		Output(path, ffmpeg.KwArgs{"acodec": f.outputCodec}).
		OverWriteOutput().
		WithInput(bytes.NewReader(payload)).
		WithErrorOutput(&stderr).
		SetFfmpegPath(f.binary)
	if err := cmd.Run(); err != nil {
		return errors.Wrapf(err, errors.EncodeFailed, "ffmpeg: %s", stderrTail(stderr.String()))
	}

	rec.Path = path
	if err := rec.ReleaseData(); err != nil {
		return err
	}
	f.log.WithFields(logrus.Fields{
		"path":  path,
		"bytes": len(payload),
	}).Info("recording saved")
	metrics.RecordingSaved()
	return nil
}

// ConvertFile re-encodes src at the configured rate and channel count.
func (f *FFmpeg) ConvertFile(src, dst string) (string, error) {
	if _, err := os.Stat(src); err != nil {
		return "", errors.Wrapf(err, errors.NotFound, "source audio %s", src)
	}
	dst = f.convertDestination(src, dst)

	var stderr bytes.Buffer
	cmd := ffmpeg.Input(src).
		Output(dst, ffmpeg.KwArgs{
			"ac":     strconv.Itoa(f.channels),
			"ar":     strconv.Itoa(f.sampleRate),
			"acodec": f.outputCodec,
		}).
		OverWriteOutput().
		WithErrorOutput(&stderr).
		SetFfmpegPath(f.binary)
	if err := cmd.Run(); err != nil {
		return "", errors.Wrapf(err, errors.EncodeFailed, "ffmpeg: %s", stderrTail(stderr.String()))
	}

	f.log.WithFields(logrus.Fields{"src": src, "dst": dst}).Info("converted audio file")
	return dst, nil
}

func (f *FFmpeg) recordingName() string {
	return fmt.Sprintf("rec-%x.%s", uuid.New(), f.container)
}

func (f *FFmpeg) convertDestination(src, dst string) string {
	if dst != "" {
		return dst
	}
	stem := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	return filepath.Join(f.tmpDir, stem+"."+f.container)
}

// rawInputFormat maps a sample dtype to ffmpeg's raw pcm demuxer name.
func rawInputFormat(d audio.DType) (string, error) {
	switch d {
	case audio.Float32:
		return "f32le", nil
	case audio.Int16:
		return "s16le", nil
	case audio.Float64:
		return "f64le", nil
	}
	return "", errors.Newf(errors.InvalidRecording, "no raw pcm format for dtype %q", d)
}

func stderrTail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > stderrTailBytes {
		s = s[len(s)-stderrTailBytes:]
	}
	return s
}
