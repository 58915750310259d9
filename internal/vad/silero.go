package vad

import (
	"github.com/sirupsen/logrus"
	"github.com/streamer45/silero-vad-go/speech"

	"github.com/wakescribe/platform/internal/errors"
)

// sileroWindow is the sample count the Silero model scores per
// inference at 16 kHz.
const sileroWindow = 512

// speechContextSeconds is how much audio before the newest chunk the
// engine keeps in view. It must exceed the silence run that closes a
// segment or the closing boundary is never observed.
const speechContextSeconds = 0.5

// SileroConfig configures the Silero VAD engine.
type SileroConfig struct {
	ModelPath    string
	SampleRate   int
	Threshold    float32
	MinSilenceMs int
	SpeechPadMs  int
}

// SileroEngine scores voice activity with the Silero ONNX model. The
// detector's segment API reports boundaries relative to one buffer of
// audio, so the engine re-scans a short sliding window on every chunk
// with fresh model state and derives transitions from whether the
// trailing segment is still open.
type SileroEngine struct {
	sd        *speech.Detector
	window    []float32
	maxWindow int
	speaking  bool
	log       *logrus.Entry
}

func NewSileroEngine(cfg SileroConfig) (*SileroEngine, error) {
	sd, err := speech.NewDetector(speech.DetectorConfig{
		ModelPath:            cfg.ModelPath,
		SampleRate:           cfg.SampleRate,
		WindowSize:           sileroWindow,
		Threshold:            cfg.Threshold,
		MinSilenceDurationMs: cfg.MinSilenceMs,
		SpeechPadMs:          cfg.SpeechPadMs,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.Internal, "load silero vad model").
			WithMetadata("model", cfg.ModelPath)
	}

	maxWindow := slidingWindowSamples(cfg.SampleRate, cfg.MinSilenceMs, cfg.SpeechPadMs)

	log := logrus.WithField("component", "vad")
	log.WithFields(logrus.Fields{
		"model":          cfg.ModelPath,
		"sample_rate":    cfg.SampleRate,
		"threshold":      cfg.Threshold,
		"min_silence_ms": cfg.MinSilenceMs,
		"speech_pad_ms":  cfg.SpeechPadMs,
		"window_samples": maxWindow,
	}).Info("Silero VAD engine initialized")

	return &SileroEngine{
		sd:        sd,
		window:    make([]float32, 0, maxWindow),
		maxWindow: maxWindow,
		log:       log,
	}, nil
}

// slidingWindowSamples sizes the analysis window: enough context ahead
// of the newest chunk that a segment's closing silence run, padding
// included, always completes inside one scan.
func slidingWindowSamples(sampleRate, minSilenceMs, speechPadMs int) int {
	silence := (minSilenceMs + speechPadMs) * sampleRate / 1000
	context := int(speechContextSeconds * float64(sampleRate))
	n := silence + context
	if n < 2*sileroWindow {
		n = 2 * sileroWindow
	}
	return n
}

func (e *SileroEngine) WindowSize() int { return sileroWindow }

func (e *SileroEngine) ProcessChunk(chunk []float32) (Event, error) {
	e.push(chunk)
	if len(e.window) < sileroWindow {
		return None, nil
	}

	segments, err := e.sd.Detect(e.window)
	if err != nil {
		return None, errors.Wrap(err, errors.Internal, "silero detect")
	}
	if err := e.sd.Reset(); err != nil {
		return None, errors.Wrap(err, errors.Internal, "silero reset")
	}

	speaking := lastSegmentOpen(segments)
	switch {
	case speaking && !e.speaking:
		e.speaking = true
		e.log.Debug("speech started")
		return SpeechStart, nil
	case !speaking && e.speaking:
		e.speaking = false
		e.log.Debug("speech ended")
		return SpeechEnd, nil
	default:
		return None, nil
	}
}

// Reset clears the model state, the analysis window and the voice state.
func (e *SileroEngine) Reset() error {
	e.window = e.window[:0]
	e.speaking = false
	if err := e.sd.Reset(); err != nil {
		return errors.Wrap(err, errors.Internal, "silero reset")
	}
	return nil
}

// Close releases the underlying ONNX session.
func (e *SileroEngine) Close() error {
	if err := e.sd.Destroy(); err != nil {
		return errors.Wrap(err, errors.Internal, "destroy silero detector")
	}
	return nil
}

// push appends a chunk to the analysis window, evicting the oldest
// samples once the window is full.
func (e *SileroEngine) push(chunk []float32) {
	if len(chunk) >= e.maxWindow {
		e.window = append(e.window[:0], chunk[len(chunk)-e.maxWindow:]...)
		return
	}
	if over := len(e.window) + len(chunk) - e.maxWindow; over > 0 {
		copy(e.window, e.window[over:])
		e.window = e.window[:len(e.window)-over]
	}
	e.window = append(e.window, chunk...)
}

// lastSegmentOpen reports whether the newest detected segment has no
// end yet, meaning speech runs through the end of the buffer.
func lastSegmentOpen(segments []speech.Segment) bool {
	if len(segments) == 0 {
		return false
	}
	return segments[len(segments)-1].SpeechEndAt == 0
}
