// Package listener runs hands-free capture: a state machine that arms
// on a wake word, records one utterance bounded by voice activity, and
// pushes the audio through the encoder to the transcriber.
package listener

import (
	"context"
	stderrors "errors"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wakescribe/platform/internal/audio"
	"github.com/wakescribe/platform/internal/encoder"
	"github.com/wakescribe/platform/internal/errors"
	"github.com/wakescribe/platform/internal/metrics"
	"github.com/wakescribe/platform/internal/recorder"
	"github.com/wakescribe/platform/internal/stt"
	"github.com/wakescribe/platform/internal/vad"
	"github.com/wakescribe/platform/internal/wake"
)

const (
	subscriberName  = "listener"
	subscriberDepth = 4096
	readTimeout     = 100 * time.Millisecond
	joinTimeout     = 5 * time.Second
	eventsDepth     = 64
)

// Config carries the timing knobs of the state machine.
type Config struct {
	// ArmedTimeoutSeconds bounds how long ARMED waits for speech.
	ArmedTimeoutSeconds float64
	// MaxUtteranceSeconds caps a single utterance.
	MaxUtteranceSeconds float64
	// SpeechPadMs of audio preceding speech onset kept as pre-roll.
	SpeechPadMs int
	// HangoverMs of audio appended after speech ends.
	HangoverMs int
}

// Transcriber turns a persisted recording into a transcript.
type Transcriber interface {
	Transcribe(ctx context.Context, rec *audio.Recording) (stt.Transcript, error)
}

// Listener drives one hands-free session over the hub at a time.
// Finalized utterances are persisted through the encoder, registered
// under their file path and transcribed; consumers observe progress on
// the Events stream.
type Listener struct {
	hub      *audio.Hub
	wake     wake.Detector
	vad      *vad.Detector
	enc      encoder.Encoder
	registry *recorder.Registry
	stt      Transcriber
	cfg      Config
	log      *logrus.Entry

	events chan Event

	mu        sync.Mutex
	state     State
	startedAt time.Time
	reader    *audio.Reader
	stop      chan struct{}
	done      chan struct{}
	cancel    context.CancelFunc

	resMu      sync.Mutex
	lastResult *Result
	ready      chan struct{}
}

// New builds a listener over the hub. The Events stream is created once
// and stays open across sessions; a state_change carrying StateStopped
// marks the end of each session.
func New(hub *audio.Hub, wk wake.Detector, vd *vad.Detector, enc encoder.Encoder, registry *recorder.Registry, tr Transcriber, cfg Config) *Listener {
	return &Listener{
		hub:      hub,
		wake:     wk,
		vad:      vd,
		enc:      enc,
		registry: registry,
		stt:      tr,
		cfg:      cfg,
		log:      logrus.WithField("component", "listener"),
		events:   make(chan Event, eventsDepth),
		state:    StateIdle,
		ready:    make(chan struct{}),
	}
}

// Start subscribes to the hub and launches the session loop in IDLE.
func (l *Listener) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.done != nil {
		return errors.New(errors.SessionAlreadyActive, "listening session already active")
	}
	if !l.hub.IsRunning() {
		return errors.New(errors.StreamNotRunning, "audio stream is not running")
	}

	reader := l.hub.Subscribe(subscriberName, subscriberDepth)
	ctx, cancel := context.WithCancel(context.Background())
	l.reader = reader
	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	l.cancel = cancel
	l.state = StateIdle
	l.startedAt = time.Now().UTC()

	l.resMu.Lock()
	l.lastResult = nil
	l.ready = make(chan struct{})
	l.resMu.Unlock()

	go l.run(ctx, reader, l.stop, l.done)
	l.log.Info("listening session started")
	return nil
}

// Stop halts the session loop, joins it, resets both detectors and
// returns the last finalized result, nil when the session produced
// none. The final event is a state_change carrying StateStopped; no
// events are emitted after Stop returns.
func (l *Listener) Stop() (*Result, error) {
	l.mu.Lock()
	if l.stop == nil {
		l.mu.Unlock()
		return nil, errors.New(errors.StreamNotRunning, "no active listening session")
	}
	stop, done, reader, cancel := l.stop, l.done, l.reader, l.cancel
	l.stop = nil
	l.mu.Unlock()

	close(stop)
	cancel()
	select {
	case <-done:
	case <-time.After(joinTimeout):
		l.log.Warn("session loop did not exit in time")
	}
	reader.Close()

	l.resetDetectors()

	l.mu.Lock()
	l.state = StateIdle
	l.startedAt = time.Time{}
	l.reader = nil
	l.done = nil
	l.cancel = nil
	l.mu.Unlock()

	metrics.StateTransition(string(StateStopped))
	l.offer(Event{Type: EventStateChange, State: StateStopped, Timestamp: time.Now().UTC()})

	l.resMu.Lock()
	res := l.lastResult
	l.resMu.Unlock()

	l.log.Info("listening session stopped")
	return res, nil
}

// State reports the machine's current position.
func (l *Listener) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// StartedAt reports when the session began, zero when inactive.
func (l *Listener) StartedAt() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.startedAt
}

// IsListening reports whether a session loop is running.
func (l *Listener) IsListening() bool {
	l.mu.Lock()
	done := l.done
	l.mu.Unlock()
	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

// Events exposes the session event stream. The channel is never closed.
func (l *Listener) Events() <-chan Event {
	return l.events
}

// WaitForResult blocks until an utterance has been transcribed or the
// timeout elapses, returning nil on timeout.
func (l *Listener) WaitForResult(timeout time.Duration) *Result {
	l.resMu.Lock()
	ready := l.ready
	l.resMu.Unlock()

	select {
	case <-ready:
	case <-time.After(timeout):
		return nil
	}

	l.resMu.Lock()
	defer l.resMu.Unlock()
	return l.lastResult
}

func (l *Listener) run(ctx context.Context, reader *audio.Reader, stop, done chan struct{}) {
	defer close(done)

	fps := l.hub.Format().FramesPerSecond()
	preRollMax := preRollLimit(l.cfg.SpeechPadMs, fps)
	hangoverMax := hangoverLimit(l.cfg.HangoverMs, fps)
	maxUtterance := utteranceLimit(l.cfg.MaxUtteranceSeconds, fps)
	armedTimeout := time.Duration(l.cfg.ArmedTimeoutSeconds * float64(time.Second))

	var (
		preRoll   []audio.Frame
		utterance []audio.Frame
		hangover  []audio.Frame
		armedAt   time.Time
		ended     bool
	)

	emit := func(ev Event) {
		select {
		case <-stop:
			return
		default:
		}
		l.offer(ev)
	}
	setState := func(s State) {
		if !l.swapState(s) {
			return
		}
		metrics.StateTransition(string(s))
		emit(Event{Type: EventStateChange, State: s, Timestamp: time.Now().UTC()})
		l.log.WithField("state", string(s)).Debug("state changed")
	}
	toIdle := func() {
		preRoll, utterance, hangover = nil, nil, nil
		ended = false
		l.resetDetectors()
		setState(StateIdle)
	}
	reportErr := func(err error) {
		l.log.WithError(err).Error("detector failure")
		emit(Event{Type: EventError, Message: errors.MessageOf(err), Timestamp: time.Now().UTC()})
	}
	finish := func() {
		res, err := l.finalize(ctx, utterance)
		if err != nil {
			metrics.UtteranceFinished("error")
			l.log.WithError(err).Error("utterance finalization failed")
			emit(Event{Type: EventError, Message: errors.MessageOf(err), Timestamp: time.Now().UTC()})
		} else {
			metrics.UtteranceFinished("ok")
			l.setResult(*res)
			emit(Event{Type: EventResult, Result: res, Timestamp: time.Now().UTC()})
		}
		toIdle()
	}

	for {
		select {
		case <-stop:
			return
		default:
		}

		frame, err := reader.Read(readTimeout)
		if err != nil {
			if stderrors.Is(err, audio.ErrTimeout) {
				// the armed window can expire while the stream is quiet
				if l.State() == StateArmed && time.Since(armedAt) > armedTimeout {
					toIdle()
				}
				continue
			}
			l.log.Warn("audio stream closed during session")
			toIdle()
			return
		}

		switch l.State() {
		case StateIdle:
			ev, err := l.wake.Detect(frame)
			if err != nil {
				reportErr(err)
				toIdle()
				continue
			}
			if !ev.Detected {
				continue
			}
			armedAt = time.Now()
			if err := l.vad.Reset(); err != nil {
				reportErr(err)
				toIdle()
				continue
			}
			preRoll = nil
			setState(StateArmed)
			l.log.WithField("scores", ev.Scores).Info("wake word detected")

		case StateArmed:
			if time.Since(armedAt) > armedTimeout {
				l.log.Debug("armed window expired without speech")
				toIdle()
				continue
			}
			ev, err := l.vad.Process(frame)
			if err != nil {
				reportErr(err)
				toIdle()
				continue
			}
			if ev == vad.SpeechStart {
				utterance = append(utterance, preRoll...)
				utterance = append(utterance, frame)
				preRoll = nil
				setState(StateListening)
				continue
			}
			preRoll = append(preRoll, frame)
			if len(preRoll) > preRollMax {
				preRoll = append(preRoll[:0], preRoll[len(preRoll)-preRollMax:]...)
			}

		case StateListening:
			if !ended {
				ev, err := l.vad.Process(frame)
				if err != nil {
					reportErr(err)
					toIdle()
					continue
				}
				if ev == vad.SpeechEnd {
					ended = true
					hangover = append(hangover, frame)
				} else {
					utterance = append(utterance, frame)
				}
			} else {
				hangover = append(hangover, frame)
			}

			if ended && len(hangover) >= hangoverMax {
				utterance = append(utterance, hangover...)
				finish()
				continue
			}
			if len(utterance) >= maxUtterance {
				finish()
			}
		}
	}
}

// finalize persists one utterance and produces its transcript. The
// recording is registered before transcription so a failed transcript
// can be retried against the persisted file.
func (l *Listener) finalize(ctx context.Context, frames []audio.Frame) (*Result, error) {
	parts := make([]audio.Samples, len(frames))
	for i, f := range frames {
		parts[i] = f.Samples
	}
	payload, err := audio.ConcatSamples(parts)
	if err != nil {
		return nil, err
	}

	rec := audio.NewRecording(payload, l.hub.Format(), l.hub.DeviceName())
	if err := l.enc.SaveRecording(&rec); err != nil {
		return nil, err
	}
	if _, err := l.registry.Put(rec); err != nil {
		return nil, err
	}

	transcript, err := l.stt.Transcribe(ctx, &rec)
	if err != nil {
		return nil, err
	}

	l.log.WithFields(logrus.Fields{
		"path":   rec.Path,
		"frames": len(frames),
		"chars":  len(transcript.Text),
	}).Info("utterance transcribed")
	return &Result{Recording: rec, Transcript: transcript}, nil
}

func (l *Listener) resetDetectors() {
	if err := l.wake.Reset(); err != nil {
		l.log.WithError(err).Warn("wake reset failed")
	}
	if err := l.vad.Reset(); err != nil {
		l.log.WithError(err).Warn("vad reset failed")
	}
}

// swapState records a transition, reporting false when unchanged.
func (l *Listener) swapState(s State) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == s {
		return false
	}
	l.state = s
	return true
}

// setResult stores the latest result and releases WaitForResult callers.
func (l *Listener) setResult(res Result) {
	l.resMu.Lock()
	defer l.resMu.Unlock()
	l.lastResult = &res
	select {
	case <-l.ready:
	default:
		close(l.ready)
	}
}

// offer enqueues without blocking the session loop, evicting the oldest
// event when the stream is full. A stalled consumer loses state changes
// rather than stalling capture; the loop is the channel's only live
// sender, so after an eviction the send cannot block.
func (l *Listener) offer(ev Event) {
	select {
	case l.events <- ev:
		return
	default:
	}

	select {
	case <-l.events:
	default:
	}
	l.events <- ev
}

// Buffer limits are derived from the stream's frame rate.

func preRollLimit(padMs int, fps float64) int {
	// pad window plus a fixed margin of frames for detector latency
	return max(1, int(math.Round(float64(padMs)/1000*fps))+5)
}

func hangoverLimit(hangMs int, fps float64) int {
	return max(1, int(math.Round(float64(hangMs)/1000*fps)))
}

func utteranceLimit(maxSeconds, fps float64) int {
	return int(math.Round(maxSeconds * fps))
}
