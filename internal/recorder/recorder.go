// Package recorder coordinates manual capture sessions over the hub
// and owns the registry of persisted recordings.
package recorder

import (
	stderrors "errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wakescribe/platform/internal/audio"
	"github.com/wakescribe/platform/internal/encoder"
	"github.com/wakescribe/platform/internal/errors"
)

const (
	subscriberName  = "recorder"
	subscriberDepth = 4096
	readTimeout     = 250 * time.Millisecond
	joinTimeout     = 5 * time.Second
)

// Session tracks metadata for the running capture session. The max
// duration is advisory; capture runs until Stop.
type Session struct {
	StartedAt          time.Time `json:"started_at"`
	MaxDurationSeconds float64   `json:"max_duration_seconds"`
}

// Recorder captures one manual recording session at a time.
type Recorder struct {
	hub                *audio.Hub
	enc                encoder.Encoder
	registry           *Registry
	maxDurationSeconds float64
	log                *logrus.Entry

	mu      sync.Mutex
	session *Session
	reader  *audio.Reader
	stop    chan struct{}
	done    chan struct{}
	chunks  []audio.Samples
	devName string
}

// New builds a recorder over the hub. Persisted recordings land in the
// registry under their file path.
func New(hub *audio.Hub, enc encoder.Encoder, registry *Registry, maxDurationSeconds float64) *Recorder {
	return &Recorder{
		hub:                hub,
		enc:                enc,
		registry:           registry,
		maxDurationSeconds: maxDurationSeconds,
		log:                logrus.WithField("component", "recorder"),
	}
}

// Start opens a private subscriber and begins accumulating frames.
func (r *Recorder) Start() (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session != nil {
		return Session{}, errors.New(errors.SessionAlreadyActive, "recording session already active")
	}
	if !r.hub.IsRunning() {
		return Session{}, errors.New(errors.StreamNotRunning, "audio stream is not running")
	}

	reader := r.hub.Subscribe(subscriberName, subscriberDepth)
	r.reader = reader
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	r.chunks = nil
	r.devName = r.hub.DeviceName()

	go r.capture(reader, r.stop, r.done)

	session := Session{StartedAt: time.Now().UTC(), MaxDurationSeconds: r.maxDurationSeconds}
	r.session = &session
	r.log.Info("manual recording started")
	return session, nil
}

// Stop signals the capture task, joins it, and persists the collected
// frames as one recording registered under its path.
func (r *Recorder) Stop() (audio.Recording, error) {
	r.mu.Lock()
	if r.stop == nil {
		r.mu.Unlock()
		return audio.Recording{}, errors.New(errors.StreamNotRunning, "no active recording session")
	}
	stop, done, reader := r.stop, r.done, r.reader
	r.stop = nil
	r.mu.Unlock()

	close(stop)
	select {
	case <-done:
	case <-time.After(joinTimeout):
		r.log.Warn("capture task did not exit in time")
	}
	reader.Close()

	r.mu.Lock()
	r.session = nil
	r.reader = nil
	r.done = nil
	chunks := r.chunks
	r.chunks = nil
	devName := r.devName
	r.devName = ""
	r.mu.Unlock()

	if len(chunks) == 0 {
		return audio.Recording{}, errors.New(errors.NoAudioCaptured, "recorder captured no audio")
	}
	payload, err := audio.ConcatSamples(chunks)
	if err != nil {
		return audio.Recording{}, err
	}

	rec := audio.NewRecording(payload, r.hub.Format(), devName)
	if err := r.enc.SaveRecording(&rec); err != nil {
		return audio.Recording{}, err
	}
	if _, err := r.registry.Put(rec); err != nil {
		return audio.Recording{}, err
	}

	r.log.WithFields(logrus.Fields{
		"path":   rec.Path,
		"frames": len(chunks),
	}).Info("manual recording stopped")
	return rec, nil
}

// IsRecording reports whether a session is active.
func (r *Recorder) IsRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session != nil
}

func (r *Recorder) capture(reader *audio.Reader, stop, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		default:
		}

		frame, err := reader.Read(readTimeout)
		if err != nil {
			if stderrors.Is(err, audio.ErrTimeout) {
				continue
			}
			// stream ended under us
			return
		}

		r.mu.Lock()
		r.chunks = append(r.chunks, frame.Samples)
		r.mu.Unlock()
	}
}

func (r *Recorder) capturedFrames() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.chunks)
}
