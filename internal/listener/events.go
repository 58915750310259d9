package listener

import (
	"time"

	"github.com/wakescribe/platform/internal/audio"
	"github.com/wakescribe/platform/internal/stt"
)

// State identifies where the wake-to-transcript machine is.
type State string

const (
	// StateIdle scores incoming frames against the wake word.
	StateIdle State = "IDLE"
	// StateArmed waits for speech to begin, buffering pre-roll.
	StateArmed State = "ARMED"
	// StateListening accumulates one utterance until speech ends.
	StateListening State = "LISTENING"
	// StateStopped is announced once when the session shuts down.
	StateStopped State = "STOPPED"
)

// EventType tags entries on the session event stream.
type EventType string

const (
	EventStateChange EventType = "state_change"
	EventResult      EventType = "result"
	EventError       EventType = "error"
)

// Event is one entry on the event stream. State is set on state_change
// events, Result on result events and Message on error events.
type Event struct {
	Type      EventType
	State     State
	Result    *Result
	Message   string
	Timestamp time.Time
}

// Result is one finalized utterance: the persisted recording and the
// transcript produced from it.
type Result struct {
	Recording  audio.Recording
	Transcript stt.Transcript
}
