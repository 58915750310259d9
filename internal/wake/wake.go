// Package wake scores the capture stream against wake-word models.
// The detector arms the listener: a frame whose score clears the
// threshold switches the state machine out of IDLE.
package wake

import "github.com/wakescribe/platform/internal/audio"

// Event is the outcome of scoring one frame.
type Event struct {
	Detected bool
	Scores   map[string]float64
}

// Detector consumes capture frames of any size and reports per-model
// wake scores. Implementations are stateful across frames and not safe
// for concurrent use. Reset clears detection state so a stale peak
// cannot re-trigger.
type Detector interface {
	Detect(frame audio.Frame) (Event, error)
	Reset() error
	Close() error
	// Models lists the wake-word model names being scored.
	Models() []string
}
