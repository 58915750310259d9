// Package stt turns persisted recordings into transcripts.
package stt

import (
	"context"
	"time"

	"github.com/wakescribe/platform/internal/audio"
	"github.com/wakescribe/platform/internal/errors"
)

// Transcript is the text produced from one recording.
type Transcript struct {
	Text          string    `json:"text"`
	RecordingPath string    `json:"recording_path,omitempty"`
	GeneratedAt   time.Time `json:"generated_at"`
}

// Transcriber converts a recording into text.
type Transcriber interface {
	TranscribeRecording(ctx context.Context, rec *audio.Recording) (Transcript, error)
}

// Service guards the transcriber with the recording preconditions.
type Service struct {
	transcriber Transcriber
}

// NewService wraps a transcriber.
func NewService(t Transcriber) *Service {
	return &Service{transcriber: t}
}

// Transcribe validates the recording, delegates, and copies the
// recording path onto the transcript when the adapter left it empty.
func (s *Service) Transcribe(ctx context.Context, rec *audio.Recording) (Transcript, error) {
	if rec == nil || (!rec.HasData() && rec.Path == "") {
		return Transcript{}, errors.New(errors.InvalidRecording, "recording must include audio data or a saved path")
	}
	transcript, err := s.transcriber.TranscribeRecording(ctx, rec)
	if err != nil {
		return Transcript{}, err
	}
	if transcript.RecordingPath == "" && rec.Path != "" {
		transcript.RecordingPath = rec.Path
	}
	return transcript, nil
}
