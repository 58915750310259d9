// Package enhance turns raw transcripts into titled markdown notes.
package enhance

import (
	"context"
	"strings"
	"time"

	"github.com/wakescribe/platform/internal/errors"
	"github.com/wakescribe/platform/internal/stt"
)

// Note is an enhanced transcript packaged for downstream consumers.
type Note struct {
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Tags      []string  `json:"tags"`
	CreatedAt time.Time `json:"created_at"`
}

// Enhancer rewrites transcript text into a structured note.
type Enhancer interface {
	Enhance(ctx context.Context, text string) (Note, error)
}

// Service guards the enhancer with the transcript preconditions.
type Service struct {
	enhancer Enhancer
}

// NewService wraps an enhancer.
func NewService(e Enhancer) *Service {
	return &Service{enhancer: e}
}

// Enhance rejects empty transcripts and delegates the rest.
func (s *Service) Enhance(ctx context.Context, transcript stt.Transcript) (Note, error) {
	text := strings.TrimSpace(transcript.Text)
	if text == "" {
		return Note{}, errors.New(errors.EmptyTranscript, "transcript text is empty")
	}
	return s.enhancer.Enhance(ctx, text)
}
