package enhance

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wakescribe/platform/internal/errors"
	"github.com/wakescribe/platform/internal/metrics"
	"github.com/wakescribe/platform/internal/resilience"
	"github.com/wakescribe/platform/internal/trace"
)

const (
	completionsPath   = "/chat/completions"
	maxErrorBodyBytes = 4 << 10

	// tag bounds the model must satisfy
	minTags = 3
	maxTags = 5

	systemPrompt = "You clean up spoken transcripts into clear Markdown and extract a title " +
		"and 3-5 topical tags from the content. Respond with a single JSON object holding " +
		`"title", "body" and "tags" keys, where "body" is the polished Markdown.`
)

// Config carries the chat-completions connection settings.
type Config struct {
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// LLM talks to an OpenAI-compatible chat-completions endpoint and
// parses the structured note out of the model's reply.
type LLM struct {
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	client      *http.Client
	breaker     *resilience.Breaker
	retry       resilience.RetryConfig
	log         *logrus.Entry
}

// NewLLM builds the adapter.
func NewLLM(cfg Config) *LLM {
	retry := resilience.LLMRetryConfig()
	// An open breaker already knows the upstream is down; retrying
	// inside the same call only delays the caller.
	retry.IsRetryable = func(err error) bool {
		if stderrors.Is(err, resilience.ErrOpen) {
			return false
		}
		return resilience.IsRetryableHTTP(err)
	}
	return &LLM{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		client:      &http.Client{Timeout: cfg.Timeout},
		breaker:     resilience.New("llm", resilience.LLMBreakerConfig()),
		retry:       retry,
		log:         logrus.WithField("component", "enhance"),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
	Messages       []chatMessage   `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type noteContent struct {
	Title string   `json:"title"`
	Body  string   `json:"body"`
	Tags  []string `json:"tags"`
}

// Enhance sends the transcript through the completion endpoint. A
// malformed reply counts as a failed attempt so the retry loop asks
// the model again.
func (l *LLM) Enhance(ctx context.Context, text string) (Note, error) {
	payload, err := json.Marshal(chatRequest{
		Model:          l.model,
		Temperature:    l.temperature,
		MaxTokens:      l.maxTokens,
		ResponseFormat: &responseFormat{Type: "json_object"},
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: text},
		},
	})
	if err != nil {
		return Note{}, errors.Wrap(err, errors.Internal, "encode completion request")
	}

	var note Note
	err = resilience.Retry(ctx, l.retry, func() error {
		return l.breaker.Execute(func() error {
			got, err := l.complete(ctx, payload)
			if err != nil {
				return err
			}
			note = got
			return nil
		})
	})
	if err != nil {
		return Note{}, errors.Wrap(err, errors.EnhanceFailed, "llm upstream")
	}

	l.log.WithFields(logrus.Fields{
		"title": note.Title,
		"tags":  len(note.Tags),
	}).Info("transcript enhanced")
	return note, nil
}

func (l *LLM) complete(ctx context.Context, payload []byte) (Note, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+completionsPath, bytes.NewReader(payload))
	if err != nil {
		return Note{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer not-needed")
	trace.InjectHeaders(req)

	start := time.Now()
	resp, err := l.client.Do(req)
	if err != nil {
		metrics.UpstreamRequest("llm", "error", time.Since(start).Seconds())
		return Note{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.UpstreamRequest("llm", "error", time.Since(start).Seconds())
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return Note{}, &resilience.HTTPStatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(detail))}
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		metrics.UpstreamRequest("llm", "error", time.Since(start).Seconds())
		return Note{}, errors.Wrap(err, errors.EnhanceFailed, "decode completion response")
	}
	metrics.UpstreamRequest("llm", "success", time.Since(start).Seconds())

	if len(out.Choices) == 0 {
		return Note{}, errors.New(errors.EnhanceFailed, "completion returned no choices")
	}
	return parseNote(out.Choices[0].Message.Content)
}

// parseNote validates the model's structured reply.
func parseNote(content string) (Note, error) {
	var nc noteContent
	if err := json.Unmarshal([]byte(extractJSON(content)), &nc); err != nil {
		return Note{}, errors.Wrap(err, errors.EnhanceFailed, "parse model output")
	}
	title := strings.TrimSpace(nc.Title)
	body := strings.TrimSpace(nc.Body)
	tags := make([]string, 0, len(nc.Tags))
	for _, tag := range nc.Tags {
		if t := strings.TrimSpace(tag); t != "" {
			tags = append(tags, t)
		}
	}
	if title == "" {
		return Note{}, errors.New(errors.EnhanceFailed, "model returned an empty title")
	}
	if body == "" {
		return Note{}, errors.New(errors.EnhanceFailed, "model returned an empty note body")
	}
	if len(tags) < minTags || len(tags) > maxTags {
		return Note{}, errors.Newf(errors.EnhanceFailed,
			"model returned %d tags, want between %d and %d", len(tags), minTags, maxTags)
	}
	return Note{Title: title, Body: body, Tags: tags, CreatedAt: time.Now().UTC()}, nil
}

// extractJSON strips the markdown fence some models wrap around JSON
// replies even when a json response format was requested.
func extractJSON(content string) string {
	s := strings.TrimSpace(content)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
