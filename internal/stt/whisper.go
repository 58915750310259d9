package stt

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wakescribe/platform/internal/audio"
	"github.com/wakescribe/platform/internal/encoder"
	"github.com/wakescribe/platform/internal/errors"
	"github.com/wakescribe/platform/internal/metrics"
	"github.com/wakescribe/platform/internal/resilience"
	"github.com/wakescribe/platform/internal/trace"
)

const (
	inferencePath     = "/inference"
	maxErrorBodyBytes = 4 << 10
)

// Config carries the whisper-server connection settings.
type Config struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Whisper uploads recordings to a whisper-server instance. Non-WAV
// recordings are re-encoded first so the upstream always receives a
// container it accepts.
type Whisper struct {
	baseURL string
	model   string
	client  *http.Client
	enc     encoder.Encoder
	breaker *resilience.Breaker
	retry   resilience.RetryConfig
	log     *logrus.Entry
}

// NewWhisper builds the adapter around an encoder used for on-the-fly
// conversion of recordings the upstream cannot ingest directly.
func NewWhisper(cfg Config, enc encoder.Encoder) *Whisper {
	retry := resilience.DefaultRetryConfig()
	// An open breaker already knows the upstream is down; retrying
	// inside the same call only delays the caller.
	retry.IsRetryable = func(err error) bool {
		if stderrors.Is(err, resilience.ErrOpen) {
			return false
		}
		return resilience.IsRetryableHTTP(err)
	}
	return &Whisper{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		client:  &http.Client{Timeout: cfg.Timeout},
		enc:     enc,
		breaker: resilience.New("whisper", resilience.STTBreakerConfig()),
		retry:   retry,
		log:     logrus.WithField("component", "stt"),
	}
}

// TranscribeRecording persists the recording if needed, uploads the
// file and returns the recognized text. Upstream failures surface as
// TranscribeFailed after retries and the circuit breaker have run.
func (w *Whisper) TranscribeRecording(ctx context.Context, rec *audio.Recording) (Transcript, error) {
	path, err := w.uploadablePath(rec)
	if err != nil {
		return Transcript{}, err
	}
	body, contentType, err := multipartBody(path, w.model)
	if err != nil {
		return Transcript{}, err
	}

	var text string
	err = resilience.Retry(ctx, w.retry, func() error {
		return w.breaker.Execute(func() error {
			got, err := w.upload(ctx, body, contentType)
			if err != nil {
				return err
			}
			text = got
			return nil
		})
	})
	if err != nil {
		return Transcript{}, errors.Wrap(err, errors.TranscribeFailed, "whisper upstream").
			WithMetadata("path", path)
	}

	w.log.WithFields(logrus.Fields{
		"path":  path,
		"chars": len(text),
	}).Info("transcription complete")
	return Transcript{Text: text, GeneratedAt: time.Now().UTC()}, nil
}

// uploadablePath resolves the file to send. In-memory recordings are
// persisted first; files outside the configured container are
// converted under the tmp dir.
func (w *Whisper) uploadablePath(rec *audio.Recording) (string, error) {
	if rec.Path == "" {
		if err := w.enc.SaveRecording(rec); err != nil {
			return "", err
		}
	}
	path := rec.Path
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		return path, nil
	}
	w.log.WithField("path", path).Debug("converting recording before upload")
	return w.enc.ConvertFile(path, "")
}

func (w *Whisper) upload(ctx context.Context, body []byte, contentType string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+inferencePath, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentType)
	trace.InjectHeaders(req)

	start := time.Now()
	resp, err := w.client.Do(req)
	if err != nil {
		metrics.UpstreamRequest("whisper", "error", time.Since(start).Seconds())
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.UpstreamRequest("whisper", "error", time.Since(start).Seconds())
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return "", &resilience.HTTPStatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(detail))}
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		metrics.UpstreamRequest("whisper", "error", time.Since(start).Seconds())
		return "", errors.Wrap(err, errors.TranscribeFailed, "decode whisper response")
	}
	metrics.UpstreamRequest("whisper", "success", time.Since(start).Seconds())
	return strings.TrimSpace(out.Text), nil
}

// multipartBody builds the upload form once so retries can replay it.
func multipartBody(path, model string) ([]byte, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", errors.Wrapf(err, errors.NotFound, "recording file %s", path)
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, "", errors.Wrap(err, errors.Internal, "build upload form")
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", errors.Wrap(err, errors.Internal, "build upload form")
	}
	if err := mw.WriteField("response_format", "json"); err != nil {
		return nil, "", errors.Wrap(err, errors.Internal, "build upload form")
	}
	if model != "" {
		if err := mw.WriteField("model", model); err != nil {
			return nil, "", errors.Wrap(err, errors.Internal, "build upload form")
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", errors.Wrap(err, errors.Internal, "build upload form")
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}
