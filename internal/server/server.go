// Package server exposes the capture pipeline over HTTP and WebSocket.
package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/wakescribe/platform/internal/enhance"
	"github.com/wakescribe/platform/internal/errors"
	"github.com/wakescribe/platform/internal/listener"
	"github.com/wakescribe/platform/internal/recorder"
	"github.com/wakescribe/platform/internal/stt"
	"github.com/wakescribe/platform/internal/trace"
)

// Request bodies.

type TranscribeRequest struct {
	RecordingID string `json:"recording_id"`
}

type EnhanceRequest struct {
	Text        string `json:"text"`
	RecordingID string `json:"recording_id,omitempty"`
}

// Response bodies mirror the wire contract of the REST surface.

type StartRecordingResponse struct {
	Status             string    `json:"status"`
	StartedAt          time.Time `json:"started_at"`
	MaxDurationSeconds float64   `json:"max_duration_seconds"`
}

type RecordingResponse struct {
	RecordingID string    `json:"recording_id"`
	Path        string    `json:"path"`
	CapturedAt  time.Time `json:"captured_at"`
}

type TranscriptResponse struct {
	RecordingID string    `json:"recording_id"`
	Text        string    `json:"text"`
	GeneratedAt time.Time `json:"generated_at"`
}

type EnhanceResponse struct {
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	Tags        []string  `json:"tags"`
	CreatedAt   time.Time `json:"created_at"`
	RecordingID string    `json:"recording_id,omitempty"`
}

type ListenStartResponse struct {
	State     string    `json:"state"`
	StartedAt time.Time `json:"started_at"`
}

type ListenResultResponse struct {
	RecordingID   string    `json:"recording_id"`
	Path          string    `json:"path"`
	Text          string    `json:"text"`
	CapturedAt    time.Time `json:"captured_at"`
	TranscribedAt time.Time `json:"transcribed_at"`
}

type ListenStatusResponse struct {
	IsListening bool   `json:"is_listening"`
	State       string `json:"state"`
}

// Server wires the recorder, listener and inference services to the
// HTTP mux and fans listener events out to WebSocket clients.
type Server struct {
	recorder    *recorder.Recorder
	listener    *listener.Listener
	registry    *recorder.Registry
	transcripts *stt.Service
	notes       *enhance.Service
	log         *logrus.Entry

	mu         sync.RWMutex
	conns      map[*websocket.Conn]struct{}
	rateLimits map[*websocket.Conn]*rateLimiter
}

// New builds the server and starts the listener event broadcaster.
func New(rec *recorder.Recorder, lst *listener.Listener, registry *recorder.Registry, transcripts *stt.Service, notes *enhance.Service) *Server {
	s := &Server{
		recorder:    rec,
		listener:    lst,
		registry:    registry,
		transcripts: transcripts,
		notes:       notes,
		log:         logrus.WithField("component", "server"),
		conns:       make(map[*websocket.Conn]struct{}),
		rateLimits:  make(map[*websocket.Conn]*rateLimiter),
	}

	go s.broadcastListenerEvents()

	return s
}

// Handler returns the HTTP handler with tracing and CORS applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /listen/ws", s.handleListenWS)

	mux.HandleFunc("POST /start_recording", s.handleStartRecording)
	mux.HandleFunc("POST /stop_recording", s.handleStopRecording)
	mux.HandleFunc("POST /transcribe", s.handleTranscribe)
	mux.HandleFunc("POST /enhance", s.handleEnhance)
	mux.HandleFunc("POST /listen/start", s.handleListenStart)
	mux.HandleFunc("POST /listen/stop", s.handleListenStop)
	mux.HandleFunc("GET /listen/status", s.handleListenStatus)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	return corsMiddleware(trace.Middleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleStartRecording(w http.ResponseWriter, r *http.Request) {
	session, err := s.recorder.Start()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StartRecordingResponse{
		Status:             "recording",
		StartedAt:          session.StartedAt,
		MaxDurationSeconds: session.MaxDurationSeconds,
	})
}

func (s *Server) handleStopRecording(w http.ResponseWriter, r *http.Request) {
	rec, err := s.recorder.Stop()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RecordingResponse{
		RecordingID: rec.Path,
		Path:        rec.Path,
		CapturedAt:  rec.CapturedAt,
	})
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	var req TranscribeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.RecordingID == "" {
		writeError(w, r, errors.New(errors.InvalidFormat, "recording_id is required"))
		return
	}

	rec, err := s.registry.Get(req.RecordingID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	transcript, err := s.transcripts.Transcribe(r.Context(), &rec)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TranscriptResponse{
		RecordingID: req.RecordingID,
		Text:        transcript.Text,
		GeneratedAt: transcript.GeneratedAt,
	})
}

func (s *Server) handleEnhance(w http.ResponseWriter, r *http.Request) {
	var req EnhanceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	note, err := s.notes.Enhance(r.Context(), stt.Transcript{Text: req.Text})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, EnhanceResponse{
		Title:       note.Title,
		Body:        note.Body,
		Tags:        note.Tags,
		CreatedAt:   note.CreatedAt,
		RecordingID: req.RecordingID,
	})
}

func (s *Server) handleListenStart(w http.ResponseWriter, r *http.Request) {
	if err := s.listener.Start(); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ListenStartResponse{
		State:     string(s.listener.State()),
		StartedAt: s.listener.StartedAt(),
	})
}

// handleListenStop returns the session's last result, or a JSON null
// when no utterance was captured.
func (s *Server) handleListenStop(w http.ResponseWriter, r *http.Request) {
	res, err := s.listener.Stop()
	if err != nil {
		writeError(w, r, err)
		return
	}
	if res == nil {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, ListenResultResponse{
		RecordingID:   res.Recording.Path,
		Path:          res.Recording.Path,
		Text:          res.Transcript.Text,
		CapturedAt:    res.Recording.CapturedAt,
		TranscribedAt: res.Transcript.GeneratedAt,
	})
}

func (s *Server) handleListenStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ListenStatusResponse{
		IsListening: s.listener.IsListening(),
		State:       string(s.listener.State()),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errors.Wrap(err, errors.InvalidFormat, "malformed request body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the error chain's code onto an HTTP status and a
// detail-style body.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	trace.Logger(r.Context()).WithError(err).Warn("request failed")
	writeJSON(w, errors.HTTPStatusOf(err), map[string]string{"detail": errors.MessageOf(err)})
}
