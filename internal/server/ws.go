package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/wakescribe/platform/internal/errors"
	"github.com/wakescribe/platform/internal/listener"
	"github.com/wakescribe/platform/internal/trace"
)

// WebSocket message types.

type Command struct {
	Action string `json:"action"`
}

type ConnectedMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type StateMessage struct {
	Type      string    `json:"type"`
	State     string    `json:"state"`
	Timestamp time.Time `json:"timestamp"`
}

type ResultMessage struct {
	Type          string    `json:"type"`
	RecordingID   string    `json:"recording_id"`
	Path          string    `json:"path"`
	Text          string    `json:"text"`
	CapturedAt    time.Time `json:"captured_at"`
	TranscribedAt time.Time `json:"transcribed_at"`
}

type ErrorMessage struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// rateLimiter tracks command timestamps over a sliding window.
type rateLimiter struct {
	mu         sync.Mutex
	timestamps []time.Time
}

// allow checks whether a command fits the window and records it if so.
func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-RateLimitWindow)

	valid := r.timestamps[:0]
	for _, t := range r.timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	r.timestamps = valid

	if len(r.timestamps) >= RateLimitMessages {
		return false
	}

	r.timestamps = append(r.timestamps, now)
	return true
}

// handleListenWS upgrades the connection, greets the client and serves
// start/stop commands. Session events arrive through the broadcaster,
// so every connected client observes the same stream.
func (s *Server) handleListenWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.WithError(err).Error("websocket accept failed")
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	s.register(conn)
	defer s.unregister(conn)

	ctx := r.Context()
	log := trace.Logger(ctx)
	log.WithField("remote", r.RemoteAddr).Info("websocket connected")

	if err := wsjson.Write(ctx, conn, ConnectedMessage{Type: "connected", Message: connectedHint}); err != nil {
		return
	}

	for {
		var raw json.RawMessage
		if err := wsjson.Read(ctx, conn, &raw); err != nil {
			log.WithError(err).Debug("websocket closed")
			return
		}

		if !s.limiterFor(conn).allow() {
			log.WithField("remote", r.RemoteAddr).Warn("rate limit exceeded")
			s.sendError(ctx, conn, "rate limit exceeded")
			continue
		}

		var cmd Command
		if err := json.Unmarshal(raw, &cmd); err != nil || (cmd.Action != "start" && cmd.Action != "stop") {
			s.sendError(ctx, conn, `invalid command: expected {"action": "start"} or {"action": "stop"}`)
			continue
		}

		cmdLog := log
		if tc, ok := trace.ExtractFromJSON(raw); ok {
			cmdLog = log.WithFields(tc.Fields())
		}
		cmdLog.WithField("action", cmd.Action).Debug("websocket command")

		switch cmd.Action {
		case "start":
			if err := s.listener.Start(); err != nil {
				s.sendError(ctx, conn, errors.MessageOf(err))
				continue
			}
			_ = wsjson.Write(ctx, conn, StateMessage{
				Type:      "state_change",
				State:     string(s.listener.State()),
				Timestamp: time.Now().UTC(),
			})
		case "stop":
			// the STOPPED state_change reaches clients via the broadcaster
			if _, err := s.listener.Stop(); err != nil {
				s.sendError(ctx, conn, errors.MessageOf(err))
			}
		}
	}
}

func (s *Server) sendError(ctx context.Context, conn *websocket.Conn, msg string) {
	_ = wsjson.Write(ctx, conn, ErrorMessage{Type: "error", Message: msg, Timestamp: time.Now().UTC()})
}

func (s *Server) register(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[conn] = struct{}{}
	s.rateLimits[conn] = &rateLimiter{}
}

func (s *Server) unregister(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
	delete(s.rateLimits, conn)
}

func (s *Server) limiterFor(conn *websocket.Conn) *rateLimiter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rateLimits[conn]
}

// broadcastListenerEvents pumps session events to every client for the
// life of the process.
func (s *Server) broadcastListenerEvents() {
	for ev := range s.listener.Events() {
		msg := eventMessage(ev)
		if msg == nil {
			continue
		}

		s.mu.RLock()
		for conn := range s.conns {
			go func(c *websocket.Conn, m any) {
				_ = wsjson.Write(context.Background(), c, m)
			}(conn, msg)
		}
		s.mu.RUnlock()
	}
}

// eventMessage converts a session event to its wire form.
func eventMessage(ev listener.Event) any {
	switch ev.Type {
	case listener.EventStateChange:
		return StateMessage{Type: "state_change", State: string(ev.State), Timestamp: ev.Timestamp}
	case listener.EventResult:
		res := ev.Result
		return ResultMessage{
			Type:          "result",
			RecordingID:   res.Recording.Path,
			Path:          res.Recording.Path,
			Text:          res.Transcript.Text,
			CapturedAt:    res.Recording.CapturedAt,
			TranscribedAt: res.Transcript.GeneratedAt,
		}
	case listener.EventError:
		return ErrorMessage{Type: "error", Message: ev.Message, Timestamp: ev.Timestamp}
	default:
		return nil
	}
}
