// Package transport exposes the relay over HTTP: a server-sent-events chat
// endpoint, an out-of-band approval resolution endpoint, a websocket carrying
// bidirectional frames, and the operational endpoints. Every transport shares
// one relay, so an approval posted over HTTP settles a wait started by a turn
// streaming on either transport.
package transport

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tailored-agentic-units/relay/observability"
	"github.com/tailored-agentic-units/relay/relay"
)

// DefaultSubject keys sessions for callers that supply no subject.
const DefaultSubject = "anonymous"

// Option configures a Server.
type Option func(*Server)

// WithObserver overrides the default NoOpObserver.
func WithObserver(o observability.Observer) Option {
	return func(s *Server) { s.observer = o }
}

// Server adapts the relay to HTTP transports.
type Server struct {
	relay    *relay.Relay
	observer observability.Observer
	upgrader websocket.Upgrader
}

// NewServer creates a Server around the relay.
func NewServer(r *relay.Relay, opts ...Option) *Server {
	s := &Server{
		relay:    r,
		observer: observability.NoOpObserver{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler assembles the HTTP mux: chat, approvals, sessions administration,
// the websocket, and the operational endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)

	mux.HandleFunc("POST /v1/chat", s.handleChat)
	mux.HandleFunc("POST /v1/approvals/{id}", s.handleApproval)
	mux.HandleFunc("GET /v1/sessions", s.handleSessionsList)
	mux.HandleFunc("DELETE /v1/sessions", s.handleSessionsClear)

	mux.HandleFunc("/ws", s.handleSocket)

	return mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

type sessionInfo struct {
	ID        string    `json:"id"`
	Subject   string    `json:"subject"`
	CreatedAt time.Time `json:"createdAt"`
	Messages  int       `json:"messages"`
}

func (s *Server) handleSessionsList(w http.ResponseWriter, r *http.Request) {
	stored := s.relay.Store().Sessions()
	infos := make([]sessionInfo, len(stored))
	for i, info := range stored {
		infos[i] = sessionInfo{
			ID:        info.ID,
			Subject:   info.Subject,
			CreatedAt: info.CreatedAt,
			Messages:  info.Messages,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": infos})
}

func (s *Server) handleSessionsClear(w http.ResponseWriter, r *http.Request) {
	removed := s.relay.Store().Clear(r.Context())

	s.observer.OnEvent(r.Context(), observability.Event{
		Type:      EventSessionsCleared,
		Level:     observability.LevelInfo,
		Timestamp: time.Now(),
		Source:    "transport.handleSessionsClear",
		Data:      map[string]any{"removed": removed},
	})
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
