package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tailored-agentic-units/relay/observability"
	"github.com/tailored-agentic-units/relay/protocol"
)

type chatRequest struct {
	Subject string             `json:"subject,omitempty"`
	Message string             `json:"message"`
	History []protocol.Message `json:"history,omitempty"`
}

// handleChat runs one turn and streams its chunks as server-sent events,
// one `data:` line per chunk and a final `data: [DONE]` terminator. The
// caller identity carries no connection signature, so every request for a
// subject lands on the same logical session; client-held history is replayed
// into it before the turn runs.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	subject := strings.TrimSpace(req.Subject)
	if subject == "" {
		subject = DefaultSubject
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sess, _, err := s.relay.Store().GetOrCreate(r.Context(), subject, "")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	stream, err := s.relay.HandleTurn(r.Context(), sess, req.Message, req.History)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	count := 0
	for chunk := range stream.Chunks() {
		if chunk.Terminal() {
			fmt.Fprintf(w, "data: %s\n\n", protocol.TerminalMarker)
			flusher.Flush()
			continue
		}
		data, err := json.Marshal(chunk)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
		count++
	}

	s.observer.OnEvent(r.Context(), observability.Event{
		Type:      EventTurnStreamed,
		Level:     observability.LevelVerbose,
		Timestamp: time.Now(),
		Source:    "transport.handleChat",
		Session:   sess.ID(),
		Data:      map[string]any{"chunks": count},
	})
}
