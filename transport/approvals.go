package transport

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/tailored-agentic-units/relay/observability"
)

type approvalRequest struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}

// handleApproval settles a pending approval from outside the streaming turn.
// The decision reason travels to the audit log only; the registry stores just
// the boolean outcome, and the executor composes the client-facing text.
func (s *Server) handleApproval(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusNotFound, "missing approval id")
		return
	}

	var req approvalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !s.relay.Approvals().Resolve(r.Context(), id, req.Approved) {
		writeError(w, http.StatusNotFound, "unknown approval id")
		return
	}

	s.observer.OnEvent(r.Context(), observability.Event{
		Type:      EventApprovalResolved,
		Level:     observability.LevelInfo,
		Timestamp: time.Now(),
		Source:    "transport.handleApproval",
		Data: map[string]any{
			"request_id": id,
			"approved":   req.Approved,
			"reason":     req.Reason,
		},
	})
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": "resolved"})
}
