package session

import (
	"fmt"

	"github.com/tailored-agentic-units/relay/protocol"
)

// Replay absorbs client-held conversation history into the session. The last
// message in history is the prompt for the turn about to run and is never
// replayed; everything between the replay cursor and that prompt is appended
// with deterministic identifiers, so replaying the same history twice is a
// no-op regardless of what ids the client sent.
//
// Returns the number of messages applied. A history shorter than the replay
// cursor is rejected with ErrHistoryRegression and leaves the session
// untouched.
func (s *Session) Replay(history []protocol.Message) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(history) < s.replayed {
		return 0, fmt.Errorf("%w: got %d messages, already replayed %d",
			ErrHistoryRegression, len(history), s.replayed)
	}

	applied := 0
	for i := s.replayed; i < len(history)-1; i++ {
		msg := history[i]
		msg.ID = ReplayMessageID(i, msg.Role)
		s.messages = append(s.messages, msg)
		applied++
	}
	if applied > 0 {
		s.replayed = len(history) - 1
	}

	return applied, nil
}

// ReplayMessageID returns the deterministic identifier assigned to the
// history message at the given replay index.
func ReplayMessageID(index int, role protocol.Role) string {
	return fmt.Sprintf("replay-%d-%s", index, role)
}
