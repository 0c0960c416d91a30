// Package session manages conversation state keyed by caller identity. A
// Store hands out sessions with deterministic identifiers so that every
// transport carrying the same caller lands on the same conversation, and a
// replicator rebuilds runtime history from client-held messages after a
// transport switch.
package session

import (
	"slices"
	"sync"
	"time"

	"github.com/tailored-agentic-units/relay/protocol"
)

// Session holds an ordered conversation history plus scratch state for one
// caller identity. All methods are safe for concurrent use.
type Session struct {
	id        string
	subject   string
	signature string
	createdAt time.Time

	messages []protocol.Message
	replayed int
	state    *State

	mu sync.RWMutex
}

func newSession(id, subject, signature string) *Session {
	return &Session{
		id:        id,
		subject:   subject,
		signature: signature,
		createdAt: time.Now(),
		state:     NewState(),
	}
}

// ID returns the deterministic session identifier.
func (s *Session) ID() string {
	return s.id
}

// Subject returns the caller identity the session is keyed by.
func (s *Session) Subject() string {
	return s.subject
}

// Signature returns the connection signature component of the identity.
// Empty for transports that share one session across connections.
func (s *Session) Signature() string {
	return s.signature
}

// CreatedAt returns the session creation time.
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// State returns the session's key-value state bag.
func (s *Session) State() *State {
	return s.state
}

// AddMessage appends a message to the conversation history.
func (s *Session) AddMessage(msg protocol.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
}

// Messages returns a defensive copy of the conversation history.
func (s *Session) Messages() []protocol.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	copied := make([]protocol.Message, len(s.messages))
	for i, msg := range s.messages {
		copied[i] = msg
		copied[i].ToolCalls = slices.Clone(msg.ToolCalls)
	}
	return copied
}

// Len returns the number of messages in the history.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// ReplayedCount returns how many client-held messages have been absorbed
// into this session by Replay.
func (s *Session) ReplayedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.replayed
}

// Clear resets the conversation history, the replay counter, and all session
// state.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
	s.replayed = 0
	s.state.Reset()
}
