package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tailored-agentic-units/relay/observability"
)

// idNamespace seeds the deterministic session identifier space. Changing it
// invalidates every existing session id.
var idNamespace = uuid.MustParse("7a3cfa2e-9c41-4f08-8355-d14f6f642b1d")

// ID derives the session identifier for a caller identity. The same subject
// and signature always map to the same id, across processes and restarts.
// Signature is empty for transports that share one session per subject.
func ID(subject, signature string) string {
	name := make([]byte, 0, len(subject)+len(signature)+1)
	name = append(name, subject...)
	name = append(name, 0)
	name = append(name, signature...)
	return uuid.NewSHA1(idNamespace, name).String()
}

// Info is a read-only view of one stored session.
type Info struct {
	ID        string
	Subject   string
	Signature string
	CreatedAt time.Time
	Messages  int
}

// Option configures a Store after construction.
type Option func(*Store)

// WithObserver overrides the default NoOpObserver.
func WithObserver(o observability.Observer) Option {
	return func(s *Store) { s.observer = o }
}

// WithInstrumentation attaches Prometheus instrumentation.
func WithInstrumentation(m *observability.Metrics) Option {
	return func(s *Store) { s.instruments = m }
}

// Store owns the live sessions of a process, keyed by deterministic id.
type Store struct {
	sessions map[string]*Session
	mu       sync.RWMutex

	observer    observability.Observer
	instruments *observability.Metrics
}

// NewStore creates an empty Store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		sessions: make(map[string]*Session),
		observer: observability.NoOpObserver{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetOrCreate returns the session for the given identity, creating it if
// absent. Concurrent calls for the same identity yield the same session with
// exactly one creation. The second return value reports whether this call
// created the session.
func (s *Store) GetOrCreate(ctx context.Context, subject, signature string) (*Session, bool, error) {
	if subject == "" {
		return nil, false, ErrEmptySubject
	}
	id := ID(subject, signature)

	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if ok {
		s.attached(ctx, sess)
		return sess, false, nil
	}

	s.mu.Lock()
	if sess, ok := s.sessions[id]; ok {
		s.mu.Unlock()
		s.attached(ctx, sess)
		return sess, false, nil
	}
	sess = newSession(id, subject, signature)
	s.sessions[id] = sess
	s.mu.Unlock()

	s.instruments.SessionCreated()
	s.observer.OnEvent(ctx, observability.Event{
		Type:      EventCreated,
		Level:     observability.LevelInfo,
		Timestamp: time.Now(),
		Source:    "session.Store",
		Session:   id,
		Data: map[string]any{
			"subject":       subject,
			"has_signature": signature != "",
		},
	})

	return sess, true, nil
}

// Lookup returns the session with the given id, if stored.
func (s *Store) Lookup(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// Remove drops the session with the given id. Returns whether it existed.
func (s *Store) Remove(ctx context.Context, id string) bool {
	s.mu.Lock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if ok {
		s.instruments.SessionsCleared(1)
		s.observer.OnEvent(ctx, observability.Event{
			Type:      EventRemoved,
			Level:     observability.LevelInfo,
			Timestamp: time.Now(),
			Source:    "session.Store",
			Session:   id,
		})
	}
	return ok
}

// Clear drops every stored session and returns how many were removed.
func (s *Store) Clear(ctx context.Context) int {
	s.mu.Lock()
	count := len(s.sessions)
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()

	s.instruments.SessionsCleared(count)
	s.observer.OnEvent(ctx, observability.Event{
		Type:      EventCleared,
		Level:     observability.LevelInfo,
		Timestamp: time.Now(),
		Source:    "session.Store",
		Data:      map[string]any{"removed": count},
	})
	return count
}

// Len returns the number of stored sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Sessions returns a snapshot of stored sessions ordered by creation time.
func (s *Store) Sessions() []Info {
	s.mu.RLock()
	infos := make([]Info, 0, len(s.sessions))
	for _, sess := range s.sessions {
		infos = append(infos, Info{
			ID:        sess.ID(),
			Subject:   sess.Subject(),
			Signature: sess.Signature(),
			CreatedAt: sess.CreatedAt(),
			Messages:  sess.Len(),
		})
	}
	s.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

func (s *Store) attached(ctx context.Context, sess *Session) {
	s.observer.OnEvent(ctx, observability.Event{
		Type:      EventAttached,
		Level:     observability.LevelVerbose,
		Timestamp: time.Now(),
		Source:    "session.Store",
		Session:   sess.ID(),
	})
}
