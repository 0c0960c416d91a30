package session

import (
	"slices"
	"sort"
	"strings"
	"sync"
)

// Entry is a key-value pair in the session state bag. Keys are /-separated
// hierarchical paths and values are raw bytes.
type Entry struct {
	Key   string
	Value []byte
}

// State is a hierarchical key-value bag scoped to one session. Writes made
// during an open turn land in an overlay that is merged on Commit or dropped
// on Discard, so a failed turn leaves no partial state behind. All methods
// are safe for concurrent use.
type State struct {
	values  map[string][]byte
	overlay map[string][]byte
	removed map[string]bool
	open    bool
	mu      sync.RWMutex
}

// NewState creates an empty State.
func NewState() *State {
	return &State{
		values:  make(map[string][]byte),
		overlay: make(map[string][]byte),
		removed: make(map[string]bool),
	}
}

// BeginTurn opens a turn overlay. Subsequent writes stay pending until
// Commit or Discard. Opening a turn while one is open discards the pending
// writes of the previous turn first.
func (s *State) BeginTurn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overlay = make(map[string][]byte)
	s.removed = make(map[string]bool)
	s.open = true
}

// Commit merges the open turn's writes into committed state and closes the
// turn. A no-op when no turn is open.
func (s *State) Commit() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return
	}
	for key, value := range s.overlay {
		s.values[key] = value
	}
	for key := range s.removed {
		delete(s.values, key)
	}
	s.overlay = make(map[string][]byte)
	s.removed = make(map[string]bool)
	s.open = false
}

// Discard drops the open turn's writes and closes the turn. A no-op when no
// turn is open.
func (s *State) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return
	}
	s.overlay = make(map[string][]byte)
	s.removed = make(map[string]bool)
	s.open = false
}

// InTurn reports whether a turn overlay is open.
func (s *State) InTurn() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.open
}

// Get returns the value for key, reading through the open turn overlay.
func (s *State) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.open {
		if s.removed[key] {
			return nil, false
		}
		if val, ok := s.overlay[key]; ok {
			return slices.Clone(val), true
		}
	}
	val, ok := s.values[key]
	if !ok {
		return nil, false
	}
	return slices.Clone(val), true
}

// Set stores a value for key. During an open turn the write is pending until
// Commit.
func (s *State) Set(key string, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.open {
		s.overlay[key] = slices.Clone(value)
		delete(s.removed, key)
		return
	}
	s.values[key] = slices.Clone(value)
}

// Delete removes a key. During an open turn the removal is pending until
// Commit.
func (s *State) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.open {
		delete(s.overlay, key)
		s.removed[key] = true
		return
	}
	delete(s.values, key)
}

// Has reports whether key is visible, reading through the open turn overlay.
func (s *State) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.open {
		if s.removed[key] {
			return false
		}
		if _, ok := s.overlay[key]; ok {
			return true
		}
	}
	_, ok := s.values[key]
	return ok
}

// Keys returns all visible keys in sorted order.
func (s *State) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool, len(s.values)+len(s.overlay))
	for key := range s.values {
		seen[key] = true
	}
	if s.open {
		for key := range s.overlay {
			seen[key] = true
		}
		for key := range s.removed {
			delete(seen, key)
		}
	}

	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Entries returns visible entries under the given key prefix in sorted order.
func (s *State) Entries(prefix string) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	merged := make(map[string][]byte)
	for key, val := range s.values {
		if strings.HasPrefix(key, prefix) {
			merged[key] = val
		}
	}
	if s.open {
		for key, val := range s.overlay {
			if strings.HasPrefix(key, prefix) {
				merged[key] = val
			}
		}
		for key := range s.removed {
			delete(merged, key)
		}
	}

	entries := make([]Entry, 0, len(merged))
	for key, val := range merged {
		entries = append(entries, Entry{Key: key, Value: slices.Clone(val)})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Key < entries[j].Key
	})
	return entries
}

// Reset drops all committed and pending state.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = make(map[string][]byte)
	s.overlay = make(map[string][]byte)
	s.removed = make(map[string]bool)
	s.open = false
}
