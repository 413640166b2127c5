package feeds

import (
	"sort"
	"strings"
	"sync"
)

// Feed status strings, reported through the control surface
const (
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
)

// Set tracks one feed's subscription state: symbols subscribed on the
// wire (active) and symbols retained until the next authentication
// (pending). All symbols are normalised to uppercase.
type Set struct {
	mu      sync.Mutex
	active  map[string]bool
	pending map[string]bool
}

// NewSet creates an empty subscription set
func NewSet() *Set {
	return &Set{
		active:  make(map[string]bool),
		pending: make(map[string]bool),
	}
}

func normalize(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Diff returns the symbols not yet tracked (neither active nor
// pending), uppercased. Subscribing is idempotent: already-tracked
// symbols come back empty.
func (s *Set) Diff(symbols []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, sym := range normalize(symbols) {
		if !s.active[sym] && !s.pending[sym] {
			out = append(out, sym)
		}
	}
	return out
}

// MarkActive records symbols as subscribed on the wire
func (s *Set) MarkActive(symbols []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sym := range normalize(symbols) {
		delete(s.pending, sym)
		s.active[sym] = true
	}
}

// MarkPending retains symbols for the next authentication
func (s *Set) MarkPending(symbols []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sym := range normalize(symbols) {
		if !s.active[sym] {
			s.pending[sym] = true
		}
	}
}

// Reset moves every active symbol back to pending; called when the
// connection drops so the next auth re-subscribes the full set.
func (s *Set) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sym := range s.active {
		s.pending[sym] = true
		delete(s.active, sym)
	}
}

// Remove drops symbols from both states and returns those that were
// active on the wire (the ones needing a wire-level unsubscribe).
func (s *Set) Remove(symbols []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var wasActive []string
	for _, sym := range normalize(symbols) {
		if s.active[sym] {
			wasActive = append(wasActive, sym)
		}
		delete(s.active, sym)
		delete(s.pending, sym)
	}
	return wasActive
}

// All returns the union of active and pending symbols, sorted
func (s *Set) All() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.active)+len(s.pending))
	for sym := range s.active {
		out = append(out, sym)
	}
	for sym := range s.pending {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Len reports the number of tracked symbols
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active) + len(s.pending)
}
