package domain

import "sync"

// Watchlist is the process-local set of tickers that receive per-ticker
// treatment (streaming subscribe, minute correction, news, fundamentals).
// Symbols are kept in insertion order; the order is not contractual.
type Watchlist struct {
	mu      sync.RWMutex
	order   []string
	members map[string]struct{}
}

// NewWatchlist creates a watchlist seeded with the given symbols
func NewWatchlist(initial []string) *Watchlist {
	w := &Watchlist{members: make(map[string]struct{})}
	w.Add(initial)
	return w
}

// Add inserts symbols (case-normalised) and returns the ones that were
// actually new.
func (w *Watchlist) Add(tickers []string) []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	var added []string
	for _, t := range tickers {
		t = NormalizeTicker(t)
		if t == "" {
			continue
		}
		if _, ok := w.members[t]; ok {
			continue
		}
		w.members[t] = struct{}{}
		w.order = append(w.order, t)
		added = append(added, t)
	}
	return added
}

// Remove deletes symbols and returns the ones that were present
func (w *Watchlist) Remove(tickers []string) []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	var removed []string
	for _, t := range tickers {
		t = NormalizeTicker(t)
		if _, ok := w.members[t]; !ok {
			continue
		}
		delete(w.members, t)
		removed = append(removed, t)
	}
	if len(removed) > 0 {
		kept := w.order[:0]
		for _, t := range w.order {
			if _, ok := w.members[t]; ok {
				kept = append(kept, t)
			}
		}
		w.order = kept
	}
	return removed
}

// List returns a snapshot in insertion order
func (w *Watchlist) List() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, len(w.order))
	copy(out, w.order)
	return out
}

// Len returns the number of symbols
func (w *Watchlist) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.order)
}
