package spam

import (
	"sync"
	"time"
)

// Entry is one fingerprinted message in a user's window.
type Entry struct {
	Hash      Hash
	ChannelID string
	At        time.Time
}

type window struct {
	mu      sync.Mutex
	entries []Entry
}

// prune drops entries at or before now-horizon. Entries normally arrive in
// time order, so stale ones sit at the head; a stale entry found past the
// head forces a filtered copy.
func (w *window) prune(now time.Time, horizon time.Duration) {
	cutoff := now.Add(-horizon)
	idx := 0
	for _, entry := range w.entries {
		if entry.At.After(cutoff) {
			break
		}
		idx++
	}
	if idx == len(w.entries) {
		w.entries = nil
		return
	}
	w.entries = w.entries[idx:]

	for i, entry := range w.entries {
		if entry.At.After(cutoff) {
			continue
		}
		kept := make([]Entry, i, len(w.entries))
		copy(kept, w.entries[:i])
		for _, rest := range w.entries[i+1:] {
			if rest.At.After(cutoff) {
				kept = append(kept, rest)
			}
		}
		w.entries = kept
		return
	}
}

func (w *window) hasActivity(now time.Time, horizon time.Duration) bool {
	cutoff := now.Add(-horizon)
	for i := len(w.entries) - 1; i >= 0; i-- {
		if w.entries[i].At.After(cutoff) {
			return true
		}
	}
	return false
}
