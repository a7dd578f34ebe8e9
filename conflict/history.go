package conflict

import "sync"

// History keeps per-key conflict lists, most-recent-first, capped at
// maxEntries. Insertion is O(1) amortized (prepend plus truncate).
type History struct {
	mu         sync.Mutex
	maxEntries int
	byKey      map[string][]Item
}

// NewHistory returns a History capped at maxEntries per key.
func NewHistory(maxEntries int) *History {
	if maxEntries <= 0 {
		maxEntries = 100
	}
	return &History{
		maxEntries: maxEntries,
		byKey:      make(map[string][]Item),
	}
}

// Add prepends item to the key's list and truncates to the cap.
func (h *History) Add(key string, item Item) {
	h.mu.Lock()
	defer h.mu.Unlock()

	list := append([]Item{item}, h.byKey[key]...)
	if len(list) > h.maxEntries {
		list = list[:h.maxEntries]
	}
	h.byKey[key] = list
}

// Get returns a copy of the key's list, most recent first.
func (h *History) Get(key string) []Item {
	h.mu.Lock()
	defer h.mu.Unlock()

	list := h.byKey[key]
	out := make([]Item, len(list))
	copy(out, list)
	return out
}

// MarkResolved flips the status of the item with the given ID wherever it
// appears. A resolved item is not removed from history, only marked.
func (h *History) MarkResolved(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for key, list := range h.byKey {
		for i, item := range list {
			if item.ID == id {
				list[i].Status = StatusResolved
				h.byKey[key] = list
			}
		}
	}
}
