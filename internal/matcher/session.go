package matcher

import (
	"sync"

	"github.com/JakeFAU/supplier-discovery/internal/crawler"
)

// Session runs Detect for the batches of one crawl run. Product IDs of a
// recorded detection are treated as pending by every later batch of the same
// run. Safe for concurrent use.
type Session struct {
	mu      sync.Mutex
	pending map[string]struct{}
}

// NewSession starts an empty run-scoped session.
func NewSession() *Session {
	return &Session{pending: make(map[string]struct{})}
}

// Detect partitions batch against snap and the session's pending IDs.
func (s *Session) Detect(batch []crawler.DiscoveredURL, snap Snapshot) Detection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return detect(batch, snap, s.pending)
}

// Record marks the new items of det as pending. Call it only once they are
// persisted: a batch that is retried must see its own items as new again.
func (s *Session) Record(det Detection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range det.RecordedIDs {
		s.pending[id] = struct{}{}
	}
}

// Pending returns how many product IDs this session has recorded.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
