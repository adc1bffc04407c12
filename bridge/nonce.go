package bridge

import "sync"

// DefaultNonceCapacity is the number of request nonces remembered per session.
const DefaultNonceCapacity = 512

// NonceTracker remembers recently seen request nonces so a bridge-request can
// be processed at most once. Memory is bounded: once the capacity is exceeded
// the oldest nonce is forgotten, so replay protection only covers a recent
// window.
type NonceTracker struct {
	mu       sync.Mutex
	capacity int
	ring     []string
	head     int
	seen     map[string]struct{}
}

// NewNonceTracker creates a tracker. A capacity <= 0 selects DefaultNonceCapacity.
func NewNonceTracker(capacity int) *NonceTracker {
	if capacity <= 0 {
		capacity = DefaultNonceCapacity
	}
	return &NonceTracker{
		capacity: capacity,
		ring:     make([]string, 0, capacity),
		seen:     make(map[string]struct{}, capacity),
	}
}

// Track records nonce and reports whether it was new. A repeat returns false
// and leaves the tracker unchanged.
func (t *NonceTracker) Track(nonce string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.seen[nonce]; ok {
		return false
	}
	t.seen[nonce] = struct{}{}

	if len(t.ring) < t.capacity {
		t.ring = append(t.ring, nonce)
		return true
	}

	// Full: overwrite the oldest slot.
	delete(t.seen, t.ring[t.head])
	t.ring[t.head] = nonce
	t.head = (t.head + 1) % t.capacity
	return true
}

// Reset forgets every tracked nonce. Called whenever the session rotates.
func (t *NonceTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ring = t.ring[:0]
	t.head = 0
	t.seen = make(map[string]struct{}, t.capacity)
}

// Len returns the number of tracked nonces.
func (t *NonceTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.seen)
}

// Capacity returns the configured bound.
func (t *NonceTracker) Capacity() int {
	return t.capacity
}
