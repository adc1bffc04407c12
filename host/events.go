package host

import (
	"sort"
	"sync"
)

// EventType discriminates host events.
type EventType int

const (
	EventStateChanged EventType = iota
	EventSessionChanged
	EventConfigChanged
	EventSaved
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventStateChanged:
		return "state-changed"
	case EventSessionChanged:
		return "session-changed"
	case EventConfigChanged:
		return "config-changed"
	case EventSaved:
		return "saved"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is published to subscribers. Only the fields relevant to Type are set.
type Event struct {
	Type    EventType
	State   State
	Session SessionContext
	Config  map[string]any
	Err     error
}

type subscribers struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(Event)
}

func (s *subscribers) add(fn func(Event)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fns == nil {
		s.fns = make(map[int]func(Event))
	}
	id := s.next
	s.next++
	s.fns[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.fns, id)
		s.mu.Unlock()
	}
}

// publish calls subscribers in subscription order. Never call with Host.mu held.
func (s *subscribers) publish(ev Event) {
	s.mu.Lock()
	ids := make([]int, 0, len(s.fns))
	for id := range s.fns {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.fns[id])
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
