package client

import (
	"sync"
)

// SlotKey names the credential slot shared by every client context on a device.
const SlotKey = "token"

// Change describes a write to the slot. An empty Value means removal.
type Change struct {
	Key    string
	Value  string
	Origin string
}

// Removed reports whether the change cleared the key.
func (c Change) Removed() bool {
	return c.Value == ""
}

// Storage is a device-wide key/value slot. Writes are tagged with the
// origin that made them and subscribers only hear about writes from other
// origins.
type Storage interface {
	Get(key string) (string, bool, error)
	Set(origin, key, value string) error
	Delete(origin, key string) error
	Subscribe(origin string) (<-chan Change, func())
}

// MemoryStorage keeps the slot in process. Several clients sharing one
// MemoryStorage behave like several tabs of the same browser.
type MemoryStorage struct {
	mu     sync.Mutex
	values map[string]string
	hub    hub
}

var _ Storage = (*MemoryStorage)(nil)

// NewMemoryStorage returns an empty store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: map[string]string{}}
}

func (s *MemoryStorage) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *MemoryStorage) Set(origin, key, value string) error {
	if value == "" {
		return s.Delete(origin, key)
	}
	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()
	s.hub.publish(Change{Key: key, Value: value, Origin: origin})
	return nil
}

func (s *MemoryStorage) Delete(origin, key string) error {
	s.mu.Lock()
	_, existed := s.values[key]
	delete(s.values, key)
	s.mu.Unlock()
	if existed {
		s.hub.publish(Change{Key: key, Origin: origin})
	}
	return nil
}

func (s *MemoryStorage) Subscribe(origin string) (<-chan Change, func()) {
	return s.hub.subscribe(origin)
}

type subscriber struct {
	origin string
	ch     chan Change
}

// hub fans changes out to subscribers of other origins. Slow subscribers
// miss changes rather than block the writer.
type hub struct {
	mu   sync.Mutex
	next int
	subs map[int]subscriber
}

func (h *hub) subscribe(origin string) (<-chan Change, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs == nil {
		h.subs = map[int]subscriber{}
	}
	id := h.next
	h.next++
	ch := make(chan Change, 8)
	h.subs[id] = subscriber{origin: origin, ch: ch}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *hub) publish(change Change) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		if sub.origin == change.Origin {
			continue
		}
		select {
		case sub.ch <- change:
		default:
		}
	}
}
