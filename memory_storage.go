package pstate

import "sync"

// MemoryStorage is a minimal in-memory Storage implementation intended for
// tests, examples, and persistence-free operation. It never fails.
type MemoryStorage struct {
	mu      sync.RWMutex
	records map[string]string
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{records: map[string]string{}}
}

func (s *MemoryStorage) Read(key string) (string, bool, error) {
	s.mu.RLock()
	value, ok := s.records[key]
	s.mu.RUnlock()
	return value, ok, nil
}

func (s *MemoryStorage) Write(key, value string) error {
	s.mu.Lock()
	s.records[key] = value
	s.mu.Unlock()
	return nil
}

func (s *MemoryStorage) Remove(key string) error {
	s.mu.Lock()
	delete(s.records, key)
	s.mu.Unlock()
	return nil
}

// Broadcaster fans change events out between execution contexts that share a
// Storage within one process. Each context attaches through Connect; a
// context never observes its own writes, matching how host environments
// deliver storage events only to other contexts.
type Broadcaster struct {
	mu       sync.Mutex
	nextConn int
	nextSub  int
	subs     map[int]broadcastSub
}

type broadcastSub struct {
	key  string
	conn int
	fn   func(ExternalChange)
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: map[int]broadcastSub{}}
}

// Connect wraps backend for one execution context. The returned Conn is both
// a Storage (writes publish change events) and an EventSource (subscriptions
// skip this context's own writes).
func (b *Broadcaster) Connect(backend Storage) *Conn {
	b.mu.Lock()
	id := b.nextConn
	b.nextConn++
	b.mu.Unlock()
	return &Conn{id: id, broadcaster: b, backend: backend}
}

func (b *Broadcaster) publish(origin int, change ExternalChange) {
	b.mu.Lock()
	targets := make([]func(ExternalChange), 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.conn == origin || sub.key != change.Key {
			continue
		}
		targets = append(targets, sub.fn)
	}
	b.mu.Unlock()
	for _, fn := range targets {
		fn(change)
	}
}

func (b *Broadcaster) subscribe(conn int, key string, fn func(ExternalChange)) func() {
	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = broadcastSub{key: key, conn: conn, fn: fn}
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Conn is one context's connection to a shared Storage and its change bus.
type Conn struct {
	id          int
	broadcaster *Broadcaster
	backend     Storage
}

func (c *Conn) Read(key string) (string, bool, error) {
	return c.backend.Read(key)
}

func (c *Conn) Write(key, value string) error {
	err := c.backend.Write(key, value)
	if err == nil && key != probeKey {
		c.broadcaster.publish(c.id, ExternalChange{Key: key, Raw: &value})
	}
	return err
}

func (c *Conn) Remove(key string) error {
	err := c.backend.Remove(key)
	if err == nil && key != probeKey {
		c.broadcaster.publish(c.id, ExternalChange{Key: key})
	}
	return err
}

// Subscribe implements EventSource.
func (c *Conn) Subscribe(key string, fn func(ExternalChange)) (func(), error) {
	return c.broadcaster.subscribe(c.id, key, fn), nil
}
