package pstate

import (
	"fmt"
	"sync"
)

// Store synchronises an in-memory State with one persisted record. All
// operations run synchronously to completion; external-change callbacks are
// serialised with local mutations through the same lock. Change handlers run
// outside that lock, so they may call back into the Store.
type Store struct {
	key      string
	cfg      storeConfig
	defaults State
	storage  *guard
	codec    Codec
	emitter  *changeEmitter

	mu         sync.Mutex
	state      State
	subs       map[int]ChangeHandler
	nextSub    int
	cancelSync func()
}

// New constructs a Store bound to key, resolves defaults, runs the read
// pipeline, and, when an event source is configured, registers for external
// changes. Construction fails on a missing key, a failing defaults producer,
// a failing sanitizer, or a failing subscription; every storage-side fault
// degrades silently to defaults instead.
func New(key string, opts ...Option) (*Store, error) {
	if key == "" {
		return nil, ErrKeyRequired
	}
	cfg := applyOptions(opts)

	defaults, err := resolveDefaults(cfg)
	if err != nil {
		return nil, err
	}

	codec := cfg.codec
	if codec == nil {
		jsonOpts := make([]JSONCodecOption, 0, len(cfg.fieldCodecs))
		for field, fieldCodec := range cfg.fieldCodecs {
			jsonOpts = append(jsonOpts, JSONWithFieldCodec(field, fieldCodec))
		}
		codec = NewJSONCodec(jsonOpts...)
	}

	s := &Store{
		key:      key,
		cfg:      cfg,
		defaults: defaults,
		storage:  newGuard(cfg.storage),
		codec:    codec,
		emitter:  newChangeEmitter(cfg.hooks),
		subs:     map[int]ChangeHandler{},
	}

	state, err := s.restore()
	if err != nil {
		return nil, err
	}
	s.state = state

	if cfg.events != nil && !cfg.syncOff {
		cancel, err := cfg.events.Subscribe(key, s.onExternalChange)
		if err != nil {
			return nil, fmt.Errorf("pstate: subscribe %q: %w", key, err)
		}
		s.cancelSync = cancel
	}
	return s, nil
}

// resolveDefaults turns the static value or producer into the concrete
// partial used to fill gaps. The producer runs exactly once per Store.
func resolveDefaults(cfg storeConfig) (State, error) {
	if cfg.defaultsFn != nil {
		defaults, err := cfg.defaultsFn()
		if err != nil {
			return nil, fmt.Errorf("pstate: resolve defaults: %w", err)
		}
		return Clone(defaults), nil
	}
	return Clone(cfg.defaults), nil
}

// Key returns the storage key this Store is bound to.
func (s *Store) Key() string {
	return s.key
}

// State returns a deep copy of the current state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Clone(s.state)
}

// Get returns the current value for field. It is a pure read: no write, no
// notification.
func (s *Store) Get(field string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.state[field]
	if !ok {
		return nil, false
	}
	return cloneValue(value), true
}

// Replace swaps the whole state for next.
func (s *Store) Replace(next State) {
	s.mu.Lock()
	handlers := s.commit(Clone(next), Meta{Source: SourceSet})
	s.mu.Unlock()
	handlers.run()
}

// Update computes the next state from a copy of the current one. Returning
// nil yields an empty state, mirroring Replace(nil).
func (s *Store) Update(fn func(State) State) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	next := Clone(fn(Clone(s.state)))
	handlers := s.commit(next, Meta{Source: SourceSet})
	s.mu.Unlock()
	handlers.run()
}

// Set assigns value to field, or deletes the field when value is Absent.
// Deleting a field that was never present is a harmless no-op write.
func (s *Store) Set(field string, value any) {
	s.mu.Lock()
	next := Clone(s.state)
	if _, absent := value.(absentSentinel); absent {
		delete(next, field)
	} else {
		next[field] = cloneValue(value)
	}
	handlers := s.commit(next, Meta{Source: SourcePatch})
	s.mu.Unlock()
	handlers.run()
}

// Patch overlays partial onto the current state, one level deep.
func (s *Store) Patch(partial State) {
	s.mu.Lock()
	next := Overlay(s.state, partial)
	handlers := s.commit(next, Meta{Source: SourcePatch})
	s.mu.Unlock()
	handlers.run()
}

// Remove deletes the named fields. Removal is reported as a patch; audit
// hooks receive the removed field names so the distinction is not lost.
func (s *Store) Remove(fields ...string) {
	s.mu.Lock()
	next := Clone(s.state)
	for _, field := range fields {
		delete(next, field)
	}
	handlers := s.commit(next, Meta{Source: SourcePatch})
	s.mu.Unlock()
	handlers.run()
	s.emitter.removed(s.key, fields)
}

// Clear resets the state to empty and removes the persisted record. It does
// not notify change handlers: teardown must not feed back into observers.
func (s *Store) Clear() {
	s.mu.Lock()
	s.state = State{}
	if s.storage != nil {
		s.storage.remove(s.key)
	}
	s.mu.Unlock()
	s.emitter.cleared(s.key)
}

// Subscribe registers an additional change handler and returns its
// unsubscribe function.
func (s *Store) Subscribe(fn ChangeHandler) func() {
	if fn == nil {
		return func() {}
	}
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Close cancels the external-change subscription. The Store remains usable
// for local operations afterwards.
func (s *Store) Close() {
	s.mu.Lock()
	cancel := s.cancelSync
	s.cancelSync = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// commit installs next as the current state, persists it when storage is
// available, and stages notifications. Callers hold s.mu; the returned batch
// is run after unlocking. The persistence write is best effort: when it
// fails, in-memory state stays authoritative for this context.
func (s *Store) commit(next State, meta Meta) notifyBatch {
	if next == nil {
		next = State{}
	}
	s.state = next
	if s.storage != nil && s.storage.available() {
		if encoded, err := s.codec.Encode(next); err == nil {
			s.storage.write(s.key, encoded)
		}
	}
	return s.stageNotify(meta)
}

func (s *Store) stageNotify(meta Meta) notifyBatch {
	snapshot := Clone(s.state)
	batch := notifyBatch{state: snapshot, meta: meta}
	if s.cfg.onChange != nil {
		batch.handlers = append(batch.handlers, s.cfg.onChange)
	}
	for _, fn := range s.subs {
		batch.handlers = append(batch.handlers, fn)
	}
	batch.emit = func() { s.emitter.changed(s.key, meta.Source, snapshot) }
	return batch
}

type notifyBatch struct {
	state    State
	meta     Meta
	handlers []ChangeHandler
	emit     func()
}

func (b notifyBatch) run() {
	for _, fn := range b.handlers {
		fn(b.state, b.meta)
	}
	if b.emit != nil {
		b.emit()
	}
}
