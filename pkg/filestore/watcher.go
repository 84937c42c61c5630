package filestore

import (
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"

	pstate "github.com/goliatone/go-persisted-state"
)

// Watcher converts filesystem notifications on a Store's directory into
// external-change signals. Events caused by the owning Store's own writes are
// suppressed, matching how host environments deliver change events only to
// other contexts. Delivery is best effort, in line with the eventually
// consistent sync protocol.
type Watcher struct {
	store *Store
	fsw   *fsnotify.Watcher

	mu      sync.Mutex
	subs    map[int]watchSub
	nextSub int
	closed  bool
}

type watchSub struct {
	key string
	fn  func(pstate.ExternalChange)
}

// Watch starts a Watcher over the store's directory.
func (s *Store) Watch() (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("filestore: watch: %w", err)
	}
	if err := fsw.Add(s.dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("filestore: watch %q: %w", s.dir, err)
	}
	w := &Watcher{
		store: s,
		fsw:   fsw,
		subs:  map[int]watchSub{},
	}
	go w.loop()
	return w, nil
}

// Subscribe implements the store core's EventSource contract: fn is invoked
// for changes to exactly key, and the returned cancel unregisters it.
func (w *Watcher) Subscribe(key string, fn func(pstate.ExternalChange)) (func(), error) {
	if fn == nil {
		return nil, fmt.Errorf("filestore: subscribe %q: callback is required", key)
	}
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil, fmt.Errorf("filestore: subscribe %q: watcher is closed", key)
	}
	id := w.nextSub
	w.nextSub++
	w.subs[id] = watchSub{key: key, fn: fn}
	w.mu.Unlock()
	return func() {
		w.mu.Lock()
		delete(w.subs, id)
		w.mu.Unlock()
	}, nil
}

// Close stops the watcher and drops all subscriptions.
func (w *Watcher) Close() error {
	w.mu.Lock()
	w.closed = true
	w.subs = map[int]watchSub{}
	w.mu.Unlock()
	return w.fsw.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(event)
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if !event.Has(fsnotify.Create | fsnotify.Write | fsnotify.Remove | fsnotify.Rename) {
		return
	}
	key, ok := keyFromPath(event.Name)
	if !ok {
		return
	}

	change := pstate.ExternalChange{Key: key}
	value, exists, err := w.store.Read(key)
	if err != nil {
		return
	}
	if exists {
		if w.store.selfWrote(key, value) {
			return
		}
		change.Raw = &value
	} else if w.store.selfRemoved(key) {
		return
	}

	w.mu.Lock()
	targets := make([]func(pstate.ExternalChange), 0, len(w.subs))
	for _, sub := range w.subs {
		if sub.key != key {
			continue
		}
		targets = append(targets, sub.fn)
	}
	w.mu.Unlock()

	for _, fn := range targets {
		fn(change)
	}
}
