package pstate

import "errors"

// State maps field names to arbitrary values. A Store replaces its State
// wholesale on every mutation; it is never mutated in place, so observers can
// compare successive notifications by identity.
type State map[string]any

// Source records how a state transition was triggered.
type Source string

const (
	// SourceSet tags whole-state replacement via Replace or Update.
	SourceSet Source = "set"
	// SourcePatch tags single-field sets, partial patches, and removals.
	SourcePatch Source = "patch"
	// SourceExternal tags transitions driven by another context writing the
	// same persisted key.
	SourceExternal Source = "external"
)

// Meta accompanies every change notification. It records how the transition
// was triggered, not what changed.
type Meta struct {
	Source Source
}

// ChangeHandler receives the next state along with transition metadata.
type ChangeHandler func(State, Meta)

type absentSentinel struct{}

// Absent is the deletion sentinel: Set(key, Absent) removes the field, as
// does Field.Set(Absent).
var Absent = absentSentinel{}

// Codec serialises full or partial state to the single string persisted per
// key. Implementations must round-trip: Decode(Encode(s)) == s.
type Codec interface {
	Encode(State) (string, error)
	Decode(string) (State, error)
}

// Storage is the host key-value primitive. It stores one opaque string per
// key, may fail on any call, and may be globally unavailable. The Store never
// talks to it directly; every access goes through an availability-probing
// guard that absorbs failures.
type Storage interface {
	Read(key string) (value string, ok bool, err error)
	Write(key, value string) error
	Remove(key string) error
}

// ExternalChange describes another context's write to a persisted key. Raw is
// nil when the record was removed.
type ExternalChange struct {
	Key string
	Raw *string
}

// EventSource delivers external-change signals for a specific key. Subscribe
// returns a cancel function that unregisters the listener.
type EventSource interface {
	Subscribe(key string, fn func(ExternalChange)) (cancel func(), err error)
}

// Sanitize adjusts a decoded partial state before it is merged onto defaults.
// Errors are not recovered: they abort construction or reload.
type Sanitize func(State) (State, error)

// Migrate transforms a raw decoded snapshot to the current schema shape. It
// receives the declared current version and owns all version-gating logic; an
// error discards its output and the read falls back to defaults.
type Migrate func(raw State, version int) (State, error)

// ErrKeyRequired is returned by New when no storage key is supplied.
var ErrKeyRequired = errors.New("pstate: key is required")

// Option configures a Store at construction time.
type Option func(*storeConfig)

type storeConfig struct {
	defaults    State
	defaultsFn  func() (State, error)
	storage     Storage
	events      EventSource
	codec       Codec
	fieldCodecs map[string]FieldCodec
	sanitize    Sanitize
	migrate     Migrate
	version     int
	onChange    ChangeHandler
	syncOff     bool
	syncErr     func(error)
	hooks       hooksConfig
}

func applyOptions(opts []Option) storeConfig {
	cfg := storeConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// WithDefaults supplies the static partial value used to fill gaps after
// every read.
func WithDefaults(defaults State) Option {
	return func(cfg *storeConfig) {
		cfg.defaults = defaults
		cfg.defaultsFn = nil
	}
}

// WithDefaultsFunc supplies a producer invoked exactly once per Store
// construction. A failing producer aborts New.
func WithDefaultsFunc(fn func() (State, error)) Option {
	return func(cfg *storeConfig) {
		cfg.defaultsFn = fn
		cfg.defaults = nil
	}
}

// WithStorage attaches the persistence primitive. Without it the Store is
// purely in-memory.
func WithStorage(storage Storage) Option {
	return func(cfg *storeConfig) {
		cfg.storage = storage
	}
}

// WithEventSource attaches the external-change signal capability used for
// cross-context synchronisation.
func WithEventSource(events EventSource) Option {
	return func(cfg *storeConfig) {
		cfg.events = events
	}
}

// WithCodec replaces the default JSON codec. Field codec overrides only apply
// to the default codec.
func WithCodec(codec Codec) Option {
	return func(cfg *storeConfig) {
		cfg.codec = codec
	}
}

// WithFieldCodec overrides serialisation for a single field within the
// default codec.
func WithFieldCodec(field string, codec FieldCodec) Option {
	return func(cfg *storeConfig) {
		if cfg.fieldCodecs == nil {
			cfg.fieldCodecs = map[string]FieldCodec{}
		}
		cfg.fieldCodecs[field] = codec
	}
}

// WithSanitizer applies fn to the decoded partial state on every read, before
// merging onto defaults. Sanitizer errors are surfaced, not masked.
func WithSanitizer(fn Sanitize) Option {
	return func(cfg *storeConfig) {
		cfg.sanitize = fn
	}
}

// WithMigration declares the current schema version and the migrate function
// applied to every raw read. The version itself is never persisted.
func WithMigration(version int, fn Migrate) Option {
	return func(cfg *storeConfig) {
		cfg.version = version
		cfg.migrate = fn
	}
}

// WithOnChange registers the primary change observer. Additional observers
// can be attached later via Store.Subscribe.
func WithOnChange(fn ChangeHandler) Option {
	return func(cfg *storeConfig) {
		cfg.onChange = fn
	}
}

// WithoutSync disables cross-context synchronisation even when an event
// source is configured.
func WithoutSync() Option {
	return func(cfg *storeConfig) {
		cfg.syncOff = true
	}
}

// WithSyncErrorHandler receives errors raised while re-running the read
// pipeline for an external change (a failing sanitizer, for instance). The
// previous state is kept when the reload fails.
func WithSyncErrorHandler(fn func(error)) Option {
	return func(cfg *storeConfig) {
		cfg.syncErr = fn
	}
}
