package pstate

import "fmt"

// restore runs the read pipeline: guarded read, decode, migrate, sanitize,
// merge onto defaults. Storage, decode, and migration faults all collapse to
// an empty partial so the caller always receives a usable, fully defaulted
// state. Only a sanitizer failure surfaces.
func (s *Store) restore() (State, error) {
	if s.storage == nil || !s.storage.available() {
		return Overlay(s.defaults, State{}), nil
	}

	partial := State{}
	if raw, ok := s.storage.read(s.key); ok {
		partial = s.decodeAndMigrate(raw)
	}

	if s.cfg.sanitize != nil {
		sanitized, err := s.cfg.sanitize(partial)
		if err != nil {
			return nil, fmt.Errorf("pstate: sanitize %q: %w", s.key, err)
		}
		partial = Clone(sanitized)
	}

	return Overlay(s.defaults, partial), nil
}

// decodeAndMigrate turns the raw persisted string into a partial state.
// Malformed content and failing migrations both degrade to empty: a broken
// record must never block initialisation, and a failed migration is never
// partially applied.
func (s *Store) decodeAndMigrate(raw string) State {
	decoded, err := s.codec.Decode(raw)
	if err != nil {
		return State{}
	}
	if s.cfg.migrate == nil {
		return decoded
	}
	// The migrate function sees the raw decoded value, which may predate the
	// current schema, along with the declared version. No stored version is
	// compared here; gating is the migration's own responsibility.
	migrated, err := s.cfg.migrate(Clone(decoded), s.cfg.version)
	if err != nil {
		return State{}
	}
	return Clone(migrated)
}
