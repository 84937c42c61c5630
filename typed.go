package pstate

import "github.com/goliatone/go-persisted-state/internal/hydrate"

// As decodes the store's current state into a typed view. Fields absent from
// the state keep their zero value in T.
func As[T any](s *Store) (T, error) {
	decoder := hydrate.NewDecoder[T]()
	return decoder.Decode(hydrate.Context{Key: s.Key()}, s.State())
}
