package pstate

// Field is a convenience view bound to a single field of an underlying
// Store: a value accessor plus a mutator, the shape a rendering layer binds
// to. Setting Absent deletes the field.
type Field struct {
	store *Store
	key   string
}

// Field returns a view over one field of the store.
func (s *Store) Field(key string) Field {
	return Field{store: s, key: key}
}

// Value returns the current value, reporting absence explicitly.
func (f Field) Value() (any, bool) {
	return f.store.Get(f.key)
}

// Set assigns the field, or deletes it when value is Absent.
func (f Field) Set(value any) {
	f.store.Set(f.key, value)
}
