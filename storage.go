package pstate

// probeKey is written and removed to test whether the storage primitive is
// usable. The probe runs on every guarded operation, never cached: a primitive
// can come and go at runtime.
const probeKey = "__pstate_probe__"

// guard wraps the Storage collaborator so the rest of the engine never sees a
// storage error. Reads degrade to absence, writes and removals to no-ops.
type guard struct {
	backend Storage
}

func newGuard(backend Storage) *guard {
	if backend == nil {
		return nil
	}
	return &guard{backend: backend}
}

// available reports whether the primitive currently accepts a harmless
// write/remove cycle.
func (g *guard) available() bool {
	if g == nil || g.backend == nil {
		return false
	}
	if err := g.backend.Write(probeKey, "1"); err != nil {
		return false
	}
	if err := g.backend.Remove(probeKey); err != nil {
		return false
	}
	return true
}

func (g *guard) read(key string) (string, bool) {
	if !g.available() {
		return "", false
	}
	value, ok, err := g.backend.Read(key)
	if err != nil || !ok {
		return "", false
	}
	return value, true
}

func (g *guard) write(key, value string) bool {
	if !g.available() {
		return false
	}
	return g.backend.Write(key, value) == nil
}

func (g *guard) remove(key string) bool {
	if !g.available() {
		return false
	}
	return g.backend.Remove(key) == nil
}
