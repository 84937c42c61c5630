package pstate

// Overlay composes a partial state over base, returning a new value. Each
// field present in partial overrides the base field wholesale; fields absent
// from partial keep their base value; fields absent from both stay absent.
// The overlay is one level deep on purpose: nested values are replaced, not
// recursively merged.
func Overlay(base, partial State) State {
	out := make(State, len(base)+len(partial))
	for key, value := range base {
		out[key] = cloneValue(value)
	}
	for key, value := range partial {
		out[key] = cloneValue(value)
	}
	return out
}

// Clone returns a deep copy of s. Maps and slices are copied recursively;
// scalar values are shared (they are immutable from the caller's view).
func Clone(s State) State {
	if s == nil {
		return State{}
	}
	out := make(State, len(s))
	for key, value := range s {
		out[key] = cloneValue(value)
	}
	return out
}

func cloneValue(value any) any {
	switch v := value.(type) {
	case State:
		return Clone(v)
	case map[string]any:
		return map[string]any(Clone(v))
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return value
	}
}
