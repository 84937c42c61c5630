package pstate

// ProgramCache stores compiled expression programs keyed by expression
// strings. Transform helpers compile on miss and populate the cache.
type ProgramCache interface {
	Get(key string) (any, bool)
	Set(key string, value any)
}
