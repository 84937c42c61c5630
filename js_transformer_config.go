package pstate

type jsTransformerConfig struct {
	cache    ProgramCache
	registry *FunctionRegistry
}

// JSTransformerOption configures the JS transformer.
type JSTransformerOption func(*jsTransformerConfig)

// JSWithProgramCache applies a ProgramCache to the JS transformer.
func JSWithProgramCache(cache ProgramCache) JSTransformerOption {
	return func(cfg *jsTransformerConfig) {
		cfg.cache = cache
	}
}

// JSWithFunctionRegistry applies a FunctionRegistry to the JS transformer.
func JSWithFunctionRegistry(registry *FunctionRegistry) JSTransformerOption {
	return func(cfg *jsTransformerConfig) {
		if registry == nil {
			return
		}
		cfg.registry = registry.Clone()
	}
}

func applyJSTransformerOptions(opts []JSTransformerOption) jsTransformerConfig {
	cfg := jsTransformerConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}
