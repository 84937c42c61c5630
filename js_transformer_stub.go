//go:build !js_eval

package pstate

// NewJSTransformer is unavailable without the js_eval build tag.
func NewJSTransformer(opts ...JSTransformerOption) Transformer {
	_ = applyJSTransformerOptions(opts)
	return nil
}

func jsTransformerAvailable() bool {
	return false
}
