//go:build !js_eval

package statesync

// NewJSEvaluator is unavailable without the js_eval build tag.
func NewJSEvaluator(...EvaluatorOption) Evaluator {
	return nil
}

func jsEvaluatorAvailable() bool {
	return false
}
