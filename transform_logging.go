package pstate

import "time"

// TransformLogEvent describes a transform attempt for logging.
type TransformLogEvent struct {
	Engine   string
	Expr     string
	Key      string
	Duration time.Duration
	Err      error
}

// TransformLogger records transform events.
type TransformLogger interface {
	LogTransform(TransformLogEvent)
}

// TransformLoggerFunc adapts a function to TransformLogger.
type TransformLoggerFunc func(TransformLogEvent)

// LogTransform implements TransformLogger.
func (f TransformLoggerFunc) LogTransform(event TransformLogEvent) {
	if f != nil {
		f(event)
	}
}

type noopTransformLogger struct{}

func (noopTransformLogger) LogTransform(TransformLogEvent) {}
