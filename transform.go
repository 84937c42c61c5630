package pstate

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoTransformer indicates a transform helper was invoked without a usable
// engine.
var ErrNoTransformer = errors.New("pstate: transformer not configured")

// TransformContext carries the inputs available to an expression transform.
// Snapshot is the raw decoded partial state, which may predate the current
// schema shape.
type TransformContext struct {
	Snapshot State
	Key      string
	Version  int
	Now      *time.Time
	Args     map[string]any
	Metadata map[string]any
}

func (ctx TransformContext) withDefaultNow() TransformContext {
	if ctx.Now != nil {
		return ctx
	}
	now := time.Now()
	ctx.Now = &now
	return ctx
}

func (ctx TransformContext) timestamp() time.Time {
	ctx = ctx.withDefaultNow()
	return *ctx.Now
}

func (ctx TransformContext) withDefaultMaps() TransformContext {
	if ctx.Snapshot == nil {
		ctx.Snapshot = State{}
	}
	if ctx.Args == nil {
		ctx.Args = map[string]any{}
	}
	if ctx.Metadata == nil {
		ctx.Metadata = map[string]any{}
	}
	return ctx
}

// Transformer executes expressions against a transform context.
type Transformer interface {
	Transform(ctx TransformContext, expr string) (any, error)
	Compile(expr string, opts ...CompileOption) (CompiledTransform, error)
}

// CompiledTransform represents a reusable expression program.
type CompiledTransform interface {
	Transform(ctx TransformContext) (any, error)
}

// CompileOption configures transformer compile behaviour.
type CompileOption interface {
	applyCompileOption(*compileConfig)
}

type compileConfig struct{}

type compileOptionFunc func(*compileConfig)

func (f compileOptionFunc) applyCompileOption(cfg *compileConfig) {
	if f != nil {
		f(cfg)
	}
}

// TransformOption configures the sanitizer/migration helpers.
type TransformOption func(*transformConfig)

type transformConfig struct {
	transformer Transformer
	cache       ProgramCache
	functions   *FunctionRegistry
	logger      TransformLogger
}

// TransformWith selects the engine; defaults to the expr engine when unset.
func TransformWith(t Transformer) TransformOption {
	return func(cfg *transformConfig) {
		cfg.transformer = t
	}
}

// TransformWithProgramCache reuses compiled programs across invocations.
func TransformWithProgramCache(cache ProgramCache) TransformOption {
	return func(cfg *transformConfig) {
		cfg.cache = cache
	}
}

// TransformWithFunctions exposes registry functions to expressions.
func TransformWithFunctions(registry *FunctionRegistry) TransformOption {
	return func(cfg *transformConfig) {
		cfg.functions = registry
	}
}

// TransformWithLogger records every transform attempt.
func TransformWithLogger(logger TransformLogger) TransformOption {
	return func(cfg *transformConfig) {
		cfg.logger = logger
	}
}

func applyTransformOptions(opts []TransformOption) transformConfig {
	cfg := transformConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

func (cfg transformConfig) resolveTransformer() Transformer {
	if cfg.transformer != nil {
		return cfg.transformer
	}
	var exprOpts []ExprTransformerOption
	if cfg.cache != nil {
		exprOpts = append(exprOpts, ExprWithProgramCache(cfg.cache))
	}
	if cfg.functions != nil {
		exprOpts = append(exprOpts, ExprWithFunctionRegistry(cfg.functions))
	}
	return NewExprTransformer(exprOpts...)
}

func (cfg transformConfig) resolveLogger() TransformLogger {
	if cfg.logger != nil {
		return cfg.logger
	}
	return noopTransformLogger{}
}

// ExprSanitizer builds a Sanitize from an expression evaluated against the
// decoded partial state. The expression must produce an object.
func ExprSanitizer(expr string, opts ...TransformOption) Sanitize {
	cfg := applyTransformOptions(opts)
	run := newTransformRunner(cfg, expr)
	return func(partial State) (State, error) {
		return run(TransformContext{Snapshot: partial})
	}
}

// ExprMigration builds a Migrate from an expression. The declared version is
// bound as `version`; gating stays inside the expression.
func ExprMigration(expr string, opts ...TransformOption) Migrate {
	cfg := applyTransformOptions(opts)
	run := newTransformRunner(cfg, expr)
	return func(raw State, version int) (State, error) {
		return run(TransformContext{Snapshot: raw, Version: version})
	}
}

// SanitizerFrom is ExprSanitizer with an explicit engine (CEL, JS, custom).
func SanitizerFrom(t Transformer, expr string, opts ...TransformOption) Sanitize {
	return ExprSanitizer(expr, append([]TransformOption{TransformWith(t)}, opts...)...)
}

// MigrationFrom is ExprMigration with an explicit engine.
func MigrationFrom(t Transformer, expr string, opts ...TransformOption) Migrate {
	return ExprMigration(expr, append([]TransformOption{TransformWith(t)}, opts...)...)
}

func newTransformRunner(cfg transformConfig, expr string) func(TransformContext) (State, error) {
	transformer := cfg.resolveTransformer()
	logger := cfg.resolveLogger()
	engine := transformerEngineName(transformer)
	return func(ctx TransformContext) (State, error) {
		if transformer == nil {
			return nil, ErrNoTransformer
		}
		if expr == "" {
			return nil, fmt.Errorf("pstate: expression must not be empty")
		}
		ctx = ctx.withDefaultNow().withDefaultMaps()
		start := time.Now()
		value, err := transformer.Transform(ctx, expr)
		duration := time.Since(start)
		err = wrapTransformError(engine, expr, ctx.Key, err)
		logger.LogTransform(TransformLogEvent{
			Engine:   engine,
			Expr:     expr,
			Key:      ctx.Key,
			Duration: duration,
			Err:      err,
		})
		if err != nil {
			return nil, err
		}
		return coerceState(value)
	}
}

// coerceState accepts the object shapes engines produce for state values.
func coerceState(value any) (State, error) {
	switch v := value.(type) {
	case nil:
		return State{}, nil
	case State:
		return Clone(v), nil
	case map[string]any:
		return Clone(v), nil
	default:
		return nil, fmt.Errorf("pstate: transform must produce an object, got %T", value)
	}
}

func transformerEngineName(t Transformer) string {
	if t == nil {
		return "unknown"
	}
	switch fmt.Sprintf("%T", t) {
	case "*pstate.exprTransformer":
		return "expr"
	case "*pstate.celTransformer":
		return "cel"
	case "*pstate.jsTransformer":
		return "js"
	default:
		return "custom"
	}
}
