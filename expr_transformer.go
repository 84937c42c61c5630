package pstate

import (
	"fmt"

	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"
)

// ExprTransformerOption configures an expr transformer instance.
type ExprTransformerOption func(*exprTransformer)

// ExprWithProgramCache wires a ProgramCache into the expr transformer.
func ExprWithProgramCache(cache ProgramCache) ExprTransformerOption {
	return func(t *exprTransformer) {
		t.cache = cache
	}
}

// ExprWithFunctionRegistry wires a FunctionRegistry into the expr transformer.
func ExprWithFunctionRegistry(registry *FunctionRegistry) ExprTransformerOption {
	return func(t *exprTransformer) {
		if registry == nil {
			return
		}
		t.registry = registry.Clone()
	}
}

// exprTransformer executes transform expressions using
// github.com/expr-lang/expr.
type exprTransformer struct {
	cache    ProgramCache
	registry *FunctionRegistry
}

// NewExprTransformer constructs a Transformer backed by expr-lang/expr. It is
// the default engine for ExprSanitizer and ExprMigration.
func NewExprTransformer(opts ...ExprTransformerOption) Transformer {
	t := &exprTransformer{}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

// Transform compiles and runs expression against the raw snapshot.
func (t *exprTransformer) Transform(ctx TransformContext, expression string) (any, error) {
	if expression == "" {
		return nil, wrapTransformerError("expr", fmt.Errorf("expression must not be empty"))
	}
	ctx = ctx.withDefaultNow().withDefaultMaps()
	env := t.environment(ctx)
	if t.cache == nil {
		result, err := exprlang.Eval(expression, env)
		if err != nil {
			return nil, wrapTransformError("expr", expression, ctx.Key, err)
		}
		return result, nil
	}
	program, err := t.loadOrCompile(expression)
	if err != nil {
		return nil, err
	}
	result, err := exprlang.Run(program, env)
	if err != nil {
		return nil, wrapTransformError("expr", expression, ctx.Key, err)
	}
	return result, nil
}

// Compile returns a compiled transform that evaluates expression per
// invocation.
func (t *exprTransformer) Compile(expression string, _ ...CompileOption) (CompiledTransform, error) {
	if expression == "" {
		return nil, wrapTransformerError("expr", fmt.Errorf("expression must not be empty"))
	}
	program, err := t.loadOrCompile(expression)
	if err != nil {
		return nil, err
	}
	return &exprCompiledTransform{
		transformer: t,
		program:     program,
		expression:  expression,
	}, nil
}

func (t *exprTransformer) loadOrCompile(expression string) (*exprvm.Program, error) {
	if t.cache != nil {
		if cached, ok := t.cache.Get(expression); ok {
			if program, ok := cached.(*exprvm.Program); ok {
				return program, nil
			}
		}
	}
	options := []exprlang.Option{
		exprlang.Env(map[string]any{}),
		exprlang.AllowUndefinedVariables(),
	}
	for _, name := range t.registryNames() {
		fn := t.registryFunction(name)
		options = append(options, exprlang.Function(name, fn))
	}
	program, err := exprlang.Compile(expression, options...)
	if err != nil {
		return nil, wrapTransformError("expr", expression, "", err)
	}
	if t.cache != nil {
		t.cache.Set(expression, program)
	}
	return program, nil
}

type exprCompiledTransform struct {
	transformer *exprTransformer
	program     *exprvm.Program
	expression  string
}

func (c *exprCompiledTransform) Transform(ctx TransformContext) (any, error) {
	if c.transformer == nil {
		return nil, wrapTransformerError("expr", fmt.Errorf("compiled transform missing transformer"))
	}
	ctx = ctx.withDefaultNow().withDefaultMaps()
	if c.program == nil {
		return c.transformer.Transform(ctx, c.expression)
	}
	env := c.transformer.environment(ctx)
	result, err := exprlang.Run(c.program, env)
	if err != nil {
		return nil, wrapTransformError("expr", c.expression, ctx.Key, err)
	}
	return result, nil
}

// environment binds the raw snapshot twice: as `state`, and with each field
// splatted as a top-level variable for terse expressions.
func (t *exprTransformer) environment(ctx TransformContext) map[string]any {
	env := map[string]any{
		"state":    map[string]any(ctx.Snapshot),
		"version":  ctx.Version,
		"key":      ctx.Key,
		"now":      ctx.timestamp(),
		"args":     ctx.Args,
		"metadata": ctx.Metadata,
	}
	for field, value := range ctx.Snapshot {
		if _, reserved := env[field]; reserved {
			continue
		}
		env[field] = value
	}
	if t.registry != nil {
		env["call"] = func(name string, arguments ...any) (any, error) {
			return t.registry.Call(name, arguments...)
		}
		for _, name := range t.registry.Names() {
			fn := name
			env[fn] = func(arguments ...any) (any, error) {
				return t.registry.Call(fn, arguments...)
			}
		}
	}
	return env
}

func (t *exprTransformer) registryNames() []string {
	if t == nil || t.registry == nil {
		return nil
	}
	return t.registry.Names()
}

func (t *exprTransformer) registryFunction(name string) func(...any) (any, error) {
	if t == nil || t.registry == nil {
		return nil
	}
	return func(arguments ...any) (any, error) {
		return t.registry.Call(name, arguments...)
	}
}
