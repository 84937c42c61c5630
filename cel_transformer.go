package pstate

import (
	"fmt"
	"reflect"

	celgo "github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// CELTransformerOption configures the CEL transformer.
type CELTransformerOption func(*celTransformer)

// CELWithProgramCache wires a ProgramCache into the CEL transformer.
func CELWithProgramCache(cache ProgramCache) CELTransformerOption {
	return func(t *celTransformer) {
		t.cache = cache
	}
}

// CELWithFunctionRegistry wires a FunctionRegistry into the CEL transformer.
func CELWithFunctionRegistry(registry *FunctionRegistry) CELTransformerOption {
	return func(t *celTransformer) {
		if registry == nil {
			return
		}
		t.registry = registry.Clone()
	}
}

type celProgram struct {
	env     *celgo.Env
	program celgo.Program
}

type celTransformer struct {
	cache    ProgramCache
	registry *FunctionRegistry
}

// NewCELTransformer constructs a Transformer backed by cel-go.
func NewCELTransformer(opts ...CELTransformerOption) Transformer {
	t := &celTransformer{}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

func (t *celTransformer) Transform(ctx TransformContext, expression string) (any, error) {
	if expression == "" {
		return nil, fmt.Errorf("expression must not be empty")
	}
	ctx = ctx.withDefaultNow().withDefaultMaps()
	snapshot := map[string]any(ctx.Snapshot)
	program, err := t.loadOrCompile(expression, snapshot)
	if err != nil {
		return nil, err
	}
	out, _, err := program.program.Eval(t.activation(ctx, snapshot))
	if err != nil {
		return nil, err
	}
	return unwrapCELValue(out), nil
}

func (t *celTransformer) Compile(expression string, _ ...CompileOption) (CompiledTransform, error) {
	if expression == "" {
		return nil, fmt.Errorf("expression must not be empty")
	}
	return &celCompiledTransform{
		transformer: t,
		expression:  expression,
	}, nil
}

func (t *celTransformer) loadOrCompile(expression string, snapshot map[string]any) (*celProgram, error) {
	if snapshot == nil {
		snapshot = map[string]any{}
	}
	if t.cache != nil {
		if cached, ok := t.cache.Get(expression); ok {
			if program, ok := cached.(*celProgram); ok {
				return program, nil
			}
		}
	}

	env, err := t.buildEnv(snapshot)
	if err != nil {
		return nil, err
	}
	ast, issues := env.Parse(expression)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	checked, issues := env.Check(ast)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	prg, err := env.Program(checked)
	if err != nil {
		return nil, err
	}

	bundle := &celProgram{
		env:     env,
		program: prg,
	}
	if t.cache != nil {
		t.cache.Set(expression, bundle)
	}
	return bundle, nil
}

func (t *celTransformer) buildEnv(snapshot map[string]any) (*celgo.Env, error) {
	opts := []celgo.EnvOption{
		celgo.Variable("state", celgo.DynType),
		celgo.Variable("version", celgo.IntType),
		celgo.Variable("key", celgo.StringType),
		celgo.Variable("now", celgo.TimestampType),
		celgo.Variable("args", celgo.DynType),
		celgo.Variable("metadata", celgo.DynType),
	}
	if t.registry != nil {
		binding := t.callBinding()
		callOverloads := make([]celgo.FunctionOpt, 0, 8)
		for arity := 1; arity <= 8; arity++ {
			argTypes := make([]*celgo.Type, arity)
			argTypes[0] = celgo.StringType
			for i := 1; i < arity; i++ {
				argTypes[i] = celgo.DynType
			}
			callOverloads = append(callOverloads, celgo.Overload(
				fmt.Sprintf("call_dyn_%d", arity),
				argTypes,
				celgo.DynType,
				celgo.FunctionBinding(func(values ...ref.Val) ref.Val {
					return binding(values)
				}),
			))
		}
		opts = append(opts, celgo.Function("call", callOverloads...))
	}
	for field := range snapshot {
		if isReservedBinding(field) {
			continue
		}
		opts = append(opts, celgo.Variable(field, celgo.DynType))
	}
	return celgo.NewEnv(opts...)
}

func (t *celTransformer) activation(ctx TransformContext, snapshot map[string]any) map[string]any {
	activation := map[string]any{
		"state":    snapshot,
		"version":  ctx.Version,
		"key":      ctx.Key,
		"now":      ctx.timestamp(),
		"args":     ctx.Args,
		"metadata": ctx.Metadata,
	}
	for field, value := range snapshot {
		if isReservedBinding(field) {
			continue
		}
		activation[field] = value
	}
	if t.registry != nil {
		activation["call"] = func(name string, arguments ...any) (any, error) {
			return t.registry.Call(name, arguments...)
		}
	}
	return activation
}

type celCompiledTransform struct {
	transformer *celTransformer
	expression  string
}

func (c *celCompiledTransform) Transform(ctx TransformContext) (any, error) {
	if c.transformer == nil {
		return nil, fmt.Errorf("cel compiled transform missing transformer")
	}
	ctx = ctx.withDefaultNow().withDefaultMaps()
	snapshot := map[string]any(ctx.Snapshot)
	program, err := c.transformer.loadOrCompile(c.expression, snapshot)
	if err != nil {
		return nil, err
	}
	out, _, err := program.program.Eval(c.transformer.activation(ctx, snapshot))
	if err != nil {
		return nil, err
	}
	return unwrapCELValue(out), nil
}

func isReservedBinding(name string) bool {
	switch name {
	case "state", "version", "key", "now", "args", "metadata", "call":
		return true
	default:
		return false
	}
}

// unwrapCELValue converts map results to native Go maps so transform output
// coercion sees map[string]any rather than CEL's ref.Val keyed maps.
func unwrapCELValue(out ref.Val) any {
	if native, err := out.ConvertToNative(reflect.TypeOf(map[string]any(nil))); err == nil {
		return native
	}
	return out.Value()
}

func (t *celTransformer) callBinding() func([]ref.Val) ref.Val {
	return func(values []ref.Val) ref.Val {
		if t.registry == nil {
			return types.NewErr("pstate: function registry not configured")
		}
		if len(values) == 0 {
			return types.NewErr("pstate: call requires function name")
		}
		name, ok := values[0].Value().(string)
		if !ok {
			return types.NewErr("pstate: call name must be string")
		}
		args := make([]any, 0, len(values)-1)
		for _, val := range values[1:] {
			args = append(args, val.Value())
		}
		result, err := t.registry.Call(name, args...)
		if err != nil {
			return types.NewErr("%s", err.Error())
		}
		if result == nil {
			return types.NullValue
		}
		return types.DefaultTypeAdapter.NativeToValue(result)
	}
}
