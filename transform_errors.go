package pstate

import (
	"errors"
	"fmt"
	"strings"
)

// TransformError captures engine metadata alongside the originating error.
type TransformError struct {
	Engine string
	Expr   string
	Key    string
	Err    error
}

func (e *TransformError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("pstate: %s transform %s key=%s: %v", e.Engine, describeExpression(e.Expr), e.Key, e.Err)
}

func (e *TransformError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func describeExpression(expr string) string {
	if expr == "" {
		return "expr=<empty>"
	}
	return fmt.Sprintf("expr=%q", expr)
}

func wrapTransformerError(engine string, err error) error {
	if err == nil {
		return nil
	}

	var transformErr *TransformError
	if errors.As(err, &transformErr) {
		return err
	}

	if strings.HasPrefix(err.Error(), "pstate:") {
		return err
	}
	return fmt.Errorf("pstate: %s transform: %w", engine, err)
}

func wrapTransformError(engine, expr, key string, err error) error {
	if err == nil {
		return nil
	}

	var transformErr *TransformError
	if errors.As(err, &transformErr) {
		if transformErr.Engine == "" {
			transformErr.Engine = engine
		}
		if transformErr.Expr == "" {
			transformErr.Expr = expr
		}
		if transformErr.Key == "" {
			transformErr.Key = key
		}
		return transformErr
	}

	return &TransformError{
		Engine: engine,
		Expr:   expr,
		Key:    key,
		Err:    err,
	}
}
