package workflow

import (
	"errors"
	"fmt"

	"github.com/google/cel-go/cel"
)

var (
	ErrInvalidCondition    = errors.New("invalid condition expression")
	ErrConditionEvaluation = errors.New("condition evaluation failed")
)

// conditionEnv exposes the workflow arguments to `when:` expressions as the
// `args` map.
func conditionEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("args", cel.MapType(cel.StringType, cel.DynType)),
	)
}

// EvalCondition compiles and evaluates a `when:` expression against the
// workflow arguments. Conditions are static: they depend only on values
// known at trigger time, so a false result means the function will never
// run this invocation.
func EvalCondition(expr string, args map[string]any) (bool, error) {
	env, err := conditionEnv()
	if err != nil {
		return false, fmt.Errorf("creating CEL environment: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return false, fmt.Errorf("%w: %w", ErrInvalidCondition, issues.Err())
	}

	program, err := env.Program(ast)
	if err != nil {
		return false, fmt.Errorf("creating program: %w", err)
	}

	if args == nil {
		args = map[string]any{}
	}

	result, _, err := program.Eval(map[string]any{"args": args})
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrConditionEvaluation, err)
	}

	outcome, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("%w: expression did not return boolean", ErrConditionEvaluation)
	}

	return outcome, nil
}
