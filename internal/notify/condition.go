package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/expr-lang/expr"
)

// evalCondition runs one boolean condition against the event data inside
// the sandbox. The expression sees exactly one binding, data; any other
// identifier fails compilation. Compile errors, runtime errors,
// non-boolean results and timeouts all surface as errors, which the
// caller maps to "condition not met".
//
// The wall-clock ceiling is enforced around the run: evaluation happens
// on its own goroutine and the caller stops waiting once the deadline
// passes. A runaway expression keeps its goroutine until the interpreter
// finishes; the consumer loop is never stalled by it.
func evalCondition(ctx context.Context, condition string, data any, timeout time.Duration) (bool, error) {
	env := map[string]any{"data": data}

	program, err := expr.Compile(condition, expr.Env(env), expr.AsBool())
	if err != nil {
		return false, fmt.Errorf("compile condition: %w", err)
	}

	evalCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := evalCtx.Err(); err != nil {
		return false, fmt.Errorf("evaluate condition: %w", err)
	}

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		value, err := expr.Run(program, env)
		done <- outcome{value: value, err: err}
	}()

	select {
	case <-evalCtx.Done():
		return false, fmt.Errorf("evaluate condition: %w", evalCtx.Err())
	case res := <-done:
		if res.err != nil {
			return false, fmt.Errorf("evaluate condition: %w", res.err)
		}
		result, ok := res.value.(bool)
		if !ok {
			return false, fmt.Errorf("condition returned %T, want bool", res.value)
		}
		return result, nil
	}
}
