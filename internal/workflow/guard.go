package workflow

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Guard is a compiled "if" expression. It is evaluated against the matrix
// values and the triggering event; a false result skips the step.
type Guard struct {
	src  string
	prog *vm.Program
}

// CompileGuard compiles a guard expression. The expression must yield a
// boolean.
func CompileGuard(src string) (*Guard, error) {
	prog, err := expr.Compile(src, expr.AsBool(), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", src, err)
	}
	return &Guard{src: src, prog: prog}, nil
}

// Eval runs the guard against one instance's variables. A guard that fails
// to evaluate is a descriptor bug and is reported as an error, not a skip.
func (g *Guard) Eval(matrix map[string]string, ev Event) (bool, error) {
	env := map[string]any{
		"matrix": matrix,
		"event":  ev.Vars(),
	}
	out, err := expr.Run(g.prog, env)
	if err != nil {
		return false, fmt.Errorf("eval %q: %w", g.src, err)
	}
	ok, isBool := out.(bool)
	if !isBool {
		return false, fmt.Errorf("eval %q: result is not a boolean", g.src)
	}
	return ok, nil
}

func (g *Guard) String() string { return g.src }
