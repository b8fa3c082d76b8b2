package celengine

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"go.uber.org/zap"
)

var (
	envOnce sync.Once
	env     *cel.Env
	envErr  error
)

// Variables exposed to reward condition expressions.
const (
	VarContext = "context"
	VarReward  = "reward"
)

func conditionEnv() (*cel.Env, error) {
	envOnce.Do(func() {
		env, envErr = cel.NewEnv(
			cel.Variable(VarContext, cel.MapType(cel.StringType, cel.DynType)),
			cel.Variable(VarReward, cel.MapType(cel.StringType, cel.DynType)),
		)
	})
	return env, envErr
}

// Program is a compiled boolean condition.
type Program struct {
	expr string
	prg  cel.Program
}

// Compile type-checks expr and requires it to yield a bool.
func Compile(expr string) (*Program, error) {
	e, err := conditionEnv()
	if err != nil {
		return nil, err
	}

	ast, issues := e.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	if out := ast.OutputType().String(); out != "bool" && out != "dyn" {
		return nil, fmt.Errorf("condition %q must evaluate to bool, got %s", expr, out)
	}

	prg, err := e.Program(ast)
	if err != nil {
		return nil, err
	}

	return &Program{expr: expr, prg: prg}, nil
}

func (p *Program) String() string {
	return p.expr
}

// Evaluate runs the program. Missing map keys are evaluation errors in CEL, so
// conditions should guard optional attributes with `has(context.x)`.
func (p *Program) Evaluate(vars map[string]any) (bool, error) {
	if vars[VarContext] == nil {
		vars[VarContext] = map[string]any{}
	}
	if vars[VarReward] == nil {
		vars[VarReward] = map[string]any{}
	}

	out, _, err := p.prg.Eval(vars)
	if err != nil {
		return false, err
	}

	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expected bool from expression, got %T (%v)", out.Value(), out.Value())
	}

	return b, nil
}

// ValidateExpression reports compile errors without keeping the program.
func ValidateExpression(expr string) error {
	_, err := Compile(expr)
	return err
}

func StructToMap(s any) map[string]any {
	if s == nil {
		return map[string]any{}
	}

	b, err := json.Marshal(s)
	if err != nil {
		zap.L().Debug("failed StructToMap Marshal", zap.Error(err))
		return map[string]any{}
	}

	var result map[string]any
	if err := json.Unmarshal(b, &result); err != nil {
		zap.L().Debug("failed StructToMap Unmarshal", zap.Error(err))
		return map[string]any{}
	}

	return result
}
