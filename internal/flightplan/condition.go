package flightplan

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
)

// conditionEnv lets conditions written with capitalised literals evaluate.
var conditionEnv = map[string]interface{}{
	"True":  true,
	"False": false,
	"None":  nil,
}

// EvalCondition evaluates a rendered condition as a boolean expression.
// An empty condition is true.
func EvalCondition(condition string) (bool, error) {
	condition = strings.TrimSpace(condition)
	if condition == "" {
		return true, nil
	}
	program, err := expr.Compile(condition, expr.Env(conditionEnv), expr.AsBool())
	if err != nil {
		return false, fmt.Errorf("compile condition %q: %w", condition, err)
	}
	output, err := expr.Run(program, conditionEnv)
	if err != nil {
		return false, fmt.Errorf("eval condition %q: %w", condition, err)
	}
	result, ok := output.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q did not return bool (got %T)", condition, output)
	}
	return result, nil
}
