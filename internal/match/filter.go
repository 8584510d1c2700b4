package match

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/hirewise/magpie/internal/domain"
)

// filterEnv is the CEL environment for rule filter expressions. A filter
// sees the record's fields as the map variable "record" and must evaluate
// to a boolean.
var filterEnv *cel.Env

func init() {
	env, err := cel.NewEnv(
		cel.Variable("record", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create CEL environment: %v", err))
	}
	filterEnv = env
}

// CompileFilter compiles a rule's filter expression into an executable
// program. An empty expression compiles to nil (no filtering).
func CompileFilter(expression string) (cel.Program, error) {
	if expression == "" {
		return nil, nil
	}

	ast, issues := filterEnv.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile filter expression: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("filter expression must return bool, got %s", ast.OutputType())
	}

	program, err := filterEnv.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create filter program: %w", err)
	}
	return program, nil
}

// ValidateFilter checks a filter expression without keeping the program.
func ValidateFilter(expression string) error {
	_, err := CompileFilter(expression)
	return err
}

// evalFilter reports whether a record passes a compiled filter. A nil
// program passes everything; an evaluation error excludes the record.
func evalFilter(program cel.Program, rec *domain.EntityRecord) bool {
	if program == nil {
		return true
	}

	fields := rec.Fields
	if fields == nil {
		fields = map[string]any{}
	}

	out, _, err := program.Eval(map[string]any{"record": fields})
	if err != nil {
		return false
	}

	if b, ok := out.(types.Bool); ok {
		return bool(b)
	}
	return false
}
