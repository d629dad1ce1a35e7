package navigation

import (
	"fmt"
	"net/url"

	"github.com/google/cel-go/cel"
)

// DefaultReworkRule marks assemblies from the rework queue by their id prefix
const DefaultReworkRule = `assembly_id.startsWith("RW-")`

// ReworkRule is a CEL expression deciding whether a unit is a rework unit.
//
// Variables: assembly_id, work_order_id, variant, path (strings) and query
// (map of string to string, first value per key).
type ReworkRule struct {
	expr string
	prg  cel.Program
}

// NewReworkRule compiles expr. An empty expression yields a nil rule.
func NewReworkRule(expr string) (*ReworkRule, error) {
	if expr == "" {
		return nil, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("assembly_id", cel.StringType),
		cel.Variable("work_order_id", cel.StringType),
		cel.Variable("variant", cel.StringType),
		cel.Variable("path", cel.StringType),
		cel.Variable("query", cel.MapType(cel.StringType, cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("rework rule compilation error: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("rework rule must return bool, got %s", ast.OutputType())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return &ReworkRule{expr: expr, prg: prg}, nil
}

// MustReworkRule is NewReworkRule for expressions known to compile
func MustReworkRule(expr string) *ReworkRule {
	r, err := NewReworkRule(expr)
	if err != nil {
		panic(err)
	}
	return r
}

// Expression returns the source of the rule
func (r *ReworkRule) Expression() string {
	return r.expr
}

// Match evaluates the rule against p and the raw query
func (r *ReworkRule) Match(p Params, query url.Values) (bool, error) {
	flat := make(map[string]string, len(query))
	for k := range query {
		flat[k] = query.Get(k)
	}

	out, _, err := r.prg.Eval(map[string]interface{}{
		"assembly_id":   p.AssemblyID,
		"work_order_id": p.WorkOrderID,
		"variant":       p.VariantHint,
		"path":          p.Path,
		"query":         flat,
	})
	if err != nil {
		return false, fmt.Errorf("rework rule evaluation error: %w", err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("rework rule did not return boolean, got %T", out.Value())
	}
	return result, nil
}
