// Package style builds and evaluates the small subset of map style
// expressions the layer controllers use for data-driven paint properties.
//
// Expressions are JSON-compatible values in the vector-map style syntax:
// scalars are literals, arrays are operator calls
// (["case", cond, a, b], ["==", ["get", "id"], "v1"], ...). They are shipped
// verbatim to the rendering surface; Evaluate exists so the runtime and its
// tests can reason about what a surface would compute for a feature.
package style

import (
	"fmt"
)

// Expression is a style expression: a literal or an operator array.
type Expression = any

// Get reads a feature property.
func Get(prop string) Expression {
	return []any{"get", prop}
}

// Eq compares two expressions for equality.
func Eq(a, b Expression) Expression {
	return []any{"==", a, b}
}

// In tests whether value is one of the given literal strings.
func In(value Expression, set ...string) Expression {
	lit := make([]any, len(set))
	for i, s := range set {
		lit[i] = s
	}
	return []any{"in", value, []any{"literal", lit}}
}

// Case returns then when cond is true, otherwise otherwise.
func Case(cond, then, otherwise Expression) Expression {
	return []any{"case", cond, then, otherwise}
}

// Match maps the string value of input to outputs, falling back to
// fallback. pairs alternates label, output.
func Match(input Expression, fallback Expression, pairs ...any) Expression {
	out := make([]any, 0, len(pairs)+3)
	out = append(out, "match", input)
	out = append(out, pairs...)
	return append(out, fallback)
}

// Evaluate computes expr for a feature with the given properties.
func Evaluate(expr Expression, props map[string]any) (any, error) {
	arr, ok := expr.([]any)
	if !ok {
		return expr, nil
	}
	if len(arr) == 0 {
		return nil, fmt.Errorf("empty expression")
	}
	op, ok := arr[0].(string)
	if !ok {
		return nil, fmt.Errorf("expression operator must be a string, got %T", arr[0])
	}

	switch op {
	case "literal":
		if len(arr) != 2 {
			return nil, fmt.Errorf("literal: want 1 argument, got %d", len(arr)-1)
		}
		return arr[1], nil

	case "get":
		if len(arr) != 2 {
			return nil, fmt.Errorf("get: want 1 argument, got %d", len(arr)-1)
		}
		name, ok := arr[1].(string)
		if !ok {
			return nil, fmt.Errorf("get: property name must be a string")
		}
		return props[name], nil

	case "==", "!=":
		if len(arr) != 3 {
			return nil, fmt.Errorf("%s: want 2 arguments, got %d", op, len(arr)-1)
		}
		a, err := Evaluate(arr[1], props)
		if err != nil {
			return nil, err
		}
		b, err := Evaluate(arr[2], props)
		if err != nil {
			return nil, err
		}
		eq := equal(a, b)
		if op == "!=" {
			return !eq, nil
		}
		return eq, nil

	case "in":
		if len(arr) != 3 {
			return nil, fmt.Errorf("in: want 2 arguments, got %d", len(arr)-1)
		}
		needle, err := Evaluate(arr[1], props)
		if err != nil {
			return nil, err
		}
		hay, err := Evaluate(arr[2], props)
		if err != nil {
			return nil, err
		}
		items, ok := hay.([]any)
		if !ok {
			return nil, fmt.Errorf("in: haystack must be an array, got %T", hay)
		}
		for _, item := range items {
			if equal(needle, item) {
				return true, nil
			}
		}
		return false, nil

	case "case":
		// ["case", c1, o1, c2, o2, ..., fallback]
		if len(arr) < 4 || len(arr)%2 != 0 {
			return nil, fmt.Errorf("case: malformed expression with %d arguments", len(arr)-1)
		}
		for i := 1; i+1 < len(arr)-1; i += 2 {
			cond, err := Evaluate(arr[i], props)
			if err != nil {
				return nil, err
			}
			if b, _ := cond.(bool); b {
				return Evaluate(arr[i+1], props)
			}
		}
		return Evaluate(arr[len(arr)-1], props)

	case "match":
		// ["match", input, l1, o1, l2, o2, ..., fallback]
		if len(arr) < 5 || len(arr)%2 != 1 {
			return nil, fmt.Errorf("match: malformed expression with %d arguments", len(arr)-1)
		}
		input, err := Evaluate(arr[1], props)
		if err != nil {
			return nil, err
		}
		for i := 2; i+1 < len(arr)-1; i += 2 {
			if equal(input, arr[i]) {
				return Evaluate(arr[i+1], props)
			}
		}
		return Evaluate(arr[len(arr)-1], props)

	default:
		return nil, fmt.Errorf("unsupported expression operator %q", op)
	}
}

// EvaluateFloat evaluates expr and converts the result to float64.
func EvaluateFloat(expr Expression, props map[string]any) (float64, error) {
	v, err := Evaluate(expr, props)
	if err != nil {
		return 0, err
	}
	f, ok := toFloat(v)
	if !ok {
		return 0, fmt.Errorf("expression evaluated to %T, want number", v)
	}
	return f, nil
}

func equal(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case nil:
		return b == nil
	default:
		return false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
