package workflow

import (
	"context"
	"fmt"
	"reflect"
	"strings"
)

// Operator is a comparison operator usable in a condition predicate.
type Operator string

const (
	OpEq         Operator = "=="
	OpNe         Operator = "!="
	OpGt         Operator = ">"
	OpGte        Operator = ">="
	OpLt         Operator = "<"
	OpLte        Operator = "<="
	OpContains   Operator = "contains"
	OpStartsWith Operator = "startsWith"
	OpEndsWith   Operator = "endsWith"
)

// LogicalOperator combines the members of a condition group.
type LogicalOperator string

const (
	LogicalAnd LogicalOperator = "and"
	LogicalOr  LogicalOperator = "or"
)

// ConditionFunc is an arbitrary predicate over the execution context.
type ConditionFunc func(ctx context.Context, run *ExecutionContext) (bool, error)

type conditionKind int

const (
	condPredicate conditionKind = iota
	condGroup
	condFunc
)

// Condition is a boolean predicate evaluated against run-time state. It is
// one of three variants: a simple path/operator/value predicate, a logical
// group, or an opaque function.
type Condition struct {
	kind conditionKind

	// predicate
	path  string
	op    Operator
	value any

	// group
	logical LogicalOperator
	members []Condition

	// func
	fn ConditionFunc
}

// Where builds a simple predicate: the value at path, compared to value.
func Where(path string, op Operator, value any) Condition {
	return Condition{kind: condPredicate, path: path, op: op, value: value}
}

// And builds a logical group that is true when every member is true.
// An empty And is vacuously true.
func And(members ...Condition) Condition {
	return Condition{kind: condGroup, logical: LogicalAnd, members: members}
}

// Or builds a logical group that is true when any member is true.
// An empty Or is vacuously false.
func Or(members ...Condition) Condition {
	return Condition{kind: condGroup, logical: LogicalOr, members: members}
}

// Func wraps an arbitrary predicate function as a condition.
func Func(fn ConditionFunc) Condition {
	return Condition{kind: condFunc, fn: fn}
}

// evaluateCondition dispatches on the condition variant. Group members are
// evaluated left to right with short-circuiting.
func evaluateCondition(ctx context.Context, run *ExecutionContext, c Condition) (bool, error) {
	switch c.kind {
	case condFunc:
		return c.fn(ctx, run)

	case condPredicate:
		resolved := ResolvePath(c.path, run)
		return compareValues(resolved, c.op, c.value)

	case condGroup:
		switch c.logical {
		case LogicalOr:
			for _, m := range c.members {
				ok, err := evaluateCondition(ctx, run, m)
				if err != nil {
					return false, err
				}
				if ok {
					return true, nil
				}
			}
			return false, nil
		default: // and
			for _, m := range c.members {
				ok, err := evaluateCondition(ctx, run, m)
				if err != nil {
					return false, err
				}
				if !ok {
					return false, nil
				}
			}
			return true, nil
		}

	default:
		return false, fmt.Errorf("workflow: unknown condition variant %d", c.kind)
	}
}

func compareValues(got any, op Operator, want any) (bool, error) {
	switch op {
	case OpEq:
		return looseEqual(got, want), nil
	case OpNe:
		return !looseEqual(got, want), nil
	case OpGt, OpGte, OpLt, OpLte:
		return compareOrdered(got, op, want)
	case OpContains:
		return containsValue(got, want), nil
	case OpStartsWith:
		gs, ok1 := got.(string)
		ws, ok2 := want.(string)
		return ok1 && ok2 && strings.HasPrefix(gs, ws), nil
	case OpEndsWith:
		gs, ok1 := got.(string)
		ws, ok2 := want.(string)
		return ok1 && ok2 && strings.HasSuffix(gs, ws), nil
	default:
		return false, &UnsupportedOperatorError{Operator: op}
	}
}

// looseEqual treats numeric values of different Go types as equal when their
// float64 forms match. JSON round-trips turn ints into float64, so strict
// DeepEqual would make persisted and fresh outputs compare differently.
func looseEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func compareOrdered(got any, op Operator, want any) (bool, error) {
	gf, gok := toFloat(got)
	wf, wok := toFloat(want)
	if gok && wok {
		switch op {
		case OpGt:
			return gf > wf, nil
		case OpGte:
			return gf >= wf, nil
		case OpLt:
			return gf < wf, nil
		case OpLte:
			return gf <= wf, nil
		}
	}

	gs, gok2 := got.(string)
	ws, wok2 := want.(string)
	if gok2 && wok2 {
		switch op {
		case OpGt:
			return gs > ws, nil
		case OpGte:
			return gs >= ws, nil
		case OpLt:
			return gs < ws, nil
		case OpLte:
			return gs <= ws, nil
		}
	}

	return false, nil
}

// containsValue supports substring match on strings and membership on
// slices/arrays.
func containsValue(got, want any) bool {
	if gs, ok := got.(string); ok {
		if ws, ok := want.(string); ok {
			return strings.Contains(gs, ws)
		}
		return false
	}

	rv := reflect.ValueOf(got)
	if !rv.IsValid() {
		return false
	}
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		for i := 0; i < rv.Len(); i++ {
			if looseEqual(rv.Index(i).Interface(), want) {
				return true
			}
		}
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
