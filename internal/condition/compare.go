package condition

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// compare applies op to actual and expected.
func compare(op Operator, actual, expected any) (bool, error) {
	switch op {
	case OpLess, OpLessEqual, OpGreater, OpGreaterEqual:
		a, aok := toFloat(actual)
		e, eok := toFloat(expected)
		if !aok {
			return false, fmt.Errorf("%w: %s on %T", ErrInvalidOperator, op, actual)
		}
		if !eok {
			return false, fmt.Errorf("%w: expected number, got %T", ErrTypeMismatch, expected)
		}
		switch op {
		case OpLess:
			return a < e, nil
		case OpLessEqual:
			return a <= e, nil
		case OpGreater:
			return a > e, nil
		default:
			return a >= e, nil
		}

	case OpEqual:
		return equal(actual, expected)

	case OpNotEqual:
		eq, err := equal(actual, expected)
		return !eq, err

	case OpIn, OpNotIn:
		list, ok := toList(expected)
		if !ok {
			return false, fmt.Errorf("%w: %s requires a list", ErrInvalidValue, op)
		}
		found := false
		for _, item := range list {
			eq, err := equal(actual, item)
			if err != nil {
				return false, err
			}
			if eq {
				found = true
				break
			}
		}
		if op == OpIn {
			return found, nil
		}
		return !found, nil

	case OpBetween:
		lo, hi, ok := toRange(expected)
		if !ok {
			return false, fmt.Errorf("%w: between requires [min, max]", ErrInvalidValue)
		}
		a, aok := toFloat(actual)
		if !aok {
			return false, fmt.Errorf("%w: between on %T", ErrInvalidOperator, actual)
		}
		return a >= lo && a <= hi, nil
	}
	return false, fmt.Errorf("%w: %q", ErrInvalidOperator, op)
}

func equal(actual, expected any) (bool, error) {
	switch a := actual.(type) {
	case bool:
		e, ok := expected.(bool)
		if !ok {
			return false, fmt.Errorf("%w: expected bool, got %T", ErrTypeMismatch, expected)
		}
		return a == e, nil
	case string:
		e, ok := expected.(string)
		if !ok {
			return false, fmt.Errorf("%w: expected string, got %T", ErrTypeMismatch, expected)
		}
		return a == e, nil
	}

	a, aok := toFloat(actual)
	e, eok := toFloat(expected)
	if !aok || !eok {
		return false, fmt.Errorf("%w: %T vs %T", ErrTypeMismatch, actual, expected)
	}
	return a == e, nil
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
	case int32:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// toList accepts any slice or array.
func toList(v any) ([]any, bool) {
	if v == nil {
		return nil, false
	}
	if l, ok := v.([]any); ok {
		return l, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// toRange accepts a two-element numeric list with min <= max.
func toRange(v any) (float64, float64, bool) {
	list, ok := toList(v)
	if !ok || len(list) != 2 {
		return 0, 0, false
	}
	lo, lok := toFloat(list[0])
	hi, hok := toFloat(list[1])
	if !lok || !hok || lo > hi {
		return 0, 0, false
	}
	return lo, hi, true
}
