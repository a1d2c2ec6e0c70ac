package action

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
)

type fieldKind int

const (
	fieldNumber fieldKind = iota
	fieldString
)

type field struct {
	name     string
	kind     fieldKind
	required bool
	min, max float64
	oneOf    []string
}

// MaxWaitMS caps wait actions.
const MaxWaitMS = 300000

var speedField = field{name: "speed", kind: fieldNumber, min: 1, max: 100}

var schemas = map[Kind][]field{
	KindOpen:          {speedField},
	KindClose:         {speedField},
	KindMoveToAngle:   {{name: "angle", kind: fieldNumber, required: true, min: 0, max: 90}, speedField},
	KindMoveByAngle:   {{name: "delta", kind: fieldNumber, required: true, min: -90, max: 90}, speedField},
	KindEmergencyStop: {{name: "reason", kind: fieldString}},
	KindWait:          {{name: "duration", kind: fieldNumber, required: true, min: 0, max: MaxWaitMS}},
	KindUpdateStatus: {
		{name: "message", kind: fieldString, required: true},
		{name: "level", kind: fieldString, oneOf: []string{"info", "warning", "error", "success"}},
	},
	KindSetSpeed: {{name: "speed", kind: fieldNumber, required: true, min: 1, max: 100}},
	KindPause:    {},
	KindResume:   {speedField},
}

// ValidateParams checks params against the schema for kind: required fields
// present, values of the right type and inside their range, no unknown keys.
func ValidateParams(kind Kind, params Params) error {
	fields, ok := schemas[kind]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAction, kind)
	}

	known := make(map[string]field, len(fields))
	for _, f := range fields {
		known[f.name] = f
	}

	var problems []string
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, ok := known[k]; !ok {
			problems = append(problems, fmt.Sprintf("unknown parameter %q", k))
		}
	}

	for _, f := range fields {
		v, present := params[f.name]
		if !present || v == nil {
			if f.required {
				problems = append(problems, fmt.Sprintf("%s is required", f.name))
			}
			continue
		}
		if msg := f.check(v); msg != "" {
			problems = append(problems, msg)
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s: %s", ErrInvalidParams, kind, strings.Join(problems, "; "))
	}
	return nil
}

func (f field) check(v any) string {
	switch f.kind {
	case fieldNumber:
		n, ok := number(v)
		if !ok || math.IsNaN(n) || math.IsInf(n, 0) {
			return fmt.Sprintf("%s must be a number", f.name)
		}
		if n < f.min || n > f.max {
			return fmt.Sprintf("%s must be between %g and %g", f.name, f.min, f.max)
		}
	case fieldString:
		s, ok := v.(string)
		if !ok {
			return fmt.Sprintf("%s must be a string", f.name)
		}
		if len(f.oneOf) > 0 && !contains(f.oneOf, s) {
			return fmt.Sprintf("%s must be one of %s", f.name, strings.Join(f.oneOf, ", "))
		}
	}
	return ""
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// Float reads a numeric parameter, returning def when absent.
// Callers validate first; a malformed value also yields def.
func (p Params) Float(key string, def float64) float64 {
	if v, ok := p[key]; ok {
		if n, ok := number(v); ok {
			return n
		}
	}
	return def
}

// String reads a string parameter, returning def when absent.
func (p Params) String(key, def string) string {
	if s, ok := p[key].(string); ok && s != "" {
		return s
	}
	return def
}
