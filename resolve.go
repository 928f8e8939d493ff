package workflow

import (
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
)

// Path prefixes understood by the resolver.
const (
	pathPrefixSteps     = "steps"
	pathPrefixTrigger   = "trigger"
	pathPrefixVariables = "variables"
)

var templateRef = regexp.MustCompile(`\$\{([^}]+)\}`)

// ResolvePath resolves a dotted-path reference against run-time state.
//
//   - steps.<id>            -> the step's recorded output
//   - steps.<id>.output.<p> -> drill into the output
//   - steps.<id>.status     -> the step's status
//   - trigger.<p>           -> drill into the trigger payload
//   - variables.<p>         -> drill into run-scoped variables
//
// Any other path is tried first as a run-scoped variable key, then as a
// direct field path on the context view. Missing paths resolve to nil,
// never an error.
func ResolvePath(path string, run *ExecutionContext) any {
	parts := strings.Split(path, ".")
	if len(parts) == 0 || parts[0] == "" {
		return nil
	}

	switch parts[0] {
	case pathPrefixSteps:
		if len(parts) < 2 {
			return nil
		}
		return resolveStepPath(run, StepID(parts[1]), parts[2:])

	case pathPrefixTrigger:
		return drill(run.TriggerData(), parts[1:])

	case pathPrefixVariables:
		return drill(run.variablesSnapshot(), parts[1:])

	default:
		if v, ok := run.GetVariable(path); ok {
			return v
		}
		return drill(run.view(), parts)
	}
}

func resolveStepPath(run *ExecutionContext, id StepID, rest []string) any {
	result, ok := run.GetStepResult(id)
	if !ok {
		return nil
	}

	if len(rest) == 0 {
		return result.Output
	}

	switch rest[0] {
	case "output":
		return drill(result.Output, rest[1:])
	case "status":
		if len(rest) == 1 {
			return string(result.Status)
		}
		return nil
	case "error":
		if len(rest) == 1 && result.Error != "" {
			return result.Error
		}
		return nil
	default:
		// Bare field references read through the output.
		return drill(result.Output, rest)
	}
}

// drill walks a value along path segments. Maps are indexed by key, slices
// and arrays by decimal index, structs by exported field name.
func drill(v any, parts []string) any {
	for _, part := range parts {
		if v == nil {
			return nil
		}

		switch t := v.(type) {
		case map[string]any:
			next, ok := t[part]
			if !ok {
				return nil
			}
			v = next
			continue
		}

		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Map:
			kv := reflect.ValueOf(part)
			if !kv.Type().AssignableTo(rv.Type().Key()) {
				return nil
			}
			next := rv.MapIndex(kv)
			if !next.IsValid() {
				return nil
			}
			v = next.Interface()

		case reflect.Slice, reflect.Array:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= rv.Len() {
				return nil
			}
			v = rv.Index(idx).Interface()

		case reflect.Pointer:
			if rv.IsNil() {
				return nil
			}
			elem := rv.Elem()
			if elem.Kind() != reflect.Struct {
				return nil
			}
			f := elem.FieldByName(part)
			if !f.IsValid() || !f.CanInterface() {
				return nil
			}
			v = f.Interface()

		case reflect.Struct:
			f := rv.FieldByName(part)
			if !f.IsValid() || !f.CanInterface() {
				return nil
			}
			v = f.Interface()

		default:
			return nil
		}
	}
	return v
}

// ResolveTemplateString substitutes every ${path} occurrence in s. A path
// that resolves to nil leaves the literal ${path} text in place.
func ResolveTemplateString(s string, run *ExecutionContext) string {
	return templateRef.ReplaceAllStringFunc(s, func(match string) string {
		path := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		v := ResolvePath(path, run)
		if v == nil {
			return match
		}
		return fmt.Sprintf("%v", v)
	})
}

// ResolveVariables applies template substitution recursively through maps,
// slices, and strings. Other values pass through unchanged.
func ResolveVariables(v any, run *ExecutionContext) any {
	switch t := v.(type) {
	case string:
		// A string that is exactly one reference resolves to the referenced
		// value, preserving its type; mixed text resolves to a string.
		if m := templateRef.FindStringSubmatch(t); m != nil && m[0] == t {
			if resolved := ResolvePath(m[1], run); resolved != nil {
				return resolved
			}
			return t
		}
		return ResolveTemplateString(t, run)

	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = ResolveVariables(val, run)
		}
		return out

	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = ResolveVariables(val, run)
		}
		return out

	default:
		return v
	}
}
