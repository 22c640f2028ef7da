package interpolate

import (
	"fmt"
	"reflect"
)

// evalNode evaluates a parsed AST node (pathNode, callNode, string, or
// float64 literal) against the Interpolator's Resolver.
func (in *Interpolator) evalNode(node any) (any, error) {
	switch n := node.(type) {
	case pathNode:
		return in.evalPath(n)
	case callNode:
		return in.evalCall(n)
	case string, float64:
		return n, nil
	default:
		return nil, ErrMalformedExpression
	}
}

// evalPath resolves a dotted path. The first segment selects the root:
//   - "variables" -> Resolver.GetVariable, remaining segments walk the value
//   - "steps"     -> first remaining segment is a step id, rest walks its output
//   - "env"       -> Resolver.GetEnvironmentVariable (single remaining segment, the name)
//   - "workflow"  -> "id" | "startTime" | "currentStepId"
//   - anything else is shorthand for variables.<name>
func (in *Interpolator) evalPath(n pathNode) (any, error) {
	if len(n.segments) == 0 {
		return in.undefined()
	}
	root := n.segments[0]
	rest := n.segments[1:]

	switch root.name {
	case "variables":
		if len(rest) == 0 {
			return in.undefined()
		}
		v, ok := in.resolver.GetVariable(rest[0].name)
		if !ok {
			return in.undefined()
		}
		indexed, ok := applyIndex(v, rest[0].index)
		if !ok {
			return in.undefined()
		}
		return in.walk(indexed, rest[1:])

	case "steps":
		if len(rest) == 0 {
			return in.undefined()
		}
		v, ok := in.resolver.GetStepOutput(rest[0].name)
		if !ok {
			return in.undefined()
		}
		indexed, ok := applyIndex(v, rest[0].index)
		if !ok {
			return in.undefined()
		}
		return in.walk(indexed, rest[1:])

	case "env":
		if len(rest) == 0 {
			return in.undefined()
		}
		v, ok := in.resolver.GetEnvironmentVariable(rest[0].name)
		if !ok {
			return in.undefined()
		}
		return v, nil

	case "workflow":
		if len(rest) == 0 {
			return in.undefined()
		}
		switch rest[0].name {
		case "id":
			return in.resolver.WorkflowID(), nil
		case "startTime":
			return in.resolver.StartTime().Format(isoTimestamp), nil
		case "currentStepId":
			return in.resolver.CurrentStepID(), nil
		default:
			return in.undefined()
		}

	default:
		// Bare name shorthand: "name" == "variables.name".
		v, ok := in.resolver.GetVariable(root.name)
		if !ok {
			return in.undefined()
		}
		indexed, ok := applyIndex(v, root.index)
		if !ok {
			return in.undefined()
		}
		return in.walk(indexed, rest)
	}
}

// undefined applies the permissive/strict policy for an unresolved path.
func (in *Interpolator) undefined() (any, error) {
	if in.Strict {
		return nil, ErrUndefinedVariable
	}
	return "", nil
}

// walk descends into v following the remaining path segments, treating
// each segment as a map key (and, if present, an array index on the
// resulting value).
func (in *Interpolator) walk(v any, segments []pathSegment) (any, error) {
	cur := v
	for _, seg := range segments {
		next, ok := lookupField(cur, seg.name)
		if !ok {
			return in.undefined()
		}
		indexed, ok := applyIndex(next, seg.index)
		if !ok {
			return in.undefined()
		}
		cur = indexed
	}
	return cur, nil
}

// lookupField reads a named field from a map-like or struct-like value.
func lookupField(v any, name string) (any, bool) {
	switch m := v.(type) {
	case map[string]any:
		val, ok := m[name]
		return val, ok
	case nil:
		return nil, false
	default:
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Map {
			val := rv.MapIndex(reflect.ValueOf(name))
			if !val.IsValid() {
				return nil, false
			}
			return val.Interface(), true
		}
		return nil, false
	}
}

// applyIndex applies an optional array index to v, returning v unchanged
// if idx is nil. The second return is false when idx is present but v
// isn't indexable or the index is out of range, so the caller can route
// the failure through its undefined-variable policy instead of treating
// it as a plain nil value.
func applyIndex(v any, idx *int) (any, bool) {
	if idx == nil {
		return v, true
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, false
	}
	if *idx < 0 || *idx >= rv.Len() {
		return nil, false
	}
	return rv.Index(*idx).Interface(), true
}

// evalCall evaluates each argument, then dispatches to the named built-in
// or user-registered function.
func (in *Interpolator) evalCall(n callNode) (any, error) {
	fn, ok := in.Functions[n.name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown function %q", ErrMalformedExpression, n.name)
	}
	args := make([]any, len(n.args))
	for i, a := range n.args {
		v, err := in.evalNode(a)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return fn(args)
}

const isoTimestamp = "2006-01-02T15:04:05Z07:00"
