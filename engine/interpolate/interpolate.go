// Package interpolate implements the workflow engine's variable
// interpolation sublanguage: {{ expr }} tokens embedded in strings,
// resolved against variables, environment, step outputs, and workflow
// metadata, with dotted-path access, array indexing, and function calls.
//
// The grammar is parsed with a small recursive-descent parser; there is no
// runtime eval and no reflection-based scripting, by design (see the
// engine design notes on reflection-ish expression parsing).
package interpolate

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUndefinedVariable is returned in strict mode when a path resolves to nothing.
var ErrUndefinedVariable = errors.New("interpolate: undefined variable")

// ErrMaxDepthExceeded is returned when re-interpolation does not reach a
// fixed point within MaxDepth passes.
var ErrMaxDepthExceeded = errors.New("interpolate: max recursion depth exceeded")

// ErrMalformedExpression is returned for a syntactically invalid {{ }} body
// (unbalanced parens, unterminated string literal, unexpected token). Note
// that an *unclosed* `{{` is not malformed -- it is returned verbatim, per
// the policy that missing closers are tolerated rather than rejected.
var ErrMalformedExpression = errors.New("interpolate: malformed expression")

// ErrDivideByZero is returned by the divide() function.
var ErrDivideByZero = errors.New("interpolate: division by zero")

// Resolver is the read-only view into workflow state the interpolator
// needs. engine.Context satisfies this interface; defining it here (rather
// than importing the engine package) keeps this package dependency-free
// and avoids an import cycle.
type Resolver interface {
	GetVariable(name string) (any, bool)
	GetEnvironmentVariable(name string) (string, bool)
	GetStepOutput(stepID string) (any, bool)
	WorkflowID() string
	StartTime() time.Time
	CurrentStepID() string
}

// Interpolator resolves {{ expr }} tokens against a Resolver.
type Interpolator struct {
	// MaxDepth bounds re-interpolation of substituted values that
	// themselves contain further {{ }} tokens. Zero selects the default of 10.
	MaxDepth int
	// Strict, when true, turns an unresolved path into ErrUndefinedVariable
	// instead of substituting an empty string.
	Strict bool
	// Functions is the function table; New sets it to DefaultFunctions().
	// Replacing the map replaces the whole table.
	Functions map[string]Function

	resolver Resolver
}

// Function is a built-in callable usable from expression syntax, e.g. upper(x).
type Function func(args []any) (any, error)

// New returns an Interpolator configured with the default function set.
func New(resolver Resolver) *Interpolator {
	return &Interpolator{
		MaxDepth:  10,
		Functions: DefaultFunctions(),
		resolver:  resolver,
	}
}

func (in *Interpolator) depth() int {
	if in.MaxDepth <= 0 {
		return 10
	}
	return in.MaxDepth
}

// InterpolateString resolves all {{ expr }} tokens in s, re-running the
// substitution on the result until it reaches a fixed point (no more
// tokens change) or MaxDepth passes are exhausted.
func (in *Interpolator) InterpolateString(s string) (string, error) {
	cur := s
	for i := 0; i < in.depth(); i++ {
		next, changed, err := in.substituteOnce(cur)
		if err != nil {
			return "", err
		}
		if !changed {
			return next, nil
		}
		cur = next
	}
	return "", ErrMaxDepthExceeded
}

// InterpolateValue walks v recursively, interpolating every string leaf.
// Maps and slices are copied; other types are returned unchanged.
func (in *Interpolator) InterpolateValue(v any) (any, error) {
	switch val := v.(type) {
	case string:
		return in.InterpolateString(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			r, err := in.InterpolateValue(elem)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			r, err := in.InterpolateValue(elem)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return v, nil
	}
}

// substituteOnce performs exactly one pass of {{ }} substitution over s.
// It returns the resulting string and whether any token was substituted
// (used by InterpolateString to detect the fixed point).
func (in *Interpolator) substituteOnce(s string) (string, bool, error) {
	var sb strings.Builder
	changed := false
	i := 0
	for i < len(s) {
		start := strings.Index(s[i:], "{{")
		if start == -1 {
			sb.WriteString(s[i:])
			break
		}
		start += i
		sb.WriteString(s[i:start])

		end := strings.Index(s[start+2:], "}}")
		if end == -1 {
			// Unclosed token: return the remainder verbatim, no error.
			sb.WriteString(s[start:])
			i = len(s)
			break
		}
		end = start + 2 + end
		exprText := strings.TrimSpace(s[start+2 : end])

		val, err := in.Eval(exprText)
		if err != nil {
			return "", false, err
		}
		sb.WriteString(formatValue(val))
		changed = true
		i = end + 2
	}
	return sb.String(), changed, nil
}

// Eval parses and evaluates a single expression body (the text between
// {{ and }}, already trimmed), returning its resolved value.
func (in *Interpolator) Eval(exprText string) (any, error) {
	p := &parser{input: exprText}
	node, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.input) {
		return nil, ErrMalformedExpression
	}
	return in.evalNode(node)
}

// formatValue renders a resolved value for substitution into a string
// context: nil renders as "", strings pass through unchanged, everything
// else is JSON-serialized (numbers, bools, objects, arrays alike), per the
// "objects are JSON-serialized when coerced into string context" policy.
func formatValue(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	// Numbers and bools render as their bare JSON text, so "{{add(1,2)}}" renders 3.
	var scalar any
	if err := json.Unmarshal(b, &scalar); err == nil {
		switch scalar.(type) {
		case float64, bool:
			return strings.Trim(string(b), `"`)
		}
	}
	return string(b)
}
