package engine

import (
	"strings"

	"github.com/arcflow/workflow-engine/engine/interpolate"
)

// evaluateCondition runs a step's condition expression through the
// interpolator's expression sublanguage and reports whether it is truthy.
// A step with no condition at all always runs, so an empty condition is
// truthy; the literal "false" is the only bare-string value treated as
// falsy. Any other non-empty result is truthy.
func evaluateCondition(in *interpolate.Interpolator, condition string) (bool, error) {
	trimmed := strings.TrimSpace(condition)
	if trimmed == "" {
		return true, nil
	}
	if trimmed == "false" {
		return false, nil
	}

	// A condition may be a bare expression ("variables.ready") or may
	// already be wrapped in {{ }} by habit; accept both.
	if strings.HasPrefix(trimmed, "{{") && strings.HasSuffix(trimmed, "}}") {
		result, err := in.InterpolateString(trimmed)
		if err != nil {
			return false, err
		}
		return isTruthy(result), nil
	}

	v, err := in.Eval(trimmed)
	if err != nil {
		return false, err
	}
	return isTruthy(v), nil
}

// isTruthy mirrors common truthiness rules: nil, false, 0, "" and the string
// "false" are falsy; everything else, including non-empty strings like
// "0.0", is truthy.
func isTruthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != "" && val != "false"
	case float64:
		return val != 0
	default:
		return true
	}
}
