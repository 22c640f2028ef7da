package interpolate

import (
	"fmt"
	"strings"
	"time"
)

// DefaultFunctions returns the built-in function table: string functions
// (upper, lower, trim, replace, length), math functions (add, sub, mul,
// divide), and time functions (date, now).
func DefaultFunctions() map[string]Function {
	return map[string]Function{
		"upper":   fnUpper,
		"lower":   fnLower,
		"trim":    fnTrim,
		"replace": fnReplace,
		"length":  fnLength,
		"add":     fnMath(func(a, b float64) float64 { return a + b }),
		"sub":     fnMath(func(a, b float64) float64 { return a - b }),
		"mul":     fnMath(func(a, b float64) float64 { return a * b }),
		"divide":  fnDivide,
		"date":    fnDate,
		"now":     fnNow,
	}
}

func argString(args []any, i int) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("%w: missing argument %d", ErrMalformedExpression, i)
	}
	switch v := args[i].(type) {
	case string:
		return v, nil
	default:
		return formatValue(v), nil
	}
}

func argNumber(args []any, i int) (float64, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("%w: missing argument %d", ErrMalformedExpression, i)
	}
	switch v := args[i].(type) {
	case float64:
		return v, nil
	case string:
		var f float64
		if _, err := fmt.Sscanf(v, "%g", &f); err != nil {
			return 0, fmt.Errorf("%w: argument %d is not a number", ErrMalformedExpression, i)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%w: argument %d is not a number", ErrMalformedExpression, i)
	}
}

func fnUpper(args []any) (any, error) {
	s, err := argString(args, 0)
	if err != nil {
		return nil, err
	}
	return strings.ToUpper(s), nil
}

func fnLower(args []any) (any, error) {
	s, err := argString(args, 0)
	if err != nil {
		return nil, err
	}
	return strings.ToLower(s), nil
}

func fnTrim(args []any) (any, error) {
	s, err := argString(args, 0)
	if err != nil {
		return nil, err
	}
	return strings.TrimSpace(s), nil
}

func fnReplace(args []any) (any, error) {
	s, err := argString(args, 0)
	if err != nil {
		return nil, err
	}
	from, err := argString(args, 1)
	if err != nil {
		return nil, err
	}
	to, err := argString(args, 2)
	if err != nil {
		return nil, err
	}
	return strings.ReplaceAll(s, from, to), nil
}

func fnLength(args []any) (any, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: length requires one argument", ErrMalformedExpression)
	}
	switch v := args[0].(type) {
	case string:
		return float64(len(v)), nil
	case []any:
		return float64(len(v)), nil
	case map[string]any:
		return float64(len(v)), nil
	default:
		return 0.0, nil
	}
}

func fnMath(op func(a, b float64) float64) Function {
	return func(args []any) (any, error) {
		a, err := argNumber(args, 0)
		if err != nil {
			return nil, err
		}
		b, err := argNumber(args, 1)
		if err != nil {
			return nil, err
		}
		return op(a, b), nil
	}
}

func fnDivide(args []any) (any, error) {
	a, err := argNumber(args, 0)
	if err != nil {
		return nil, err
	}
	b, err := argNumber(args, 1)
	if err != nil {
		return nil, err
	}
	if b == 0 {
		return nil, ErrDivideByZero
	}
	return a / b, nil
}

func fnDate(args []any) (any, error) {
	return time.Now().Format("2006-01-02"), nil
}

func fnNow(args []any) (any, error) {
	return time.Now().Format(isoTimestamp), nil
}
