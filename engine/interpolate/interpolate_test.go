package interpolate_test

import (
	"errors"
	"testing"
	"time"

	"github.com/arcflow/workflow-engine/engine/interpolate"
)

// stubResolver is a minimal interpolate.Resolver backed by plain maps, used
// to exercise the interpolator without a full engine.Context.
type stubResolver struct {
	vars      map[string]any
	env       map[string]string
	outputs   map[string]any
	id        string
	startTime time.Time
	current   string
}

func (s stubResolver) GetVariable(name string) (any, bool)            { v, ok := s.vars[name]; return v, ok }
func (s stubResolver) GetEnvironmentVariable(name string) (string, bool) { v, ok := s.env[name]; return v, ok }
func (s stubResolver) GetStepOutput(id string) (any, bool)            { v, ok := s.outputs[id]; return v, ok }
func (s stubResolver) WorkflowID() string                             { return s.id }
func (s stubResolver) StartTime() time.Time                           { return s.startTime }
func (s stubResolver) CurrentStepID() string                          { return s.current }

func newResolver() stubResolver {
	return stubResolver{
		vars: map[string]any{
			"name":  "ada",
			"count": float64(3),
			"items": []any{"a", "b", "c"},
			"nested": map[string]any{
				"inner": "deep",
			},
		},
		env:     map[string]string{"STAGE": "prod"},
		outputs: map[string]any{"fetch": map[string]any{"status": float64(200)}},
		id:      "wf-1",
		current: "step-1",
	}
}

func TestInterpolateStringBasics(t *testing.T) {
	in := interpolate.New(newResolver())

	cases := []struct {
		name string
		expr string
		want string
	}{
		{"bare variable shorthand", "hello {{ name }}", "hello ada"},
		{"explicit variables path", "{{ variables.name }}", "ada"},
		{"nested object path", "{{ nested.inner }}", "deep"},
		{"array index", "{{ items[1] }}", "b"},
		{"env lookup", "{{ env.STAGE }}", "prod"},
		{"workflow id", "{{ workflow.id }}", "wf-1"},
		{"step output path", "{{ steps.fetch.status }}", "200"},
		{"function call", "{{ upper(name) }}", "ADA"},
		{"arithmetic", "{{ add(1, 2) }}", "3"},
		{"no tokens passes through", "plain text", "plain text"},
		{"unclosed token is left verbatim", "broken {{ name", "broken {{ name"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := in.InterpolateString(tc.expr)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("want %q, got %q", tc.want, got)
			}
		})
	}
}

func TestInterpolateStringUndefinedIsEmptyUnlessStrict(t *testing.T) {
	in := interpolate.New(newResolver())

	got, err := in.InterpolateString("{{ variables.missing }}")
	if err != nil {
		t.Fatalf("unexpected error in permissive mode: %v", err)
	}
	if got != "" {
		t.Fatalf("want empty substitution, got %q", got)
	}

	in.Strict = true
	_, err = in.InterpolateString("{{ variables.missing }}")
	if !errors.Is(err, interpolate.ErrUndefinedVariable) {
		t.Fatalf("want ErrUndefinedVariable in strict mode, got %v", err)
	}
}

func TestInterpolateStringOutOfRangeIndexIsUndefinedUnlessStrict(t *testing.T) {
	in := interpolate.New(newResolver())

	got, err := in.InterpolateString("{{ items[99] }}")
	if err != nil {
		t.Fatalf("unexpected error in permissive mode: %v", err)
	}
	if got != "" {
		t.Fatalf("want empty substitution, got %q", got)
	}

	in.Strict = true
	_, err = in.InterpolateString("{{ items[99] }}")
	if !errors.Is(err, interpolate.ErrUndefinedVariable) {
		t.Fatalf("want ErrUndefinedVariable in strict mode for an out-of-range index, got %v", err)
	}
}

func TestInterpolateStringMaxDepth(t *testing.T) {
	resolver := newResolver()
	resolver.vars["a"] = "{{ b }}"
	resolver.vars["b"] = "{{ a }}"
	in := interpolate.New(resolver)
	in.MaxDepth = 3

	_, err := in.InterpolateString("{{ a }}")
	if !errors.Is(err, interpolate.ErrMaxDepthExceeded) {
		t.Fatalf("want ErrMaxDepthExceeded, got %v", err)
	}
}

func TestInterpolateStringDivideByZero(t *testing.T) {
	in := interpolate.New(newResolver())
	_, err := in.InterpolateString("{{ divide(1, 0) }}")
	if !errors.Is(err, interpolate.ErrDivideByZero) {
		t.Fatalf("want ErrDivideByZero, got %v", err)
	}
}

func TestInterpolateStringUnknownFunction(t *testing.T) {
	in := interpolate.New(newResolver())
	_, err := in.InterpolateString("{{ doesNotExist(1) }}")
	if !errors.Is(err, interpolate.ErrMalformedExpression) {
		t.Fatalf("want ErrMalformedExpression, got %v", err)
	}
}

func TestInterpolateValueWalksMapsAndSlices(t *testing.T) {
	in := interpolate.New(newResolver())
	input := map[string]any{
		"greeting": "hi {{ name }}",
		"tags":     []any{"{{ env.STAGE }}", "static"},
		"count":    5,
	}
	out, err := in.InterpolateValue(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m := out.(map[string]any)
	if m["greeting"] != "hi ada" {
		t.Fatalf("want interpolated greeting, got %v", m["greeting"])
	}
	tags := m["tags"].([]any)
	if tags[0] != "prod" || tags[1] != "static" {
		t.Fatalf("unexpected tags: %v", tags)
	}
	if m["count"] != 5 {
		t.Fatalf("want non-string values passed through unchanged, got %v", m["count"])
	}
}

func TestInterpolateCustomFunction(t *testing.T) {
	in := interpolate.New(newResolver())
	in.Functions["shout"] = func(args []any) (any, error) {
		s, _ := args[0].(string)
		return s + "!!!", nil
	}
	got, err := in.InterpolateString("{{ shout(name) }}")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ada!!!" {
		t.Fatalf("want \"ada!!!\", got %q", got)
	}
}
