// Package workflow loads engine.Definition values from YAML documents. The
// engine itself has no notion of a file format; this package is the one
// place that bridges on-disk workflow files to the engine's types.
package workflow

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/arcflow/workflow-engine/engine"
)

// knownStepFields lists the yaml keys engine.Step understands natively.
// Anything else found on a step document is preserved in Step.Extra rather
// than rejected, per the "unknown fields are ignored with a warning" rule.
var knownStepFields = map[string]bool{
	"id": true, "name": true, "type": true, "config": true,
	"dependsOn": true, "condition": true, "continueOnError": true,
	"parallel": true, "retry": true, "timeout": true,
}

// Warning describes one non-fatal problem found while loading a document,
// such as an unrecognized field on a step.
type Warning struct {
	StepID  string
	Message string
}

func (w Warning) String() string {
	if w.StepID == "" {
		return w.Message
	}
	return fmt.Sprintf("step %s: %s", w.StepID, w.Message)
}

// Load reads and parses a workflow YAML file at path into an engine.Definition.
func Load(path string) (*engine.Definition, []Warning, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("workflow: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses a workflow YAML document into an engine.Definition, returning
// any unknown-field warnings alongside a successfully parsed definition.
func Parse(data []byte) (*engine.Definition, []Warning, error) {
	var def engine.Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, nil, fmt.Errorf("workflow: parse: %w", err)
	}

	var raw struct {
		Steps []map[string]any `yaml:"steps"`
	}
	var warnings []Warning
	if err := yaml.Unmarshal(data, &raw); err == nil {
		for i, stepDoc := range raw.Steps {
			if i >= len(def.Steps) {
				break
			}
			extra := map[string]any{}
			for k, v := range stepDoc {
				if knownStepFields[k] {
					continue
				}
				extra[k] = v
				warnings = append(warnings, Warning{
					StepID:  def.Steps[i].ID,
					Message: fmt.Sprintf("unrecognized field %q ignored", k),
				})
			}
			if len(extra) > 0 {
				def.Steps[i].Extra = extra
			}
		}
	}

	if len(def.Env) > 0 {
		def.Env = expandEnv(def.Env)
	}

	return &def, warnings, nil
}

// expandEnv resolves ${VAR} references in env values against the process
// environment, leaving unresolved references untouched.
func expandEnv(env map[string]string) map[string]string {
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[k] = os.Expand(v, func(name string) string {
			if val, ok := os.LookupEnv(name); ok {
				return val
			}
			return "${" + name + "}"
		})
	}
	return out
}
