package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/arcflow/workflow-engine/engine"
	"github.com/arcflow/workflow-engine/engine/model"
)

// ToolHost lets an agent step call back into host-provided capabilities
// (e.g. other registered tools, or the workflow's own step outputs) without
// the executor package importing the runner that owns it -- breaking what
// would otherwise be a circular reference between the orchestrator and its
// executors.
type ToolHost interface {
	CallTool(ctx context.Context, name string, input map[string]any) (map[string]any, error)
}

// MaxToolRounds bounds how many tool-call/response round trips a single
// agent step will make before giving up and returning whatever text it has.
const MaxToolRounds = 5

// Agent runs a step by sending a prompt to a named chat model, optionally
// looping through host tool calls the model requests.
//
// Expected step.Config:
//
//	model: "primary"                 // required, key into Agent.Models
//	systemPrompt: "You are..."       // optional
//	prompt: "Summarize: {{...}}"     // required; interpolation happens
//	                                 // upstream, before Execute sees it
//	tools: ["search", "calculate"]   // optional, names the host must resolve
type Agent struct {
	Models       map[string]model.ChatModel
	DefaultModel string
	Host         ToolHost
	ToolSpecs    map[string]model.ToolSpec
}

// CanExecute implements engine.Executor.
func (Agent) CanExecute(step engine.Step) bool { return step.Type == "agent" }

// Validate implements engine.Executor.
func (a Agent) Validate(step engine.Step) []error {
	var errs []error
	if _, ok := step.Config["prompt"].(string); !ok {
		errs = append(errs, errors.New("agent: config.prompt is required"))
	}
	if name, ok := step.Config["model"].(string); ok && name != "" {
		if _, known := a.Models[name]; !known {
			errs = append(errs, fmt.Errorf("agent: no model registered as %q", name))
		}
	} else if a.DefaultModel == "" {
		errs = append(errs, errors.New("agent: config.model is required when no default model is configured"))
	}
	return errs
}

// Execute implements engine.Executor.
func (a Agent) Execute(ctx context.Context, step engine.Step, wctx *engine.Context) (map[string]any, error) {
	prompt, _ := step.Config["prompt"].(string)
	if prompt == "" {
		return nil, errors.New("agent: config.prompt is required")
	}

	modelName, _ := step.Config["model"].(string)
	if modelName == "" {
		modelName = a.DefaultModel
	}
	chat, ok := a.Models[modelName]
	if !ok {
		return nil, fmt.Errorf("agent: no model registered as %q", modelName)
	}

	messages := []model.Message{}
	if sys, ok := step.Config["systemPrompt"].(string); ok && sys != "" {
		messages = append(messages, model.Message{Role: model.RoleSystem, Content: sys})
	}
	messages = append(messages, model.Message{Role: model.RoleUser, Content: prompt})

	tools := a.resolveTools(step)

	var lastText string
	for round := 0; round < MaxToolRounds; round++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		out, err := chat.Chat(ctx, messages, tools)
		if err != nil {
			return nil, fmt.Errorf("agent: %w", err)
		}
		lastText = out.Text

		if len(out.ToolCalls) == 0 || a.Host == nil {
			return map[string]any{
				"text":     out.Text,
				"toolCalls": toolCallsToAny(out.ToolCalls),
			}, nil
		}

		messages = append(messages, model.Message{Role: model.RoleAssistant, Content: out.Text})
		for _, call := range out.ToolCalls {
			result, err := a.Host.CallTool(ctx, call.Name, call.Input)
			if err != nil {
				messages = append(messages, model.Message{
					Role:    model.RoleUser,
					Content: fmt.Sprintf("tool %s failed: %v", call.Name, err),
				})
				continue
			}
			messages = append(messages, model.Message{
				Role:    model.RoleUser,
				Content: fmt.Sprintf("tool %s returned: %v", call.Name, result),
			})
		}
	}

	return map[string]any{"text": lastText}, nil
}

func (a Agent) resolveTools(step engine.Step) []model.ToolSpec {
	names, ok := toStringSlice(step.Config["tools"])
	if !ok || len(names) == 0 {
		return nil
	}
	out := make([]model.ToolSpec, 0, len(names))
	for _, name := range names {
		if spec, ok := a.ToolSpecs[name]; ok {
			out = append(out, spec)
		}
	}
	return out
}

func toolCallsToAny(calls []model.ToolCall) []map[string]any {
	if len(calls) == 0 {
		return nil
	}
	out := make([]map[string]any, len(calls))
	for i, c := range calls {
		out[i] = map[string]any{"name": c.Name, "input": c.Input}
	}
	return out
}
