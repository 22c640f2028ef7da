package engine_test

import (
	"sync"
	"testing"

	"github.com/arcflow/workflow-engine/engine"
)

func TestContextVariablesAndOutputs(t *testing.T) {
	c := engine.NewContext("wf-1", map[string]any{"seed": 1}, map[string]string{"STAGE": "dev"})

	if v, ok := c.GetVariable("seed"); !ok || v != 1 {
		t.Fatalf("want seeded variable, got %v, %v", v, ok)
	}
	if _, ok := c.GetVariable("missing"); ok {
		t.Fatal("want missing variable to report not-found")
	}

	c.SetVariable("result", "ok")
	if v, _ := c.GetVariable("result"); v != "ok" {
		t.Fatalf("want \"ok\", got %v", v)
	}

	if v, ok := c.GetEnvironmentVariable("STAGE"); !ok || v != "dev" {
		t.Fatalf("want env STAGE=dev, got %v, %v", v, ok)
	}

	c.SetStepOutput("step1", map[string]any{"exitCode": 0})
	out, ok := c.GetStepOutput("step1")
	if !ok {
		t.Fatal("want step1 output present")
	}
	if m, ok := out.(map[string]any); !ok || m["exitCode"] != 0 {
		t.Fatalf("unexpected output: %v", out)
	}
}

func TestContextConcurrentWritesToDistinctKeys(t *testing.T) {
	c := engine.NewContext("wf-concurrent", nil, nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			c.SetStepOutput(stepName(n), map[string]any{"n": n})
		}(i)
	}
	wg.Wait()

	outputs := c.StepOutputs()
	if len(outputs) != 50 {
		t.Fatalf("want 50 outputs, got %d", len(outputs))
	}
}

func stepName(n int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz0123456789"
	return "step-" + string(letters[n%len(letters)]) + string(rune('0'+n/len(letters)))
}

func TestContextSnapshotRoundTrip(t *testing.T) {
	c := engine.NewContext("wf-snap", map[string]any{"x": float64(1)}, map[string]string{"E": "1"})
	c.SetStepOutput("a", map[string]any{"ok": true})
	c.Log(engine.LogInfo, "hello", "a")

	data, err := c.CreateSnapshot()
	if err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}

	restored := engine.NewContext("", nil, nil)
	if err := restored.RestoreFromSnapshot(data); err != nil {
		t.Fatalf("RestoreFromSnapshot: %v", err)
	}

	if restored.WorkflowID() != "wf-snap" {
		t.Fatalf("want workflow id preserved, got %q", restored.WorkflowID())
	}
	if v, ok := restored.GetVariable("x"); !ok || v != float64(1) {
		t.Fatalf("want x=1, got %v, %v", v, ok)
	}
	out, ok := restored.GetStepOutput("a")
	if !ok {
		t.Fatal("want step output preserved")
	}
	if m := out.(map[string]any); m["ok"] != true {
		t.Fatalf("unexpected restored output: %v", out)
	}
	if logs := restored.Logs("", ""); len(logs) != 1 || logs[0].Message != "hello" {
		t.Fatalf("want 1 preserved log entry, got %v", logs)
	}

	// Mutating the restored context must not alias the original snapshot bytes.
	restored.SetVariable("x", float64(2))
	if v, _ := c.GetVariable("x"); v != float64(1) {
		t.Fatalf("original context mutated by restore: %v", v)
	}
}

func TestContextLogsFiltering(t *testing.T) {
	c := engine.NewContext("wf-logs", nil, nil)
	c.Log(engine.LogInfo, "step a info", "a")
	c.Log(engine.LogError, "step a error", "a")
	c.Log(engine.LogInfo, "step b info", "b")

	if got := c.Logs(engine.LogInfo, ""); len(got) != 2 {
		t.Fatalf("want 2 info logs, got %d", len(got))
	}
	if got := c.Logs("", "a"); len(got) != 2 {
		t.Fatalf("want 2 logs for step a, got %d", len(got))
	}
	if got := c.Logs(engine.LogError, "b"); len(got) != 0 {
		t.Fatalf("want 0 matches, got %d", len(got))
	}
}
