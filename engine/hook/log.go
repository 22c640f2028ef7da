package hook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// LogHandler writes structured event output to a writer, either as
// human-readable key=value text (default) or as JSONL.
type LogHandler struct {
	writer   io.Writer
	jsonMode bool
}

// NewLogHandler creates a LogHandler. A nil writer selects os.Stdout.
func NewLogHandler(writer io.Writer, jsonMode bool) *LogHandler {
	if writer == nil {
		writer = os.Stdout
	}
	return &LogHandler{writer: writer, jsonMode: jsonMode}
}

// Handle satisfies hook.Handler; register it with Bus.Register.
func (l *LogHandler) Handle(_ context.Context, p Payload) error {
	if l.jsonMode {
		return l.emitJSON(p)
	}
	l.emitText(p)
	return nil
}

func (l *LogHandler) emitJSON(p Payload) error {
	data, err := json.Marshal(struct {
		WorkflowID string         `json:"workflowId"`
		Event      Event          `json:"event"`
		StepID     string         `json:"stepId,omitempty"`
		Timestamp  string         `json:"timestamp"`
		Data       map[string]any `json:"data,omitempty"`
	}{
		WorkflowID: p.WorkflowID,
		Event:      p.Event,
		StepID:     p.StepID,
		Timestamp:  p.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"),
		Data:       p.Data,
	})
	if err != nil {
		_, werr := fmt.Fprintf(l.writer, "{\"error\":\"failed to marshal hook event: %v\"}\n", err)
		return werr
	}
	_, err = fmt.Fprintf(l.writer, "%s\n", data)
	return err
}

func (l *LogHandler) emitText(p Payload) {
	fmt.Fprintf(l.writer, "[%s] workflowId=%s", p.Event, p.WorkflowID)
	if p.StepID != "" {
		fmt.Fprintf(l.writer, " stepId=%s", p.StepID)
	}
	if len(p.Data) > 0 {
		if b, err := json.Marshal(p.Data); err == nil {
			fmt.Fprintf(l.writer, " data=%s", b)
		} else {
			fmt.Fprintf(l.writer, " data=%v", p.Data)
		}
	}
	fmt.Fprint(l.writer, "\n")
}
