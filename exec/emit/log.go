package emit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// LogEmitter implements Emitter by writing structured log output to a
// writer.
//
// Supports two output modes:
//   - Text mode (default): human-readable key=value lines.
//   - JSON mode: one JSON object per line (JSONL).
//
// Example text output:
//
//	[job_processing] procedure=9f0c... job=1d2e... action=server.promote
//
// Example JSON output:
//
//	{"procedureID":"9f0c...","jobID":"1d2e...","action":"server.promote","msg":"job_processing","meta":null}
type LogEmitter struct {
	mu       sync.Mutex
	writer   io.Writer
	jsonMode bool
}

// NewLogEmitter creates a new LogEmitter writing to the given writer
// (os.Stdout when nil). jsonMode selects JSONL output over text.
func NewLogEmitter(writer io.Writer, jsonMode bool) *LogEmitter {
	if writer == nil {
		writer = os.Stdout
	}
	return &LogEmitter{writer: writer, jsonMode: jsonMode}
}

// Emit writes an event to the configured writer.
func (l *LogEmitter) Emit(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.emitLocked(event)
}

func (l *LogEmitter) emitLocked(event Event) {
	if l.jsonMode {
		l.emitJSON(event)
	} else {
		l.emitText(event)
	}
}

func (l *LogEmitter) emitJSON(event Event) {
	data, err := json.Marshal(struct {
		ProcedureID string         `json:"procedureID"`
		JobID       string         `json:"jobID"`
		Action      string         `json:"action"`
		Msg         string         `json:"msg"`
		Meta        map[string]any `json:"meta"`
	}{
		ProcedureID: event.ProcedureID,
		JobID:       event.JobID,
		Action:      event.Action,
		Msg:         event.Msg,
		Meta:        event.Meta,
	})
	if err != nil {
		_, _ = fmt.Fprintf(l.writer, "{\"error\":\"failed to marshal event: %v\"}\n", err)
		return
	}
	_, _ = fmt.Fprintf(l.writer, "%s\n", data)
}

func (l *LogEmitter) emitText(event Event) {
	_, _ = fmt.Fprintf(l.writer, "[%s] procedure=%s", event.Msg, event.ProcedureID)
	if event.JobID != "" {
		_, _ = fmt.Fprintf(l.writer, " job=%s", event.JobID)
	}
	if event.Action != "" {
		_, _ = fmt.Fprintf(l.writer, " action=%s", event.Action)
	}
	if len(event.Meta) > 0 {
		if metaJSON, err := json.Marshal(event.Meta); err == nil {
			_, _ = fmt.Fprintf(l.writer, " meta=%s", metaJSON)
		} else {
			_, _ = fmt.Fprintf(l.writer, " meta=%v", event.Meta)
		}
	}
	_, _ = fmt.Fprint(l.writer, "\n")
}

// EmitBatch writes multiple events under one lock acquisition,
// reducing interleaving when several workers emit at once.
func (l *LogEmitter) EmitBatch(_ context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, event := range events {
		l.emitLocked(event)
	}
	return nil
}

// Flush is a no-op: LogEmitter writes directly without buffering. The
// underlying writer handles its own buffering if any.
func (l *LogEmitter) Flush(_ context.Context) error {
	return nil
}
