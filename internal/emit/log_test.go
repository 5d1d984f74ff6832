package emit

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestLogEmitterText(t *testing.T) {
	var buf bytes.Buffer
	emitter := NewLogEmitter(&buf, false)

	emitter.Emit(Event{
		BranchID: "branch-1",
		Step:     3,
		Object:   "node-1",
		Msg:      "merge_step_start",
		Meta:     map[string]interface{}{"key": "value"},
	})

	out := buf.String()
	for _, want := range []string{"branch-1", "node-1", "merge_step_start"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got: %s", want, out)
		}
	}
}

func TestLogEmitterJSON(t *testing.T) {
	var buf bytes.Buffer
	emitter := NewLogEmitter(&buf, true)

	emitter.Emit(Event{BranchID: "branch-1", Msg: "lock_acquired"})

	out := buf.String()
	if !strings.Contains(out, `"branchID":"branch-1"`) {
		t.Errorf("expected JSON output with branchID, got: %s", out)
	}
	if !strings.HasSuffix(out, "\n") {
		t.Errorf("expected trailing newline, got: %q", out)
	}
}

func TestLogEmitterBatch(t *testing.T) {
	var buf bytes.Buffer
	emitter := NewLogEmitter(&buf, false)

	events := []Event{
		{BranchID: "b1", Msg: "saga_start"},
		{BranchID: "b1", Msg: "saga_complete"},
	}
	if err := emitter.EmitBatch(context.Background(), events); err != nil {
		t.Fatalf("EmitBatch returned error: %v", err)
	}

	out := buf.String()
	if strings.Count(out, "\n") != 2 {
		t.Errorf("expected two lines, got: %q", out)
	}
}

func TestLogEmitterFlushNoop(t *testing.T) {
	emitter := NewLogEmitter(nil, false)
	if err := emitter.Flush(context.Background()); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}
