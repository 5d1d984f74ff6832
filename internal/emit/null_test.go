package emit

import (
	"context"
	"testing"
)

func TestNullEmitterDiscardsEvents(t *testing.T) {
	e := NewNullEmitter()
	e.Emit(Event{BranchID: "b1", Msg: "anything"})
	if err := e.EmitBatch(context.Background(), []Event{{Msg: "x"}}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if err := e.Flush(context.Background()); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}
