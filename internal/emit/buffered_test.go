package emit

import "testing"

func TestBufferedEmitterRecordsPerBranch(t *testing.T) {
	b := NewBufferedEmitter()
	b.Emit(Event{BranchID: "b1", Step: 1, Msg: "merge_step_start"})
	b.Emit(Event{BranchID: "b1", Step: 1, Msg: "merge_step_end"})
	b.Emit(Event{BranchID: "b2", Step: 1, Msg: "merge_step_start"})

	h1 := b.GetHistory("b1")
	if len(h1) != 2 {
		t.Fatalf("expected 2 events for b1, got %d", len(h1))
	}
	if len(b.GetHistory("b2")) != 1 {
		t.Fatalf("expected 1 event for b2")
	}
	if len(b.GetHistory("missing")) != 0 {
		t.Fatalf("expected empty slice for unknown branch")
	}
}

func TestBufferedEmitterFilter(t *testing.T) {
	b := NewBufferedEmitter()
	b.Emit(Event{BranchID: "b1", Step: 1, Msg: "merge_step_start"})
	b.Emit(Event{BranchID: "b1", Step: 2, Msg: "merge_step_end"})

	filtered := b.GetHistoryWithFilter("b1", HistoryFilter{Msg: "merge_step_end"})
	if len(filtered) != 1 || filtered[0].Step != 2 {
		t.Fatalf("expected single filtered event at step 2, got %+v", filtered)
	}

	minStep := 2
	filtered = b.GetHistoryWithFilter("b1", HistoryFilter{MinStep: &minStep})
	if len(filtered) != 1 {
		t.Fatalf("expected 1 event with step >= 2, got %d", len(filtered))
	}
}

func TestBufferedEmitterClear(t *testing.T) {
	b := NewBufferedEmitter()
	b.Emit(Event{BranchID: "b1", Msg: "x"})
	b.Emit(Event{BranchID: "b2", Msg: "x"})

	b.Clear("b1")
	if len(b.GetHistory("b1")) != 0 {
		t.Fatalf("expected b1 cleared")
	}
	if len(b.GetHistory("b2")) != 1 {
		t.Fatalf("expected b2 untouched")
	}

	b.Clear("")
	if len(b.GetHistory("b2")) != 0 {
		t.Fatalf("expected all branches cleared")
	}
}
