package recovery

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/arborist/branchmerge/internal/domain"
	"github.com/arborist/branchmerge/internal/emit"
	"github.com/arborist/branchmerge/locker"
	"github.com/arborist/branchmerge/store/memory"
)

func newTestLocker(t *testing.T) *locker.Locker {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return locker.New(client)
}

type fakeRecoverer struct {
	calls []domain.RecoveryLogEntry
	err   error
}

func (f *fakeRecoverer) RecoverFromLog(_ context.Context, entry domain.RecoveryLogEntry) error {
	f.calls = append(f.calls, entry)
	return f.err
}

func TestLogCreateAdvanceDelete(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	log := NewLog(st)

	branchID, id := uuid.New(), uuid.New()
	if err := log.Create(ctx, branchID, domain.RecoveryMerge, id, map[string]int{"step": 0}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	stale, err := st.StaleRecoveryEntries(ctx, time.Now().Add(time.Hour).UnixMilli())
	if err != nil || len(stale) != 1 {
		t.Fatalf("expected 1 entry, got %v err=%v", stale, err)
	}

	if err := log.Advance(ctx, branchID, domain.RecoveryMerge, id, 5, map[string]int{"step": 5}); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	stale, _ = st.StaleRecoveryEntries(ctx, time.Now().Add(time.Hour).UnixMilli())
	if stale[0].Step != 5 {
		t.Fatalf("expected step 5, got %d", stale[0].Step)
	}

	if err := log.Delete(ctx, branchID, domain.RecoveryMerge, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	stale, _ = st.StaleRecoveryEntries(ctx, time.Now().Add(time.Hour).UnixMilli())
	if len(stale) != 0 {
		t.Fatalf("expected no entries after delete, got %v", stale)
	}
}

func TestSweeperResumesStaleEntry(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	l := newTestLocker(t)
	buf := emit.NewBufferedEmitter()

	branchID, id := uuid.New(), uuid.New()
	entry := domain.RecoveryLogEntry{
		BranchID: branchID, ObjectType: domain.RecoveryMerge, ID: id,
		Step: 3, Data: []byte(`{}`), UpdatedAt: time.Now().Add(-time.Hour),
	}
	if err := st.CreateRecoveryEntry(ctx, entry); err != nil {
		t.Fatalf("CreateRecoveryEntry: %v", err)
	}

	recoverer := &fakeRecoverer{}
	sw := NewSweeper(st, l, WithStaleAfter(time.Minute), WithEmitter(buf))
	sw.Register(domain.RecoveryMerge, recoverer)

	sw.RunOnce(ctx)

	if len(recoverer.calls) != 1 {
		t.Fatalf("expected RecoverFromLog called once, got %d", len(recoverer.calls))
	}
	if recoverer.calls[0].ID != id {
		t.Fatalf("expected recovered id %v, got %v", id, recoverer.calls[0].ID)
	}

	history := buf.GetHistory(branchID.String())
	found := false
	for _, e := range history {
		if e.Msg == "recovery_resumed" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected recovery_resumed event, got %+v", history)
	}
}

func TestSweeperSkipsFreshEntry(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	l := newTestLocker(t)

	branchID, id := uuid.New(), uuid.New()
	entry := domain.RecoveryLogEntry{
		BranchID: branchID, ObjectType: domain.RecoveryMerge, ID: id,
		Step: 1, Data: []byte(`{}`), UpdatedAt: time.Now(),
	}
	if err := st.CreateRecoveryEntry(ctx, entry); err != nil {
		t.Fatal(err)
	}

	recoverer := &fakeRecoverer{}
	sw := NewSweeper(st, l, WithStaleAfter(time.Minute))
	sw.Register(domain.RecoveryMerge, recoverer)
	sw.RunOnce(ctx)

	if len(recoverer.calls) != 0 {
		t.Fatalf("expected fresh entry to be skipped, got %d calls", len(recoverer.calls))
	}
}

func TestDiskFallbackRoundTrip(t *testing.T) {
	dir := t.TempDir()
	d := NewDiskFallback(dir)

	entry := domain.RecoveryLogEntry{
		BranchID: uuid.New(), ObjectType: domain.RecoveryReorder, ID: uuid.New(),
		Step: 2, Data: []byte(`{"x":1}`), UpdatedAt: time.Now(),
	}
	if err := d.Write(entry); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := d.RecoverFromDisk()
	if err != nil {
		t.Fatalf("RecoverFromDisk: %v", err)
	}
	if len(got) != 1 || got[0].ID != entry.ID {
		t.Fatalf("expected recovered entry, got %+v", got)
	}

	if err := d.Clear(entry.BranchID, entry.ObjectType, entry.ID); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, err := os.Stat(d.filename(entry.BranchID, entry.ObjectType, entry.ID)); !os.IsNotExist(err) {
		t.Fatalf("expected file removed after Clear")
	}
}
