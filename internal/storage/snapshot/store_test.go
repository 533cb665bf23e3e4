package snapshot

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func takeAndPersist(t *testing.T, s *Store, id ID, content string) *Persisted {
	t.Helper()
	tr, ok := s.NewTransientSnapshot(id.Index, id.Term, id.ProcessedPosition, id.ExportedPosition)
	if !ok {
		t.Fatalf("NewTransientSnapshot(%v) refused", id)
	}
	if _, err := tr.Take(func(dir string) bool {
		writeFile(t, filepath.Join(dir, "data"), content)
		return true
	}).Join(); err != nil {
		t.Fatalf("Take: %v", err)
	}
	v, err := tr.Persist().Join()
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}
	return v.(*Persisted)
}

func TestOpen_RequiresDir(t *testing.T) {
	if _, err := Open(Config{}); err == nil {
		t.Fatal("Open with empty Dir should fail")
	}
}

func TestStore_HappyPath(t *testing.T) {
	s := openTestStore(t)

	if got := s.GetLatestSnapshot(); got != nil {
		t.Fatalf("GetLatestSnapshot on empty store = %v, want nil", got)
	}

	id := ID{Index: 1, Term: 1, ProcessedPosition: 10, ExportedPosition: 5}
	p := takeAndPersist(t, s, id, "hello")

	if p.ID() != id {
		t.Errorf("persisted id = %v, want %v", p.ID(), id)
	}
	if got := s.GetLatestSnapshot(); !got.Equal(p) {
		t.Errorf("GetLatestSnapshot = %v, want %v", got, p)
	}
	if _, err := os.Stat(p.Path()); err != nil {
		t.Errorf("snapshot dir missing on disk: %v", err)
	}
	if _, err := os.Stat(p.ChecksumPath()); err != nil {
		t.Errorf("checksum sidecar missing on disk: %v", err)
	}
}

func TestStore_ReplacementRetiresPrevious(t *testing.T) {
	s := openTestStore(t)

	first := takeAndPersist(t, s, ID{1, 1, 1, 1}, "v1")
	second := takeAndPersist(t, s, ID{2, 1, 1, 1}, "v2")

	if got := s.GetLatestSnapshot(); !got.Equal(second) {
		t.Fatalf("latest = %v, want %v", got, second)
	}
	if _, err := os.Stat(first.Path()); !os.IsNotExist(err) {
		t.Error("previous snapshot directory should be removed after replacement")
	}
	if _, err := os.Stat(first.ChecksumPath()); !os.IsNotExist(err) {
		t.Error("previous checksum sidecar should be removed after replacement")
	}
}

func TestStore_DuplicateOrStaleIDRefused(t *testing.T) {
	s := openTestStore(t)

	takeAndPersist(t, s, ID{5, 1, 1, 1}, "v1")

	if _, ok := s.NewTransientSnapshot(5, 1, 1, 1); ok {
		t.Error("NewTransientSnapshot should refuse to duplicate the committed id")
	}
	if _, ok := s.NewTransientSnapshot(3, 1, 1, 1); ok {
		t.Error("NewTransientSnapshot should refuse an id that does not strictly advance")
	}
	if _, ok := s.NewTransientSnapshot(6, 1, 1, 1); !ok {
		t.Error("NewTransientSnapshot should accept a strictly greater id")
	}
}

func TestTransient_AbortAfterTake(t *testing.T) {
	s := openTestStore(t)

	tr, ok := s.NewTransientSnapshot(1, 1, 1, 1)
	if !ok {
		t.Fatal("NewTransientSnapshot refused")
	}
	if _, err := tr.Take(func(dir string) bool {
		writeFile(t, filepath.Join(dir, "f"), "x")
		return true
	}).Join(); err != nil {
		t.Fatalf("Take: %v", err)
	}

	if _, err := tr.Abort().Join(); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if _, err := os.Stat(pendingDirFor(s.root, tr.ID())); !os.IsNotExist(err) {
		t.Error("pending directory should be gone after Abort")
	}

	// Persisting an aborted handle must fail cleanly.
	if _, err := tr.Persist().Join(); err == nil {
		t.Error("Persist after Abort should fail")
	}

	// Aborting twice is a no-op.
	if _, err := tr.Abort().Join(); err != nil {
		t.Errorf("second Abort should be a no-op, got %v", err)
	}
}

func TestTransient_AbortNeverTakenIsNoOp(t *testing.T) {
	s := openTestStore(t)
	tr, ok := s.NewTransientSnapshot(1, 1, 1, 1)
	if !ok {
		t.Fatal("NewTransientSnapshot refused")
	}
	if _, err := tr.Abort().Join(); err != nil {
		t.Errorf("Abort on a never-taken handle should succeed, got %v", err)
	}
}

func TestTransient_WriterReturnsFalse(t *testing.T) {
	s := openTestStore(t)
	tr, _ := s.NewTransientSnapshot(1, 1, 1, 1)

	_, err := tr.Take(func(dir string) bool {
		writeFile(t, filepath.Join(dir, "f"), "x")
		return false
	}).Join()
	if err == nil {
		t.Fatal("Take should fail when writer returns false")
	}
	if _, statErr := os.Stat(pendingDirFor(s.root, tr.ID())); !os.IsNotExist(statErr) {
		t.Error("staging directory should be cleaned up after a failed take")
	}
}

func TestTransient_WriterPanics(t *testing.T) {
	s := openTestStore(t)
	tr, _ := s.NewTransientSnapshot(1, 1, 1, 1)

	_, err := tr.Take(func(dir string) bool {
		panic("writer exploded")
	}).Join()
	if err == nil {
		t.Fatal("Take should fail when writer panics")
	}
}

func TestTransient_NoDirCreated(t *testing.T) {
	s := openTestStore(t)
	tr, _ := s.NewTransientSnapshot(1, 1, 1, 1)

	if _, err := tr.Take(func(dir string) bool {
		// Never create dir.
		return true
	}).Join(); err != nil {
		t.Fatalf("Take: %v", err)
	}

	if _, err := tr.Persist().Join(); err == nil {
		t.Fatal("Persist should fail when writer never created the staging directory")
	}
}

func TestTransient_EmptyDirRejected(t *testing.T) {
	s := openTestStore(t)
	tr, _ := s.NewTransientSnapshot(1, 1, 1, 1)

	if _, err := tr.Take(func(dir string) bool {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			t.Fatal(err)
		}
		return true
	}).Join(); err != nil {
		t.Fatalf("Take: %v", err)
	}

	if _, err := tr.Persist().Join(); err == nil {
		t.Fatal("Persist should fail on an empty staging directory")
	}
}

func TestTransient_DoubleTakeFails(t *testing.T) {
	s := openTestStore(t)
	tr, _ := s.NewTransientSnapshot(1, 1, 1, 1)

	writer := func(dir string) bool {
		writeFile(t, filepath.Join(dir, "f"), "x")
		return true
	}
	if _, err := tr.Take(writer).Join(); err != nil {
		t.Fatalf("first Take: %v", err)
	}
	if _, err := tr.Take(writer).Join(); err == nil {
		t.Fatal("second Take on the same handle should fail")
	}
}

func TestTransient_IdempotentPersist(t *testing.T) {
	s := openTestStore(t)
	id := ID{1, 1, 1, 1}
	tr, _ := s.NewTransientSnapshot(id.Index, id.Term, id.ProcessedPosition, id.ExportedPosition)

	if _, err := tr.Take(func(dir string) bool {
		writeFile(t, filepath.Join(dir, "f"), "x")
		return true
	}).Join(); err != nil {
		t.Fatalf("Take: %v", err)
	}

	v1, err := tr.Persist().Join()
	if err != nil {
		t.Fatalf("first Persist: %v", err)
	}
	v2, err := tr.Persist().Join()
	if err != nil {
		t.Fatalf("second Persist: %v", err)
	}
	if !v1.(*Persisted).Equal(v2.(*Persisted)) {
		t.Error("repeated Persist should return an equal snapshot")
	}
}

func TestStore_PendingWithHigherIDSurvivesCommit(t *testing.T) {
	s := openTestStore(t)

	low, _ := s.NewTransientSnapshot(1, 1, 1, 1)
	high, ok := s.NewTransientSnapshot(10, 1, 1, 1)
	if !ok {
		t.Fatal("NewTransientSnapshot(10,...) refused")
	}
	if _, err := high.Take(func(dir string) bool {
		writeFile(t, filepath.Join(dir, "f"), "high")
		return true
	}).Join(); err != nil {
		t.Fatalf("Take(high): %v", err)
	}

	if _, err := low.Take(func(dir string) bool {
		writeFile(t, filepath.Join(dir, "f"), "low")
		return true
	}).Join(); err != nil {
		t.Fatalf("Take(low): %v", err)
	}
	if _, err := low.Persist().Join(); err != nil {
		t.Fatalf("Persist(low): %v", err)
	}

	if _, statErr := os.Stat(pendingDirFor(s.root, high.ID())); statErr != nil {
		t.Error("pending snapshot with a strictly greater id should survive a lower commit")
	}

	if _, err := high.Persist().Join(); err != nil {
		t.Fatalf("Persist(high) after Persist(low): %v", err)
	}
	if got := s.GetLatestSnapshot(); got.ID() != high.ID() {
		t.Errorf("latest = %v, want %v", got.ID(), high.ID())
	}
}

func TestStore_PurgeInvalidatesPendingNotCommitted(t *testing.T) {
	s := openTestStore(t)

	committed := takeAndPersist(t, s, ID{1, 1, 1, 1}, "v1")

	tr, _ := s.NewTransientSnapshot(2, 1, 1, 1)
	if _, err := tr.Take(func(dir string) bool {
		writeFile(t, filepath.Join(dir, "f"), "v2")
		return true
	}).Join(); err != nil {
		t.Fatalf("Take: %v", err)
	}

	if _, err := s.PurgePendingSnapshots().Join(); err != nil {
		t.Fatalf("PurgePendingSnapshots: %v", err)
	}

	if _, err := tr.Persist().Join(); err == nil {
		t.Error("Persist should fail on a handle invalidated by purge")
	}
	if _, err := os.Stat(committed.Path()); err != nil {
		t.Error("purge must not touch already-committed snapshots")
	}
	if got := s.GetLatestSnapshot(); !got.Equal(committed) {
		t.Error("latest snapshot should be unaffected by purge")
	}
}

func TestStore_ListenerNotifyAndRemove(t *testing.T) {
	s := openTestStore(t)

	var mu sync.Mutex
	var calls []ID
	listener := func(p *Persisted) {
		mu.Lock()
		calls = append(calls, p.ID())
		mu.Unlock()
	}

	s.AddSnapshotListener(listener)
	takeAndPersist(t, s, ID{1, 1, 1, 1}, "v1")

	mu.Lock()
	n := len(calls)
	mu.Unlock()
	if n != 1 {
		t.Fatalf("listener called %d times, want 1", n)
	}

	s.RemoveSnapshotListener(listener)
	takeAndPersist(t, s, ID{2, 1, 1, 1}, "v2")

	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 1 {
		t.Errorf("listener fired after removal: calls = %v", calls)
	}
}

func TestStore_ListenerPanicDoesNotAbortCommit(t *testing.T) {
	s := openTestStore(t)
	s.AddSnapshotListener(func(p *Persisted) {
		panic("listener blew up")
	})

	p := takeAndPersist(t, s, ID{1, 1, 1, 1}, "v1")
	if got := s.GetLatestSnapshot(); !got.Equal(p) {
		t.Error("a panicking listener must not prevent the commit from completing")
	}
}

func TestStore_Close_PendingInvalidatedDiskUntouched(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Config{Dir: dir})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	committed := takeAndPersist(t, s, ID{1, 1, 1, 1}, "v1")

	tr, _ := s.NewTransientSnapshot(2, 1, 1, 1)
	if _, err := tr.Take(func(d string) bool {
		writeFile(t, filepath.Join(d, "f"), "v2")
		return true
	}).Join(); err != nil {
		t.Fatalf("Take: %v", err)
	}

	s.Close()

	if _, err := os.Stat(committed.Path()); err != nil {
		t.Error("Close must not delete committed snapshots")
	}
	if _, err := os.Stat(pendingDirFor(dir, tr.ID())); err != nil {
		t.Error("Close must not delete pending directories from disk")
	}
}
