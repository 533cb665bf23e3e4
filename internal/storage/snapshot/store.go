package snapshot

import (
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/yndnr/tokmesh-go/internal/telemetry/logger"
	"github.com/yndnr/tokmesh-go/pkg/cmap"
)

// sameListener compares two Listener values by the identity of the
// function they were built from. Go funcs are not comparable with ==,
// so this uses the standard reflect.Value.Pointer() trick; it is
// sufficient for "remove first match" semantics when the same named
// function (or method value) is registered twice.
func sameListener(a, b Listener) bool {
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}

// Listener is notified once per newly committed snapshot, in the order
// its persist() calls settle. A panicking or otherwise misbehaving
// listener is caught and logged — it never aborts a commit.
type Listener func(*Persisted)

// Config configures a Store.
type Config struct {
	// Dir is the partition's root directory; snapshots/ and pending/
	// are created directly beneath it.
	Dir string
	// Logger receives structured lifecycle and fault events. Defaults
	// to logger.Default() if nil.
	Logger logger.Logger
}

// Store is the per-partition coordinator: it tracks the current latest
// snapshot, enforces uniqueness and monotonicity of new transients,
// performs bootstrap recovery on construction, dispatches listeners,
// and purges pending state on demand. One Store owns its root directory
// exclusively for the process's lifetime — running two Store instances
// over the same root is undefined behavior.
type Store struct {
	root   string
	log    logger.Logger
	latest atomic.Pointer[Persisted]

	pending *cmap.Map[ID, *Transient]

	executor *Executor

	listenersMu sync.Mutex
	listeners   []Listener
}

// Open constructs a Store rooted at cfg.Dir, running bootstrap recovery
// synchronously before returning. Each call is scoped to a single
// partition root directory.
func Open(cfg Config) (*Store, error) {
	if cfg.Dir == "" {
		return nil, ErrIoError.withCause(errEmptyDir)
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}

	s := &Store{
		root:     cfg.Dir,
		log:      log,
		pending:  cmap.New[ID, *Transient](),
		executor: NewExecutor(),
	}

	if ferr := s.bootstrap(); ferr != nil {
		s.executor.Close()
		return nil, ferr
	}
	return s, nil
}

// NewTransientSnapshot allocates a staging handle for (index, term,
// processed, exported). It refuses to create a handle whose id would
// not strictly advance past the current latest. The pending directory
// is NOT created here — see Transient.Take.
func (s *Store) NewTransientSnapshot(index, term, processed, exported uint64) (*Transient, bool) {
	id := ID{Index: index, Term: term, ProcessedPosition: processed, ExportedPosition: exported}

	if latest := s.latest.Load(); latest != nil && id.Compare(latest.id) <= 0 {
		return nil, false
	}

	t := newTransient(s, id)
	s.pending.Set(id, t)
	return t, true
}

// GetLatestSnapshot returns the current committed snapshot, if any. Safe
// to call from any goroutine without touching the executor: "latest" is
// published via an atomic handoff and Persisted is immutable.
func (s *Store) GetLatestSnapshot() *Persisted {
	return s.latest.Load()
}

// AddSnapshotListener registers l. Duplicate registrations are allowed;
// each registered value fires once per commit.
func (s *Store) AddSnapshotListener(l Listener) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, l)
}

// RemoveSnapshotListener removes the first registration of l that
// matches by function identity (see sameListener); later duplicates are
// left in place.
func (s *Store) RemoveSnapshotListener(l Listener) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	for i := range s.listeners {
		if sameListener(s.listeners[i], l) {
			s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
			return
		}
	}
}

func (s *Store) notifyListeners(p *Persisted) {
	s.listenersMu.Lock()
	ls := make([]Listener, len(s.listeners))
	copy(ls, s.listeners)
	s.listenersMu.Unlock()

	for _, l := range ls {
		s.invokeListener(l, p)
	}
}

func (s *Store) invokeListener(l Listener, p *Persisted) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("snapshot listener panicked", "panic", r, "snapshot_id", p.ID().String())
		}
	}()
	l(p)
}

// PurgePendingSnapshots recursively deletes everything under pending/
// and invalidates every tracked transient handle: a subsequent persist()
// on any of them fails with NotValid. Already-committed snapshots are
// untouched.
func (s *Store) PurgePendingSnapshots() *Future {
	return s.executor.Submit(func() (any, error) {
		s.pending.Range(func(_ ID, t *Transient) bool {
			t.invalidate()
			return true
		})
		s.pending.Clear()

		if ferr := recursiveDelete(pendingDir(s.root)); ferr != nil {
			s.log.Warn("purge pending snapshots: best-effort delete failed", "error", ferr)
			return nil, ferr
		}
		s.log.Info("pending snapshots purged")
		return nil, nil
	})
}

// Close cancels outstanding transient handles (marking them invalidated,
// matching purgePendingSnapshots' cancellation semantics) without
// deleting any on-disk state, then stops the executor. Close does not
// wait for in-flight persists issued after Close was called — those
// were refused already since the executor rejects new submissions.
func (s *Store) Close() {
	s.pending.Range(func(_ ID, t *Transient) bool {
		t.invalidate()
		return true
	})
	s.executor.Close()
}

func (s *Store) forgetPending(id ID) {
	s.pending.Delete(id)
}

var errEmptyDir = newError(KindIoError, "Dir is required")
