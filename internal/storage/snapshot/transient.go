package snapshot

import (
	"sync"
)

// Writer populates the (not-yet-created) directory at path with a
// snapshot's files. Returning false abandons this snapshot attempt:
// Take removes whatever the writer created and fails with TakeFailed.
// A writer that returns true without creating anything passes Take,
// and persist() then fails with NotValid. A panic inside Writer is
// recovered and also surfaces as TakeFailed.
type Writer func(path string) bool

// Transient is a staging handle: it uniquely owns a pending directory
// for the lifetime of one take/persist-or-abort transaction. It is not
// safe to hand to a second writer, and ends in exactly one of
// {persisted, aborted, invalidated by purge}.
type Transient struct {
	store *Store
	id    ID
	dir   string

	mu          sync.Mutex
	taken       bool
	invalidated bool
	terminal    bool
	persisted   *Persisted
}

func newTransient(store *Store, id ID) *Transient {
	return &Transient{
		store: store,
		id:    id,
		dir:   pendingDirFor(store.root, id),
	}
}

// ID returns the identifier this handle will persist under.
func (t *Transient) ID() ID { return t.id }

// Take invokes writer on the executor to populate the staging
// directory. The directory is NOT created ahead of time — writer is
// responsible for creating it, so a writer that never creates anything
// leaves the filesystem untouched until persist() rejects it with
// NotValid.
//
// take is exactly-once: a second call on the same handle fails with
// AlreadyTaken. If writer returns false or panics, the staging
// directory (if any was created) is removed and the returned Future
// fails with TakeFailed.
func (t *Transient) Take(writer Writer) *Future {
	return t.store.executor.Submit(func() (any, error) {
		t.mu.Lock()
		if t.taken {
			t.mu.Unlock()
			return nil, ErrAlreadyTaken
		}
		t.taken = true
		t.mu.Unlock()

		ok, werr := t.runWriter(writer)
		if werr != nil {
			recursiveDelete(t.dir)
			return nil, ErrTakeFailed.withCause(werr)
		}
		if !ok {
			recursiveDelete(t.dir)
			return nil, ErrTakeFailed
		}
		return nil, nil
	})
}

// runWriter invokes writer and recovers a panic into an error so a
// broken writer can never crash the executor goroutine.
func (t *Transient) runWriter(writer Writer) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicToError(r)
		}
	}()
	return writer(t.dir), nil
}

// Persist computes the snapshot's checksum, durably commits the
// staging directory into snapshots/, retires the previous latest and
// any now-stale pending entries, and publishes the result as the
// store's new latest. It is idempotent: calling it again after a
// successful commit returns the same Persisted value without touching
// the filesystem again.
func (t *Transient) Persist() *Future {
	return t.store.executor.Submit(func() (any, error) {
		t.mu.Lock()
		if t.persisted != nil {
			p := t.persisted
			t.mu.Unlock()
			return p, nil
		}
		if t.invalidated {
			t.mu.Unlock()
			return nil, ErrNotValid
		}
		if !t.taken {
			t.mu.Unlock()
			return nil, ErrNotValid
		}
		t.mu.Unlock()

		empty, exists, ferr := dirIsEmpty(t.dir)
		if ferr != nil {
			return nil, ferr
		}
		if !exists || empty {
			recursiveDelete(t.dir)
			t.markTerminal(nil)
			return nil, ErrNotValid
		}

		persisted, perr := t.store.commit(t)
		if perr != nil {
			return nil, perr
		}

		t.markTerminal(persisted)
		return persisted, nil
	})
}

func (t *Transient) markTerminal(p *Persisted) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.terminal = true
	t.persisted = p
}

// Abort removes the staging directory and marks the handle terminal.
// Aborting a handle that was never taken, or already persisted, is a
// no-op returning success.
func (t *Transient) Abort() *Future {
	return t.store.executor.Submit(func() (any, error) {
		t.mu.Lock()
		if t.terminal {
			t.mu.Unlock()
			return nil, nil
		}
		t.terminal = true
		t.mu.Unlock()

		if ferr := recursiveDelete(t.dir); ferr != nil {
			return nil, ferr
		}
		t.store.forgetPending(t.id)
		return nil, nil
	})
}

// invalidate marks the handle so a subsequent persist() fails cleanly
// with NotValid. Called by PurgePendingSnapshots and retireStalePending
// on the executor goroutine, and by Store.Close from the caller's
// goroutine; t.mu guards the flag.
func (t *Transient) invalidate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.terminal {
		t.invalidated = true
	}
}
