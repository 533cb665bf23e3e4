package snapshot

import (
	"errors"
	"os"
)

// commit performs the persist steps against t's staging directory,
// which the caller (Transient.Persist) has already verified is taken,
// non-empty, and not invalidated. It must only run on the store's
// executor goroutine.
func (s *Store) commit(t *Transient) (*Persisted, *Error) {
	id := t.id

	if existing := s.latest.Load(); existing != nil && existing.id == id {
		// Idempotent persist: the id is already committed. Drop the
		// redundant staging directory and hand back the existing
		// value without touching the filesystem again.
		recursiveDelete(t.dir)
		s.forgetPending(id)
		return existing, nil
	}

	sum, cerr := computeChecksum(t.dir)
	if cerr != nil {
		return nil, cerr
	}

	pendingSidecar := t.dir + checksumSuffix
	if err := os.WriteFile(pendingSidecar, encodeChecksum(sum), 0o640); err != nil {
		return nil, wrapIoError("write checksum sidecar", err)
	}
	if ferr := fsyncFile(pendingSidecar); ferr != nil {
		return nil, ferr
	}

	if ferr := fsyncTree(t.dir); ferr != nil {
		return nil, ferr
	}

	if ferr := ensureDir(snapshotsDir(s.root)); ferr != nil {
		return nil, ferr
	}

	dst := committedDirFor(s.root, id)
	if _, err := os.Lstat(dst); err == nil {
		// Another handle raced us and already committed this id.
		recursiveDelete(t.dir)
		recursiveDelete(pendingSidecar)
		s.forgetPending(id)
		if existing := s.latest.Load(); existing != nil && existing.id == id {
			return existing, nil
		}
		return s.loadPersisted(id, sum)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, wrapIoError("stat commit target", err)
	}

	if ferr := atomicRename(t.dir, dst); ferr != nil {
		return nil, ferr
	}

	finalSidecar := checksumPathFor(s.root, id)
	if ferr := atomicRename(pendingSidecar, finalSidecar); ferr != nil {
		return nil, ferr
	}

	if ferr := fsyncDir(snapshotsDir(s.root)); ferr != nil {
		return nil, ferr
	}

	previous := s.latest.Load()
	if previous != nil && previous.id.Less(id) {
		recursiveDelete(previous.dir)
		recursiveDelete(previous.dir + checksumSuffix)
	}

	s.retireStalePending(id)

	persisted := newPersisted(s.root, id, sum)
	s.latest.Store(persisted)
	s.forgetPending(id)
	s.notifyListeners(persisted)
	s.log.Info("snapshot persisted", "snapshot_id", id.String())

	return persisted, nil
}

// retireStalePending removes from pending/ every tracked staging entry
// whose id is <= the newly committed id; handles with a strictly
// greater id still represent future progress and must survive.
func (s *Store) retireStalePending(committed ID) {
	var stale []ID
	s.pending.Range(func(id ID, t *Transient) bool {
		if id.Compare(committed) <= 0 {
			stale = append(stale, id)
			t.invalidate()
		}
		return true
	})
	for _, id := range stale {
		recursiveDelete(pendingDirFor(s.root, id))
		s.pending.Delete(id)
	}
}

// loadPersisted builds a Persisted for an id that bootstrap or a racing
// commit already placed in snapshots/.
func (s *Store) loadPersisted(id ID, sum uint64) (*Persisted, *Error) {
	return newPersisted(s.root, id, sum), nil
}
